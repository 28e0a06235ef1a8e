package ports

import "github.com/fairdraw/raffled/internal/core/domain"

type RepoManager interface {
	Events() domain.RoundEventRepository
	Rounds() domain.RoundRepository
	RegisterEventsHandler(func(*domain.Round))
	Close()
}
