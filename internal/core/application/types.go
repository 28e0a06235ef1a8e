package application

import (
	"context"

	"github.com/fairdraw/raffled/internal/core/domain"
)

type Service interface {
	Start() error
	Stop()
	Enter(ctx context.Context, address string, amount uint64) error
	CheckUpkeep(ctx context.Context) bool
	PerformUpkeep(ctx context.Context) (string, error)
	GetInfo(ctx context.Context) (*RaffleInfo, error)
	GetEntry(ctx context.Context, index int) (*domain.Entry, error)
	GetRoundWithId(ctx context.Context, id string) (*domain.Round, error)
	Notifications() <-chan Notification
}

// RaffleInfo is a read-only snapshot of the current round, served to external
// observers.
type RaffleInfo struct {
	RoundId          string
	State            string
	EntranceFee      uint64
	NumEntries       int
	PotAmount        uint64
	RoundStartedAt   int64
	PendingRequestId string
	RecentWinner     *domain.Winner
}

const (
	NotificationRoundStarted        = "round_started"
	NotificationEntered             = "entered"
	NotificationRandomnessRequested = "randomness_requested"
	NotificationWinnerPicked        = "winner_picked"
	NotificationPayoutFailed        = "payout_failed"
)

type Notification struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type RoundStartedData struct {
	RoundId   string `json:"roundId"`
	Timestamp int64  `json:"timestamp"`
}

type EnteredData struct {
	RoundId string `json:"roundId"`
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type RandomnessRequestedData struct {
	RoundId   string `json:"roundId"`
	RequestId string `json:"requestId"`
}

type WinnerPickedData struct {
	RoundId    string `json:"roundId"`
	Address    string `json:"address"`
	Index      int    `json:"index"`
	RandomWord uint64 `json:"randomWord"`
	Payout     uint64 `json:"payout"`
}

type PayoutFailedData struct {
	RoundId string `json:"roundId"`
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
	Reason  string `json:"reason"`
}
