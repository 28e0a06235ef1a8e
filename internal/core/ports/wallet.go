package ports

import "context"

// WalletService is the custodian of the pot. Deposit credits the pot with an
// entrance payment, Transfer pays the pot out to the winner and returns a
// receipt id.
type WalletService interface {
	Deposit(ctx context.Context, from string, amount uint64) error
	Transfer(ctx context.Context, to string, amount uint64) (string, error)
	Balance(ctx context.Context) (uint64, error)
	Close()
}
