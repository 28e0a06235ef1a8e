package domain

import "fmt"

type ErrRoundNotOpen struct {
	State RoundState
}

func (e ErrRoundNotOpen) Error() string {
	return fmt.Sprintf("round is not open for entries (state: %s)", e.State)
}

type ErrFeeTooLow struct {
	Required uint64
	Got      uint64
}

func (e ErrFeeTooLow) Error() string {
	return fmt.Sprintf("entrance fee not met: got %d, need at least %d", e.Got, e.Required)
}

// ErrUpkeepNotNeeded carries the gate diagnostics so a caller can see which
// condition blocked the draw.
type ErrUpkeepNotNeeded struct {
	Balance    uint64
	NumEntries int
	State      RoundState
}

func (e ErrUpkeepNotNeeded) Error() string {
	return fmt.Sprintf(
		"upkeep not needed (balance: %d, entries: %d, state: %s)",
		e.Balance, e.NumEntries, e.State,
	)
}

type ErrRequestMismatch struct {
	Got  string
	Want string
}

func (e ErrRequestMismatch) Error() string {
	return fmt.Sprintf("fulfillment for unknown request %s, pending request is %s", e.Got, e.Want)
}

// ErrPayoutTransferFailed is fatal: by the time the transfer runs the round
// has already ended and a new one is open, so the payout is never retried.
type ErrPayoutTransferFailed struct {
	Winner string
	Amount uint64
	Err    error
}

func (e ErrPayoutTransferFailed) Error() string {
	return fmt.Sprintf("failed to transfer pot of %d to winner %s: %s", e.Amount, e.Winner, e.Err)
}

func (e ErrPayoutTransferFailed) Unwrap() error {
	return e.Err
}
