package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	UndefinedState RoundState = iota
	OpenState
	CalculatingState
)

type RoundState int

func (s RoundState) String() string {
	switch s {
	case OpenState:
		return "OPEN"
	case CalculatingState:
		return "CALCULATING"
	default:
		return "UNDEFINED"
	}
}

type Stage struct {
	Code   RoundState
	Ended  bool
	Failed bool
}

// Entry is a single raffle ticket. The same address may appear multiple
// times, once per successful entry.
type Entry struct {
	Address string
	Amount  uint64
}

type Winner struct {
	Address    string
	Index      int
	RandomWord uint64
	Payout     uint64
}

// Round is the event-sourced raffle round aggregate. A round opens for
// entries, gets locked while a randomness request is pending, and ends when
// the winner is picked. Entries keep insertion order.
type Round struct {
	Id                string
	StartingTimestamp int64
	EndingTimestamp   int64
	Stage             Stage
	EntranceFee       uint64
	Entries           []Entry
	RequestId         string
	Winner            *Winner
	Version           uint
	changes           []RoundEvent
}

func NewRound(entranceFee uint64) *Round {
	return &Round{
		Id:          uuid.New().String(),
		EntranceFee: entranceFee,
		Entries:     make([]Entry, 0),
		changes:     make([]RoundEvent, 0),
	}
}

func NewRoundFromEvents(events []RoundEvent) *Round {
	r := &Round{}

	for _, event := range events {
		r.On(event, true)
	}

	r.changes = append([]RoundEvent{}, events...)

	return r
}

func (r *Round) Events() []RoundEvent {
	return r.changes
}

func (r *Round) On(event RoundEvent, replayed bool) {
	switch e := event.(type) {
	case RoundStarted:
		r.Stage.Code = OpenState
		r.Id = e.Id
		r.StartingTimestamp = e.Timestamp
		r.EntranceFee = e.EntranceFee
	case EntryRegistered:
		r.Entries = append(r.Entries, Entry{Address: e.Address, Amount: e.Amount})
	case CalculationStarted:
		r.Stage.Code = CalculatingState
	case RandomnessRequested:
		r.RequestId = e.RequestId
	case WinnerPicked:
		r.Stage.Ended = true
		r.Winner = &Winner{
			Address:    e.Address,
			Index:      e.WinnerIndex,
			RandomWord: e.RandomWord,
			Payout:     e.Payout,
		}
		r.EndingTimestamp = e.Timestamp
	case RoundFailed:
		r.Stage.Failed = true
		r.EndingTimestamp = e.Timestamp
	}

	if replayed {
		r.Version++
	}
}

func (r *Round) StartRegistration() ([]RoundEvent, error) {
	empty := Stage{}
	if r.Stage != empty {
		return nil, fmt.Errorf("not in a valid stage to open for entries")
	}
	if r.EntranceFee <= 0 {
		return nil, fmt.Errorf("missing entrance fee")
	}

	event := RoundStarted{
		Id:          r.Id,
		EntranceFee: r.EntranceFee,
		Timestamp:   time.Now().Unix(),
	}
	r.raise(event)

	return []RoundEvent{event}, nil
}

// RegisterEntry appends the entrant to the round. Any amount above the
// entrance fee stays in the pot, it is not refunded.
func (r *Round) RegisterEntry(address string, amount uint64) ([]RoundEvent, error) {
	if !r.IsOpen() {
		return nil, ErrRoundNotOpen{State: r.Stage.Code}
	}
	if len(address) <= 0 {
		return nil, fmt.Errorf("missing entrant address")
	}
	if amount < r.EntranceFee {
		return nil, ErrFeeTooLow{Required: r.EntranceFee, Got: amount}
	}

	event := EntryRegistered{
		Id:      r.Id,
		Address: address,
		Amount:  amount,
	}
	r.raise(event)

	return []RoundEvent{event}, nil
}

// UpkeepNeeded reports whether a draw may start. All four conditions must
// hold at once: the interval has elapsed, the round is open, the pot is
// funded and at least one entry is registered.
func (r *Round) UpkeepNeeded(now, interval int64) bool {
	intervalElapsed := now-r.StartingTimestamp >= interval
	hasBalance := r.PotAmount() > 0
	hasEntries := len(r.Entries) > 0
	return intervalElapsed && r.IsOpen() && hasBalance && hasEntries
}

func (r *Round) StartCalculation() ([]RoundEvent, error) {
	if !r.IsOpen() {
		return nil, fmt.Errorf("not in a valid stage to start the draw")
	}
	if len(r.Entries) <= 0 {
		return nil, fmt.Errorf("no entries registered")
	}

	event := CalculationStarted{
		Id:        r.Id,
		Timestamp: time.Now().Unix(),
	}
	r.raise(event)

	return []RoundEvent{event}, nil
}

func (r *Round) RegisterRandomnessRequest(requestId string) ([]RoundEvent, error) {
	if r.Stage.Code != CalculatingState || r.IsFailed() || r.Stage.Ended {
		return nil, fmt.Errorf("not in a valid stage to register a randomness request")
	}
	if len(requestId) <= 0 {
		return nil, fmt.Errorf("missing randomness request id")
	}
	if len(r.RequestId) > 0 {
		return nil, fmt.Errorf("randomness request %s already pending", r.RequestId)
	}

	event := RandomnessRequested{
		Id:        r.Id,
		RequestId: requestId,
	}
	r.raise(event)

	return []RoundEvent{event}, nil
}

// PickWinner resolves the round with the oracle's random word. The winner is
// the entry at position randomWord mod number of entries, in insertion order.
func (r *Round) PickWinner(requestId string, randomWord uint64) ([]RoundEvent, error) {
	if r.Stage.Code != CalculatingState || r.IsFailed() {
		return nil, fmt.Errorf("not in a valid stage to pick a winner")
	}
	if r.Stage.Ended {
		return nil, fmt.Errorf("winner already picked")
	}
	if len(r.RequestId) <= 0 {
		return nil, fmt.Errorf("no pending randomness request")
	}
	if requestId != r.RequestId {
		return nil, ErrRequestMismatch{Got: requestId, Want: r.RequestId}
	}
	if len(r.Entries) <= 0 {
		return nil, fmt.Errorf("no entries to pick a winner from")
	}

	index := int(randomWord % uint64(len(r.Entries)))
	event := WinnerPicked{
		Id:          r.Id,
		RequestId:   requestId,
		RandomWord:  randomWord,
		WinnerIndex: index,
		Address:     r.Entries[index].Address,
		Payout:      r.PotAmount(),
		Timestamp:   time.Now().Unix(),
	}
	r.raise(event)

	return []RoundEvent{event}, nil
}

func (r *Round) Fail(err error) []RoundEvent {
	if r.Stage.Failed {
		return nil
	}
	event := RoundFailed{
		Id:        r.Id,
		Err:       err.Error(),
		Timestamp: time.Now().Unix(),
	}
	r.raise(event)

	return []RoundEvent{event}
}

func (r *Round) IsOpen() bool {
	return !r.IsFailed() && !r.Stage.Ended && r.Stage.Code == OpenState
}

func (r *Round) IsCalculating() bool {
	return !r.IsFailed() && !r.Stage.Ended && r.Stage.Code == CalculatingState
}

func (r *Round) IsEnded() bool {
	return !r.IsFailed() && r.Stage.Ended
}

func (r *Round) IsFailed() bool {
	return r.Stage.Failed
}

// PotAmount is the sum of everything paid in, excess included.
func (r *Round) PotAmount() uint64 {
	tot := uint64(0)
	for _, entry := range r.Entries {
		tot += entry.Amount
	}
	return tot
}

func (r *Round) raise(event RoundEvent) {
	if r.changes == nil {
		r.changes = make([]RoundEvent, 0)
	}
	r.changes = append(r.changes, event)
	r.On(event, false)
}
