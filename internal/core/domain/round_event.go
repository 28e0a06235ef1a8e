package domain

const RoundTopic = "round"

type RoundEvent interface {
	GetTopic() string
}

func (r RoundStarted) GetTopic() string        { return RoundTopic }
func (r EntryRegistered) GetTopic() string     { return RoundTopic }
func (r CalculationStarted) GetTopic() string  { return RoundTopic }
func (r RandomnessRequested) GetTopic() string { return RoundTopic }
func (r WinnerPicked) GetTopic() string        { return RoundTopic }
func (r RoundFailed) GetTopic() string         { return RoundTopic }

type RoundStarted struct {
	Id          string
	EntranceFee uint64
	Timestamp   int64
}

type EntryRegistered struct {
	Id      string
	Address string
	Amount  uint64
}

type CalculationStarted struct {
	Id        string
	Timestamp int64
}

type RandomnessRequested struct {
	Id        string
	RequestId string
}

type WinnerPicked struct {
	Id          string
	RequestId   string
	RandomWord  uint64
	WinnerIndex int
	Address     string
	Payout      uint64
	Timestamp   int64
}

type RoundFailed struct {
	Id        string
	Err       string
	Timestamp int64
}
