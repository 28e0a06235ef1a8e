package ports

import "context"

// RandomnessRequest describes how a request is routed to the oracle. Values
// come from the immutable service configuration.
type RandomnessRequest struct {
	KeyHash          string
	SubscriptionId   uint64
	Confirmations    uint32
	CallbackGasLimit uint32
	NumWords         uint32
	NativePayment    bool
}

type RandomnessFulfillment struct {
	RequestId   string
	RandomWords []uint64
}

// RandomnessSource is the external randomness oracle. RequestRandomWords
// returns the oracle-assigned request id immediately; the random words arrive
// later on the Fulfillments channel, after an externally-controlled delay.
type RandomnessSource interface {
	RequestRandomWords(ctx context.Context, req RandomnessRequest) (string, error)
	Fulfillments() <-chan RandomnessFulfillment
	Close()
}
