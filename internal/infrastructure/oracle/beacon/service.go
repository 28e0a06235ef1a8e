package beacon

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/fairdraw/raffled/internal/core/ports"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
)

// service is a signature-based randomness beacon. Each request is answered
// with words derived from a schnorr signature over the request seed, after a
// delay of confirmations * block time to model oracle finality. The
// signature makes the output verifiable against the beacon's public key.
type service struct {
	suite     *edwards25519.SuiteEd25519
	keyPair   *key.Pair
	blockTime time.Duration

	fulfillmentsCh chan ports.RandomnessFulfillment
	done           chan struct{}
	wg             sync.WaitGroup
}

func NewService(blockTime time.Duration) ports.RandomnessSource {
	suite := edwards25519.NewBlakeSHA256Ed25519()
	return &service{
		suite:          suite,
		keyPair:        key.NewKeyPair(suite),
		blockTime:      blockTime,
		fulfillmentsCh: make(chan ports.RandomnessFulfillment),
		done:           make(chan struct{}),
	}
}

func (s *service) RequestRandomWords(
	ctx context.Context, req ports.RandomnessRequest,
) (string, error) {
	if req.NumWords <= 0 {
		return "", fmt.Errorf("invalid number of random words")
	}

	requestId := uuid.New().String()
	seed := sha256.Sum256([]byte(fmt.Sprintf(
		"%s:%d:%s:%d", req.KeyHash, req.SubscriptionId, requestId, time.Now().UnixNano(),
	)))
	delay := time.Duration(req.Confirmations) * s.blockTime

	s.wg.Add(1)
	go s.fulfill(requestId, seed[:], int(req.NumWords), delay)

	return requestId, nil
}

func (s *service) Fulfillments() <-chan ports.RandomnessFulfillment {
	return s.fulfillmentsCh
}

// PublicKey lets observers verify the beacon's signatures.
func (s *service) PublicKey() kyber.Point {
	return s.keyPair.Public
}

func (s *service) Close() {
	close(s.done)
	s.wg.Wait()
	close(s.fulfillmentsCh)
}

func (s *service) fulfill(requestId string, seed []byte, numWords int, delay time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-s.done:
		return
	case <-timer.C:
	}

	sig, err := schnorr.Sign(s.suite, s.keyPair.Private, seed)
	if err != nil {
		log.WithError(err).Error("failed to sign randomness seed")
		return
	}

	words := make([]uint64, 0, numWords)
	for i := 0; i < numWords; i++ {
		h := sha256.Sum256(append(sig, byte(i)))
		words = append(words, binary.BigEndian.Uint64(h[:8]))
	}

	select {
	case <-s.done:
	case s.fulfillmentsCh <- ports.RandomnessFulfillment{
		RequestId:   requestId,
		RandomWords: words,
	}:
	}
}
