package application_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fairdraw/raffled/internal/core/application"
	"github.com/fairdraw/raffled/internal/core/domain"
	"github.com/fairdraw/raffled/internal/core/ports"
	"github.com/stretchr/testify/require"
)

var (
	testFee       = uint64(10)
	requestParams = ports.RandomnessRequest{
		KeyHash:          "test-key-hash",
		SubscriptionId:   1,
		Confirmations:    3,
		CallbackGasLimit: 100000,
		NumWords:         1,
	}
)

func TestService(t *testing.T) {
	t.Run("start_opens_round", func(t *testing.T) {
		svc, fx := newTestService(t, 0)
		defer svc.Stop()

		info, err := svc.GetInfo(context.Background())
		require.NoError(t, err)
		require.Equal(t, "OPEN", info.State)
		require.Equal(t, testFee, info.EntranceFee)
		require.Zero(t, info.NumEntries)
		require.NotEmpty(t, info.RoundId)
		require.Len(t, fx.scheduler.tasks, 1)
	})

	t.Run("enter", func(t *testing.T) {
		ctx := context.Background()
		svc, fx := newTestService(t, time.Hour)
		defer svc.Stop()

		require.NoError(t, svc.Enter(ctx, "addr-alice", 10))
		require.NoError(t, svc.Enter(ctx, "addr-bob", 15))

		info, err := svc.GetInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, info.NumEntries)
		require.Equal(t, uint64(25), info.PotAmount)
		require.Equal(t, uint64(25), fx.wallet.balance())

		entry, err := svc.GetEntry(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, "addr-bob", entry.Address)
		require.Equal(t, uint64(15), entry.Amount)

		_, err = svc.GetEntry(ctx, 2)
		require.Error(t, err)

		var feeErr domain.ErrFeeTooLow
		err = svc.Enter(ctx, "addr-carol", 9)
		require.ErrorAs(t, err, &feeErr)
		info, err = svc.GetInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, info.NumEntries)
	})

	t.Run("upkeep_gate", func(t *testing.T) {
		ctx := context.Background()

		t.Run("no_entries", func(t *testing.T) {
			svc, _ := newTestService(t, 0)
			defer svc.Stop()

			require.False(t, svc.CheckUpkeep(ctx))

			var notNeeded domain.ErrUpkeepNotNeeded
			_, err := svc.PerformUpkeep(ctx)
			require.ErrorAs(t, err, &notNeeded)
			require.Zero(t, notNeeded.NumEntries)
		})

		t.Run("interval_not_elapsed", func(t *testing.T) {
			svc, _ := newTestService(t, time.Hour)
			defer svc.Stop()

			require.NoError(t, svc.Enter(ctx, "addr-alice", 10))
			require.False(t, svc.CheckUpkeep(ctx))
		})

		t.Run("all_conditions_met", func(t *testing.T) {
			svc, _ := newTestService(t, 0)
			defer svc.Stop()

			require.NoError(t, svc.Enter(ctx, "addr-alice", 10))
			require.True(t, svc.CheckUpkeep(ctx))
		})
	})

	t.Run("perform_upkeep", func(t *testing.T) {
		ctx := context.Background()
		svc, fx := newTestService(t, 0)
		defer svc.Stop()

		require.NoError(t, svc.Enter(ctx, "addr-alice", 10))

		requestId, err := svc.PerformUpkeep(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, requestId)
		require.Len(t, fx.oracle.requests(), 1)
		require.Equal(t, requestParams, fx.oracle.requests()[0])

		info, err := svc.GetInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, "CALCULATING", info.State)
		require.Equal(t, requestId, info.PendingRequestId)

		// locked round rejects entries
		var notOpen domain.ErrRoundNotOpen
		require.ErrorAs(t, svc.Enter(ctx, "addr-bob", 10), &notOpen)

		// a second trigger cannot issue a duplicate request
		var notNeeded domain.ErrUpkeepNotNeeded
		_, err = svc.PerformUpkeep(ctx)
		require.ErrorAs(t, err, &notNeeded)
		require.Len(t, fx.oracle.requests(), 1)
	})

	t.Run("settle_round", func(t *testing.T) {
		ctx := context.Background()
		svc, fx := newTestService(t, 0)
		defer svc.Stop()

		require.NoError(t, svc.Enter(ctx, "addr-alice", 10))
		require.NoError(t, svc.Enter(ctx, "addr-bob", 10))
		require.NoError(t, svc.Enter(ctx, "addr-carol", 10))

		info, err := svc.GetInfo(ctx)
		require.NoError(t, err)
		lockedRoundId := info.RoundId

		requestId, err := svc.PerformUpkeep(ctx)
		require.NoError(t, err)

		fx.oracle.fulfill(requestId, 7)

		require.Eventually(t, func() bool {
			info, err := svc.GetInfo(ctx)
			return err == nil && info.RoundId != lockedRoundId
		}, time.Second, 10*time.Millisecond)

		// 7 mod 3 pays the second entrant the whole pot
		require.Eventually(t, func() bool {
			return len(fx.wallet.transferLog()) == 1
		}, time.Second, 10*time.Millisecond)
		transfer := fx.wallet.transferLog()[0]
		require.Equal(t, "addr-bob", transfer.to)
		require.Equal(t, uint64(30), transfer.amount)

		info, err = svc.GetInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, "OPEN", info.State)
		require.Zero(t, info.NumEntries)
		require.Zero(t, info.PotAmount)
		require.Empty(t, info.PendingRequestId)
		require.NotNil(t, info.RecentWinner)
		require.Equal(t, "addr-bob", info.RecentWinner.Address)
		require.Equal(t, 1, info.RecentWinner.Index)
		require.Equal(t, uint64(7), info.RecentWinner.RandomWord)
		require.Equal(t, uint64(30), info.RecentWinner.Payout)

		settled, err := svc.GetRoundWithId(ctx, lockedRoundId)
		require.NoError(t, err)
		require.True(t, settled.IsEnded())
		require.NotNil(t, settled.Winner)
	})

	t.Run("mismatched_fulfillment_rejected", func(t *testing.T) {
		ctx := context.Background()
		svc, fx := newTestService(t, 0)
		defer svc.Stop()

		require.NoError(t, svc.Enter(ctx, "addr-alice", 10))

		requestId, err := svc.PerformUpkeep(ctx)
		require.NoError(t, err)

		fx.oracle.fulfill("req-unknown", 3)

		// the round stays locked until the pending request is answered
		time.Sleep(50 * time.Millisecond)
		info, err := svc.GetInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, "CALCULATING", info.State)

		fx.oracle.fulfill(requestId, 3)
		require.Eventually(t, func() bool {
			info, err := svc.GetInfo(ctx)
			return err == nil && info.State == "OPEN"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("payout_failure_is_fatal", func(t *testing.T) {
		ctx := context.Background()
		svc, fx := newTestService(t, 0)
		defer svc.Stop()

		require.NoError(t, svc.Enter(ctx, "addr-alice", 10))

		requestId, err := svc.PerformUpkeep(ctx)
		require.NoError(t, err)

		fx.wallet.setFailTransfer(true)
		fx.oracle.fulfill(requestId, 0)

		// the winner is committed and a new round opens even though the
		// transfer failed, the payout is not retried
		require.Eventually(t, func() bool {
			info, err := svc.GetInfo(ctx)
			return err == nil && info.State == "OPEN" && info.RecentWinner != nil
		}, time.Second, 10*time.Millisecond)
		require.Len(t, fx.wallet.transferLog(), 0)

		notified := false
		for len(svc.Notifications()) > 0 {
			if n := <-svc.Notifications(); n.Type == application.NotificationPayoutFailed {
				notified = true
			}
		}
		require.True(t, notified)
	})

	t.Run("oracle_failure_fails_round", func(t *testing.T) {
		ctx := context.Background()
		svc, fx := newTestService(t, 0)
		defer svc.Stop()

		require.NoError(t, svc.Enter(ctx, "addr-alice", 10))

		info, err := svc.GetInfo(ctx)
		require.NoError(t, err)
		failedRoundId := info.RoundId

		fx.oracle.setFailRequest(true)
		_, err = svc.PerformUpkeep(ctx)
		require.Error(t, err)

		info, err = svc.GetInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, "OPEN", info.State)
		require.NotEqual(t, failedRoundId, info.RoundId)

		failed, err := svc.GetRoundWithId(ctx, failedRoundId)
		require.NoError(t, err)
		require.True(t, failed.IsFailed())
	})

	t.Run("restart_resumes_locked_round", func(t *testing.T) {
		ctx := context.Background()
		fx := newFixtures()
		svc := startService(t, fx, 0)

		require.NoError(t, svc.Enter(ctx, "addr-alice", 10))
		requestId, err := svc.PerformUpkeep(ctx)
		require.NoError(t, err)

		svc.Stop()

		fx.oracle = newFakeOracle()
		fx.scheduler = &fakeScheduler{}
		resumed := startService(t, fx, 0)
		defer resumed.Stop()

		info, err := resumed.GetInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, "CALCULATING", info.State)
		require.Equal(t, requestId, info.PendingRequestId)

		fx.oracle.fulfill(requestId, 5)
		require.Eventually(t, func() bool {
			info, err := resumed.GetInfo(ctx)
			return err == nil && info.State == "OPEN"
		}, time.Second, 10*time.Millisecond)
	})
}

/*
 * fixtures
 */

type fixtures struct {
	repoManager *fakeRepoManager
	oracle      *fakeOracle
	wallet      *fakeWallet
	scheduler   *fakeScheduler
}

func newFixtures() *fixtures {
	return &fixtures{
		repoManager: newFakeRepoManager(),
		oracle:      newFakeOracle(),
		wallet:      newFakeWallet(),
		scheduler:   &fakeScheduler{},
	}
}

func newTestService(
	t *testing.T, roundInterval time.Duration,
) (application.Service, *fixtures) {
	fx := newFixtures()
	return startService(t, fx, roundInterval), fx
}

func startService(
	t *testing.T, fx *fixtures, roundInterval time.Duration,
) application.Service {
	svc, err := application.NewService(
		testFee, roundInterval, time.Hour, requestParams,
		fx.wallet, fx.oracle, fx.scheduler, fx.repoManager,
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	return svc
}

type fakeRepoManager struct {
	lock     sync.Mutex
	events   map[string][]domain.RoundEvent
	rounds   map[string]domain.Round
	handlers []func(*domain.Round)
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		events: make(map[string][]domain.RoundEvent),
		rounds: make(map[string]domain.Round),
	}
}

func (m *fakeRepoManager) Events() domain.RoundEventRepository { return m }
func (m *fakeRepoManager) Rounds() domain.RoundRepository      { return m }
func (m *fakeRepoManager) RegisterEventsHandler(handler func(*domain.Round)) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlers = append(m.handlers, handler)
}
func (m *fakeRepoManager) Close() {}

func (m *fakeRepoManager) Save(
	_ context.Context, id string, events ...domain.RoundEvent,
) (*domain.Round, error) {
	m.lock.Lock()
	m.events[id] = append(m.events[id], events...)
	round := domain.NewRoundFromEvents(m.events[id])
	handlers := append([]func(*domain.Round){}, m.handlers...)
	m.lock.Unlock()

	for _, handler := range handlers {
		handler(round)
	}
	return round, nil
}

func (m *fakeRepoManager) Load(_ context.Context, id string) (*domain.Round, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	events, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("round %s not found", id)
	}
	return domain.NewRoundFromEvents(events), nil
}

func (m *fakeRepoManager) AddOrUpdateRound(_ context.Context, round domain.Round) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.rounds[round.Id] = round
	return nil
}

func (m *fakeRepoManager) GetRoundWithId(_ context.Context, id string) (*domain.Round, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	round, ok := m.rounds[id]
	if !ok {
		return nil, fmt.Errorf("round %s not found", id)
	}
	return &round, nil
}

func (m *fakeRepoManager) GetCurrentRound(_ context.Context) (*domain.Round, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	var current *domain.Round
	for _, round := range m.rounds {
		round := round
		if round.Stage.Ended || round.Stage.Failed {
			continue
		}
		if current == nil || round.StartingTimestamp > current.StartingTimestamp {
			current = &round
		}
	}
	if current == nil {
		return nil, fmt.Errorf("no active round")
	}
	return current, nil
}

func (m *fakeRepoManager) GetRoundsIds(
	_ context.Context, startedAfter, startedBefore int64,
) ([]string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	ids := make([]string, 0, len(m.rounds))
	for id := range m.rounds {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *fakeRepoManager) GetRecentWinner(_ context.Context) (*domain.Winner, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	var recent *domain.Round
	for _, round := range m.rounds {
		round := round
		if !round.Stage.Ended || round.Winner == nil {
			continue
		}
		if recent == nil || round.EndingTimestamp > recent.EndingTimestamp {
			recent = &round
		}
	}
	if recent == nil {
		return nil, fmt.Errorf("no winner yet")
	}
	return recent.Winner, nil
}

type fakeOracle struct {
	lock           sync.Mutex
	reqs           []ports.RandomnessRequest
	counter        int
	failRequest    bool
	fulfillmentsCh chan ports.RandomnessFulfillment
	closed         bool
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		fulfillmentsCh: make(chan ports.RandomnessFulfillment, 8),
	}
}

func (o *fakeOracle) RequestRandomWords(
	_ context.Context, req ports.RandomnessRequest,
) (string, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.failRequest {
		return "", fmt.Errorf("oracle unavailable")
	}
	o.counter++
	o.reqs = append(o.reqs, req)
	return fmt.Sprintf("req-%04d", o.counter), nil
}

func (o *fakeOracle) Fulfillments() <-chan ports.RandomnessFulfillment {
	return o.fulfillmentsCh
}

func (o *fakeOracle) Close() {
	o.lock.Lock()
	defer o.lock.Unlock()
	if !o.closed {
		o.closed = true
		close(o.fulfillmentsCh)
	}
}

func (o *fakeOracle) fulfill(requestId string, word uint64) {
	o.fulfillmentsCh <- ports.RandomnessFulfillment{
		RequestId:   requestId,
		RandomWords: []uint64{word},
	}
}

func (o *fakeOracle) requests() []ports.RandomnessRequest {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]ports.RandomnessRequest{}, o.reqs...)
}

func (o *fakeOracle) setFailRequest(fail bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.failRequest = fail
}

type transfer struct {
	to     string
	amount uint64
}

type fakeWallet struct {
	lock         sync.Mutex
	pot          uint64
	transfers    []transfer
	failTransfer bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{}
}

func (w *fakeWallet) Deposit(_ context.Context, from string, amount uint64) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.pot += amount
	return nil
}

func (w *fakeWallet) Transfer(_ context.Context, to string, amount uint64) (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.failTransfer {
		return "", fmt.Errorf("transfer rejected")
	}
	if w.pot < amount {
		return "", fmt.Errorf("insufficient pot balance")
	}
	w.pot -= amount
	w.transfers = append(w.transfers, transfer{to, amount})
	return fmt.Sprintf("receipt-%d", len(w.transfers)), nil
}

func (w *fakeWallet) Balance(_ context.Context) (uint64, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.pot, nil
}

func (w *fakeWallet) Close() {}

func (w *fakeWallet) balance() uint64 {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.pot
}

func (w *fakeWallet) transferLog() []transfer {
	w.lock.Lock()
	defer w.lock.Unlock()
	return append([]transfer{}, w.transfers...)
}

func (w *fakeWallet) setFailTransfer(fail bool) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.failTransfer = fail
}

type fakeScheduler struct {
	tasks []func()
}

func (s *fakeScheduler) Start() {}
func (s *fakeScheduler) Stop()  {}
func (s *fakeScheduler) ScheduleTask(_ int64, _ bool, task func()) error {
	s.tasks = append(s.tasks, task)
	return nil
}
