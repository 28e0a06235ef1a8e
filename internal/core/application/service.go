package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fairdraw/raffled/internal/core/domain"
	"github.com/fairdraw/raffled/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const notificationsBuffer = 32

type raffleService struct {
	entranceFee        uint64
	roundInterval      time.Duration
	upkeepPollInterval time.Duration
	requestParams      ports.RandomnessRequest

	wallet      ports.WalletService
	oracle      ports.RandomnessSource
	scheduler   ports.SchedulerService
	repoManager ports.RepoManager

	// serializes every state-mutating operation, entries and fulfillments
	// never run concurrently with each other
	mu           sync.Mutex
	currentRound *domain.Round

	notificationsCh chan Notification
	done            chan struct{}
	wg              sync.WaitGroup
}

func NewService(
	entranceFee uint64,
	roundInterval, upkeepPollInterval time.Duration,
	requestParams ports.RandomnessRequest,
	walletSvc ports.WalletService,
	oracleSvc ports.RandomnessSource,
	schedulerSvc ports.SchedulerService,
	repoManager ports.RepoManager,
) (Service, error) {
	if entranceFee <= 0 {
		return nil, fmt.Errorf("missing entrance fee")
	}
	if requestParams.NumWords != 1 {
		return nil, fmt.Errorf("invalid number of random words, must be 1")
	}

	svc := &raffleService{
		entranceFee:        entranceFee,
		roundInterval:      roundInterval,
		upkeepPollInterval: upkeepPollInterval,
		requestParams:      requestParams,
		wallet:             walletSvc,
		oracle:             oracleSvc,
		scheduler:          schedulerSvc,
		repoManager:        repoManager,
		notificationsCh:    make(chan Notification, notificationsBuffer),
		done:               make(chan struct{}),
	}

	repoManager.RegisterEventsHandler(svc.updateProjection)

	return svc, nil
}

func (s *raffleService) Start() error {
	s.mu.Lock()
	if err := s.loadOrStartRound(context.Background()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.listenFulfillments()

	pollInterval := int64(s.upkeepPollInterval / time.Second)
	if err := s.scheduler.ScheduleTask(pollInterval, false, s.pollUpkeep); err != nil {
		return err
	}
	s.scheduler.Start()

	return nil
}

func (s *raffleService) Stop() {
	s.scheduler.Stop()
	close(s.done)
	s.wg.Wait()
	s.oracle.Close()
	s.wallet.Close()
	s.repoManager.Close()
	close(s.notificationsCh)
}

// Enter appends the caller to the current round and credits the pot. Excess
// over the entrance fee is kept, not refunded.
func (s *raffleService) Enter(ctx context.Context, address string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := s.currentRound
	if round == nil {
		return fmt.Errorf("raffle not started")
	}

	changes, err := round.RegisterEntry(address, amount)
	if err != nil {
		return err
	}
	if _, err := s.repoManager.Events().Save(ctx, round.Id, changes...); err != nil {
		return fmt.Errorf("failed to store entry: %s", err)
	}
	if err := s.wallet.Deposit(ctx, address, amount); err != nil {
		return fmt.Errorf("failed to credit pot: %s", err)
	}

	s.notify(Notification{NotificationEntered, EnteredData{
		RoundId: round.Id,
		Address: address,
		Amount:  amount,
	}})
	log.Debugf("registered entry for %s in round %s", address, round.Id)
	return nil
}

// CheckUpkeep is the read-only gate polled by the scheduler and exposed to
// external automation. No side effects.
func (s *raffleService) CheckUpkeep(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upkeepNeeded()
}

// PerformUpkeep locks the round and issues exactly one randomness request.
// The CALCULATING transition is committed before the oracle call so a
// concurrent trigger cannot issue a duplicate request.
func (s *raffleService) PerformUpkeep(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := s.currentRound
	if !s.upkeepNeeded() {
		notNeeded := domain.ErrUpkeepNotNeeded{}
		if round != nil {
			notNeeded.Balance = round.PotAmount()
			notNeeded.NumEntries = len(round.Entries)
			notNeeded.State = round.Stage.Code
		}
		return "", notNeeded
	}

	changes, err := round.StartCalculation()
	if err != nil {
		return "", err
	}
	if _, err := s.repoManager.Events().Save(ctx, round.Id, changes...); err != nil {
		return "", fmt.Errorf("failed to store draw start: %s", err)
	}

	requestId, err := s.oracle.RequestRandomWords(ctx, s.requestParams)
	if err != nil {
		s.failRound(ctx, round, fmt.Errorf("failed to request randomness: %s", err))
		return "", fmt.Errorf("failed to request randomness: %s", err)
	}

	changes, err = round.RegisterRandomnessRequest(requestId)
	if err != nil {
		return "", err
	}
	if _, err := s.repoManager.Events().Save(ctx, round.Id, changes...); err != nil {
		return "", fmt.Errorf("failed to store randomness request: %s", err)
	}

	s.notify(Notification{NotificationRandomnessRequested, RandomnessRequestedData{
		RoundId:   round.Id,
		RequestId: requestId,
	}})
	log.Debugf("issued randomness request %s for round %s", requestId, round.Id)
	return requestId, nil
}

func (s *raffleService) GetInfo(ctx context.Context) (*RaffleInfo, error) {
	s.mu.Lock()
	round := s.currentRound
	if round == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("raffle not started")
	}
	info := &RaffleInfo{
		RoundId:          round.Id,
		State:            round.Stage.Code.String(),
		EntranceFee:      round.EntranceFee,
		NumEntries:       len(round.Entries),
		PotAmount:        round.PotAmount(),
		RoundStartedAt:   round.StartingTimestamp,
		PendingRequestId: round.RequestId,
	}
	s.mu.Unlock()

	winner, err := s.repoManager.Rounds().GetRecentWinner(ctx)
	if err == nil {
		info.RecentWinner = winner
	}
	return info, nil
}

func (s *raffleService) GetEntry(_ context.Context, index int) (*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := s.currentRound
	if round == nil {
		return nil, fmt.Errorf("raffle not started")
	}
	if index < 0 || index >= len(round.Entries) {
		return nil, fmt.Errorf("no entry at index %d", index)
	}
	entry := round.Entries[index]
	return &entry, nil
}

func (s *raffleService) GetRoundWithId(ctx context.Context, id string) (*domain.Round, error) {
	return s.repoManager.Rounds().GetRoundWithId(ctx, id)
}

func (s *raffleService) Notifications() <-chan Notification {
	return s.notificationsCh
}

func (s *raffleService) upkeepNeeded() bool {
	if s.currentRound == nil {
		return false
	}
	return s.currentRound.UpkeepNeeded(
		time.Now().Unix(), int64(s.roundInterval/time.Second),
	)
}

func (s *raffleService) loadOrStartRound(ctx context.Context) error {
	round, err := s.repoManager.Rounds().GetCurrentRound(ctx)
	if err != nil {
		log.WithError(err).Debug("no active round found, starting a new one")
		return s.startNewRound(ctx)
	}

	// Rebuild from events to recover the full aggregate, a restart while
	// CALCULATING leaves the round locked until the oracle answers.
	round, err = s.repoManager.Events().Load(ctx, round.Id)
	if err != nil {
		return fmt.Errorf("failed to load round events: %s", err)
	}
	s.currentRound = round
	log.Debugf("resumed round %s in state %s", round.Id, round.Stage.Code)
	return nil
}

func (s *raffleService) startNewRound(ctx context.Context) error {
	round := domain.NewRound(s.entranceFee)
	changes, err := round.StartRegistration()
	if err != nil {
		return err
	}
	if _, err := s.repoManager.Events().Save(ctx, round.Id, changes...); err != nil {
		return fmt.Errorf("failed to store new round events: %s", err)
	}

	s.currentRound = round
	s.notify(Notification{NotificationRoundStarted, RoundStartedData{
		RoundId:   round.Id,
		Timestamp: round.StartingTimestamp,
	}})
	log.Debugf("started new raffle round %s", round.Id)
	return nil
}

func (s *raffleService) failRound(ctx context.Context, round *domain.Round, reason error) {
	changes := round.Fail(reason)
	if _, err := s.repoManager.Events().Save(ctx, round.Id, changes...); err != nil {
		log.WithError(err).Warn("failed to store round failure")
	}
	log.WithError(reason).Warnf("round %s failed", round.Id)
	if err := s.startNewRound(ctx); err != nil {
		log.WithError(err).Warn("failed to start new round")
	}
}

func (s *raffleService) listenFulfillments() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case fulfillment, ok := <-s.oracle.Fulfillments():
			if !ok {
				return
			}
			if err := s.settleRound(fulfillment); err != nil {
				log.WithError(err).Error("failed to settle round")
			}
		}
	}
}

// settleRound resolves the current round with the oracle callback. All
// internal state is committed before the payout transfer runs: a failed
// transfer never relitigates winner selection and is not retried.
func (s *raffleService) settleRound(fulfillment ports.RandomnessFulfillment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	round := s.currentRound
	if round == nil {
		return fmt.Errorf("no active round")
	}
	if len(fulfillment.RandomWords) <= 0 {
		return fmt.Errorf("fulfillment %s carries no random words", fulfillment.RequestId)
	}

	changes, err := round.PickWinner(fulfillment.RequestId, fulfillment.RandomWords[0])
	if err != nil {
		return fmt.Errorf("rejected fulfillment %s: %w", fulfillment.RequestId, err)
	}
	if _, err := s.repoManager.Events().Save(ctx, round.Id, changes...); err != nil {
		return fmt.Errorf("failed to store winner: %s", err)
	}

	winner := round.Winner
	s.notify(Notification{NotificationWinnerPicked, WinnerPickedData{
		RoundId:    round.Id,
		Address:    winner.Address,
		Index:      winner.Index,
		RandomWord: winner.RandomWord,
		Payout:     winner.Payout,
	}})
	log.Debugf(
		"picked winner %s (entry %d) for round %s", winner.Address, winner.Index, round.Id,
	)

	if err := s.startNewRound(ctx); err != nil {
		return err
	}

	if _, err := s.wallet.Transfer(ctx, winner.Address, winner.Payout); err != nil {
		payoutErr := domain.ErrPayoutTransferFailed{
			Winner: winner.Address,
			Amount: winner.Payout,
			Err:    err,
		}
		s.notify(Notification{NotificationPayoutFailed, PayoutFailedData{
			RoundId: round.Id,
			Address: winner.Address,
			Amount:  winner.Payout,
			Reason:  err.Error(),
		}})
		return payoutErr
	}

	log.Debugf("transferred pot of %d to winner %s", winner.Payout, winner.Address)
	return nil
}

func (s *raffleService) pollUpkeep() {
	ctx := context.Background()
	if !s.CheckUpkeep(ctx) {
		s.warnIfStuck()
		return
	}
	if _, err := s.PerformUpkeep(ctx); err != nil {
		notNeeded := domain.ErrUpkeepNotNeeded{}
		if errors.As(err, &notNeeded) {
			return
		}
		log.WithError(err).Warn("failed to perform upkeep")
	}
}

// There is no timeout or cancellation for a pending request: if the oracle
// never answers the round stays CALCULATING. Surface that to operators.
func (s *raffleService) warnIfStuck() {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := s.currentRound
	if round == nil || !round.IsCalculating() {
		return
	}
	waiting := time.Now().Unix() - round.StartingTimestamp
	if time.Duration(waiting)*time.Second > 2*s.roundInterval {
		log.Warnf(
			"round %s still awaiting fulfillment of request %s after %ds",
			round.Id, round.RequestId, waiting,
		)
	}
}

func (s *raffleService) updateProjection(round *domain.Round) {
	if err := s.repoManager.Rounds().AddOrUpdateRound(
		context.Background(), *round,
	); err != nil {
		log.WithError(err).Warn("failed to update round projection")
	}
}

func (s *raffleService) notify(notification Notification) {
	select {
	case s.notificationsCh <- notification:
	default:
		log.Warnf("notifications channel full, dropping %s", notification.Type)
	}
}
