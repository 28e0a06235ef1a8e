package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fairdraw/raffled/internal/core/ports"
	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"
)

const (
	ledgerStoreDir = "ledger"

	// potAccount holds every entrance payment until the round settles.
	potAccount = "pot"
)

type account struct {
	Address string
	Balance uint64
}

// service is an embedded account ledger acting as the pot's custodian.
type service struct {
	store *badgerhold.Store
	lock  *sync.Mutex
}

func NewService(baseDir string, logger badger.Logger) (ports.WalletService, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, ledgerStoreDir)
	}

	isInMemory := len(dir) <= 0
	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %s", err)
	}

	if !isInMemory {
		ticker := time.NewTicker(30 * time.Minute)
		go func() {
			for {
				<-ticker.C
				if err := store.Badger().RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
					if logger != nil {
						logger.Errorf("%s", err)
					}
				}
			}
		}()
	}

	return &service{store, &sync.Mutex{}}, nil
}

func (s *service) Deposit(ctx context.Context, from string, amount uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if amount <= 0 {
		return fmt.Errorf("missing deposit amount")
	}
	if len(from) <= 0 {
		return fmt.Errorf("missing depositor address")
	}

	pot, err := s.getAccount(potAccount)
	if err != nil {
		return err
	}
	pot.Balance += amount
	return s.store.Upsert(pot.Address, pot)
}

func (s *service) Transfer(ctx context.Context, to string, amount uint64) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(to) <= 0 {
		return "", fmt.Errorf("missing receiver address")
	}

	pot, err := s.getAccount(potAccount)
	if err != nil {
		return "", err
	}
	if pot.Balance < amount {
		return "", fmt.Errorf(
			"insufficient pot balance: have %d, need %d", pot.Balance, amount,
		)
	}

	receiver, err := s.getAccount(to)
	if err != nil {
		return "", err
	}

	pot.Balance -= amount
	receiver.Balance += amount

	if err := s.store.Upsert(pot.Address, pot); err != nil {
		return "", err
	}
	if err := s.store.Upsert(receiver.Address, receiver); err != nil {
		return "", err
	}

	return uuid.New().String(), nil
}

func (s *service) Balance(ctx context.Context) (uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	pot, err := s.getAccount(potAccount)
	if err != nil {
		return 0, err
	}
	return pot.Balance, nil
}

func (s *service) Close() {
	s.store.Close()
}

func (s *service) getAccount(address string) (*account, error) {
	acc := &account{}
	if err := s.store.Get(address, acc); err != nil {
		if err == badgerhold.ErrNotFound {
			return &account{Address: address}, nil
		}
		return nil, fmt.Errorf("failed to get account %s: %s", address, err)
	}
	return acc, nil
}
