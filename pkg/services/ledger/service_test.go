package ledger

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/events"
	mock_events "github.com/fadedpez/cantina/pkg/events/mock"
	"github.com/fadedpez/cantina/pkg/repositories/journal"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/file"
	"github.com/fadedpez/cantina/pkg/storage/guard"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type LedgerTestSuite struct {
	suite.Suite
	ctx     context.Context
	store   *file.Storage
	journal *journal.MemoryRepository
	logs    *bytes.Buffer
	service *Service
}

func TestLedger(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (s *LedgerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.logs = &bytes.Buffer{}
	logger := logging.NewLoggerTo(s.logs, logging.DEBUG)
	s.store = file.New(s.T().TempDir(), logger)
	s.journal = journal.NewMemoryRepository()
	s.service = NewService(s.store, guard.New(time.Second),
		WithJournal(s.journal),
		WithLogger(logger),
	)
}

func (s *LedgerTestSuite) seed(userID string, purse, bank, bankCap int64) {
	err := s.store.Update(s.ctx, storage.Economy, func(doc storage.Document) error {
		doc[userID] = storage.Record{"purse": purse, "bank": bank, "bank_cap": bankCap}
		return nil
	})
	s.Require().NoError(err)
}

func (s *LedgerTestSuite) stored(userID string) *entities.Ledger {
	doc, err := s.store.Load(s.ctx, storage.Economy)
	s.Require().NoError(err)
	rec, ok, err := storage.GetEntity(doc, userID)
	s.Require().NoError(err)
	s.Require().True(ok)
	l, _, err := entities.LedgerFrom(userID, rec, 0)
	s.Require().NoError(err)
	return l
}

func (s *LedgerTestSuite) TestExampleScenario() {
	s.seed("42", 0, 5000, 25000)

	_, err := s.service.Deposit(s.ctx, "42", 1000)
	s.True(types.Is(err, types.ErrInsufficientPurse))
	s.Equal(&entities.Ledger{UserID: "42", Purse: 0, Bank: 5000, BankCap: 25000}, s.stored("42"), "failed deposit changes nothing")

	l, err := s.service.Withdraw(s.ctx, "42", 1000)
	s.Require().NoError(err)
	s.Equal(int64(1000), l.Purse)
	s.Equal(int64(4000), l.Bank)

	l, err = s.service.Deposit(s.ctx, "42", 1000)
	s.Require().NoError(err)
	s.Equal(int64(0), l.Purse)
	s.Equal(int64(5000), l.Bank)
	s.Equal(l, s.stored("42"))

	history, err := s.service.History(s.ctx, "42", 0)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(entities.TransactionTypeDeposit, history[0].Type)
	s.Equal(entities.TransactionTypeWithdraw, history[1].Type)
}

func (s *LedgerTestSuite) TestInvalidAmounts() {
	s.seed("1", 100, 100, 1000)

	for _, amount := range []int64{0, -5} {
		_, err := s.service.Deposit(s.ctx, "1", amount)
		s.True(types.Is(err, types.ErrInvalidAmount), "deposit %d", amount)
		_, err = s.service.Withdraw(s.ctx, "1", amount)
		s.True(types.Is(err, types.ErrInvalidAmount), "withdraw %d", amount)
	}
}

func (s *LedgerTestSuite) TestBankCapExceeded() {
	s.seed("1", 500, 900, 1000)

	_, err := s.service.Deposit(s.ctx, "1", 101)
	s.True(types.Is(err, types.ErrBankCapExceeded))

	l, err := s.service.Deposit(s.ctx, "1", 100)
	s.Require().NoError(err)
	s.Equal(l.BankCap, l.Bank, "filling the bank exactly to the cap is allowed")
}

func (s *LedgerTestSuite) TestInsufficientBank() {
	s.seed("1", 0, 10, 1000)

	_, err := s.service.Withdraw(s.ctx, "1", 11)
	s.True(types.Is(err, types.ErrInsufficientBank))
}

func (s *LedgerTestSuite) TestBalanceCreatesDefaults() {
	l, err := s.service.Balance(s.ctx, "new")
	s.Require().NoError(err)
	s.Equal(&entities.Ledger{UserID: "new", Purse: entities.StartingPurse, Bank: 0, BankCap: entities.DefaultBankCap}, l)
	s.Equal(l, s.stored("new"), "defaults are persisted on first touch")
}

func (s *LedgerTestSuite) TestBalanceFillsMissingFields() {
	err := s.store.Update(s.ctx, storage.Economy, func(doc storage.Document) error {
		doc["old"] = storage.Record{"purse": int64(7), "inventory": storage.Record{"gem": int64(1)}}
		return nil
	})
	s.Require().NoError(err)

	l, err := s.service.Balance(s.ctx, "old")
	s.Require().NoError(err)
	s.Equal(int64(7), l.Purse)
	s.Equal(entities.DefaultBankCap, s.stored("old").BankCap)

	doc, err := s.store.Load(s.ctx, storage.Economy)
	s.Require().NoError(err)
	s.Contains(doc["old"].(storage.Record), "inventory", "unrelated fields survive")
}

func (s *LedgerTestSuite) TestConcurrentDepositsDoNotLoseUpdates() {
	s.seed("1", 10000, 0, 25000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Deposit(s.ctx, "1", 100)
			s.NoError(err)
		}()
	}
	wg.Wait()

	l := s.stored("1")
	s.Equal(int64(2000), l.Bank)
	s.Equal(int64(8000), l.Purse)
}

func (s *LedgerTestSuite) TestTwoConcurrentDeposits() {
	s.seed("1", 1000, 0, 25000)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := s.service.Deposit(s.ctx, "1", 100)
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(int64(200), s.stored("1").Bank)
}

func (s *LedgerTestSuite) TestInvariantsHoldForRandomSequences() {
	s.seed("1", 3000, 2000, 6000)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		amount := rng.Int63n(2500) - 100
		if rng.Intn(2) == 0 {
			s.service.Deposit(s.ctx, "1", amount)
		} else {
			s.service.Withdraw(s.ctx, "1", amount)
		}

		l := s.stored("1")
		s.GreaterOrEqual(l.Purse, int64(0))
		s.GreaterOrEqual(l.Bank, int64(0))
		s.LessOrEqual(l.Bank, l.BankCap)
		s.Equal(int64(5000), l.Total(), "deposit and withdraw only move money")
	}
}

func (s *LedgerTestSuite) TestDepositWithdrawPairRestoresTotal() {
	s.seed("1", 400, 600, 1000)

	_, err := s.service.Deposit(s.ctx, "1", 250)
	s.Require().NoError(err)
	l, err := s.service.Withdraw(s.ctx, "1", 250)
	s.Require().NoError(err)

	s.Equal(int64(400), l.Purse)
	s.Equal(int64(600), l.Bank)
}

func (s *LedgerTestSuite) TestCreditAndDebit() {
	l, err := s.service.Credit(s.ctx, "1", 300, "Won a bet")
	s.Require().NoError(err)
	s.Equal(int64(300), l.Purse)

	_, err = s.service.Debit(s.ctx, "1", 301, "Too much")
	s.True(types.Is(err, types.ErrInsufficientPurse))

	l, err = s.service.Debit(s.ctx, "1", 300, "Shopping")
	s.Require().NoError(err)
	s.Zero(l.Purse)
}

func (s *LedgerTestSuite) TestTransfer() {
	s.seed("a", 500, 0, 1000)

	from, to, err := s.service.Transfer(s.ctx, "a", "b", 200)
	s.Require().NoError(err)
	s.Equal(int64(300), from.Purse)
	s.Equal(int64(200), to.Purse)
	s.Equal(int64(200), s.stored("b").Purse)

	_, _, err = s.service.Transfer(s.ctx, "a", "b", 301)
	s.True(types.Is(err, types.ErrInsufficientPurse))
	s.Equal(int64(300), s.stored("a").Purse)
	s.Equal(int64(200), s.stored("b").Purse, "failed transfer credits nobody")

	_, _, err = s.service.Transfer(s.ctx, "a", "a", 1)
	s.True(types.Is(err, types.ErrInvalidAmount))

	out, err := s.journal.GetTransactionsByType(s.ctx, "a", entities.TransactionTypeTransferOut, 0)
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal("b", out[0].ReferenceID)
}

func (s *LedgerTestSuite) TestOpposingTransfersDoNotDeadlock() {
	s.seed("a", 10000, 0, 1000)
	s.seed("b", 10000, 0, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := s.service.Transfer(s.ctx, "a", "b", 10)
			s.NoError(err)
		}()
		go func() {
			defer wg.Done()
			_, _, err := s.service.Transfer(s.ctx, "b", "a", 10)
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(int64(10000), s.stored("a").Purse)
	s.Equal(int64(10000), s.stored("b").Purse)
}

func (s *LedgerTestSuite) TestSetBankCap() {
	s.seed("1", 0, 500, 1000)

	_, err := s.service.SetBankCap(s.ctx, "1", 499)
	s.True(types.Is(err, types.ErrBankCapExceeded))

	l, err := s.service.SetBankCap(s.ctx, "1", 2000)
	s.Require().NoError(err)
	s.Equal(int64(2000), l.BankCap)
}

func (s *LedgerTestSuite) TestCorruptEconomyAborts() {
	s.Require().NoError(s.store.Save(s.ctx, storage.Economy, storage.Document{"1": "broken"}))

	_, err := s.service.Deposit(s.ctx, "1", 1)
	s.True(types.IsIntegrity(err))
}

func (s *LedgerTestSuite) TestPublishesEvents() {
	ctrl := gomock.NewController(s.T())
	publisher := mock_events.NewMockPublisher(ctrl)
	service := NewService(s.store, guard.New(time.Second), WithPublisher(publisher), WithLogger(logging.NewLoggerTo(s.logs, logging.DEBUG)))
	s.seed("1", 100, 0, 1000)

	publisher.EXPECT().
		Publish(gomock.Any(), "economy.deposit", gomock.AssignableToTypeOf(events.LedgerChanged{})).
		Return(nil)
	_, err := service.Deposit(s.ctx, "1", 50)
	s.Require().NoError(err)

	publisher.EXPECT().
		Publish(gomock.Any(), "economy.withdraw", gomock.Any()).
		Return(errors.New("nats down"))
	_, err = service.Withdraw(s.ctx, "1", 50)
	s.NoError(err, "publish failures never fail the operation")
	s.Contains(s.logs.String(), "nats down")
}

func (s *LedgerTestSuite) TestSaveFailureDiscardsMutation() {
	ctrl := gomock.NewController(s.T())
	publisher := mock_events.NewMockPublisher(ctrl) // no calls expected
	store := storage.NewMockStorage(s.T())
	service := NewService(store, guard.New(time.Second), WithPublisher(publisher), WithJournal(s.journal))

	doc := storage.Document{"1": storage.Record{"purse": int64(100), "bank": int64(0), "bank_cap": int64(1000)}}
	store.On("Update", mock.Anything, storage.Economy, mock.Anything).Return(doc, errors.New("disk full"))

	l, err := service.Deposit(s.ctx, "1", 100)
	s.Error(err)
	s.Nil(l)

	history, err := s.journal.GetTransactions(s.ctx, "1", 0)
	s.Require().NoError(err)
	s.Empty(history, "nothing is journaled for an unsaved change")
	store.AssertExpectations(s.T())
}

func (s *LedgerTestSuite) TestLockTimeoutIsRetriedOnce() {
	g := guard.New(20 * time.Millisecond)
	service := NewService(s.store, g)
	s.seed("1", 100, 0, 1000)

	release, err := g.Acquire(s.ctx, Key("1"))
	s.Require().NoError(err)

	// Release after the first attempt times out so the retry succeeds
	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()

	_, err = service.Deposit(s.ctx, "1", 10)
	s.NoError(err)
}

func (s *LedgerTestSuite) TestLockTimeoutSurfaces() {
	g := guard.New(10 * time.Millisecond)
	service := NewService(s.store, g)

	release, err := g.Acquire(s.ctx, Key("1"))
	s.Require().NoError(err)
	defer release()

	_, err = service.Deposit(s.ctx, "1", 10)
	s.True(types.Is(err, types.ErrLockTimeout))
}
