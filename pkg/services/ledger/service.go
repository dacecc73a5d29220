package ledger

import (
	"context"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/events"
	"github.com/fadedpez/cantina/pkg/repositories/journal"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/guard"
)

// Service handles purse and bank balances stored in the economy namespace
type Service struct {
	store   storage.Store
	guard   *guard.Guard
	journal journal.Repository
	events  events.Publisher
	logger  *logging.Logger
	bankCap int64
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithJournal records every balance change in repo
func WithJournal(repo journal.Repository) Option {
	return func(s *Service) { s.journal = repo }
}

// WithPublisher publishes an event for every balance change
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithBankCap sets the bank capacity given to new ledgers
func WithBankCap(bankCap int64) Option {
	return func(s *Service) {
		if bankCap > 0 {
			s.bankCap = bankCap
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new ledger service
func NewService(store storage.Store, g *guard.Guard, opts ...Option) *Service {
	s := &Service{
		store:   store,
		guard:   g,
		journal: journal.NewMemoryRepository(),
		events:  &events.NoopPublisher{},
		logger:  logging.Default,
		bankCap: entities.DefaultBankCap,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the guard key of a user's ledger
func Key(userID string) guard.Key {
	return guard.NewKey(storage.Economy, userID)
}

// BankCap returns the capacity given to new ledgers
func (s *Service) BankCap() int64 {
	return s.bankCap
}

// Balance returns the user's ledger, creating and persisting the defaults on first touch
func (s *Service) Balance(ctx context.Context, userID string) (*entities.Ledger, error) {
	var result *entities.Ledger
	err := guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, []guard.Key{Key(userID)}, func() error {
			return s.store.Update(ctx, storage.Economy, func(doc storage.Document) error {
				rec, created, err := storage.EnsureIn(doc, userID, s.newRecord)
				if err != nil {
					return err
				}
				l, filled, err := entities.LedgerFrom(userID, rec, s.bankCap)
				if err != nil {
					return err
				}
				result = l
				if !created && !filled {
					return storage.ErrUnchanged
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Deposit moves amount from the purse into the bank
func (s *Service) Deposit(ctx context.Context, userID string, amount int64) (*entities.Ledger, error) {
	l, err := s.mutate(ctx, userID, func(l *entities.Ledger, _ storage.Record) error {
		if err := validAmount(amount); err != nil {
			return err
		}
		if l.Purse < amount {
			return types.Errorf(types.ErrInsufficientPurse, "you only have %d in your purse", l.Purse)
		}
		if l.Bank+amount > l.BankCap {
			return types.Errorf(types.ErrBankCapExceeded, "your bank can hold %d more", l.BankCap-l.Bank)
		}
		l.Purse -= amount
		l.Bank += amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("[LEDGER] Deposit of %d for user %s: purse=%d bank=%d", amount, userID, l.Purse, l.Bank)
	s.Record(ctx, s.transaction(l, entities.TransactionTypeDeposit, amount, "", "Deposit"))
	return l, nil
}

// Withdraw moves amount from the bank into the purse
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64) (*entities.Ledger, error) {
	l, err := s.mutate(ctx, userID, func(l *entities.Ledger, _ storage.Record) error {
		if err := validAmount(amount); err != nil {
			return err
		}
		if l.Bank < amount {
			return types.Errorf(types.ErrInsufficientBank, "you only have %d in the bank", l.Bank)
		}
		l.Bank -= amount
		l.Purse += amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("[LEDGER] Withdrawal of %d for user %s: purse=%d bank=%d", amount, userID, l.Purse, l.Bank)
	s.Record(ctx, s.transaction(l, entities.TransactionTypeWithdraw, amount, "", "Withdrawal"))
	return l, nil
}

// Credit adds earnings to the purse
func (s *Service) Credit(ctx context.Context, userID string, amount int64, description string) (*entities.Ledger, error) {
	l, err := s.mutate(ctx, userID, func(l *entities.Ledger, _ storage.Record) error {
		return CreditLedger(l, amount)
	})
	if err != nil {
		return nil, err
	}

	s.Record(ctx, s.transaction(l, entities.TransactionTypeCredit, amount, "", description))
	return l, nil
}

// Debit spends amount from the purse
func (s *Service) Debit(ctx context.Context, userID string, amount int64, description string) (*entities.Ledger, error) {
	l, err := s.mutate(ctx, userID, func(l *entities.Ledger, _ storage.Record) error {
		return DebitLedger(l, amount)
	})
	if err != nil {
		return nil, err
	}

	s.Record(ctx, s.transaction(l, entities.TransactionTypeDebit, amount, "", description))
	return l, nil
}

// Transfer moves amount from one user's purse to another's. Both ledgers are
// guarded for the whole cycle and change together or not at all.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount int64) (from, to *entities.Ledger, err error) {
	if fromID == toID {
		return nil, nil, types.NewError(types.ErrInvalidAmount, "you cannot pay yourself")
	}
	if err := validAmount(amount); err != nil {
		return nil, nil, err
	}

	err = guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, []guard.Key{Key(fromID), Key(toID)}, func() error {
			return s.store.Update(ctx, storage.Economy, func(doc storage.Document) error {
				var err error
				if from, err = s.MutateIn(doc, fromID, func(l *entities.Ledger, _ storage.Record) error {
					return DebitLedger(l, amount)
				}); err != nil {
					return err
				}
				to, err = s.MutateIn(doc, toID, func(l *entities.Ledger, _ storage.Record) error {
					return CreditLedger(l, amount)
				})
				return err
			})
		})
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("[LEDGER] Transfer of %d from %s to %s", amount, fromID, toID)
	s.Record(ctx,
		s.transaction(from, entities.TransactionTypeTransferOut, amount, toID, "Payment sent"),
		s.transaction(to, entities.TransactionTypeTransferIn, amount, fromID, "Payment received"),
	)
	return from, to, nil
}

// SetBankCap changes a user's bank capacity. The new cap cannot be below the current bank.
func (s *Service) SetBankCap(ctx context.Context, userID string, bankCap int64) (*entities.Ledger, error) {
	return s.mutate(ctx, userID, func(l *entities.Ledger, _ storage.Record) error {
		if bankCap <= 0 {
			return types.NewError(types.ErrInvalidAmount, "bank cap must be positive")
		}
		if l.Bank > bankCap {
			return types.Errorf(types.ErrBankCapExceeded, "bank already holds %d", l.Bank)
		}
		l.BankCap = bankCap
		return nil
	})
}

// MutateIn applies fn to the user's ledger inside an already loaded economy
// document. The caller holds the user's guard key and saves the document.
func (s *Service) MutateIn(doc storage.Document, userID string, fn func(*entities.Ledger, storage.Record) error) (*entities.Ledger, error) {
	rec, _, err := storage.EnsureIn(doc, userID, s.newRecord)
	if err != nil {
		return nil, err
	}
	l, _, err := entities.LedgerFrom(userID, rec, s.bankCap)
	if err != nil {
		return nil, err
	}
	if err := fn(l, rec); err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	l.Apply(rec)
	return l, nil
}

// mutate runs one guarded load-mutate-save cycle on a user's ledger. Nothing is
// returned unless the save succeeded.
func (s *Service) mutate(ctx context.Context, userID string, fn func(*entities.Ledger, storage.Record) error) (*entities.Ledger, error) {
	var result *entities.Ledger
	err := guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, []guard.Key{Key(userID)}, func() error {
			return s.store.Update(ctx, storage.Economy, func(doc storage.Document) error {
				l, err := s.MutateIn(doc, userID, fn)
				result = l
				return err
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Record journals transactions and publishes their events. It must be called
// after guards are released; failures are logged and never returned.
func (s *Service) Record(ctx context.Context, txs ...*entities.Transaction) {
	for _, tx := range txs {
		if err := s.journal.AddTransaction(ctx, tx); err != nil {
			s.logger.Error("[LEDGER] Error journaling %s for user %s: %v", tx.Type, tx.UserID, err)
		}
		event := events.LedgerChanged{
			TransactionID: tx.ID,
			UserID:        tx.UserID,
			Type:          tx.Type,
			Amount:        tx.Amount,
			PurseAfter:    tx.PurseAfter,
			BankAfter:     tx.BankAfter,
		}
		if err := s.events.Publish(ctx, events.LedgerTopic(tx.Type), event); err != nil {
			s.logger.Warn("[LEDGER] Error publishing %s event: %v", tx.Type, err)
		}
	}
}

func (s *Service) transaction(l *entities.Ledger, t entities.TransactionType, amount int64, reference, description string) *entities.Transaction {
	return NewTransaction(l, t, amount, reference, description, s.now())
}

// History returns the most recent journaled transactions of a user
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*entities.Transaction, error) {
	return s.journal.GetTransactions(ctx, userID, limit)
}

func (s *Service) newRecord() storage.Record {
	return entities.NewLedgerRecord(s.bankCap)
}

// NewTransaction builds a journal entry reflecting l after a change
func NewTransaction(l *entities.Ledger, t entities.TransactionType, amount int64, reference, description string, at time.Time) *entities.Transaction {
	return &entities.Transaction{
		UserID:      l.UserID,
		Amount:      amount,
		Type:        t,
		ReferenceID: reference,
		Description: description,
		Timestamp:   at,
		PurseAfter:  l.Purse,
		BankAfter:   l.Bank,
	}
}

// CreditLedger adds amount to the purse
func CreditLedger(l *entities.Ledger, amount int64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.Purse += amount
	return nil
}

// DebitLedger takes amount from the purse
func DebitLedger(l *entities.Ledger, amount int64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if l.Purse < amount {
		return types.Errorf(types.ErrInsufficientPurse, "you only have %d in your purse", l.Purse)
	}
	l.Purse -= amount
	return nil
}

func validAmount(amount int64) error {
	if amount <= 0 {
		return types.Errorf(types.ErrInvalidAmount, "amount must be positive, got %d", amount)
	}
	return nil
}
