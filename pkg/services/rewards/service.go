package rewards

import (
	"context"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/events"
	"github.com/fadedpez/cantina/pkg/services/ledger"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/guard"
)

const (
	// DailyName is the cooldown the daily reward is tracked under
	DailyName = "daily"
	// DailyPeriod is the time between two daily claims
	DailyPeriod = 24 * time.Hour
	// StreakWindow is how long after the last claim a claim still continues the streak
	StreakWindow = 48 * time.Hour
	// MaxStreakBonusDays caps how many streak days earn a bonus
	MaxStreakBonusDays = 7

	DefaultDailyReward int64 = 100
	DefaultStreakBonus int64 = 10
)

// Claim is the outcome of a successful daily claim
type Claim struct {
	Ledger *entities.Ledger
	Amount int64
	Streak int64
	Next   time.Time
}

// Service pays the daily reward into the purse
type Service struct {
	store  storage.Store
	guard  *guard.Guard
	ledger *ledger.Service
	events events.Publisher
	logger *logging.Logger
	now    func() time.Time
	reward int64
	bonus  int64
}

// Option configures a Service
type Option func(*Service)

// WithPublisher publishes an event for every claim
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAmounts sets the base reward and the bonus added per streak day
func WithAmounts(reward, bonus int64) Option {
	return func(s *Service) {
		if reward > 0 {
			s.reward = reward
		}
		if bonus >= 0 {
			s.bonus = bonus
		}
	}
}

// NewService creates a new rewards service
func NewService(store storage.Store, g *guard.Guard, ledgerService *ledger.Service, opts ...Option) *Service {
	s := &Service{
		store:  store,
		guard:  g,
		ledger: ledgerService,
		events: &events.NoopPublisher{},
		logger: logging.Default,
		now:    time.Now,
		reward: DefaultDailyReward,
		bonus:  DefaultStreakBonus,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Amount returns the reward paid on the given streak day
func (s *Service) Amount(streak int64) int64 {
	days := streak - 1
	if days > MaxStreakBonusDays {
		days = MaxStreakBonusDays
	}
	if days < 0 {
		days = 0
	}
	return s.reward + s.bonus*days
}

// ClaimDaily pays the daily reward. Claiming within StreakWindow of the previous
// claim continues the streak; waiting longer starts over.
func (s *Service) ClaimDaily(ctx context.Context, userID string) (*Claim, error) {
	now := s.now()
	claim := &Claim{}

	err := guard.Retry(ctx, func(ctx context.Context) error {
		return s.guard.Do(ctx, []guard.Key{ledger.Key(userID)}, func() error {
			return s.store.Update(ctx, storage.Economy, func(doc storage.Document) error {
				l, err := s.ledger.MutateIn(doc, userID, func(l *entities.Ledger, rec storage.Record) error {
					cd, _, err := entities.CooldownFrom(rec, DailyName)
					if err != nil {
						return err
					}
					if !cd.Ready(now, DailyPeriod) {
						wait := cd.Remaining(now, DailyPeriod).Round(time.Minute)
						return types.Errorf(types.ErrCooldownActive, "you can claim again in %s", wait)
					}

					if cd.Last != 0 && now.Sub(time.Unix(cd.Last, 0)) < StreakWindow {
						cd.Streak++
					} else {
						cd.Streak = 1
					}
					cd.Last = now.Unix()

					claim.Amount = s.Amount(cd.Streak)
					claim.Streak = cd.Streak
					if err := ledger.CreditLedger(l, claim.Amount); err != nil {
						return err
					}
					return cd.Apply(rec)
				})
				claim.Ledger = l
				return err
			})
		})
	})
	if err != nil {
		return nil, err
	}
	claim.Next = now.Add(DailyPeriod)

	s.logger.Info("[REWARDS] %s claimed %d (streak %d)", userID, claim.Amount, claim.Streak)
	s.ledger.Record(ctx, ledger.NewTransaction(claim.Ledger, entities.TransactionTypeDaily, claim.Amount, DailyName, "Daily reward", now))
	event := events.RewardClaimed{UserID: userID, Name: DailyName, Amount: claim.Amount, Streak: claim.Streak}
	if err := s.events.Publish(ctx, events.TopicRewardClaimed, event); err != nil {
		s.logger.Warn("[REWARDS] Error publishing reward event: %v", err)
	}
	return claim, nil
}

// Remaining returns how long until the user can claim the daily reward
func (s *Service) Remaining(ctx context.Context, userID string) (time.Duration, error) {
	doc, err := s.store.Load(ctx, storage.Economy)
	if err != nil {
		return 0, err
	}
	rec, ok, err := storage.GetEntity(doc, userID)
	if err != nil || !ok {
		return 0, err
	}
	cd, _, err := entities.CooldownFrom(rec, DailyName)
	if err != nil {
		return 0, err
	}
	return cd.Remaining(s.now(), DailyPeriod), nil
}
