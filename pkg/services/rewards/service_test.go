package rewards

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/repositories/journal"
	"github.com/fadedpez/cantina/pkg/services/ledger"
	"github.com/fadedpez/cantina/pkg/storage/file"
	"github.com/fadedpez/cantina/pkg/storage/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, clock *time.Time) (*Service, *journal.MemoryRepository) {
	logger := logging.NewLoggerTo(&bytes.Buffer{}, logging.DEBUG)
	store := file.New(t.TempDir(), logger)
	g := guard.New(time.Second)
	repo := journal.NewMemoryRepository()
	ledgerService := ledger.NewService(store, g, ledger.WithJournal(repo), ledger.WithLogger(logger))
	service := NewService(store, g, ledgerService,
		WithLogger(logger),
		WithClock(func() time.Time { return *clock }),
	)
	return service, repo
}

func TestAmount(t *testing.T) {
	s := NewService(nil, nil, nil, WithAmounts(100, 10))
	assert.Equal(t, int64(100), s.Amount(1))
	assert.Equal(t, int64(110), s.Amount(2))
	assert.Equal(t, int64(170), s.Amount(8))
	assert.Equal(t, int64(170), s.Amount(30), "bonus is capped")
}

func TestClaimDaily(t *testing.T) {
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s, repo := newTestService(t, &clock)
	ctx := context.Background()

	claim, err := s.ClaimDaily(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), claim.Streak)
	assert.Equal(t, DefaultDailyReward, claim.Amount)
	assert.Equal(t, DefaultDailyReward, claim.Ledger.Purse)
	assert.Equal(t, clock.Add(DailyPeriod), claim.Next)

	clock = clock.Add(time.Hour)
	_, err = s.ClaimDaily(ctx, "42")
	assert.True(t, types.Is(err, types.ErrCooldownActive))
	assert.True(t, types.IsValidation(err))

	remaining, err := s.Remaining(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour, remaining)

	clock = clock.Add(23 * time.Hour)
	claim, err = s.ClaimDaily(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), claim.Streak)
	assert.Equal(t, DefaultDailyReward+DefaultStreakBonus, claim.Amount)
	assert.Equal(t, 2*DefaultDailyReward+DefaultStreakBonus, claim.Ledger.Purse)

	txs, err := repo.GetTransactionsByType(ctx, "42", entities.TransactionTypeDaily, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestStreakResets(t *testing.T) {
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s, _ := newTestService(t, &clock)
	ctx := context.Background()

	_, err := s.ClaimDaily(ctx, "42")
	require.NoError(t, err)
	clock = clock.Add(30 * time.Hour)
	claim, err := s.ClaimDaily(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), claim.Streak)

	clock = clock.Add(3 * 24 * time.Hour)
	claim, err = s.ClaimDaily(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), claim.Streak)
}

func TestRemainingForNewUser(t *testing.T) {
	clock := time.Now()
	s, _ := newTestService(t, &clock)

	remaining, err := s.Remaining(context.Background(), "new")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s, _ := newTestService(t, &clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	paid := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimDaily(ctx, "42"); err == nil {
				mu.Lock()
				paid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, paid)
}
