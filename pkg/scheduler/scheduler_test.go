package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/pkg/backup"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) Prune(ctx context.Context) ([]*entities.Listing, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Listing), args.Error(1)
}

type mockSnapshotter struct {
	mock.Mock
}

func (m *mockSnapshotter) Snapshot(ctx context.Context) (*backup.Manifest, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backup.Manifest), args.Error(1)
}

func TestSchedulerRunsImmediatelyAndOnInterval(t *testing.T) {
	logs := &bytes.Buffer{}
	s := NewScheduler(logging.NewLoggerTo(logs, logging.DEBUG))

	var runs atomic.Int32
	s.AddTask("count", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no runs after Stop")
	assert.Contains(t, logs.String(), "Error running task count: boom")
}

func TestSchedulerStartStopAreIdempotent(t *testing.T) {
	s := NewScheduler(logging.NewLoggerTo(&bytes.Buffer{}, logging.ERROR))
	s.AddTask("noop", time.Hour, func(ctx context.Context) error { return nil })

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
	assert.Equal(t, []string{"noop"}, s.Tasks())
}

func TestMaintenanceScheduler(t *testing.T) {
	pruner := &mockPruner{}
	pruner.Test(t)
	pruner.On("Prune", mock.Anything).Return([]*entities.Listing{{ListingID: "old"}}, nil)

	snapshots := &mockSnapshotter{}
	snapshots.Test(t)
	snapshots.On("Snapshot", mock.Anything).Return(&backup.Manifest{}, nil)

	m := NewMaintenanceScheduler(logging.NewLoggerTo(&bytes.Buffer{}, logging.ERROR), pruner, time.Hour, snapshots, time.Hour)
	assert.Equal(t, []string{"listing_prune", "storage_backup"}, m.Tasks())

	m.Start(context.Background())
	assert.Eventually(t, func() bool {
		return len(pruner.Calls) > 0 && len(snapshots.Calls) > 0
	}, time.Second, 5*time.Millisecond)
	m.Stop()

	pruner.AssertExpectations(t)
	snapshots.AssertExpectations(t)
}

func TestMaintenanceSchedulerWithoutBackups(t *testing.T) {
	m := NewMaintenanceScheduler(nil, &mockPruner{}, 0, nil, time.Hour)
	assert.Equal(t, []string{"listing_prune"}, m.Tasks())
}
