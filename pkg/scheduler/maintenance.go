package scheduler

import (
	"context"
	"time"

	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/pkg/backup"
	"github.com/fadedpez/cantina/pkg/entities"
)

// DefaultPruneInterval is how often expired listings are swept when nobody browses
const DefaultPruneInterval = time.Hour

// Pruner removes expired listings
type Pruner interface {
	Prune(ctx context.Context) ([]*entities.Listing, error)
}

// Snapshotter takes a storage backup
type Snapshotter interface {
	Snapshot(ctx context.Context) (*backup.Manifest, error)
}

// MaintenanceScheduler runs the periodic storage upkeep tasks
type MaintenanceScheduler struct {
	scheduler *Scheduler
	logger    *logging.Logger
}

// NewMaintenanceScheduler schedules listing pruning and, when backups is not nil,
// snapshots every backupInterval
func NewMaintenanceScheduler(logger *logging.Logger, listings Pruner, pruneInterval time.Duration, backups Snapshotter, backupInterval time.Duration) *MaintenanceScheduler {
	s := &MaintenanceScheduler{
		scheduler: NewScheduler(logger),
		logger:    logger,
	}
	if s.logger == nil {
		s.logger = logging.Default
	}

	if listings != nil {
		if pruneInterval <= 0 {
			pruneInterval = DefaultPruneInterval
		}
		s.scheduler.AddTask("listing_prune", pruneInterval, func(ctx context.Context) error {
			pruned, err := listings.Prune(ctx)
			if err != nil {
				return err
			}
			if len(pruned) > 0 {
				s.logger.Info("Scheduled prune removed %d expired listings", len(pruned))
			}
			return nil
		})
	}

	if backups != nil && backupInterval > 0 {
		s.scheduler.AddTask("storage_backup", backupInterval, func(ctx context.Context) error {
			_, err := backups.Snapshot(ctx)
			return err
		})
	}

	return s
}

// Tasks returns the names of the scheduled tasks
func (s *MaintenanceScheduler) Tasks() []string {
	return s.scheduler.Tasks()
}

// Start starts the maintenance tasks
func (s *MaintenanceScheduler) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
}

// Stop stops the maintenance tasks
func (s *MaintenanceScheduler) Stop() {
	s.scheduler.Stop()
}
