package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/fadedpez/cantina/internal/config"
	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/pkg/backup"
	pkgdiscord "github.com/fadedpez/cantina/pkg/discord"
	"github.com/fadedpez/cantina/pkg/events"
	"github.com/fadedpez/cantina/pkg/repositories/casearchive"
	"github.com/fadedpez/cantina/pkg/repositories/journal"
	"github.com/fadedpez/cantina/pkg/scheduler"
	"github.com/fadedpez/cantina/pkg/services/caselog"
	"github.com/fadedpez/cantina/pkg/services/ledger"
	"github.com/fadedpez/cantina/pkg/services/market"
	"github.com/fadedpez/cantina/pkg/services/rewards"
	"github.com/fadedpez/cantina/pkg/storage/file"
	"github.com/fadedpez/cantina/pkg/storage/guard"
	"github.com/fadedpez/cantina/pkg/storage/listing"
)

// Services is everything the bot needs below the Discord layer
type Services struct {
	Config *config.Config
	Logger *logging.Logger

	Store   *file.Storage
	Guard   *guard.Guard
	Journal journal.Repository
	Events  events.Publisher
	Archive casearchive.Repository // nil without Elasticsearch; case history then comes from storage

	Ledger  *ledger.Service
	Rewards *rewards.Service
	Cases   *caselog.Service
	Market  *market.Service
	Backups *backup.Service // nil when backups are not configured
}

// NewServices builds the store, its collaborators and the services on top of it.
// Optional collaborators that fail to connect fall back to in-process versions.
func NewServices(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Services, error) {
	if logger == nil {
		logger = logging.Default
	}
	s := &Services{
		Config: cfg,
		Logger: logger,
		Store:  file.New(cfg.StorageDir, logger),
		Guard:  guard.New(cfg.LockTimeout),
	}

	if cfg.JournalPath != "" {
		repo, err := journal.NewSQLiteRepository(ctx, cfg.JournalPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		s.Journal = repo
		logger.Info("Journal stored at %s", cfg.JournalPath)
	} else {
		s.Journal = journal.NewMemoryRepository()
		logger.Info("Using in-memory journal (history will be lost on restart)")
	}

	s.Events = &events.NoopPublisher{}
	if cfg.NATSURL != "" {
		publisher, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSPrefix)
		if err != nil {
			logger.Warn("Failed to connect to NATS at %s, events disabled: %v", cfg.NATSURL, err)
		} else {
			s.Events = publisher
			logger.Info("Publishing events to %s", cfg.NATSURL)
		}
	}

	if cfg.ElasticsearchURL != "" {
		repo, err := casearchive.NewElasticsearchRepository(ctx, &casearchive.ElasticsearchConfig{
			URL:         cfg.ElasticsearchURL,
			Username:    cfg.ElasticsearchUsername,
			Password:    cfg.ElasticsearchPassword,
			IndexPrefix: cfg.ElasticsearchPrefix,
		})
		if err != nil {
			logger.Warn("Failed to initialize Elasticsearch archive, reading case history from storage: %v", err)
		} else {
			s.Archive = repo
			logger.Info("Archiving cases to %s", repo.Index())
		}
	}

	tunables := cfg.Tunables
	s.Ledger = ledger.NewService(s.Store, s.Guard,
		ledger.WithJournal(s.Journal),
		ledger.WithPublisher(s.Events),
		ledger.WithLogger(logger),
		ledger.WithBankCap(tunables.Economy.DefaultBankCap),
	)
	s.Rewards = rewards.NewService(s.Store, s.Guard, s.Ledger,
		rewards.WithPublisher(s.Events),
		rewards.WithLogger(logger),
		rewards.WithAmounts(tunables.Economy.DailyReward, tunables.Economy.StreakBonus),
	)
	caseOpts := []caselog.Option{
		caselog.WithPublisher(s.Events),
		caselog.WithLogger(logger),
	}
	if s.Archive != nil {
		caseOpts = append(caseOpts, caselog.WithArchive(s.Archive))
	}
	s.Cases = caselog.NewService(s.Store, s.Guard, caseOpts...)
	s.Market = market.NewService(s.Store, s.Guard, s.Ledger,
		market.WithPublisher(s.Events),
		market.WithLogger(logger),
		market.WithListingTTL(tunables.Market.ListingTTL),
		market.WithListingOptions(listing.WithLogger(logger)),
	)

	if cfg.Backup.Enabled() {
		dest, err := backup.NewS3Destination(ctx, cfg.Backup.Bucket, cfg.Backup.Region, cfg.Backup.Endpoint)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to configure backups: %w", err)
		}
		s.Backups = backup.NewService(s.Store, dest, cfg.Backup.Prefix, logger)
	}

	return s, nil
}

// Handlers returns the slash command handlers over these services
func (s *Services) Handlers() *pkgdiscord.Handlers {
	return pkgdiscord.NewHandlers(s.Ledger, s.Rewards, s.Cases, s.Market,
		pkgdiscord.WithLogger(s.Logger),
		pkgdiscord.WithPageSize(s.Config.Tunables.Moderation.PageSize),
	)
}

// Maintenance returns the scheduler for listing pruning and backups
func (s *Services) Maintenance() *scheduler.MaintenanceScheduler {
	var snapshots scheduler.Snapshotter
	if s.Backups != nil {
		snapshots = s.Backups
	}
	return scheduler.NewMaintenanceScheduler(s.Logger, s.Market.Listings(), scheduler.DefaultPruneInterval, snapshots, s.Config.Backup.Interval)
}

// Close releases the journal, the archive and the event connection
func (s *Services) Close() error {
	var errs []error
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	if s.Archive != nil {
		errs = append(errs, s.Archive.Close())
	}
	if s.Events != nil {
		errs = append(errs, s.Events.Close())
	}
	return errors.Join(errs...)
}
