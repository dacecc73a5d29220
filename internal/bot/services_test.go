package bot

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fadedpez/cantina/internal/commands"
	"github.com/fadedpez/cantina/internal/config"
	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/events"
	"github.com/fadedpez/cantina/pkg/repositories/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		StorageDir:  dir,
		JournalPath: filepath.Join(dir, "journal.db"),
		LockTimeout: time.Second,
		Environment: "development",
		Tunables:    config.DefaultTunables(),
	}
}

func TestNewServicesDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tunables.Economy.DefaultBankCap = 500
	ctx := context.Background()

	services, err := NewServices(ctx, cfg, logging.NewLoggerTo(&bytes.Buffer{}, logging.ERROR))
	require.NoError(t, err)
	defer services.Close()

	assert.IsType(t, &journal.SQLiteRepository{}, services.Journal)
	assert.IsType(t, &events.NoopPublisher{}, services.Events)
	assert.Nil(t, services.Archive)
	assert.Nil(t, services.Backups)
	assert.Equal(t, cfg.StorageDir, services.Store.Root())

	l, err := services.Ledger.Balance(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(500), l.BankCap, "tunables reach the services")

	_, err = services.Ledger.Credit(ctx, "42", 10, "seed")
	require.NoError(t, err)
	history, err := services.Ledger.History(ctx, "42", 5)
	require.NoError(t, err)
	assert.Len(t, history, 1, "journal is wired")

	registry := commands.NewRegistry()
	require.NoError(t, registry.Register(services.Handlers().Commands()...))
	assert.Equal(t, []string{"listing_prune"}, services.Maintenance().Tasks())
}

func TestNewServicesMemoryJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.JournalPath = ""

	services, err := NewServices(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer services.Close()

	assert.IsType(t, &journal.MemoryRepository{}, services.Journal)
}

func TestNewServicesFallsBackWhenCollaboratorsAreDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.JournalPath = ""
	cfg.NATSURL = "nats://127.0.0.1:1"
	cfg.ElasticsearchURL = "http://127.0.0.1:1"

	services, err := NewServices(context.Background(), cfg, logging.NewLoggerTo(&bytes.Buffer{}, logging.ERROR))
	require.NoError(t, err)
	defer services.Close()

	assert.IsType(t, &events.NoopPublisher{}, services.Events)
	assert.Nil(t, services.Archive)
}

func TestCaseHistorySurvivesRestartWithoutArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.JournalPath = ""
	ctx := context.Background()
	logger := logging.NewLoggerTo(&bytes.Buffer{}, logging.ERROR)

	first, err := NewServices(ctx, cfg, logger)
	require.NoError(t, err)
	_, err = first.Cases.AllocateCase(ctx, "100", "42", entities.CategoryWarnings, "spam", "7")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewServices(ctx, cfg, logger)
	require.NoError(t, err)
	defer second.Close()

	history, err := second.Cases.History(ctx, "100", "42", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "spam", history[0].Reason)
}
