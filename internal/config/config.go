package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Discord configuration
	Token   string
	AppID   string
	GuildID string

	// Storage
	StorageDir  string
	JournalPath string // empty keeps the journal in memory
	LockTimeout time.Duration

	// Collaborators, each disabled when its address is empty
	NATSURL               string
	NATSPrefix            string
	ElasticsearchURL      string
	ElasticsearchUsername string
	ElasticsearchPassword string
	ElasticsearchPrefix   string

	Backup BackupConfig

	// Environment
	Environment string // "development" or "production"
	LogLevel    string

	TunablesFile string
	Tunables     Tunables
}

// BackupConfig configures document snapshots to S3
type BackupConfig struct {
	Bucket   string
	Region   string
	Endpoint string // for S3-compatible stores such as MinIO
	Prefix   string
	Interval time.Duration
}

// Enabled reports whether backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Tunables are gameplay numbers read from an optional TOML file
type Tunables struct {
	Economy    EconomyTunables    `toml:"economy"`
	Moderation ModerationTunables `toml:"moderation"`
	Market     MarketTunables     `toml:"market"`
	Commands   CommandTunables    `toml:"commands"`
}

type EconomyTunables struct {
	DefaultBankCap int64 `toml:"default_bank_cap"`
	DailyReward    int64 `toml:"daily_reward"`
	StreakBonus    int64 `toml:"streak_bonus"`
}

type ModerationTunables struct {
	PageSize int `toml:"page_size"`
}

type MarketTunables struct {
	ListingTTL time.Duration `toml:"listing_ttl"`
}

type CommandTunables struct {
	PerMinute int `toml:"per_minute"`
	Burst     int `toml:"burst"`
}

// DefaultTunables returns the values used when no tunables file overrides them
func DefaultTunables() Tunables {
	return Tunables{
		Economy: EconomyTunables{
			DefaultBankCap: 25000,
			DailyReward:    100,
			StreakBonus:    10,
		},
		Moderation: ModerationTunables{PageSize: 10},
		Market:     MarketTunables{ListingTTL: 72 * time.Hour},
		Commands:   CommandTunables{PerMinute: 20, Burst: 5},
	}
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Only return error if file exists but couldn't be loaded
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	// Get working directory for resource paths
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	storageDir := getEnvWithDefault("STORAGE_DIR", filepath.Join(wd, "storage"))

	cfg := &Config{
		Token:                 os.Getenv("DISCORD_TOKEN"),
		AppID:                 os.Getenv("APP_ID"),
		GuildID:               os.Getenv("GUILD_ID"),
		StorageDir:            storageDir,
		JournalPath:           getEnvWithDefault("JOURNAL_PATH", filepath.Join(storageDir, "journal.db")),
		NATSURL:               os.Getenv("NATS_URL"),
		NATSPrefix:            os.Getenv("NATS_PREFIX"),
		ElasticsearchURL:      os.Getenv("ELASTICSEARCH_URL"),
		ElasticsearchUsername: os.Getenv("ELASTICSEARCH_USERNAME"),
		ElasticsearchPassword: os.Getenv("ELASTICSEARCH_PASSWORD"),
		ElasticsearchPrefix:   getEnvWithDefault("ELASTICSEARCH_INDEX_PREFIX", "cantina"),
		Backup: BackupConfig{
			Bucket:   os.Getenv("BACKUP_S3_BUCKET"),
			Region:   getEnvWithDefault("BACKUP_S3_REGION", "us-east-1"),
			Endpoint: os.Getenv("BACKUP_S3_ENDPOINT"),
			Prefix:   getEnvWithDefault("BACKUP_S3_PREFIX", "cantina"),
		},
		Environment:  getEnvWithDefault("ENVIRONMENT", "development"),
		LogLevel:     getEnvWithDefault("LOG_LEVEL", "INFO"),
		TunablesFile: os.Getenv("TUNABLES_FILE"),
		Tunables:     DefaultTunables(),
	}
	if v, ok := os.LookupEnv("JOURNAL_PATH"); ok && v == "" {
		cfg.JournalPath = ""
	}

	if cfg.LockTimeout, err = getDurationWithDefault("LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Backup.Interval, err = getDurationWithDefault("BACKUP_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.TunablesFile != "" {
		if err := cfg.loadTunables(); err != nil {
			return nil, err
		}
	}

	// Create storage directory if it doesn't exist
	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return cfg, nil
}

// loadTunables overlays the tunables file on the defaults. Keys missing from the
// file keep their default values.
func (c *Config) loadTunables() error {
	md, err := toml.DecodeFile(c.TunablesFile, &c.Tunables)
	if err != nil {
		return fmt.Errorf("error reading tunables file %s: %w", c.TunablesFile, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in tunables file %s: %v", c.TunablesFile, undecoded)
	}
	return c.Tunables.validate()
}

func (t Tunables) validate() error {
	if t.Economy.DefaultBankCap <= 0 {
		return fmt.Errorf("economy.default_bank_cap must be positive")
	}
	if t.Economy.DailyReward <= 0 {
		return fmt.Errorf("economy.daily_reward must be positive")
	}
	if t.Economy.StreakBonus < 0 {
		return fmt.Errorf("economy.streak_bonus cannot be negative")
	}
	if t.Moderation.PageSize < 1 {
		return fmt.Errorf("moderation.page_size must be at least 1")
	}
	if t.Market.ListingTTL < time.Second {
		return fmt.Errorf("market.listing_ttl must be at least one second")
	}
	if t.Commands.PerMinute < 1 || t.Commands.Burst < 1 {
		return fmt.Errorf("commands.per_minute and commands.burst must be at least 1")
	}
	return nil
}

// Validate checks that everything needed to connect to Discord is present
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if c.AppID == "" {
		return fmt.Errorf("APP_ID is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.Backup.Enabled() && c.Backup.Interval <= 0 {
		return fmt.Errorf("BACKUP_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationWithDefault parses a Go duration, or a bare number of seconds
func getDurationWithDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
