package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/commands"
	"github.com/fadedpez/cantina/internal/config"
	"github.com/fadedpez/cantina/internal/discord"
	"github.com/fadedpez/cantina/internal/logging"
	"github.com/patrickmn/go-cache"
)

const (
	// interactionTTL is how long a handled interaction ID is remembered. Discord
	// only redelivers within a few seconds of the original.
	interactionTTL = 10 * time.Minute
	// limiterTTL drops the rate limiter of a user who has been quiet this long
	limiterTTL = 30 * time.Minute
)

// Bot represents the Discord bot and its dependencies
type Bot struct {
	config     *config.Config
	session    discord.SessionHandler
	registry   *commands.Registry
	logger     *logging.Logger
	seen       *cache.Cache
	limiters   *cache.Cache
	registered []*discordgo.ApplicationCommand

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
}

// New creates a new instance of Bot answering the commands in registry
func New(cfg *config.Config, session discord.SessionHandler, registry *commands.Registry, logger *logging.Logger) *Bot {
	if logger == nil {
		logger = logging.Default
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		config:   cfg,
		session:  session,
		registry: registry,
		logger:   logger,
		seen:     cache.New(interactionTTL, interactionTTL),
		limiters: cache.New(limiterTTL, limiterTTL),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start connects to Discord and publishes the slash commands
func (b *Bot) Start() error {
	b.session.AddHandler(b.onInteractionCreate)
	b.session.AddHandler(b.onReady)

	// Open connection to Discord
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	// Register commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the bot
func (b *Bot) Shutdown() {
	// Cleanup commands if in development
	if b.config.IsDevelopment() {
		b.cleanupCommands()
	}

	// Close Discord session
	if err := b.session.Close(); err != nil {
		b.logger.Error("Error closing Discord session: %v", err)
	}

	// Wait for any ongoing interactions, then cancel whatever is left
	b.shutdownWg.Wait()
	b.cancel()
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("Bot is ready: %s (%d guilds)", r.User.Username, len(r.Guilds))
}

// onInteractionCreate is registered with discordgo, which calls it on its own goroutine
func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	b.shutdownWg.Add(1)
	defer b.shutdownWg.Done()
	b.handleInteraction(b.ctx, i)
}
