package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fadedpez/cantina/internal/bot"
	"github.com/fadedpez/cantina/internal/commands"
	"github.com/fadedpez/cantina/internal/discord"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and serve slash commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		services, err := bot.NewServices(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := services.Close(); err != nil {
				logger.Error("Error closing services: %v", err)
			}
		}()

		registry := commands.NewRegistry()
		if err := registry.Register(services.Handlers().Commands()...); err != nil {
			return fmt.Errorf("failed to register commands: %w", err)
		}

		session, err := discord.NewSession(cfg.Token)
		if err != nil {
			return err
		}

		b := bot.New(cfg, session, registry, logger)
		if err := b.Start(); err != nil {
			return fmt.Errorf("failed to start bot: %w", err)
		}

		maintenance := services.Maintenance()
		maintenance.Start(ctx)

		logger.Info("Bot is running with %d commands. Press Ctrl+C to exit", len(registry.Names()))
		<-ctx.Done()

		logger.Info("Shutting down...")
		maintenance.Stop()
		b.Shutdown()
		return nil
	},
}
