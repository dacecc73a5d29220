package bot

import "fmt"

// registerCommands publishes every registered command to the configured guild,
// or globally when no guild is set
func (b *Bot) registerCommands() error {
	for _, def := range b.registry.Definitions() {
		cmd, err := b.session.ApplicationCommandCreate(b.config.AppID, b.config.GuildID, def)
		if err != nil {
			return fmt.Errorf("error creating command %s: %w", def.Name, err)
		}
		b.registered = append(b.registered, cmd)
		b.logger.Debug("Registered command: %s", def.Name)
	}
	b.logger.Info("Registered %d commands", len(b.registered))
	return nil
}

// cleanupCommands removes the commands published by registerCommands
func (b *Bot) cleanupCommands() {
	for _, cmd := range b.registered {
		if err := b.session.ApplicationCommandDelete(b.config.AppID, b.config.GuildID, cmd.ID); err != nil {
			b.logger.Warn("Error deleting command %s: %v", cmd.Name, err)
		}
	}
	b.registered = nil
}
