package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/discord"
	"github.com/fadedpez/cantina/internal/types"
	pkgdiscord "github.com/fadedpez/cantina/pkg/discord"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// handleInteraction answers one slash command. Component and autocomplete
// interactions are ignored.
func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	// Discord can deliver the same interaction twice after a reconnect
	if err := b.seen.Add(i.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		b.logger.Debug("Skipping already processed interaction: %s", i.ID)
		return
	}

	name := i.ApplicationCommandData().Name
	userID := pkgdiscord.InvokerID(i)
	if !b.allow(userID) {
		b.logger.Debug("Rate limited %s on /%s", userID, name)
		b.respondError(i, name, types.NewError(types.ErrRateLimited, "slow down, try again in a few seconds"))
		return
	}

	cmd, err := b.registry.Get(name)
	if err != nil {
		b.logger.Warn("Unknown command: %s", name)
		b.respondError(i, name, err)
		return
	}

	start := time.Now()
	resp, err := cmd.Handle(ctx, i)
	if err != nil {
		b.respondError(i, name, err)
		return
	}
	b.logger.Debug("/%s for %s took %s", name, userID, time.Since(start))

	if err := discord.SendResponse(b.session, i, resp); err != nil {
		b.logger.Error("Error responding to /%s: %v", name, err)
	}
}

// respondError reports err to the user. Expected failures go back as-is; lock
// timeouts and anything else are logged too.
func (b *Bot) respondError(i *discordgo.InteractionCreate, name string, err error) {
	switch {
	case types.IsValidation(err):
	case types.Is(err, types.ErrLockTimeout):
		b.logger.Warn("/%s timed out waiting for a lock: %v", name, err)
	case types.IsIntegrity(err):
		b.logger.LogError(err, "command", name, "user", pkgdiscord.InvokerID(i))
	default:
		b.logger.Error("/%s failed: %v", name, err)
	}

	if err := discord.SendErrorResponse(b.session, i, err); err != nil {
		b.logger.Error("Error sending error response for /%s: %v", name, err)
	}
}

// allow spends one token from the user's command budget
func (b *Bot) allow(userID string) bool {
	perMinute := b.config.Tunables.Commands.PerMinute
	if perMinute <= 0 || userID == "" {
		return true
	}

	if existing, ok := b.limiters.Get(userID); ok {
		limiter := existing.(*rate.Limiter)
		b.limiters.Set(userID, limiter, cache.DefaultExpiration)
		return limiter.Allow()
	}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), b.config.Tunables.Commands.Burst)
	if err := b.limiters.Add(userID, limiter, cache.DefaultExpiration); err != nil {
		// created concurrently by another interaction of the same user
		if existing, ok := b.limiters.Get(userID); ok {
			limiter = existing.(*rate.Limiter)
		}
	}
	return limiter.Allow()
}
