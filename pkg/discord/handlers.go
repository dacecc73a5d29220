// Package discord turns slash command interactions into calls on the economy,
// moderation and market services.
package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/commands"
	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/services/caselog"
	"github.com/fadedpez/cantina/pkg/services/ledger"
	"github.com/fadedpez/cantina/pkg/services/market"
	"github.com/fadedpez/cantina/pkg/services/rewards"
)

const (
	// historyLimit is how many journal lines the balance embed shows
	historyLimit = 5
	// browseLimit is how many offers one browse page shows
	browseLimit = 20
)

var (
	moderatorPermission int64 = discordgo.PermissionModerateMembers
	managerPermission   int64 = discordgo.PermissionManageServer
	guildOnly                 = false
	minOne                    = 1.0
)

// Handlers answers the bot's slash commands
type Handlers struct {
	ledger   *ledger.Service
	rewards  *rewards.Service
	cases    *caselog.Service
	market   *market.Service
	logger   *logging.Logger
	pageSize int
}

// Option configures Handlers
type Option func(*Handlers)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// WithPageSize sets how many cases one page of /warnings or /notes shows
func WithPageSize(n int) Option {
	return func(h *Handlers) {
		if n > 0 {
			h.pageSize = n
		}
	}
}

// NewHandlers creates the command handlers
func NewHandlers(ledgerService *ledger.Service, rewardService *rewards.Service, cases *caselog.Service, marketService *market.Service, opts ...Option) *Handlers {
	h := &Handlers{
		ledger:   ledgerService,
		rewards:  rewardService,
		cases:    cases,
		market:   marketService,
		logger:   logging.Default,
		pageSize: caselog.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Commands returns every slash command with its handler
func (h *Handlers) Commands() []*commands.Command {
	var all []*commands.Command
	all = append(all, h.economyCommands()...)
	all = append(all, h.moderationCommands()...)
	all = append(all, h.marketCommands()...)
	return all
}

// InvokerID returns the user who ran the command, in a guild or a DM
func InvokerID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// requireGuild rejects commands run outside a server
func requireGuild(i *discordgo.InteractionCreate) (string, error) {
	if i.GuildID == "" {
		return "", types.NewError(types.ErrNotFound, "this command only works in a server")
	}
	return i.GuildID, nil
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionsOf(opts []*discordgo.ApplicationCommandInteractionDataOption) options {
	o := make(options, len(opts))
	for _, opt := range opts {
		o[opt.Name] = opt
	}
	return o
}

func commandOptions(i *discordgo.InteractionCreate) options {
	return optionsOf(i.ApplicationCommandData().Options)
}

// subcommand returns the chosen subcommand and its options
func subcommand(i *discordgo.InteractionCreate) (string, options) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return "", options{}
	}
	sub := data.Options[0]
	return sub.Name, optionsOf(sub.Options)
}

// intOpt reads an integer option. JSON numbers arrive as float64.
func (o options) intOpt(name string) (int64, bool) {
	opt, ok := o[name]
	if !ok {
		return 0, false
	}
	switch v := opt.Value.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

func (o options) stringOpt(name string) string {
	opt, ok := o[name]
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

// userOpt reads a user option, which carries the user ID
func (o options) userOpt(name string) string {
	return o.stringOpt(name)
}

func (o options) requireInt(name string) (int64, error) {
	n, ok := o.intOpt(name)
	if !ok {
		return 0, types.Errorf(types.ErrInvalidAmount, "%s is required", name)
	}
	return n, nil
}

func (o options) requireUser(name string) (string, error) {
	id := o.userOpt(name)
	if id == "" {
		return "", types.Errorf(types.ErrNotFound, "pick a %s", name)
	}
	return id, nil
}

