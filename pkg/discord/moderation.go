package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/commands"
	idiscord "github.com/fadedpez/cantina/internal/discord"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/fadedpez/cantina/pkg/entities"
)

// modHistoryLimit is how many cases /modhistory shows
const modHistoryLimit = 15

func (h *Handlers) moderationCommands() []*commands.Command {
	member := func(description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: description,
			Required:    true,
		}
	}
	text := func(name, description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: description,
			Required:    true,
			MaxLength:   1000,
		}
	}
	page := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "page",
		Description: "Which page to show",
		MinValue:    &minOne,
	}
	moderator := func(cmd *discordgo.ApplicationCommand) *discordgo.ApplicationCommand {
		cmd.DefaultMemberPermissions = &moderatorPermission
		cmd.DMPermission = &guildOnly
		return cmd
	}

	return []*commands.Command{
		{
			Definition: moderator(&discordgo.ApplicationCommand{
				Name:        "warn",
				Description: "Warn a member",
				Options:     []*discordgo.ApplicationCommandOption{member("Who to warn"), text("reason", "Why they are warned")},
			}),
			Handle: h.handleWarn,
		},
		{
			Definition: moderator(&discordgo.ApplicationCommand{
				Name:        "note",
				Description: "Add a moderator note to a member",
				Options:     []*discordgo.ApplicationCommandOption{member("Who the note is about"), text("text", "The note")},
			}),
			Handle: h.handleNote,
		},
		{
			Definition: moderator(&discordgo.ApplicationCommand{
				Name:        "warnings",
				Description: "List a member's warnings",
				Options:     []*discordgo.ApplicationCommandOption{member("Whose warnings to list"), page},
			}),
			Handle: h.listHandler(entities.CategoryWarnings),
		},
		{
			Definition: moderator(&discordgo.ApplicationCommand{
				Name:        "notes",
				Description: "List a member's moderator notes",
				Options:     []*discordgo.ApplicationCommandOption{member("Whose notes to list"), page},
			}),
			Handle: h.listHandler(entities.CategoryNotes),
		},
		{
			Definition: moderator(&discordgo.ApplicationCommand{
				Name:        "modlogs",
				Description: "List moderator actions taken on a member",
				Options:     []*discordgo.ApplicationCommandOption{member("Whose moderator log to list"), page},
			}),
			Handle: h.listHandler(entities.CategoryModlogs),
		},
		{
			Definition: moderator(&discordgo.ApplicationCommand{
				Name:        "delwarn",
				Description: "Remove one of a member's warnings",
				Options: []*discordgo.ApplicationCommandOption{
					member("Whose warning to remove"),
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "case",
						Description: "The warning's case number",
						Required:    true,
						MinValue:    &minOne,
					},
				},
			}),
			Handle: h.handleDelWarn,
		},
		{
			Definition: moderator(&discordgo.ApplicationCommand{
				Name:        "modhistory",
				Description: "Show a member's most recent cases of every kind",
				Options:     []*discordgo.ApplicationCommandOption{member("Whose history to show")},
			}),
			Handle: h.handleModHistory,
		},
	}
}

func (h *Handlers) handleWarn(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	return h.allocate(ctx, i, entities.CategoryWarnings, "reason")
}

func (h *Handlers) handleNote(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	return h.allocate(ctx, i, entities.CategoryNotes, "text")
}

func (h *Handlers) allocate(ctx context.Context, i *discordgo.InteractionCreate, category entities.CaseCategory, textOption string) (*idiscord.Response, error) {
	guildID, err := requireGuild(i)
	if err != nil {
		return nil, err
	}
	opts := commandOptions(i)
	subjectID, err := opts.requireUser("user")
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(opts.stringOpt(textOption))
	if reason == "" {
		return nil, types.Errorf(types.ErrInvalidAmount, "%s cannot be empty", textOption)
	}

	n, err := h.cases.AllocateCase(ctx, guildID, subjectID, category, reason, InvokerID(i))
	if err != nil {
		return nil, err
	}

	if category == entities.CategoryWarnings {
		return idiscord.NewResponse(fmt.Sprintf("⚠️ %s has been warned. Case #%d: %s", mention(subjectID), n, reason), nil), nil
	}
	return idiscord.NewEphemeralResponse(fmt.Sprintf("📝 Note #%d added for %s.", n, mention(subjectID)), nil), nil
}

// listHandler pages through one category of a member's cases
func (h *Handlers) listHandler(category entities.CaseCategory) commands.Handler {
	return func(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
		guildID, err := requireGuild(i)
		if err != nil {
			return nil, err
		}
		opts := commandOptions(i)
		subjectID, err := opts.requireUser("user")
		if err != nil {
			return nil, err
		}
		page, ok := opts.intOpt("page")
		if !ok {
			page = 1
		}

		result, err := h.cases.ListCases(ctx, guildID, subjectID, category, int(page), h.pageSize)
		if types.Is(err, types.ErrInvalidPage) && page == 1 {
			// a member with no cases has no pages at all
			return idiscord.NewEphemeralResponse(fmt.Sprintf("✅ %s has no %s.", mention(subjectID), category), nil), nil
		}
		if err != nil {
			return nil, err
		}
		return idiscord.NewEmbedResponse(casePageEmbed(subjectID, category, result), true), nil
	}
}

func (h *Handlers) handleDelWarn(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	guildID, err := requireGuild(i)
	if err != nil {
		return nil, err
	}
	opts := commandOptions(i)
	subjectID, err := opts.requireUser("user")
	if err != nil {
		return nil, err
	}
	n, err := opts.requireInt("case")
	if err != nil {
		return nil, err
	}

	warning, err := h.cases.GetCase(ctx, guildID, subjectID, entities.CategoryWarnings, int(n))
	if err != nil {
		return nil, err
	}
	if err := h.cases.DeleteCase(ctx, guildID, subjectID, entities.CategoryWarnings, warning.CaseNumber); err != nil {
		return nil, err
	}

	// best effort, the warning is already gone
	entry := fmt.Sprintf("Removed warning #%d: %s", warning.CaseNumber, warning.Reason)
	if _, err := h.cases.AllocateCase(ctx, guildID, subjectID, entities.CategoryModlogs, entry, InvokerID(i)); err != nil {
		h.logger.Warn("Error logging removal of warning %d for %s: %v", warning.CaseNumber, subjectID, err)
	}
	return idiscord.NewEphemeralResponse(fmt.Sprintf("🗑️ Warning #%d removed from %s (%s).", warning.CaseNumber, mention(subjectID), warning.Reason), nil), nil
}

func (h *Handlers) handleModHistory(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	guildID, err := requireGuild(i)
	if err != nil {
		return nil, err
	}
	subjectID, err := commandOptions(i).requireUser("user")
	if err != nil {
		return nil, err
	}

	entries, err := h.cases.History(ctx, guildID, subjectID, modHistoryLimit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return idiscord.NewEphemeralResponse(fmt.Sprintf("✅ %s has a clean record.", mention(subjectID)), nil), nil
	}
	return idiscord.NewEmbedResponse(historyEmbed(subjectID, entries), true), nil
}
