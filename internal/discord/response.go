package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/types"
)

const (
	// BusyMessage is shown when a guarded record stayed locked through the retry
	BusyMessage = "⏳ That is busy right now, please try again."
	// FailureMessage is shown for failures the user cannot fix
	FailureMessage = "💥 Something went wrong on our side. The moderators have been notified."
)

// ResponseEmoji maps user-facing error codes to appropriate emojis
var ResponseEmoji = map[types.ErrorCode]string{
	types.ErrInvalidAmount:     "❗",
	types.ErrInsufficientPurse: "👛",
	types.ErrInsufficientBank:  "🏦",
	types.ErrBankCapExceeded:   "🧱",
	types.ErrInvalidPage:       "📄",
	types.ErrNotOwner:          "🚫",
	types.ErrNotFound:          "🔍",
	types.ErrCooldownActive:    "⏱️",
	types.ErrRateLimited:       "🐢",
}

// Response represents a Discord interaction response
type Response struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	Ephemeral  bool
}

// NewResponse creates a new Response
func NewResponse(content string, components []discordgo.MessageComponent) *Response {
	return &Response{
		Content:    content,
		Components: components,
		Ephemeral:  false,
	}
}

// NewEphemeralResponse creates a new ephemeral Response (only visible to the user)
func NewEphemeralResponse(content string, components []discordgo.MessageComponent) *Response {
	return &Response{
		Content:    content,
		Components: components,
		Ephemeral:  true,
	}
}

// NewEmbedResponse creates a Response carrying a single embed
func NewEmbedResponse(embed *discordgo.MessageEmbed, ephemeral bool) *Response {
	return &Response{
		Embeds:    []*discordgo.MessageEmbed{embed},
		Ephemeral: ephemeral,
	}
}

// NewErrorResponse creates a new error Response. Validation errors show their
// message; a lock timeout asks the user to retry; anything else is a generic
// failure so internal details never reach the channel.
func NewErrorResponse(err error) *Response {
	switch {
	case types.IsValidation(err):
		var coded *types.Error
		types.As(err, &coded)
		emoji := ResponseEmoji[coded.Code]
		if emoji == "" {
			emoji = "❌"
		}
		return NewEphemeralResponse(fmt.Sprintf("%s %s", emoji, coded.Message), nil)
	case types.Is(err, types.ErrLockTimeout):
		return NewEphemeralResponse(BusyMessage, nil)
	default:
		return NewEphemeralResponse(FailureMessage, nil)
	}
}

// SendResponse sends a response to a Discord interaction
func SendResponse(s SessionHandler, i *discordgo.InteractionCreate, r *Response) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         r.Content,
			Embeds:          r.Embeds,
			Components:      r.Components,
			Flags:           getFlags(r.Ephemeral),
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	})
}

// SendErrorResponse sends an error response
func SendErrorResponse(s SessionHandler, i *discordgo.InteractionCreate, err error) error {
	return SendResponse(s, i, NewErrorResponse(err))
}

// Helper functions

func getFlags(ephemeral bool) discordgo.MessageFlags {
	if ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}
