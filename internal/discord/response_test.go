package discord

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	discordmock "github.com/fadedpez/cantina/internal/discord/mock"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ResponseTestSuite struct {
	suite.Suite
	session *discordmock.SessionHandler
}

func TestResponseSuite(t *testing.T) {
	suite.Run(t, new(ResponseTestSuite))
}

func (s *ResponseTestSuite) SetupTest() {
	s.session = &discordmock.SessionHandler{}
	s.session.Test(s.T())
}

func (s *ResponseTestSuite) TestNewResponse() {
	resp := NewResponse("test content", nil)

	s.NotNil(resp)
	s.Equal("test content", resp.Content)
	s.False(resp.Ephemeral)
}

func (s *ResponseTestSuite) TestNewEphemeralResponse() {
	resp := NewEphemeralResponse("test content", nil)

	s.Equal("test content", resp.Content)
	s.True(resp.Ephemeral)
}

func (s *ResponseTestSuite) TestNewErrorResponse() {
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "validation error",
			err:      types.NewError(types.ErrInsufficientPurse, "you only have 5 in your purse"),
			expected: "👛 you only have 5 in your purse",
		},
		{
			name:     "wrapped validation error",
			err:      fmt.Errorf("deposit: %w", types.NewError(types.ErrInvalidPage, "page 4 does not exist")),
			expected: "📄 page 4 does not exist",
		},
		{
			name:     "lock timeout",
			err:      types.NewError(types.ErrLockTimeout, "economy:42 is busy"),
			expected: BusyMessage,
		},
		{
			name:     "integrity error hides details",
			err:      types.NewError(types.ErrCorruptDocument, "economy/economy.json is not valid JSON"),
			expected: FailureMessage,
		},
		{
			name:     "plain error",
			err:      errors.New("disk full"),
			expected: FailureMessage,
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			resp := NewErrorResponse(tc.err)

			s.Equal(tc.expected, resp.Content)
			s.True(resp.Ephemeral)
		})
	}
}

func (s *ResponseTestSuite) TestSendResponse() {
	embed := &discordgo.MessageEmbed{Title: "Balance"}
	resp := NewEmbedResponse(embed, false)

	interaction := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:   "test_interaction",
			Type: discordgo.InteractionApplicationCommand,
		},
	}

	s.session.On("InteractionRespond", interaction.Interaction, mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Type == discordgo.InteractionResponseChannelMessageWithSource &&
			len(r.Data.Embeds) == 1 && r.Data.Embeds[0] == embed &&
			r.Data.Flags == 0
	})).Return(nil)

	s.NoError(SendResponse(s.session, interaction, resp))
	s.session.AssertExpectations(s.T())
}

func (s *ResponseTestSuite) TestSendErrorResponse() {
	interaction := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:   "test_interaction",
			Type: discordgo.InteractionApplicationCommand,
		},
	}

	s.session.On("InteractionRespond", interaction.Interaction, mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Data.Content == "🔍 no such listing" && r.Data.Flags == discordgo.MessageFlagsEphemeral
	})).Return(nil)

	s.NoError(SendErrorResponse(s.session, interaction, types.NewError(types.ErrNotFound, "no such listing")))
	s.session.AssertExpectations(s.T())
}
