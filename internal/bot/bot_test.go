package bot

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/commands"
	"github.com/fadedpez/cantina/internal/config"
	"github.com/fadedpez/cantina/internal/discord"
	discordmock "github.com/fadedpez/cantina/internal/discord/mock"
	"github.com/fadedpez/cantina/internal/logging"
	"github.com/fadedpez/cantina/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type BotTestSuite struct {
	suite.Suite
	session  *discordmock.SessionHandler
	registry *commands.Registry
	config   *config.Config
	logs     *bytes.Buffer
	calls    atomic.Int32
	result   func() (*discord.Response, error)
	bot      *Bot
}

func TestBotSuite(t *testing.T) {
	suite.Run(t, new(BotTestSuite))
}

func (s *BotTestSuite) SetupTest() {
	s.session = &discordmock.SessionHandler{}
	s.session.Test(s.T())
	s.logs = &bytes.Buffer{}
	s.calls.Store(0)
	s.result = func() (*discord.Response, error) {
		return discord.NewResponse("pong", nil), nil
	}

	s.registry = commands.NewRegistry()
	s.Require().NoError(s.registry.Register(&commands.Command{
		Definition: &discordgo.ApplicationCommand{Name: "ping", Description: "ping"},
		Handle: func(ctx context.Context, i *discordgo.InteractionCreate) (*discord.Response, error) {
			s.calls.Add(1)
			return s.result()
		},
	}))

	s.config = &config.Config{
		AppID:       "app",
		GuildID:     "100",
		Environment: "development",
		Tunables:    config.DefaultTunables(),
	}
	s.bot = New(s.config, s.session, s.registry, logging.NewLoggerTo(s.logs, logging.DEBUG))
}

func command(id, userID, name string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      id,
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: "100",
			Member:  &discordgo.Member{User: &discordgo.User{ID: userID}},
			Data:    discordgo.ApplicationCommandInteractionData{Name: name},
		},
	}
}

func content(expected string) interface{} {
	return mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Data != nil && r.Data.Content == expected
	})
}

func (s *BotTestSuite) TestDispatch() {
	i := command("1", "42", "ping")
	s.session.On("InteractionRespond", i.Interaction, content("pong")).Return(nil).Once()

	s.bot.handleInteraction(context.Background(), i)

	s.Equal(int32(1), s.calls.Load())
	s.session.AssertExpectations(s.T())
}

func (s *BotTestSuite) TestDuplicateInteractionHandledOnce() {
	i := command("1", "42", "ping")
	s.session.On("InteractionRespond", i.Interaction, mock.Anything).Return(nil).Once()

	s.bot.handleInteraction(context.Background(), i)
	s.bot.handleInteraction(context.Background(), i)

	s.Equal(int32(1), s.calls.Load())
	s.session.AssertNumberOfCalls(s.T(), "InteractionRespond", 1)
}

func (s *BotTestSuite) TestRateLimit() {
	s.config.Tunables.Commands.PerMinute = 1
	s.config.Tunables.Commands.Burst = 2
	s.session.On("InteractionRespond", mock.Anything, content("pong")).Return(nil).Times(3)
	s.session.On("InteractionRespond", mock.Anything, content("🐢 slow down, try again in a few seconds")).Return(nil).Once()

	s.bot.handleInteraction(context.Background(), command("1", "42", "ping"))
	s.bot.handleInteraction(context.Background(), command("2", "42", "ping"))
	s.bot.handleInteraction(context.Background(), command("3", "42", "ping"))
	s.Equal(int32(2), s.calls.Load(), "third command is over the burst")

	s.bot.handleInteraction(context.Background(), command("4", "43", "ping"))
	s.Equal(int32(3), s.calls.Load(), "other users have their own budget")
	s.session.AssertExpectations(s.T())
}

func (s *BotTestSuite) TestValidationErrorIsShownNotLogged() {
	s.result = func() (*discord.Response, error) {
		return nil, types.NewError(types.ErrInsufficientPurse, "you only have 5 in your purse")
	}
	i := command("1", "42", "ping")
	s.session.On("InteractionRespond", i.Interaction, content("👛 you only have 5 in your purse")).Return(nil)

	s.bot.handleInteraction(context.Background(), i)

	s.session.AssertExpectations(s.T())
	s.NotContains(s.logs.String(), "ERROR")
}

func (s *BotTestSuite) TestIntegrityErrorIsLogged() {
	s.result = func() (*discord.Response, error) {
		return nil, types.NewError(types.ErrCorruptDocument, "economy/economy.json is not valid JSON")
	}
	i := command("1", "42", "ping")
	s.session.On("InteractionRespond", i.Interaction, content(discord.FailureMessage)).Return(nil)

	s.bot.handleInteraction(context.Background(), i)

	s.session.AssertExpectations(s.T())
	s.Contains(s.logs.String(), "Code: CORRUPT_DOCUMENT")
	s.Contains(s.logs.String(), "command: ping")
}

func (s *BotTestSuite) TestLockTimeoutAsksToRetry() {
	s.result = func() (*discord.Response, error) {
		return nil, types.NewError(types.ErrLockTimeout, "economy:42 is busy")
	}
	i := command("1", "42", "ping")
	s.session.On("InteractionRespond", i.Interaction, content(discord.BusyMessage)).Return(nil)

	s.bot.handleInteraction(context.Background(), i)

	s.session.AssertExpectations(s.T())
	s.Contains(s.logs.String(), "timed out waiting for a lock")
}

func (s *BotTestSuite) TestUnknownCommand() {
	i := command("1", "42", "blackjack")
	s.session.On("InteractionRespond", i.Interaction, content("🔍 Command blackjack not found")).Return(nil)

	s.bot.handleInteraction(context.Background(), i)

	s.session.AssertExpectations(s.T())
}

func (s *BotTestSuite) TestComponentInteractionsIgnored() {
	i := command("1", "42", "ping")
	i.Type = discordgo.InteractionMessageComponent

	s.bot.handleInteraction(context.Background(), i)

	s.Equal(int32(0), s.calls.Load())
	s.session.AssertNotCalled(s.T(), "InteractionRespond", mock.Anything, mock.Anything)
}

func (s *BotTestSuite) TestStartAndShutdown() {
	s.session.On("AddHandler", mock.Anything).Return(func() {})
	s.session.On("Open").Return(nil)
	s.session.On("ApplicationCommandCreate", "app", "100", mock.MatchedBy(func(c *discordgo.ApplicationCommand) bool {
		return c.Name == "ping"
	})).Return(&discordgo.ApplicationCommand{ID: "cmd1", Name: "ping"}, nil)
	s.session.On("ApplicationCommandDelete", "app", "100", "cmd1").Return(nil)
	s.session.On("Close").Return(nil)

	s.Require().NoError(s.bot.Start())
	s.session.AssertNumberOfCalls(s.T(), "AddHandler", 2)

	s.bot.Shutdown()
	s.session.AssertExpectations(s.T())
	s.Error(s.bot.ctx.Err(), "in-flight work is cancelled after shutdown")
}

func (s *BotTestSuite) TestShutdownKeepsCommandsInProduction() {
	s.config.Environment = "production"
	s.session.On("AddHandler", mock.Anything).Return(func() {})
	s.session.On("Open").Return(nil)
	s.session.On("ApplicationCommandCreate", "app", "100", mock.Anything).Return(&discordgo.ApplicationCommand{ID: "cmd1", Name: "ping"}, nil)
	s.session.On("Close").Return(nil)

	s.Require().NoError(s.bot.Start())
	s.bot.Shutdown()

	s.session.AssertNotCalled(s.T(), "ApplicationCommandDelete", mock.Anything, mock.Anything, mock.Anything)
}
