// Package bot implements the Slack Socket Mode bot that fronts airdancer.
//
// The implementation is split across several files:
//   - bot.go - core struct, event dispatch, reply plumbing
//   - router.go - command table and dispatch
//   - commands_user.go - commands any user can run
//   - commands_admin.go - admin-only commands
//   - interactions.go - Block Kit button handling
//   - resolve.go - Slack user resolution
//   - render.go - tables and Block Kit rendering
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/airdancer/internal/store"
)

const responseEphemeral = "ephemeral"

// Store is the persistence surface the bot needs.
type Store interface {
	CreateUser(ctx context.Context, slackUserID, username string, isAdmin bool) error
	GetUser(ctx context.Context, slackUserID string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	SetAdmin(ctx context.Context, slackUserID string, isAdmin bool) error
	SetBotherable(ctx context.Context, slackUserID string, botherable bool) error
	DeleteUser(ctx context.Context, slackUserID string) error
	RegisterSwitch(ctx context.Context, slackUserID, switchID string) error
	GetSwitchOwner(ctx context.Context, switchID string) (*store.Owner, error)
	GetSwitch(ctx context.Context, switchID string) (*store.Switch, error)
	ListSwitchesWithOwners(ctx context.Context) ([]store.SwitchWithOwner, error)
	CreateGroup(ctx context.Context, name string) error
	DeleteGroup(ctx context.Context, name string) error
	ListGroups(ctx context.Context) ([]string, error)
	AddUserToGroup(ctx context.Context, name, slackUserID string) error
	RemoveUserFromGroup(ctx context.Context, name, slackUserID string) error
	GroupMembers(ctx context.Context, name string) ([]store.User, error)
}

// SwitchController publishes power commands to switches.
type SwitchController interface {
	Bother(switchID string, d time.Duration) error
	SwitchOn(switchID string) error
	SwitchOff(switchID string) error
	SwitchToggle(switchID string) error
}

// SlackAPI is the subset of the Slack Web API the bot calls.
type SlackAPI interface {
	AuthTest() (*slack.AuthTestResponse, error)
	GetUserInfo(user string) (*slack.User, error)
	GetUsers(options ...slack.GetUsersOption) ([]slack.User, error)
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error)
	OpenConversation(params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// Config holds bot settings.
type Config struct {
	BotToken      string
	AppToken      string
	SlashCommand  string
	AdminUser     string
	DefaultBother time.Duration
	MaxBother     time.Duration
	Debug         bool
}

// Bot is the Slack Socket Mode bot. Users talk to it through the slash
// command, direct messages, and Block Kit buttons.
type Bot struct {
	api      SlackAPI
	socket   *socketmode.Client
	store    Store
	switches SwitchController
	logger   *zap.Logger

	slashCommand  string
	adminUser     string
	defaultBother time.Duration
	maxBother     time.Duration

	commands    map[string]command
	postWebhook func(url string, msg *slack.WebhookMessage) error

	botUserID string
	connected atomic.Bool
}

// New creates a Bot connected to the Slack Web and Socket Mode APIs.
func New(cfg Config, st Store, switches SwitchController, logger *zap.Logger) *Bot {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socket := socketmode.New(api, socketmode.OptionDebug(cfg.Debug))
	return newBot(cfg, api, socket, st, switches, logger)
}

func newBot(cfg Config, api SlackAPI, socket *socketmode.Client, st Store, switches SwitchController, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bot{
		api:           api,
		socket:        socket,
		store:         st,
		switches:      switches,
		logger:        logger.Named("bot"),
		slashCommand:  cfg.SlashCommand,
		adminUser:     cfg.AdminUser,
		defaultBother: cfg.DefaultBother,
		maxBother:     cfg.MaxBother,
		postWebhook:   slack.PostWebhook,
	}
	b.commands = b.routes()
	return b
}

// IsConnected reports whether the Socket Mode connection is up.
func (b *Bot) IsConnected() bool {
	return b.connected.Load()
}

// Run starts the Socket Mode event loop. Blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	auth, err := b.api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	b.botUserID = auth.UserID
	b.logger.Info("slack bot authenticated",
		zap.String("user_id", auth.UserID), zap.String("team", auth.Team))

	go b.handleEvents(ctx)

	err = b.socket.RunContext(ctx)
	b.connected.Store(false)
	SlackConnected.Set(0)
	return err
}

// handleEvents processes Socket Mode events until ctx is cancelled.
func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	b.logger.Debug("socket mode event", zap.String("type", string(evt.Type)))

	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("slack socket mode connecting")

	case socketmode.EventTypeConnected:
		b.connected.Store(true)
		SlackConnected.Set(1)
		b.logger.Info("slack socket mode connected")

	case socketmode.EventTypeConnectionError:
		b.connected.Store(false)
		SlackConnected.Set(0)
		b.logger.Error("slack socket mode connection error")

	case socketmode.EventTypeEventsAPI:
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request)
		b.handleEventsAPI(ctx, event)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		b.handleInteraction(ctx, evt, callback)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request)
		b.handleSlashCommand(ctx, cmd)
	}
}

// handleEventsAPI processes Events API events received via Socket Mode.
func (b *Bot) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	switch event.Type {
	case slackevents.CallbackEvent:
		switch ev := event.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			b.handleMessageEvent(ctx, ev)
		}
	}
}

// handleMessageEvent treats direct messages to the bot as commands.
func (b *Bot) handleMessageEvent(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore the bot's own messages and message subtypes (edits, deletes).
	if ev.User == b.botUserID || ev.User == "" || ev.BotID != "" || ev.SubType != "" {
		return
	}
	if ev.ChannelType != "im" {
		return
	}

	c, err := b.newCommandContext(ctx, ev.User, ev.Channel, "")
	if err != nil {
		b.logger.Error("failed to prepare command context",
			zap.String("user_id", ev.User), zap.Error(err))
		return
	}
	b.handleCommand(ctx, c, ev.Text)
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	c, err := b.newCommandContext(ctx, cmd.UserID, cmd.ChannelID, cmd.ResponseURL)
	if err != nil {
		b.logger.Error("failed to prepare command context",
			zap.String("user_id", cmd.UserID), zap.Error(err))
		return
	}
	b.handleCommand(ctx, c, cmd.Text)
}

// commandContext carries everything a command handler needs to reply.
type commandContext struct {
	userID      string
	user        *store.User
	channelID   string
	responseURL string
	// ephemeralUser, when set, routes replies through chat.postEphemeral
	// so only the clicking user sees them. Used for block actions.
	ephemeralUser string
	args          []string
}

// newCommandContext looks up the caller, adding them to the store on first
// contact, and bundles the reply routing details.
func (b *Bot) newCommandContext(ctx context.Context, userID, channelID, responseURL string) (*commandContext, error) {
	user, err := b.ensureUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &commandContext{
		userID:      userID,
		user:        user,
		channelID:   channelID,
		responseURL: responseURL,
	}, nil
}

// ensureUser returns the stored user, creating one from the Slack
// directory on first contact. The configured admin user is granted admin
// on creation, or promoted if their row predates the config.
func (b *Bot) ensureUser(ctx context.Context, userID string) (*store.User, error) {
	u, err := b.store.GetUser(ctx, userID)
	if err == nil {
		if !u.IsAdmin && b.isConfiguredAdmin(u.SlackUserID, u.Username) {
			if err := b.store.SetAdmin(ctx, u.SlackUserID, true); err != nil {
				return nil, err
			}
			u.IsAdmin = true
			b.logger.Info("bootstrapped admin user",
				zap.String("user_id", u.SlackUserID), zap.String("username", u.Username))
		}
		return u, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	su, err := b.api.GetUserInfo(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up slack user %s: %w", userID, err)
	}
	return b.addKnownUser(ctx, su.ID, su.Name)
}

// isConfiguredAdmin reports whether the bootstrap admin setting names this
// user, by Slack ID or by username.
func (b *Bot) isConfiguredAdmin(userID, username string) bool {
	if b.adminUser == "" {
		return false
	}
	return b.adminUser == userID || strings.EqualFold(b.adminUser, username)
}

func (b *Bot) addKnownUser(ctx context.Context, userID, username string) (*store.User, error) {
	isAdmin := b.isConfiguredAdmin(userID, username)
	if err := b.store.CreateUser(ctx, userID, username, isAdmin); err != nil {
		return nil, err
	}
	if isAdmin {
		b.logger.Info("bootstrapped admin user",
			zap.String("user_id", userID), zap.String("username", username))
	}
	return b.store.GetUser(ctx, userID)
}

// reply sends text back to the caller: ephemerally for button clicks,
// through the response URL for slash commands, otherwise into the channel
// the command came from.
func (b *Bot) reply(c *commandContext, text string) {
	if c.ephemeralUser != "" {
		_, err := b.api.PostEphemeral(c.channelID, c.ephemeralUser, slack.MsgOptionText(text, false))
		if err != nil {
			b.logger.Warn("failed to post ephemeral response",
				zap.String("channel", c.channelID), zap.Error(err))
		}
		return
	}
	if c.responseURL != "" {
		msg := &slack.WebhookMessage{Text: text, ResponseType: responseEphemeral}
		if err := b.postWebhook(c.responseURL, msg); err != nil {
			b.logger.Warn("failed to post command response", zap.Error(err))
		}
		return
	}
	if _, _, err := b.api.PostMessage(c.channelID, slack.MsgOptionText(text, false)); err != nil {
		b.logger.Warn("failed to post message",
			zap.String("channel", c.channelID), zap.Error(err))
	}
}

// replyBlocks is reply for Block Kit responses. The fallback text shows in
// notifications and clients that cannot render blocks.
func (b *Bot) replyBlocks(c *commandContext, fallback string, blocks []slack.Block) {
	if c.ephemeralUser != "" {
		_, err := b.api.PostEphemeral(c.channelID, c.ephemeralUser,
			slack.MsgOptionText(fallback, false),
			slack.MsgOptionBlocks(blocks...))
		if err != nil {
			b.logger.Warn("failed to post ephemeral response",
				zap.String("channel", c.channelID), zap.Error(err))
		}
		return
	}
	if c.responseURL != "" {
		msg := &slack.WebhookMessage{
			Text:         fallback,
			ResponseType: responseEphemeral,
			Blocks:       &slack.Blocks{BlockSet: blocks},
		}
		if err := b.postWebhook(c.responseURL, msg); err != nil {
			b.logger.Warn("failed to post command response", zap.Error(err))
		}
		return
	}
	_, _, err := b.api.PostMessage(c.channelID,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...))
	if err != nil {
		b.logger.Warn("failed to post message",
			zap.String("channel", c.channelID), zap.Error(err))
	}
}

// notifyBothered DMs the target that someone just set off their switch.
func (b *Bot) notifyBothered(targetID, byID string) {
	channel, _, _, err := b.api.OpenConversation(&slack.OpenConversationParameters{
		Users:    []string{targetID},
		ReturnIM: true,
	})
	if err != nil {
		b.logger.Warn("failed to open dm",
			zap.String("user_id", targetID), zap.Error(err))
		return
	}
	text := fmt.Sprintf("You have been bothered by <@%s>!", byID)
	if _, _, err := b.api.PostMessage(channel.ID, slack.MsgOptionText(text, false)); err != nil {
		b.logger.Warn("failed to send bother notification",
			zap.String("user_id", targetID), zap.Error(err))
	}
}

// Ensure the real Slack client satisfies the bot's API surface.
var _ SlackAPI = (*slack.Client)(nil)
