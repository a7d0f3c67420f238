package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// handleInteraction processes interactive component callbacks.
func (b *Bot) handleInteraction(ctx context.Context, evt socketmode.Event, callback slack.InteractionCallback) {
	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		b.socket.Ack(*evt.Request)
		b.handleBlockActions(ctx, callback)
	default:
		b.socket.Ack(*evt.Request)
		b.logger.Debug("unhandled interaction type", zap.String("type", string(callback.Type)))
	}
}

func (b *Bot) handleBlockActions(ctx context.Context, callback slack.InteractionCallback) {
	c, err := b.newCommandContext(ctx, callback.User.ID, callback.Channel.ID, "")
	if err != nil {
		b.logger.Error("failed to prepare command context",
			zap.String("user_id", callback.User.ID), zap.Error(err))
		return
	}
	c.ephemeralUser = callback.User.ID

	for _, action := range callback.ActionCallback.BlockActions {
		switch {
		case action.ActionID == actionBotherUser:
			b.actionBother(ctx, c, action.Value)
		case strings.HasPrefix(action.ActionID, actionTogglePrefix):
			switchID := action.Value
			if switchID == "" {
				switchID = strings.TrimPrefix(action.ActionID, actionTogglePrefix)
			}
			b.actionToggle(ctx, c, switchID)
		case action.ActionID == actionOffline:
			// Status badge, not a control.
		default:
			b.logger.Debug("unhandled block action",
				zap.String("action_id", action.ActionID))
		}
	}
}

// actionBother handles the Bother button on the users listing. The button
// value is the target's Slack user ID.
func (b *Bot) actionBother(ctx context.Context, c *commandContext, targetID string) {
	if err := b.botherUser(ctx, c, targetID, b.defaultBother); err != nil {
		b.logger.Error("bother button failed",
			zap.String("user_id", c.userID),
			zap.String("target", targetID),
			zap.Error(err))
		b.reply(c, "Something went wrong with that bother.")
	}
}

// actionToggle handles the Toggle button on the switch listing.
func (b *Bot) actionToggle(ctx context.Context, c *commandContext, switchID string) {
	if !c.user.IsAdmin {
		b.reply(c, "Toggling switches is admin only.")
		return
	}
	if err := b.switchPower(ctx, c, "toggle", switchID); err != nil {
		b.logger.Error("toggle button failed",
			zap.String("user_id", c.userID),
			zap.String("switch_id", switchID),
			zap.Error(err))
		b.reply(c, fmt.Sprintf("Something went wrong toggling `%s`.", switchID))
	}
}
