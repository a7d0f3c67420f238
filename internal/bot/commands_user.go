package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/airdancer/internal/store"
)

// newFlagSet builds a pflag set that reports errors instead of exiting or
// printing, so parse failures turn into usage replies.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

const registerUsage = "Usage: `register <switch_id>`"

func (b *Bot) cmdRegister(ctx context.Context, c *commandContext) error {
	if len(c.args) != 1 {
		b.reply(c, registerUsage)
		return nil
	}
	switchID := cleanSwitchID(c.args[0])
	if switchID == "" {
		b.reply(c, registerUsage)
		return nil
	}

	err := b.store.RegisterSwitch(ctx, c.userID, switchID)
	if errors.Is(err, store.ErrSwitchTaken) {
		reply := fmt.Sprintf("`%s` is already registered to someone else.", switchID)
		if owner, oerr := b.store.GetSwitchOwner(ctx, switchID); oerr == nil {
			reply = fmt.Sprintf("`%s` is already registered to <@%s>.", switchID, owner.SlackUserID)
		}
		b.reply(c, reply)
		return nil
	}
	if err != nil {
		return err
	}

	sw, err := b.store.GetSwitch(ctx, switchID)
	switch {
	case errors.Is(err, store.ErrSwitchNotFound):
		b.reply(c, fmt.Sprintf("Registered `%s`. I haven't seen that switch announce itself yet; it will show up once it talks to the broker.", switchID))
	case err != nil:
		return err
	default:
		b.reply(c, fmt.Sprintf("Registered `%s` (%s, power %s).", switchID, sw.Status, formatPower(sw.PowerState)))
	}
	return nil
}

// cmdUnregister removes the caller, or with an argument and admin rights,
// someone else.
func (b *Bot) cmdUnregister(ctx context.Context, c *commandContext) error {
	if len(c.args) == 0 {
		if !c.user.HasSwitch() {
			b.reply(c, "You don't have a switch registered.")
			return nil
		}
		if err := b.store.DeleteUser(ctx, c.userID); err != nil {
			return err
		}
		b.reply(c, "You're unregistered. Your switch claim and group memberships are gone.")
		return nil
	}

	if !c.user.IsAdmin {
		b.reply(c, "Unregistering someone else is admin only. Plain `unregister` removes you.")
		return nil
	}

	target, err := b.resolveUser(ctx, c.args[0])
	if errors.Is(err, errUnknownUser) {
		b.reply(c, fmt.Sprintf("Could not find user `%s`.", c.args[0]))
		return nil
	}
	if err != nil {
		return err
	}
	if err := b.store.DeleteUser(ctx, target.SlackUserID); err != nil {
		return err
	}
	b.reply(c, fmt.Sprintf("Removed <@%s> and their switch registration.", target.SlackUserID))
	return nil
}

const botherUsage = "Usage: `bother <user|group> [--duration N]` (N in seconds)"

func (b *Bot) cmdBother(ctx context.Context, c *commandContext) error {
	fs := newFlagSet("bother")
	seconds := fs.IntP("duration", "d", 0, "bother duration in seconds")
	if err := fs.Parse(c.args); err != nil {
		b.reply(c, botherUsage)
		return nil
	}
	rest := fs.Args()
	if len(rest) != 1 {
		b.reply(c, botherUsage)
		return nil
	}

	d := b.defaultBother
	if fs.Changed("duration") {
		if *seconds <= 0 {
			b.reply(c, "Duration must be positive.")
			return nil
		}
		d = time.Duration(*seconds) * time.Second
	}
	if d > b.maxBother {
		b.reply(c, fmt.Sprintf("That's too long. The limit is %s.", b.maxBother))
		return nil
	}

	target := rest[0]
	groupName, members, isGroup, err := b.matchGroup(ctx, target)
	if err != nil {
		return err
	}
	if isGroup {
		return b.botherGroup(ctx, c, groupName, members, d)
	}
	return b.botherUser(ctx, c, target, d)
}

// matchGroup reports whether name refers to a group, matching
// case-insensitively against the stored names.
func (b *Bot) matchGroup(ctx context.Context, name string) (string, []store.User, bool, error) {
	groups, err := b.store.ListGroups(ctx)
	if err != nil {
		return "", nil, false, err
	}
	for _, g := range groups {
		if strings.EqualFold(g, name) {
			members, err := b.store.GroupMembers(ctx, g)
			if err != nil {
				return "", nil, false, err
			}
			return g, members, true, nil
		}
	}
	return "", nil, false, nil
}

func (b *Bot) botherGroup(ctx context.Context, c *commandContext, name string, members []store.User, d time.Duration) error {
	if len(members) == 0 {
		if strings.EqualFold(name, store.ReservedGroup) {
			b.reply(c, "No users have registered switches.")
		} else {
			b.reply(c, fmt.Sprintf("`%s` has no members.", name))
		}
		return nil
	}

	bothered := 0
	for _, m := range members {
		if !m.Botherable || !m.HasSwitch() {
			BothersTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if err := b.switches.Bother(m.SwitchID, d); err != nil {
			BothersTotal.WithLabelValues("error").Inc()
			b.logger.Warn("bother failed",
				zap.String("switch_id", m.SwitchID),
				zap.String("user_id", m.SlackUserID),
				zap.Error(err))
			continue
		}
		BothersTotal.WithLabelValues("ok").Inc()
		if m.SlackUserID != c.userID {
			b.notifyBothered(m.SlackUserID, c.userID)
		}
		bothered++
	}
	b.reply(c, fmt.Sprintf("Bothered %d members of group `%s` for %s.", bothered, name, d))
	return nil
}

func (b *Bot) botherUser(ctx context.Context, c *commandContext, token string, d time.Duration) error {
	target, err := b.resolveUser(ctx, token)
	if errors.Is(err, errUnknownUser) {
		b.reply(c, fmt.Sprintf("Could not find user `%s`.", token))
		return nil
	}
	if err != nil {
		return err
	}

	if !target.Botherable {
		BothersTotal.WithLabelValues("refused").Inc()
		b.reply(c, fmt.Sprintf("<@%s> has asked not to be bothered.", target.SlackUserID))
		return nil
	}
	if !target.HasSwitch() {
		b.reply(c, fmt.Sprintf("<@%s> doesn't have a switch registered.", target.SlackUserID))
		return nil
	}

	if err := b.switches.Bother(target.SwitchID, d); err != nil {
		BothersTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to bother %s: %w", target.SlackUserID, err)
	}
	BothersTotal.WithLabelValues("ok").Inc()

	if target.SlackUserID != c.userID {
		b.notifyBothered(target.SlackUserID, c.userID)
	}

	reply := fmt.Sprintf("Bothering <@%s> for %s!", target.SlackUserID, d)
	if sw, serr := b.store.GetSwitch(ctx, target.SwitchID); serr == nil && sw.Status == store.StatusOffline {
		reply += " Their switch looks offline though, so it may not land."
	}
	b.reply(c, reply)
	return nil
}

func (b *Bot) cmdUsers(ctx context.Context, c *commandContext) error {
	fs := newFlagSet("users")
	short := fs.BoolP("short", "s", false, "plain table")
	box := fs.BoolP("box", "b", false, "boxed table")
	if err := fs.Parse(c.args); err != nil {
		b.reply(c, "Usage: `users [--short|--box]`")
		return nil
	}

	rows, err := b.store.ListSwitchesWithOwners(ctx)
	if err != nil {
		return err
	}
	var owned []store.SwitchWithOwner
	for _, row := range rows {
		if row.Owner != nil {
			owned = append(owned, row)
		}
	}
	if len(owned) == 0 {
		b.reply(c, "No users with registered switches found.")
		return nil
	}

	switch {
	case *short:
		b.reply(c, renderUsersTable(owned, false))
	case *box:
		b.reply(c, renderUsersTable(owned, true))
	default:
		b.replyBlocks(c, "Registered users", usersBlocks(owned))
	}
	return nil
}

func (b *Bot) cmdGroups(ctx context.Context, c *commandContext) error {
	groups, err := b.store.ListGroups(ctx)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("*Bother groups*\n")
	for _, g := range groups {
		members, err := b.store.GroupMembers(ctx, g)
		if err != nil {
			return err
		}
		fmt.Fprintf(&sb, "• `%s` (%d members)\n", g, len(members))
	}
	b.reply(c, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (b *Bot) cmdSet(ctx context.Context, c *commandContext) error {
	fs := newFlagSet("set")
	bother := fs.Bool("bother", false, "allow bothers")
	noBother := fs.Bool("no-bother", false, "refuse bothers")
	if err := fs.Parse(c.args); err != nil {
		b.reply(c, "Usage: `set --bother|--no-bother`")
		return nil
	}

	switch {
	case *bother && *noBother:
		b.reply(c, "Pick one of `--bother` or `--no-bother`.")
	case *bother:
		if err := b.store.SetBotherable(ctx, c.userID, true); err != nil {
			return err
		}
		b.reply(c, "Got it, you're botherable again.")
	case *noBother:
		if err := b.store.SetBotherable(ctx, c.userID, false); err != nil {
			return err
		}
		b.reply(c, "Got it, you won't be bothered.")
	default:
		state := "will"
		if !c.user.Botherable {
			state = "won't"
		}
		b.reply(c, fmt.Sprintf("You %s be bothered right now. Use `set --bother` or `set --no-bother` to change that.", state))
	}
	return nil
}
