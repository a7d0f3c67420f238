package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/airdancer/internal/store"
)

const switchUsage = "Usage: `switch list [--box|--verbose]`, `switch show <id>`, `switch on|off|toggle <id>`"

func (b *Bot) cmdSwitch(ctx context.Context, c *commandContext) error {
	if len(c.args) == 0 {
		b.reply(c, switchUsage)
		return nil
	}
	sub, rest := strings.ToLower(c.args[0]), c.args[1:]
	switch sub {
	case "list":
		return b.switchList(ctx, c, rest)
	case "show":
		if len(rest) != 1 {
			b.reply(c, switchUsage)
			return nil
		}
		return b.switchShow(ctx, c, cleanSwitchID(rest[0]))
	case "on", "off", "toggle":
		if len(rest) != 1 {
			b.reply(c, switchUsage)
			return nil
		}
		return b.switchPower(ctx, c, sub, cleanSwitchID(rest[0]))
	default:
		b.reply(c, switchUsage)
		return nil
	}
}

func (b *Bot) switchList(ctx context.Context, c *commandContext, args []string) error {
	fs := newFlagSet("switch list")
	box := fs.BoolP("box", "b", false, "boxed table")
	verbose := fs.BoolP("verbose", "v", false, "blocks with toggle buttons")
	if err := fs.Parse(args); err != nil {
		b.reply(c, switchUsage)
		return nil
	}

	rows, err := b.store.ListSwitchesWithOwners(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		b.reply(c, "No switches have been discovered.")
		return nil
	}

	if *verbose {
		b.replyBlocks(c, "Switches", switchesBlocks(rows))
		return nil
	}
	b.reply(c, renderSwitchesTable(rows, *box))
	return nil
}

func (b *Bot) switchShow(ctx context.Context, c *commandContext, switchID string) error {
	sw, err := b.store.GetSwitch(ctx, switchID)
	if errors.Is(err, store.ErrSwitchNotFound) {
		b.reply(c, fmt.Sprintf("Switch `%s` not found.", switchID))
		return nil
	}
	if err != nil {
		return err
	}

	owner, err := b.store.GetSwitchOwner(ctx, switchID)
	if err != nil && !errors.Is(err, store.ErrUserNotFound) {
		return err
	}
	b.reply(c, switchDetail(sw, owner))
	return nil
}

func (b *Bot) switchPower(ctx context.Context, c *commandContext, action, switchID string) error {
	if _, err := b.store.GetSwitch(ctx, switchID); errors.Is(err, store.ErrSwitchNotFound) {
		b.reply(c, fmt.Sprintf("Switch `%s` not found.", switchID))
		return nil
	} else if err != nil {
		return err
	}

	var err error
	switch action {
	case "on":
		err = b.switches.SwitchOn(switchID)
	case "off":
		err = b.switches.SwitchOff(switchID)
	case "toggle":
		err = b.switches.SwitchToggle(switchID)
	}
	if err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", action, switchID, err)
	}
	b.reply(c, fmt.Sprintf("Sent `%s` to `%s`.", action, switchID))
	return nil
}

const userUsage = "Usage: `user list [--short|--box]`, `user show <user>`, `user set <user> [--admin|--no-admin] [--bother|--no-bother]`, `user register <user> <switch_id>`"

func (b *Bot) cmdUser(ctx context.Context, c *commandContext) error {
	if len(c.args) == 0 {
		b.reply(c, userUsage)
		return nil
	}
	sub, rest := strings.ToLower(c.args[0]), c.args[1:]
	switch sub {
	case "list":
		return b.userList(ctx, c, rest)
	case "show":
		if len(rest) != 1 {
			b.reply(c, userUsage)
			return nil
		}
		return b.userShow(ctx, c, rest[0])
	case "set":
		if len(rest) < 1 {
			b.reply(c, userUsage)
			return nil
		}
		return b.userSet(ctx, c, rest[0], rest[1:])
	case "register":
		if len(rest) != 2 {
			b.reply(c, userUsage)
			return nil
		}
		return b.userRegister(ctx, c, rest[0], cleanSwitchID(rest[1]))
	default:
		b.reply(c, userUsage)
		return nil
	}
}

func (b *Bot) userList(ctx context.Context, c *commandContext, args []string) error {
	fs := newFlagSet("user list")
	short := fs.BoolP("short", "s", false, "plain table")
	box := fs.BoolP("box", "b", false, "boxed table")
	if err := fs.Parse(args); err != nil {
		b.reply(c, userUsage)
		return nil
	}

	users, err := b.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		b.reply(c, "No users yet.")
		return nil
	}

	switch {
	case *short:
		b.reply(c, renderAllUsersTable(users, false))
	case *box:
		b.reply(c, renderAllUsersTable(users, true))
	default:
		b.replyBlocks(c, "All users", allUsersBlocks(users))
	}
	return nil
}

func (b *Bot) userShow(ctx context.Context, c *commandContext, token string) error {
	target, err := b.resolveUser(ctx, token)
	if errors.Is(err, errUnknownUser) {
		b.reply(c, fmt.Sprintf("Could not find user `%s`.", token))
		return nil
	}
	if err != nil {
		return err
	}

	name := target.Username
	if target.IsAdmin {
		name += " :crown:"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s* (<@%s>)\n", name, target.SlackUserID)
	fmt.Fprintf(&sb, "Admin: %s\n", yesNo(target.IsAdmin))
	fmt.Fprintf(&sb, "Botherable: %s\n", yesNo(target.Botherable))
	if target.HasSwitch() {
		if sw, serr := b.store.GetSwitch(ctx, target.SwitchID); serr == nil {
			fmt.Fprintf(&sb, "Switch: `%s` (%s, power %s)\n",
				target.SwitchID, sw.Status, formatPower(sw.PowerState))
		} else {
			fmt.Fprintf(&sb, "Switch: `%s` (never seen on the broker)\n", target.SwitchID)
		}
	} else {
		sb.WriteString("Switch: none\n")
	}
	fmt.Fprintf(&sb, "First seen: %s", formatLastSeen(target.CreatedAt))
	b.reply(c, sb.String())
	return nil
}

func (b *Bot) userSet(ctx context.Context, c *commandContext, token string, args []string) error {
	fs := newFlagSet("user set")
	admin := fs.Bool("admin", false, "grant admin")
	noAdmin := fs.Bool("no-admin", false, "revoke admin")
	bother := fs.Bool("bother", false, "allow bothers")
	noBother := fs.Bool("no-bother", false, "refuse bothers")
	if err := fs.Parse(args); err != nil {
		b.reply(c, userUsage)
		return nil
	}
	if (*admin && *noAdmin) || (*bother && *noBother) {
		b.reply(c, "Those flags contradict each other.")
		return nil
	}
	if !*admin && !*noAdmin && !*bother && !*noBother {
		b.reply(c, "No changes specified. Use `--admin|--no-admin` or `--bother|--no-bother`.")
		return nil
	}

	target, err := b.resolveUser(ctx, token)
	if errors.Is(err, errUnknownUser) {
		b.reply(c, fmt.Sprintf("Could not find user `%s`.", token))
		return nil
	}
	if err != nil {
		return err
	}

	var changes []string
	if *admin || *noAdmin {
		if err := b.store.SetAdmin(ctx, target.SlackUserID, *admin); err != nil {
			return err
		}
		changes = append(changes, "admin="+yesNo(*admin))
	}
	if *bother || *noBother {
		if err := b.store.SetBotherable(ctx, target.SlackUserID, *bother); err != nil {
			return err
		}
		changes = append(changes, "botherable="+yesNo(*bother))
	}
	b.reply(c, fmt.Sprintf("Updated <@%s>: %s.", target.SlackUserID, strings.Join(changes, ", ")))
	return nil
}

func (b *Bot) userRegister(ctx context.Context, c *commandContext, token, switchID string) error {
	if switchID == "" {
		b.reply(c, userUsage)
		return nil
	}
	target, err := b.resolveUser(ctx, token)
	if errors.Is(err, errUnknownUser) {
		b.reply(c, fmt.Sprintf("Could not find user `%s`.", token))
		return nil
	}
	if err != nil {
		return err
	}

	err = b.store.RegisterSwitch(ctx, target.SlackUserID, switchID)
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
	b.reply(c, fmt.Sprintf("Registered `%s` to <@%s>.", switchID, target.SlackUserID))
	return nil
}

const groupUsage = "Usage: `group list`, `group show <name>`, `group create|destroy <name>`, `group add|remove <name> <user>...`"

func (b *Bot) cmdGroup(ctx context.Context, c *commandContext) error {
	if len(c.args) == 0 {
		b.reply(c, groupUsage)
		return nil
	}
	sub, rest := strings.ToLower(c.args[0]), c.args[1:]
	switch sub {
	case "list":
		return b.cmdGroups(ctx, c)
	case "show":
		if len(rest) != 1 {
			b.reply(c, groupUsage)
			return nil
		}
		return b.groupShow(ctx, c, rest[0])
	case "create":
		if len(rest) != 1 {
			b.reply(c, groupUsage)
			return nil
		}
		return b.groupCreate(ctx, c, rest[0])
	case "destroy":
		if len(rest) != 1 {
			b.reply(c, groupUsage)
			return nil
		}
		return b.groupDestroy(ctx, c, rest[0])
	case "add", "remove":
		if len(rest) < 2 {
			b.reply(c, groupUsage)
			return nil
		}
		return b.groupMembership(ctx, c, sub, rest[0], rest[1:])
	default:
		b.reply(c, groupUsage)
		return nil
	}
}

func (b *Bot) groupShow(ctx context.Context, c *commandContext, name string) error {
	stored, members, ok, err := b.matchGroup(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		b.reply(c, fmt.Sprintf("No group called `%s`.", name))
		return nil
	}
	reserved := strings.EqualFold(stored, store.ReservedGroup)
	if len(members) == 0 {
		if reserved {
			b.reply(c, "No users have registered switches.")
		} else {
			b.reply(c, fmt.Sprintf("`%s` has no members.", stored))
		}
		return nil
	}

	var sb strings.Builder
	if reserved {
		fmt.Fprintf(&sb, "*`%s`* is everyone with a registered switch (%d users)\n", stored, len(members))
	} else {
		fmt.Fprintf(&sb, "*`%s`* (%d members)\n", stored, len(members))
	}
	for _, m := range members {
		marker := "no switch"
		if m.HasSwitch() {
			marker = "`" + m.SwitchID + "`"
		}
		fmt.Fprintf(&sb, "<@%s> (%s)\n", m.SlackUserID, marker)
	}
	b.reply(c, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (b *Bot) groupCreate(ctx context.Context, c *commandContext, name string) error {
	// Group names are matched case-insensitively everywhere else, so they
	// are stored lowercase.
	name = strings.ToLower(name)
	err := b.store.CreateGroup(ctx, name)
	switch {
	case errors.Is(err, store.ErrReservedGroup):
		b.reply(c, fmt.Sprintf("`%s` is reserved; it always means everyone with a switch.", store.ReservedGroup))
	case errors.Is(err, store.ErrGroupExists):
		b.reply(c, fmt.Sprintf("`%s` already exists.", name))
	case err != nil:
		return err
	default:
		b.reply(c, fmt.Sprintf("Created group `%s`.", name))
	}
	return nil
}

func (b *Bot) groupDestroy(ctx context.Context, c *commandContext, name string) error {
	stored := b.storedGroupName(ctx, name)
	err := b.store.DeleteGroup(ctx, stored)
	switch {
	case errors.Is(err, store.ErrReservedGroup):
		b.reply(c, fmt.Sprintf("`%s` is reserved and can't be destroyed.", store.ReservedGroup))
	case errors.Is(err, store.ErrGroupNotFound):
		b.reply(c, fmt.Sprintf("No group called `%s`.", name))
	case err != nil:
		return err
	default:
		b.reply(c, fmt.Sprintf("Destroyed group `%s`.", stored))
	}
	return nil
}

// groupMembership adds or removes a batch of users. Per-user failures
// become notes under the summary line instead of aborting the batch.
func (b *Bot) groupMembership(ctx context.Context, c *commandContext, action, name string, tokens []string) error {
	if strings.EqualFold(name, store.ReservedGroup) {
		b.reply(c, fmt.Sprintf("`%s` is reserved; membership is automatic for everyone with a switch.", store.ReservedGroup))
		return nil
	}
	stored := b.storedGroupName(ctx, name)

	applied := 0
	var notes []string
	for _, token := range tokens {
		target, err := b.resolveUser(ctx, token)
		if errors.Is(err, errUnknownUser) {
			notes = append(notes, fmt.Sprintf("Could not find user `%s`.", token))
			continue
		}
		if err != nil {
			return err
		}

		if action == "add" {
			err = b.store.AddUserToGroup(ctx, stored, target.SlackUserID)
		} else {
			err = b.store.RemoveUserFromGroup(ctx, stored, target.SlackUserID)
		}
		switch {
		case errors.Is(err, store.ErrGroupNotFound):
			b.reply(c, fmt.Sprintf("No group called `%s`.", name))
			return nil
		case errors.Is(err, store.ErrNotGroupMember):
			notes = append(notes, fmt.Sprintf("<@%s> isn't in `%s`.", target.SlackUserID, stored))
		case err != nil:
			return err
		default:
			applied++
		}
	}

	verb, prep := "Added", "to"
	if action == "remove" {
		verb, prep = "Removed", "from"
	}
	reply := fmt.Sprintf("%s %d of %d users %s `%s`.", verb, applied, len(tokens), prep, stored)
	if len(notes) > 0 {
		reply += "\n" + strings.Join(notes, "\n")
	}
	b.reply(c, reply)
	return nil
}

// storedGroupName maps user input to the stored group name when one
// matches case-insensitively, so lookups hit the exact row.
func (b *Bot) storedGroupName(ctx context.Context, name string) string {
	groups, err := b.store.ListGroups(ctx)
	if err != nil {
		return name
	}
	for _, g := range groups {
		if strings.EqualFold(g, name) {
			return g
		}
	}
	return name
}
