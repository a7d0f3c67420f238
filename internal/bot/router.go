package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

type commandHandler func(ctx context.Context, c *commandContext) error

type command struct {
	handler   commandHandler
	adminOnly bool
}

// routes builds the command table. Handlers reply to the user themselves
// and return an error only for unexpected failures.
func (b *Bot) routes() map[string]command {
	return map[string]command{
		"help":       {handler: b.cmdHelp},
		"register":   {handler: b.cmdRegister},
		"unregister": {handler: b.cmdUnregister},
		"bother":     {handler: b.cmdBother},
		"users":      {handler: b.cmdUsers},
		"groups":     {handler: b.cmdGroups},
		"set":        {handler: b.cmdSet},
		"switch":     {handler: b.cmdSwitch, adminOnly: true},
		"user":       {handler: b.cmdUser, adminOnly: true},
		"group":      {handler: b.cmdGroup, adminOnly: true},
	}
}

// handleCommand parses and dispatches a command line from any surface
// (slash command, DM, button).
func (b *Bot) handleCommand(ctx context.Context, c *commandContext, text string) {
	args := strings.Fields(text)
	name := "help"
	if len(args) > 0 {
		name = strings.ToLower(args[0])
	}

	cmd, ok := b.commands[name]
	if !ok {
		CommandsTotal.WithLabelValues("unknown", "unknown").Inc()
		b.reply(c, fmt.Sprintf("Unknown command: `%s`. Available: %s.",
			name, strings.Join(b.commandNames(c.user.IsAdmin), ", ")))
		return
	}
	if cmd.adminOnly && !c.user.IsAdmin {
		CommandsTotal.WithLabelValues(name, "denied").Inc()
		b.reply(c, "Only administrators can use this command.")
		return
	}

	c.args = args[1:]
	if err := cmd.handler(ctx, c); err != nil {
		CommandsTotal.WithLabelValues(name, "error").Inc()
		b.logger.Error("command failed",
			zap.String("command", name),
			zap.String("user_id", c.userID),
			zap.Error(err))
		b.reply(c, "Something went wrong handling that command.")
		return
	}
	CommandsTotal.WithLabelValues(name, "ok").Inc()
}

// commandNames returns the commands available to the caller, sorted.
func (b *Bot) commandNames(isAdmin bool) []string {
	names := make([]string, 0, len(b.commands))
	for name, cmd := range b.commands {
		if cmd.adminOnly && !isAdmin {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Bot) cmdHelp(_ context.Context, c *commandContext) error {
	var sb strings.Builder
	sb.WriteString("*airdancer commands*\n")
	sb.WriteString("`register <switch_id>` - claim a switch as yours\n")
	sb.WriteString("`unregister` - forget you and your switch\n")
	sb.WriteString("`bother <user|group> [--duration N]` - set off a switch for N seconds\n")
	sb.WriteString("`users [--short|--box]` - list users with switches\n")
	sb.WriteString("`groups` - list bother groups\n")
	sb.WriteString("`set --bother|--no-bother` - allow or refuse bothers\n")
	sb.WriteString("`help` - this text\n")
	if c.user.IsAdmin {
		sb.WriteString("\n*admin commands*\n")
		sb.WriteString("`unregister <user>` - remove another user\n")
		sb.WriteString("`switch list|show|on|off|toggle` - inspect and drive switches\n")
		sb.WriteString("`user list|show|set|register` - manage users\n")
		sb.WriteString("`group list|show|create|destroy|add|remove` - manage groups\n")
	}
	sb.WriteString("\n*examples*\n")
	sb.WriteString("`register tasmota_A1B2C3` - claim the switch you plugged in\n")
	sb.WriteString("`bother @alice -d 30` - run alice's switch for 30 seconds\n")
	sb.WriteString("`bother all` - bother everyone with a switch\n")
	b.reply(c, sb.String())
	return nil
}
