package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/fyrsmithlabs/airdancer/internal/store"
)

const (
	actionBotherUser   = "bother_user"
	actionTogglePrefix = "toggle_switch_"
	actionOffline      = "switch_offline"

	lastSeenFormat = "2006-01-02 15:04"
)

// cleanSwitchID strips the backticks and quotes Slack users paste around
// switch IDs.
func cleanSwitchID(raw string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`\"'"))
}

func formatLastSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(lastSeenFormat)
}

func formatPower(state string) string {
	if state == store.PowerUnknown {
		return "?"
	}
	return state
}

// titleStatus capitalizes online/offline for detail views.
func titleStatus(status string) string {
	if status == "" {
		return status
	}
	return strings.ToUpper(status[:1]) + status[1:]
}

func statusEmoji(status string) string {
	if status == store.StatusOnline {
		return ":large_green_circle:"
	}
	return ":red_circle:"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// table renders rows as a monospace table inside a Slack code fence.
type table struct {
	headers []string
	rows    [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) widths() []int {
	w := make([]int, len(t.headers))
	for i, h := range t.headers {
		w[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(w) && len(cell) > w[i] {
				w[i] = len(cell)
			}
		}
	}
	return w
}

// plain renders a two-space separated table.
func (t *table) plain() string {
	w := t.widths()
	var sb strings.Builder
	sb.WriteString("```\n")
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				sb.WriteString("  ")
			}
			fmt.Fprintf(&sb, "%-*s", w[i], cell)
		}
		sb.WriteString("\n")
	}
	writeRow(t.headers)
	for _, row := range t.rows {
		writeRow(row)
	}
	sb.WriteString("```")
	return sb.String()
}

// boxed renders the table with box-drawing borders.
func (t *table) boxed() string {
	w := t.widths()
	var sb strings.Builder
	sb.WriteString("```\n")

	writeBorder := func(left, mid, right string) {
		sb.WriteString(left)
		for i, width := range w {
			if i > 0 {
				sb.WriteString(mid)
			}
			sb.WriteString(strings.Repeat("─", width+2))
		}
		sb.WriteString(right)
		sb.WriteString("\n")
	}
	writeRow := func(cells []string) {
		sb.WriteString("│")
		for i, cell := range cells {
			fmt.Fprintf(&sb, " %-*s │", w[i], cell)
		}
		sb.WriteString("\n")
	}

	writeBorder("┌", "┬", "┐")
	writeRow(t.headers)
	writeBorder("├", "┼", "┤")
	for _, row := range t.rows {
		writeRow(row)
	}
	writeBorder("└", "┴", "┘")
	sb.WriteString("```")
	return sb.String()
}

// renderUsersTable lists switch owners. Callers pass only rows with an
// owner.
func renderUsersTable(rows []store.SwitchWithOwner, boxed bool) string {
	t := &table{headers: []string{"Username", "Admin", "Botherable"}}
	for _, row := range rows {
		t.add(row.Owner.Username, yesNo(row.Owner.IsAdmin), yesNo(row.Owner.Botherable))
	}
	if boxed {
		return t.boxed()
	}
	return t.plain()
}

// renderAllUsersTable lists the full roster, switchless users included.
func renderAllUsersTable(users []store.User, boxed bool) string {
	t := &table{headers: []string{"Username", "Admin", "Botherable", "Switch"}}
	for _, u := range users {
		switchID := "-"
		if u.HasSwitch() {
			switchID = u.SwitchID
		}
		t.add(u.Username, yesNo(u.IsAdmin), yesNo(u.Botherable), switchID)
	}
	if boxed {
		return t.boxed()
	}
	return t.plain()
}

func renderSwitchesTable(rows []store.SwitchWithOwner, boxed bool) string {
	t := &table{headers: []string{"Switch ID", "Status", "Power", "Last Seen", "IP Address", "Username"}}
	for _, row := range rows {
		owner := "-"
		if row.Owner != nil {
			owner = row.Owner.Username
		}
		ip := "-"
		if row.DeviceInfo != nil && row.DeviceInfo.IP != "" {
			ip = row.DeviceInfo.IP
		}
		t.add(row.SwitchID, row.Status, formatPower(row.PowerState),
			formatLastSeen(row.LastSeen), ip, owner)
	}
	if boxed {
		return t.boxed()
	}
	return t.plain()
}

func plainText(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

func markdownText(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

// usersBlocks renders switch owners. Botherable users with an online
// switch get a Bother button; offline switches get a red badge instead.
func usersBlocks(rows []store.SwitchWithOwner) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plainText("Registered users")),
		slack.NewDividerBlock(),
	}
	for _, row := range rows {
		name := row.Owner.Username
		if row.Owner.IsAdmin {
			name += " :crown:"
		}
		text := fmt.Sprintf("*%s*\n`%s` is %s, power %s\nBotherable: %s",
			name, row.SwitchID, row.Status, formatPower(row.PowerState),
			yesNo(row.Owner.Botherable))

		var accessory *slack.Accessory
		switch {
		case row.Status == store.StatusOnline && row.Owner.Botherable:
			btn := slack.NewButtonBlockElement(actionBotherUser, row.Owner.SlackUserID, plainText("Bother"))
			accessory = slack.NewAccessory(btn)
		case row.Status != store.StatusOnline:
			badge := slack.NewButtonBlockElement(actionOffline, row.SwitchID, plainText("Offline")).
				WithStyle(slack.StyleDanger)
			accessory = slack.NewAccessory(badge)
		}
		blocks = append(blocks,
			slack.NewSectionBlock(markdownText(text), nil, accessory))
	}
	return blocks
}

// allUsersBlocks renders the full roster, switchless users included.
func allUsersBlocks(users []store.User) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plainText("All users")),
		slack.NewDividerBlock(),
	}
	for _, u := range users {
		name := u.Username
		if u.IsAdmin {
			name += " :crown:"
		}
		switchLine := "none"
		if u.HasSwitch() {
			switchLine = "`" + u.SwitchID + "`"
		}
		text := fmt.Sprintf("*%s* (<@%s>)\nSwitch: %s\nBotherable: %s",
			name, u.SlackUserID, switchLine, yesNo(u.Botherable))
		blocks = append(blocks, slack.NewSectionBlock(markdownText(text), nil, nil))
	}
	return blocks
}

// switchesBlocks renders every switch with details and a Toggle button.
func switchesBlocks(rows []store.SwitchWithOwner) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plainText("Switches")),
		slack.NewDividerBlock(),
	}
	for _, row := range rows {
		owner := "unowned"
		if row.Owner != nil {
			owner = fmt.Sprintf("<@%s>", row.Owner.SlackUserID)
			if row.Owner.IsAdmin {
				owner += " :crown:"
			}
		}
		power := formatPower(row.PowerState)
		if row.PowerState == store.PowerOn {
			power = ":zap: " + power
		}
		fields := []*slack.TextBlockObject{
			markdownText(fmt.Sprintf("*Status*\n%s %s", statusEmoji(row.Status), row.Status)),
			markdownText(fmt.Sprintf("*Power*\n%s", power)),
			markdownText(fmt.Sprintf("*Owner*\n%s", owner)),
			markdownText(fmt.Sprintf("*Last seen*\n%s", formatLastSeen(row.LastSeen))),
		}
		if row.DeviceInfo != nil && row.DeviceInfo.IP != "" {
			fields = append(fields,
				markdownText(fmt.Sprintf("*IP*\n%s", row.DeviceInfo.IP)))
		}
		if row.DeviceInfo != nil && row.DeviceInfo.Model != "" {
			fields = append(fields,
				markdownText(fmt.Sprintf("*Model*\n%s", row.DeviceInfo.Model)))
		}

		btn := slack.NewButtonBlockElement(actionTogglePrefix+row.SwitchID, row.SwitchID, plainText("Toggle"))
		switch row.PowerState {
		case store.PowerOn:
			btn = btn.WithStyle(slack.StyleDanger)
		case store.PowerOff:
			btn = btn.WithStyle(slack.StylePrimary)
		}

		blocks = append(blocks, slack.NewSectionBlock(
			markdownText(fmt.Sprintf("*`%s`*", row.SwitchID)),
			fields,
			slack.NewAccessory(btn)))
	}
	return blocks
}

// switchDetail renders the full record for one switch as markdown text.
func switchDetail(sw *store.Switch, owner *store.Owner) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*`%s`*\n", sw.SwitchID)
	fmt.Fprintf(&sb, "Status: %s %s\n", statusEmoji(sw.Status), titleStatus(sw.Status))
	fmt.Fprintf(&sb, "Power: %s\n", formatPower(sw.PowerState))
	fmt.Fprintf(&sb, "Last seen: %s\n", formatLastSeen(sw.LastSeen))
	if owner != nil {
		fmt.Fprintf(&sb, "Owner: <@%s>\n", owner.SlackUserID)
	} else {
		sb.WriteString("Owner: unowned\n")
	}
	if info := sw.DeviceInfo; info != nil {
		if info.IP != "" {
			fmt.Fprintf(&sb, "IP: %s\n", info.IP)
		}
		if info.Hostname != "" {
			fmt.Fprintf(&sb, "Hostname: %s\n", info.Hostname)
		}
		if info.MAC != "" {
			fmt.Fprintf(&sb, "MAC: %s\n", info.MAC)
		}
		if info.Model != "" {
			fmt.Fprintf(&sb, "Model: %s\n", info.Model)
		}
		if info.Software != "" {
			fmt.Fprintf(&sb, "Software: %s\n", info.Software)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
