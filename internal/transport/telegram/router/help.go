package router

import (
	"html"
	"strings"
)

// helpText renders help in Telegram HTML parse mode.
// With no args it lists every command; with a command name it shows that command's details.
func (m *CommandManager) helpText(args []string) string {
	if len(args) > 0 {
		word := sanitizeTelegramCommand(strings.TrimPrefix(args[0], "/"))
		if c := m.lookup(word); c != nil {
			return helpCommandHTML(*c)
		}
		return "<b>Unknown command</b>\nType <code>/help</code> to see the command list."
	}

	lines := []string{"<b>Commands</b>"}
	for _, c := range m.Commands() {
		line := "/" + html.EscapeString(c.Name)
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	lines = append(lines, "", "Type <code>/help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}

func helpCommandHTML(c Command) string {
	lines := []string{"<b>/" + html.EscapeString(c.Name) + "</b>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	var aliases []string
	for _, a := range c.Aliases {
		if a = sanitizeTelegramCommand(a); a != "" {
			aliases = append(aliases, "/"+a)
		}
	}
	if len(aliases) > 0 {
		lines = append(lines, "", "<b>Aliases</b> "+html.EscapeString(strings.Join(aliases, ", ")))
	}
	return strings.Join(lines, "\n")
}
