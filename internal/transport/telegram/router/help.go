package router

import (
	"html"
	"strings"
)

// HelpText renders the command list in HTML parse mode. Admin commands are
// listed in their own section when admin is true.
func (m *CommandManager) HelpText(admin bool) string {
	var user, adm []string
	for _, c := range m.Commands() {
		if c.Hidden {
			continue
		}
		line := helpLine(c)
		if c.Access == AccessAdmin {
			adm = append(adm, line)
			continue
		}
		user = append(user, line)
	}

	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	b.WriteString(strings.Join(user, "\n"))
	if admin && len(adm) > 0 {
		b.WriteString("\n\n<b>Admin commands</b>\n")
		b.WriteString(strings.Join(adm, "\n"))
	}
	return b.String()
}

func helpLine(c Command) string {
	usage := strings.TrimSpace(c.Usage)
	if usage == "" {
		usage = "/" + c.Name
	}
	line := "<code>" + html.EscapeString(usage) + "</code>"
	if d := strings.TrimSpace(c.Description); d != "" {
		line += " - " + html.EscapeString(d)
	}
	return line
}
