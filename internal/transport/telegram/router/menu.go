package router

import (
	"html"
	"strings"
	"unicode"

	kit "eurobot/internal/transport"
)

// sanitizeTelegramCommand converts an arbitrary name/alias into a Telegram-safe bot command name.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	if out == "" {
		return ""
	}
	// clients expect a leading letter
	if out[0] >= '0' && out[0] <= '9' {
		out = strings.TrimRight(("cmd_" + out)[:min(32, len(out)+4)], "_")
	}
	return out
}

// menuCommands lists public commands for the Telegram menu, in registration order.
// Owner-only commands are left out of the public menu.
func menuCommands(cmds []Command) []kit.BotCommand {
	seen := map[string]bool{}
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Hidden || c.Access == AccessOwnerOnly {
			continue
		}
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// HelpText renders the command list in HTML parse mode. Owner-only commands are
// listed only when owner is true.
func (m *CommandManager) HelpText(owner bool) string {
	m.mu.RLock()
	cmds := m.ordered
	m.mu.RUnlock()

	lines := []string{"📚 <b>Comandi disponibili</b>"}
	for _, c := range cmds {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		line := "/" + html.EscapeString(c.Name)
		if c.Usage != "" {
			line = "<code>" + html.EscapeString(c.Usage) + "</code>"
		}
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		if c.Access == AccessOwnerOnly {
			line = "🔒 " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
