package router

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	kit "giftbot/internal/transport"
	logx "giftbot/pkg/logx"
)

// sanitizeTelegramCommand converts a name into a Telegram bot command,
// which must match [a-z0-9_]{1,32}.
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
	return out
}

// buildMenu lists visible commands for the menu. Admin-only commands are
// included when admin is true.
func buildMenu(cmds []Command, admin bool) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	seen := map[string]bool{}
	for _, c := range cmds {
		if c.Hidden || (c.Access == AccessAdmin && !admin) {
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
		if r := []rune(desc); len(r) > 256 {
			desc = string(r[:256])
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// PublishMenus sets the default menu to the public commands and gives each
// admin chat the full list.
func (m *CommandManager) PublishMenus(ctx context.Context, adminChats []int64) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	cmds := m.Commands()
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var errs []error
	if err := up.UpdateMenuCommands(ctx, 0, buildMenu(cmds, false)); err != nil {
		errs = append(errs, err)
	}
	full := buildMenu(cmds, true)
	for _, id := range adminChats {
		if err := up.UpdateMenuCommands(ctx, id, full); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		m.log.Warn("menu publish failed", logx.Err(err))
	}
	return err
}

// UpdateChatMenu sets one private chat's menu after its admin status
// changed.
func (m *CommandManager) UpdateChatMenu(ctx context.Context, chatID int64, admin bool) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, chatID, buildMenu(m.Commands(), admin))
}
