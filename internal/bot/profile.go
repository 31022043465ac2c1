package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"giftbot/internal/admin"
	"giftbot/internal/participant"
	"giftbot/internal/storage"
	kit "giftbot/internal/transport"
	"giftbot/internal/transport/telegram/router"
	logx "giftbot/pkg/logx"
)

const (
	maxNameLen = 128
	maxWishLen = 1000

	btnEditName     = "Change name"
	btnEditBirthday = "Change birthday"
	btnEditWish     = "Change wishes"
	btnCancel       = "Cancel"
)

const welcomeHTML = "👋 <b>Welcome!</b>\n\n" +
	"This bot runs a secret gift-giver pool for birthdays.\n" +
	"You can share what you would like as a gift and find out whom you are giving a gift to, and when.\n\n" +
	"Please complete a short registration.\n" +
	"Use /menu or /help for the list of commands."

var (
	removeKeyboard = &kit.SendOptions{RemoveKeyboard: true}
	editKeyboard   = &kit.SendOptions{Keyboard: [][]string{
		{btnEditName},
		{btnEditBirthday},
		{btnEditWish},
		{btnCancel},
	}}
)

// self loads the caller's record; ok is false when they are not registered.
func (b *Bot) self(ctx context.Context, req *router.Request) (participant.Participant, bool, error) {
	return b.store.GetByExternalID(ctx, req.FromID)
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	_, ok, err := b.self(ctx, req)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	if ok {
		req.Logger.Info("repeated /start")
		return req.Reply(ctx, "You are already registered!\nUse /edit to change your profile.", nil)
	}
	if !req.Private {
		return req.Reply(ctx, "Please message me privately to register.", nil)
	}
	if err := req.Reply(ctx, welcomeHTML, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		return err
	}
	b.sessions.put(req.FromID, session{step: stepRegName})
	req.Logger.Info("registration started")
	return req.Reply(ctx, "Enter your full name:", nil)
}

func (b *Bot) cmdMe(ctx context.Context, req *router.Request) error {
	me, ok, err := b.self(ctx, req)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	if !ok {
		return req.Reply(ctx, textNotRegistered, nil)
	}
	return req.Reply(ctx, fmt.Sprintf("Your profile:\nName: %s\nBirthday: %s\nWishes: %s",
		me.DisplayName(), me.Birthday, wishOrDash(me.Wish)), nil)
}

func (b *Bot) cmdWard(ctx context.Context, req *router.Request) error {
	me, ok, err := b.self(ctx, req)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	if !ok || !me.HasWard() {
		return req.Reply(ctx, "You have no ward assigned yet.", nil)
	}
	ward, ok, err := b.store.GetByID(ctx, me.WardID)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	if !ok {
		return req.Reply(ctx, "Ward details not found.", nil)
	}
	return req.Reply(ctx, fmt.Sprintf("Your ward: %s\nBirthday: %s\nWishes: %s",
		ward.DisplayName(), ward.Birthday, wishOrDash(ward.Wish)), nil)
}

func (b *Bot) cmdEdit(ctx context.Context, req *router.Request) error {
	_, ok, err := b.self(ctx, req)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	if !ok {
		return req.Reply(ctx, textNotRegistered, nil)
	}
	if len(req.Args) > 0 {
		switch strings.ToLower(req.Args[0]) {
		case "name":
			return b.editStep(ctx, req, stepEditName)
		case "birthday", "bday":
			return b.editStep(ctx, req, stepEditBirthday)
		case "wish", "wishes":
			return b.editStep(ctx, req, stepEditWish)
		default:
			return req.Reply(ctx, "Usage: /edit [name|birthday|wish]", nil)
		}
	}
	b.sessions.put(req.FromID, session{step: stepEditMenu})
	return req.Reply(ctx, "What would you like to change?", editKeyboard)
}

func (b *Bot) editStep(ctx context.Context, req *router.Request, st step) error {
	b.sessions.put(req.FromID, session{step: st})
	prompt := map[step]string{
		stepEditName:     "Enter your new full name:",
		stepEditBirthday: "Enter your new birthday (DD.MM.YYYY):",
		stepEditWish:     "Enter your new wishes:",
	}[st]
	return req.Reply(ctx, prompt, removeKeyboard)
}

func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	if b.sessions.get(req.FromID).step == stepNone {
		return req.Reply(ctx, "Nothing to cancel.", removeKeyboard)
	}
	b.sessions.drop(req.FromID)
	return req.Reply(ctx, "Cancelled.", removeKeyboard)
}

func (b *Bot) cmdMenu(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, b.menu.HelpText(req.IsAdmin), &kit.SendOptions{ParseMode: "HTML"})
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	offs := b.offsets()
	days := make([]string, len(offs))
	for i, o := range offs {
		days[i] = fmt.Sprint(o)
	}
	text := "<b>Secret gift-giver</b>\n\n" +
		"1. Register with /start: your full name, birthday and gift wishes.\n" +
		"2. An admin pairs participants. Use /ward to see whom you give a gift to.\n" +
		"3. You get reminders " + html.EscapeString(joinHuman(days)) + " days before your ward's birthday.\n" +
		"4. Keep your wishes up to date with /edit so your giver knows what to pick.\n\n" +
		b.menu.HelpText(req.IsAdmin)
	return req.Reply(ctx, text, &kit.SendOptions{ParseMode: "HTML"})
}

// handleText drives the registration and edit dialogs.
func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	if !req.Private {
		return nil
	}
	cur := b.sessions.get(req.FromID)
	text := strings.TrimSpace(req.Text)

	switch cur.step {
	case stepNone:
		return req.Reply(ctx, "Use /menu to see what I can do.", nil)

	case stepRegName:
		name, msg := checkName(text)
		if msg != "" {
			return req.Reply(ctx, msg, nil)
		}
		cur.name, cur.step = name, stepRegBirthday
		b.sessions.put(req.FromID, cur)
		return req.Reply(ctx, "Enter your birthday (DD.MM.YYYY):", nil)

	case stepRegBirthday:
		d, err := participant.ParseDate(text)
		if err != nil {
			return req.Reply(ctx, textBadDate, nil)
		}
		cur.birthday, cur.step = d, stepRegWish
		b.sessions.put(req.FromID, cur)
		return req.Reply(ctx, "Enter your gift wishes:", nil)

	case stepRegWish:
		wish, msg := checkWish(text)
		if msg != "" {
			return req.Reply(ctx, msg, nil)
		}
		return b.finishRegistration(ctx, req, cur, wish)

	case stepEditMenu:
		switch text {
		case btnEditName:
			return b.editStep(ctx, req, stepEditName)
		case btnEditBirthday:
			return b.editStep(ctx, req, stepEditBirthday)
		case btnEditWish:
			return b.editStep(ctx, req, stepEditWish)
		case btnCancel:
			b.sessions.drop(req.FromID)
			return req.Reply(ctx, "Editing cancelled.", removeKeyboard)
		default:
			return req.Reply(ctx, "Please choose an option from the keyboard.", nil)
		}

	case stepEditName:
		name, msg := checkName(text)
		if msg != "" {
			return req.Reply(ctx, msg, nil)
		}
		return b.saveEdit(ctx, req, participant.Patch{Name: &name}, "Name updated!")

	case stepEditBirthday:
		d, err := participant.ParseDate(text)
		if err != nil {
			return req.Reply(ctx, textBadDate, nil)
		}
		return b.saveEdit(ctx, req, participant.Patch{Birthday: &d}, "Birthday updated!")

	case stepEditWish:
		wish, msg := checkWish(text)
		if msg != "" {
			return req.Reply(ctx, msg, nil)
		}
		return b.saveEdit(ctx, req, participant.Patch{Wish: &wish}, "Wishes updated!")
	}
	return nil
}

func (b *Bot) finishRegistration(ctx context.Context, req *router.Request, cur session, wish string) error {
	p, err := b.store.Create(ctx, participant.Participant{
		ExternalID:   req.FromID,
		Name:         cur.name,
		Birthday:     cur.birthday,
		Wish:         wish,
		RegisteredAt: b.now(),
	})
	b.sessions.drop(req.FromID)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return req.Reply(ctx, "You are already registered!\nUse /edit to change your profile.", nil)
	case err != nil:
		_ = req.Reply(ctx, textTryLater, nil)
		return fmt.Errorf("register: %w", err)
	}
	req.Logger.Info("participant registered", logx.Int64("id", p.ID), logx.String("name", p.Name), logx.String("birthday", p.Birthday.String()))
	return req.Reply(ctx, "Registration complete! Use /menu or /help for the list of commands.", nil)
}

func (b *Bot) saveEdit(ctx context.Context, req *router.Request, patch participant.Patch, done string) error {
	b.sessions.drop(req.FromID)
	me, ok, err := b.self(ctx, req)
	if err == nil && !ok {
		return req.Reply(ctx, textNotRegistered, nil)
	}
	if err == nil {
		_, err = b.store.Update(ctx, me.ID, patch)
	}
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return fmt.Errorf("edit profile: %w", err)
	}
	req.Logger.Info("profile updated")
	// Name and wishes are read at fire time; only the birthday moves jobs.
	if patch.Birthday != nil {
		if err := b.admin.Refresh(ctx); errors.Is(err, admin.ErrRemindersStale) {
			done += "\n" + textStale
		}
	}
	return req.Reply(ctx, done, nil)
}

func checkName(s string) (string, string) {
	switch {
	case s == "":
		return "", "Please enter your full name."
	case strings.HasPrefix(s, "/"):
		return "", "Please enter your full name, not a command."
	case utf8.RuneCountInString(s) > maxNameLen:
		return "", fmt.Sprintf("That name is too long (max %d characters).", maxNameLen)
	}
	return s, ""
}

func checkWish(s string) (string, string) {
	if utf8.RuneCountInString(s) > maxWishLen {
		return "", fmt.Sprintf("That is too long (max %d characters).", maxWishLen)
	}
	return s, ""
}

func wishOrDash(w string) string {
	if strings.TrimSpace(w) == "" {
		return "—"
	}
	return w
}

// joinHuman renders [a b c] as "a, b and c".
func joinHuman(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
