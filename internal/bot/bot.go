// Package bot implements the Telegram commands of the gift pool: the
// registration conversation, profile commands and the admin surface.
package bot

import (
	"context"
	"time"

	"giftbot/internal/admin"
	"giftbot/internal/reminder"
	"giftbot/internal/storage"
	"giftbot/internal/transport/telegram/router"
	logx "giftbot/pkg/logx"
)

// PendingLister exposes the scheduler's read-only job view.
type PendingLister interface {
	ListPending() []reminder.Job
}

// Menu is the part of the router the bot needs for help text and
// per-chat command menus.
type Menu interface {
	HelpText(admin bool) string
	UpdateChatMenu(ctx context.Context, chatID int64, admin bool) error
}

type Deps struct {
	Store     storage.Store
	Admin     *admin.Service
	Reminders PendingLister
	Menu      Menu
	Log       logx.Logger

	// Offsets reports the current reminder offsets for /help.
	Offsets func() []int
	// IsOwner reports configured owners, whose rights cannot be revoked.
	IsOwner func(id int64) bool
	Now     func() time.Time
}

type Bot struct {
	store    storage.Store
	admin    *admin.Service
	pending  PendingLister
	menu     Menu
	log      logx.Logger
	offsets  func() []int
	isOwner  func(int64) bool
	now      func() time.Time
	sessions *sessions
}

func New(d Deps) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Offsets == nil {
		d.Offsets = func() []int { return reminder.DefaultOffsets }
	}
	if d.IsOwner == nil {
		d.IsOwner = func(int64) bool { return false }
	}
	return &Bot{
		store:    d.Store,
		admin:    d.Admin,
		pending:  d.Reminders,
		menu:     d.Menu,
		log:      d.Log.With(logx.String("comp", "bot")),
		offsets:  d.Offsets,
		isOwner:  d.IsOwner,
		now:      d.Now,
		sessions: newSessions(30*time.Minute, d.Now),
	}
}

// Registrar is implemented by *router.CommandManager.
type Registrar interface {
	SetRegistry(cmds []router.Command, cbs []router.CallbackRoute)
	SetTextHandler(h router.HandlerFunc)
}

// Register installs the bot's commands, callbacks and conversation handler.
func (b *Bot) Register(r Registrar) {
	r.SetRegistry(b.Commands(), b.Callbacks())
	r.SetTextHandler(b.handleText)
}

func (b *Bot) Commands() []router.Command {
	ev, ad := router.AccessEveryone, router.AccessAdmin
	return []router.Command{
		{Name: "start", Description: "register or show the welcome message", Access: ev, Handle: b.cmdStart},
		{Name: "me", Description: "show my profile", Access: ev, Handle: b.cmdMe},
		{Name: "ward", Description: "show my ward", Access: ev, Handle: b.cmdWard},
		{Name: "edit", Usage: "/edit [name|birthday|wish]", Description: "change my profile", Access: ev, Handle: b.cmdEdit},
		{Name: "cancel", Description: "cancel the current dialog", Access: ev, Handle: b.cmdCancel},
		{Name: "menu", Description: "list commands", Access: ev, Handle: b.cmdMenu},
		{Name: "help", Description: "help and instructions", Access: ev, Handle: b.cmdHelp},

		{Name: "users", Aliases: []string{"admin_users"}, Description: "list all participants", Access: ad, Handle: b.cmdUsers},
		{Name: "pairs", Aliases: []string{"admin_pairs"}, Description: "pair table", Access: ad, Handle: b.cmdPairs},
		{Name: "random", Aliases: []string{"admin_random"}, Description: "random pairing of everyone", Access: ad, Handle: b.cmdRandom},
		{Name: "set", Aliases: []string{"admin_set"}, Usage: "/set <giver_id> <ward_id>", Description: "pair by internal id", Access: ad, Handle: b.cmdSet},
		{Name: "set_name", Aliases: []string{"admin_set_name"}, Usage: `/set_name "giver" "ward"`, Description: "pair by full name", Access: ad, Handle: b.cmdSetName},
		{Name: "make_admin", Usage: "/make_admin <telegram_id>", Description: "grant admin rights", Access: ad, Handle: b.cmdMakeAdmin},
		{Name: "admin_revoke", Usage: "/admin_revoke <telegram_id>", Description: "revoke admin rights", Access: ad, Handle: b.cmdRevokeAdmin},
		{Name: "delete", Aliases: []string{"admin_delete"}, Usage: "/delete <telegram_id>", Description: "delete a participant", Access: ad, Handle: b.cmdDelete},
		{Name: "reset", Usage: "/reset [id|all]", Description: "clear pairs of one participant or everyone", Access: ad, Handle: b.cmdReset},
		{Name: "reminders", Aliases: []string{"admin_reminders"}, Description: "reminder schedule", Access: ad, Handle: b.cmdReminders},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: "random", Action: "confirm", Access: router.AccessAdmin, Handle: b.cbRandomConfirm},
		{Scope: "random", Action: "cancel", Access: router.AccessAdmin, Handle: b.cbRandomCancel},
	}
}
