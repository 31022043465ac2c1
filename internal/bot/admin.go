package bot

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"

	"giftbot/internal/participant"
	kit "giftbot/internal/transport"
	"giftbot/internal/transport/telegram/router"
	logx "giftbot/pkg/logx"
)

const maxRemindersShown = 50

var randomConfirmKeyboard = &kit.SendOptions{Inline: [][]kit.Button{{
	{Text: "Shuffle", Data: "random:confirm"},
	{Text: "Cancel", Data: "random:cancel"},
}}}

// respond sends the reply for an admin mutation and returns only errors
// that are not the admin's fault.
func respond(ctx context.Context, req *router.Request, done string, err error) error {
	text, err := outcome(done, err)
	if rerr := req.Reply(ctx, text, nil); err == nil {
		err = rerr
	}
	return err
}

func (b *Bot) cmdUsers(ctx context.Context, req *router.Request) error {
	all, err := b.store.ListAll(ctx)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	if len(all) == 0 {
		return req.Reply(ctx, "No participants yet.", nil)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Participants (%d):\n", len(all))
	for _, p := range all {
		fmt.Fprintf(&sb, "\nID: %d\nTelegram ID: %d\nName: %s\nBirthday: %s\nWishes: %s\nAdmin: %s\nWard: %s\nGiver: %s\nRegistered: %s\n",
			p.ID, p.ExternalID, p.DisplayName(), p.Birthday, wishOrDash(p.Wish),
			yesNo(p.IsAdmin), idOrDash(p.WardID), idOrDash(p.GiverID), registeredAt(p.RegisteredAt))
	}
	return req.Reply(ctx, sb.String(), nil)
}

func (b *Bot) cmdPairs(ctx context.Context, req *router.Request) error {
	all, err := b.store.ListAll(ctx)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	byID := make(map[int64]participant.Participant, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	type row struct{ giver, ward participant.Participant }
	var rows []row
	for _, g := range all {
		if w, ok := byID[g.WardID]; ok && g.HasWard() {
			rows = append(rows, row{g, w})
		}
	}
	if len(rows) == 0 {
		return req.Reply(ctx, "No pairs assigned yet.", nil)
	}
	// Upcoming-calendar order: by the ward's month and day.
	sort.SliceStable(rows, func(i, j int) bool {
		a, c := rows[i].ward.Birthday, rows[j].ward.Birthday
		if a.Month != c.Month {
			return a.Month < c.Month
		}
		if a.Day != c.Day {
			return a.Day < c.Day
		}
		return rows[i].ward.ID < rows[j].ward.ID
	})
	var sb strings.Builder
	sb.WriteString("<b>Pairs</b>\n")
	for i, r := range rows {
		fmt.Fprintf(&sb, "\n%d. %s → %s\n   🎂 %s\n", i+1,
			html.EscapeString(r.giver.DisplayName()),
			html.EscapeString(r.ward.DisplayName()),
			r.ward.Birthday)
	}
	return req.Reply(ctx, sb.String(), &kit.SendOptions{ParseMode: "HTML"})
}

func (b *Bot) cmdRandom(ctx context.Context, req *router.Request) error {
	all, err := b.store.ListAll(ctx)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	text := fmt.Sprintf("Shuffle all %d participants into a new gift cycle?\nEvery existing pair will be replaced.", len(all))
	return req.Reply(ctx, text, randomConfirmKeyboard)
}

func (b *Bot) cbRandomConfirm(ctx context.Context, req *router.Request, _ string) error {
	a, err := b.admin.RandomPairing(ctx, req.FromID)
	done := ""
	if err == nil || len(a.Ward) > 0 {
		done = fmt.Sprintf("Random pairing done: %d pairs in one cycle.\nUse /pairs to see them.", len(a.Ward))
	}
	text, err := outcome(done, err)
	b.editOrReply(ctx, req, text)
	return err
}

func (b *Bot) cbRandomCancel(ctx context.Context, req *router.Request, _ string) error {
	b.editOrReply(ctx, req, "Random pairing cancelled.")
	return nil
}

// editOrReply replaces the confirmation message, falling back to a new
// message when the edit fails.
func (b *Bot) editOrReply(ctx context.Context, req *router.Request, text string) {
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
	if req.MessageID != 0 {
		if err := req.Adapter.EditText(ctx, ref, text, nil); err == nil {
			return
		}
	}
	_ = req.Reply(ctx, text, nil)
}

func (b *Bot) cmdSet(ctx context.Context, req *router.Request) error {
	const usage = "Usage: /set <giver_id> <ward_id>"
	if len(req.Args) != 2 {
		return req.Reply(ctx, usage, nil)
	}
	giver, err1 := strconv.ParseInt(req.Args[0], 10, 64)
	ward, err2 := strconv.ParseInt(req.Args[1], 10, 64)
	if err1 != nil || err2 != nil || giver <= 0 || ward <= 0 {
		return req.Reply(ctx, "Ids must be positive integers.\n"+usage, nil)
	}
	p, err := b.admin.SetPair(ctx, req.FromID, giver, ward)
	return respond(ctx, req, pairDone(p.Giver, p.Ward), err)
}

func (b *Bot) cmdSetName(ctx context.Context, req *router.Request) error {
	if strings.TrimSpace(req.RawArgs) == "" {
		return req.Reply(ctx, `Usage: /set_name "giver full name" "ward full name"`, nil)
	}
	p, err := b.admin.SetPairByName(ctx, req.FromID, req.RawArgs)
	return respond(ctx, req, pairDone(p.Giver, p.Ward), err)
}

func pairDone(giver, ward participant.Participant) string {
	return fmt.Sprintf("Pair set: %s → %s", giver.DisplayName(), ward.DisplayName())
}

// externalArg parses the single telegram id argument of an admin command.
func externalArg(req *router.Request) (int64, bool) {
	if len(req.Args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	return id, err == nil && id != 0
}

func (b *Bot) cmdMakeAdmin(ctx context.Context, req *router.Request) error {
	id, ok := externalArg(req)
	if !ok {
		return req.Reply(ctx, "Usage: /make_admin <telegram_id>", nil)
	}
	p, err := b.admin.MakeAdmin(ctx, req.FromID, id)
	if err == nil {
		b.refreshMenu(ctx, req.Logger, id, true)
	}
	return respond(ctx, req, fmt.Sprintf("%s is now an admin.", p.DisplayName()), err)
}

func (b *Bot) cmdRevokeAdmin(ctx context.Context, req *router.Request) error {
	id, ok := externalArg(req)
	if !ok {
		return req.Reply(ctx, "Usage: /admin_revoke <telegram_id>", nil)
	}
	p, err := b.admin.RevokeAdmin(ctx, req.FromID, id)
	done := fmt.Sprintf("Admin rights revoked from %s.", p.DisplayName())
	if err == nil {
		if b.isOwner(id) {
			done += "\nThey are a configured owner and keep admin access."
		} else {
			b.refreshMenu(ctx, req.Logger, id, false)
		}
	}
	return respond(ctx, req, done, err)
}

func (b *Bot) refreshMenu(ctx context.Context, log logx.Logger, chatID int64, admin bool) {
	if b.menu == nil {
		return
	}
	if err := b.menu.UpdateChatMenu(ctx, chatID, admin); err != nil {
		log.Warn("update chat menu failed", logx.Int64("target", chatID), logx.Err(err))
	}
}

func (b *Bot) cmdDelete(ctx context.Context, req *router.Request) error {
	id, ok := externalArg(req)
	if !ok {
		return req.Reply(ctx, "Usage: /delete <telegram_id>", nil)
	}
	p, err := b.admin.DeleteParticipant(ctx, req.FromID, id)
	if p.ID != 0 {
		b.sessions.drop(id)
	}
	return respond(ctx, req, fmt.Sprintf("Participant %s deleted.", p.DisplayName()), err)
}

func (b *Bot) cmdReset(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 || strings.EqualFold(req.Args[0], "all") {
		err := b.admin.ResetAll(ctx, req.FromID)
		return respond(ctx, req, "All pairs cleared.", err)
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 || len(req.Args) > 1 {
		return req.Reply(ctx, "Usage: /reset [id|all]", nil)
	}
	p, err := b.admin.ResetEdges(ctx, req.FromID, id)
	return respond(ctx, req, fmt.Sprintf("Pairs of %s cleared.", p.DisplayName()), err)
}

func (b *Bot) cmdReminders(ctx context.Context, req *router.Request) error {
	jobs := b.pending.ListPending()
	if len(jobs) == 0 {
		return req.Reply(ctx, "No reminders scheduled.", nil)
	}
	all, err := b.store.ListAll(ctx)
	if err != nil {
		_ = req.Reply(ctx, textTryLater, nil)
		return err
	}
	names := make(map[int64]string, len(all))
	for _, p := range all {
		names[p.ID] = p.DisplayName()
	}
	name := func(id int64) string {
		if n, ok := names[id]; ok {
			return n
		}
		return fmt.Sprintf("#%d", id)
	}

	now := b.now()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scheduled reminders (%d):\n", len(jobs))
	for i, j := range jobs {
		if i == maxRemindersShown {
			fmt.Fprintf(&sb, "\n...and %d more", len(jobs)-maxRemindersShown)
			break
		}
		fmt.Fprintf(&sb, "\n%d. %s (in %s)\n   Giver: %s\n   Ward: %s\n   %s\n",
			i+1, j.At.Format("02.01.2006 15:04"), until(j.At.Sub(now)),
			name(j.GiverID), name(j.WardID), offsetText(j.Offset))
	}
	return req.Reply(ctx, sb.String(), nil)
}

func until(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	if days == 0 {
		return fmt.Sprintf("%dh %dm", hours, int(d%time.Hour/time.Minute))
	}
	return fmt.Sprintf("%dd %dh", days, hours)
}

func offsetText(days int) string {
	switch days {
	case 0:
		return "on the birthday"
	case 1:
		return "1 day before the birthday"
	}
	return fmt.Sprintf("%d days before the birthday", days)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func idOrDash(id int64) string {
	if id == 0 {
		return "—"
	}
	return strconv.FormatInt(id, 10)
}

func registeredAt(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	return t.Format("02.01.2006 15:04")
}
