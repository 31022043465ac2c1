package router

import (
	"context"
	"strconv"
	"strings"
	"time"

	kit "giftbot/internal/transport"
	logx "giftbot/pkg/logx"
)

const (
	replyUnknown   = "Unknown command. Try /help"
	replyForbidden = "This command is for admins only."
	replyBusy      = "Busy, please try again in a moment."
)

// DispatchLoop routes updates to a sharded worker pool until ctx ends or
// updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := NewSupervisor(ctx,
		WithLogger(m.log),
		WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.sups.Set("telegram.router", sup)

	queues := make([]chan func(), m.workers)
	for i := range queues {
		q := make(chan func(), m.queueCap)
		queues[i] = q
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-q:
					if !ok {
						return nil
					}
					job()
				}
			}
		}, WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", len(queues)), logx.Int("queue_cap", m.queueCap))

	enqueue := func(chatID int64, job func()) bool {
		q := queues[uint64(chatID)%uint64(len(queues))]
		select {
		case q <- job:
			return true
		default:
			return false
		}
	}

	defer func() {
		m.setSupervisor(sup, false)
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.sups.Delete("telegram.router")
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case kit.UpdateMessage:
				m.routeMessage(ctx, up, enqueue)
			case kit.UpdateCallback:
				m.routeCallback(ctx, up, enqueue)
			}
		}
	}
}

type enqueueFunc func(chatID int64, job func()) bool

func (m *CommandManager) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	m.mu.RLock()
	if timeout <= 0 {
		timeout = m.timeout
	}
	m.mu.RUnlock()
	mws := append([]Middleware{
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTrace(),
		MWTimeout(timeout),
	}, m.mws...)
	return Chain(h, mws...)
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Command: command,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update, enqueue enqueueFunc) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	name, raw, isCmd := splitCommand(msg.Text)
	var (
		h       HandlerFunc
		access  = AccessEveryone
		timeout time.Duration
		command = "text"
	)
	if isCmd {
		m.mu.RLock()
		cmd, ok := m.byName[name]
		m.mu.RUnlock()
		if !ok {
			// Replies go through the queue to stay ordered with the chat's
			// earlier requests.
			if msg.Private {
				enqueue(msg.ChatID, func() { _, _ = m.adapter.SendText(ctx, chat, replyUnknown, nil) })
			}
			return
		}
		h, access, timeout, command = cmd.Handle, cmd.Access, cmd.Timeout, cmd.Name
	} else {
		m.mu.RLock()
		h = m.onText
		m.mu.RUnlock()
		if h == nil || strings.TrimSpace(msg.Text) == "" {
			return
		}
	}

	req := m.newRequest(up, chat, msg.FromID, command)
	req.FromName = msg.FromName
	req.Private = msg.Private
	req.Text = msg.Text
	req.MessageID = msg.ID
	if isCmd {
		req.RawArgs = raw
		req.Args = tokenizeCommandLine(raw)
	}

	final := m.chain(h, timeout)
	job := func() {
		req.IsAdmin = m.IsAdmin(ctx, req.FromID)
		if access == AccessAdmin && !req.IsAdmin {
			req.Logger.Info("admin command denied")
			_ = req.Reply(ctx, replyForbidden, nil)
			return
		}
		_ = final(ctx, req)
	}
	if !enqueue(msg.ChatID, job) {
		m.log.Warn("command queue full", logx.Int64("chat_id", msg.ChatID), logx.String("cmd", command))
		_, _ = m.adapter.SendText(ctx, chat, replyBusy, nil)
	}
}

func (m *CommandManager) routeCallback(ctx context.Context, up kit.Update, enqueue enqueueFunc) {
	cb := up.Callback
	if cb == nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	key := parts[0] + ":" + parts[1]
	payload := ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	m.mu.RLock()
	route, ok := m.cbs[key]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID, "cb:"+key)
	req.Payload = payload
	req.MessageID = cb.MessageID

	final := m.chain(func(ctx context.Context, r *Request) error {
		return route.Handle(ctx, r, payload)
	}, route.Timeout)
	job := func() {
		req.IsAdmin = m.IsAdmin(ctx, req.FromID)
		if route.Access == AccessAdmin && !req.IsAdmin {
			_ = m.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
			return
		}
		_ = final(ctx, req)
		// stop the client's loading indicator
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
	}
	if !enqueue(cb.ChatID, job) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}
