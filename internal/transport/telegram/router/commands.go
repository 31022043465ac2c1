package router

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	kit "giftbot/internal/transport"
	logx "giftbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string   // without the slash, e.g. "set_name"
	Aliases     []string // extra names routed to the same handler
	Description string
	Usage       string
	Access      Access
	// Hidden commands work but are left out of help and the menu.
	Hidden bool

	Timeout time.Duration // overrides the manager default
	Handle  HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline buttons whose data is "scope:action[:payload]".
type CallbackRoute struct {
	Scope   string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Request is one routed update.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Private  bool

	Command string   // command name, "cb:scope:action" or "text"
	Args    []string // tokenized arguments
	RawArgs string   // argument text as typed
	Text    string   // full message text
	Payload string   // callback payload
	// MessageID is the message that carried the update (callbacks: the
	// message holding the button).
	MessageID int

	IsAdmin bool
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// Authorizer decides admin rights beyond the configured owners.
type Authorizer interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

type AuthorizerFunc func(ctx context.Context, userID int64) (bool, error)

func (f AuthorizerFunc) IsAdmin(ctx context.Context, userID int64) (bool, error) { return f(ctx, userID) }

type CommandManager struct {
	mu       sync.RWMutex
	cmds     []Command          // registration order, for help and menu
	byName   map[string]Command // name and aliases
	cbs      map[string]CallbackRoute
	onText   HandlerFunc
	owners   []int64
	timeout  time.Duration
	workers  int
	queueCap int

	log     logx.Logger
	adapter kit.Adapter
	auth    Authorizer
	sups    *SupervisorRegistry
	mws     []Middleware

	runMu   sync.Mutex
	running bool
	sup     *Supervisor
}

type Option func(*CommandManager)

// WithWorkers sets the number of handler workers. Updates from one chat
// always land on the same worker.
func WithWorkers(n int) Option { return func(m *CommandManager) { m.workers = n } }

func WithQueueCap(n int) Option { return func(m *CommandManager) { m.queueCap = n } }

func WithDefaultTimeout(d time.Duration) Option { return func(m *CommandManager) { m.timeout = d } }

func WithOwners(ids []int64) Option {
	return func(m *CommandManager) { m.owners = append([]int64(nil), ids...) }
}

func WithSupervisorRegistry(r *SupervisorRegistry) Option {
	return func(m *CommandManager) { m.sups = r }
}

// WithMiddleware appends middleware after the built-in chain.
func WithMiddleware(mw ...Middleware) Option {
	return func(m *CommandManager) { m.mws = append(m.mws, mw...) }
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, auth Authorizer, opts ...Option) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		byName:   map[string]Command{},
		cbs:      map[string]CallbackRoute{},
		timeout:  30 * time.Second,
		workers:  4,
		queueCap: 64,
		log:      log.With(logx.String("comp", "telegram.router")),
		adapter:  adapter,
		auth:     auth,
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers < 1 {
		m.workers = 1
	}
	if m.queueCap < 1 {
		m.queueCap = 1
	}
	return m
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

// SetTextHandler installs the handler for plain (non-command) text.
func (m *CommandManager) SetTextHandler(h HandlerFunc) {
	m.mu.Lock()
	m.onText = h
	m.mu.Unlock()
}

// SetRegistry replaces the command and callback tables.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	list := make([]Command, 0, len(cmds))
	byName := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		list = append(list, c)
		byName[name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			if _, taken := byName[a]; !taken {
				byName[a] = c
			}
		}
	}
	routes := make(map[string]CallbackRoute, len(cbs))
	for _, r := range cbs {
		s, a := strings.TrimSpace(r.Scope), strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		routes[s+":"+a] = r
	}

	m.mu.Lock()
	m.cmds = list
	m.byName = byName
	m.cbs = routes
	m.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.cmds)
}

// Supervisor returns the dispatcher supervisor, or nil when not running.
func (m *CommandManager) Supervisor() *Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// IsAdmin reports owner status or the authorizer's answer. Lookup errors
// deny.
func (m *CommandManager) IsAdmin(ctx context.Context, userID int64) bool {
	m.mu.RLock()
	owner := slices.Contains(m.owners, userID)
	m.mu.RUnlock()
	if owner {
		return true
	}
	if m.auth == nil {
		return false
	}
	ok, err := m.auth.IsAdmin(ctx, userID)
	if err != nil {
		m.log.Warn("admin lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return ok
}
