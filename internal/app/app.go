package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"giftbot/internal/admin"
	"giftbot/internal/bot"
	"giftbot/internal/config"
	"giftbot/internal/eventbus"
	"giftbot/internal/notifier"
	"giftbot/internal/observability/tracing"
	"giftbot/internal/opsapi"
	"giftbot/internal/reminder"
	"giftbot/internal/storage"
	kit "giftbot/internal/transport"
	telegram "giftbot/internal/transport/telegram/adapter"
	"giftbot/internal/transport/telegram/router"
	logx "giftbot/pkg/logx"
)

type App struct {
	cfgm *ConfigManager
	sup  *Supervisor
	sups *SupervisorRegistry

	log      logx.Logger
	logs     *logx.Service
	bus      eventbus.Bus
	recorder *eventbus.Recorder
	store    storage.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	sched   *reminder.Scheduler
	admin   *admin.Service
	cmdm    *CommandManager
	ops     *opsapi.Server

	traceShutdown tracing.Shutdown

	updates chan kit.Update
}

// NewApp loads the config and builds every component. Nothing runs until
// Start.
func NewApp(ctx context.Context, cfgPath, version string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The log chat sink gets its sender once the notifier exists.
	logs, log := logx.New(mapLogConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	handlerTimeout, err := parseDurationOrDefault("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	traceShutdown, err := tracing.Setup(ctx, mapTracingConfig(cfg, version), log.With(logx.String("comp", "tracing")))
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	bus := eventbus.New()

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log, bus)
	logs.SetSender(notif.LogSender())

	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := reminder.New(store, notif, rcfg, log)
	adminSvc := admin.New(store, sched, bus, log, admin.WithMaxAttempts(cfg.Pairing.MaxAttempts))

	sups := NewSupervisorRegistry()
	cmdm := NewCommandManager(log, ad, storeAuthorizer(store),
		router.WithWorkers(cfg.Telegram.Workers),
		router.WithDefaultTimeout(handlerTimeout),
		router.WithOwners(cfg.Telegram.OwnerUserIDs),
		router.WithSupervisorRegistry(sups),
	)

	b := bot.New(bot.Deps{
		Store:     store,
		Admin:     adminSvc,
		Reminders: sched,
		Menu:      cmdm,
		Log:       log,
		Offsets:   func() []int { return cfgm.Get().Reminders.Offsets },
		IsOwner:   func(id int64) bool { return cfgm.Get().IsOwner(id) },
	})
	b.Register(cmdm)

	recorder := eventbus.NewRecorder(200)
	ops := opsapi.NewServer(mapOpsConfig(cfg), opsapi.Deps{
		Store:       store,
		Scheduler:   sched,
		Events:      recorder,
		Notifier:    notif.Stats,
		Deliveries:  notif.History,
		Supervisors: sups.Stats,
	}, log)

	return &App{
		cfgm:          cfgm,
		sups:          sups,
		log:           log,
		logs:          logs,
		bus:           bus,
		recorder:      recorder,
		store:         store,
		adapter:       ad,
		notif:         notif,
		sched:         sched,
		admin:         adminSvc,
		cmdm:          cmdm,
		ops:           ops,
		traceShutdown: traceShutdown,
		updates:       make(chan kit.Update, 256),
	}, nil
}

// storeAuthorizer grants admin rights from the participant record.
func storeAuthorizer(store storage.Store) router.Authorizer {
	return router.AuthorizerFunc(func(ctx context.Context, userID int64) (bool, error) {
		p, ok, err := store.GetByExternalID(ctx, userID)
		if err != nil || !ok {
			return false, err
		}
		return p.IsAdmin, nil
	})
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if _, err := mapReminderConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		a.sups.Set("telegram.adapter", sup)
	}

	a.sup.Go0("eventbus.recorder", func(c context.Context) { a.recorder.Run(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := a.sched.Rebuild(rctx, time.Now()); err != nil {
		// The daily refresh retries; the bot still serves commands.
		a.log.Error("initial reminder rebuild failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menus", a.publishMenus)

	if cfg := a.cfgm.Get(); cfg.Ops.Enabled {
		a.ops.Start(a.sup.Context())
		a.sups.Set("opsapi", a.ops.Supervisor())
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

// publishMenus installs the default command menu and the admin menu for
// owners and stored admins.
func (a *App) publishMenus(ctx context.Context) {
	admins := slices.Clone(a.cfgm.Get().Telegram.OwnerUserIDs)
	if all, err := a.store.ListAll(ctx); err != nil {
		a.log.Warn("list admins for menus failed", logx.Err(err))
	} else {
		for _, p := range all {
			if p.IsAdmin && !slices.Contains(admins, p.ExternalID) {
				admins = append(admins, p.ExternalID)
			}
		}
	}
	if err := a.cmdm.PublishMenus(ctx, admins); err != nil {
		a.log.Warn("publish command menus failed", logx.Err(err))
	}
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, prev, next *Config) {
	sections, attrs := SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	if prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required")
	}

	a.logs.Apply(mapLogConfig(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	if d, err := parseDurationOrDefault("telegram.handler_timeout", next.Telegram.HandlerTimeout, 30*time.Second); err == nil {
		a.cmdm.SetTimeout(d)
	}
	a.admin.SetMaxAttempts(next.Pairing.MaxAttempts)

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if slices.Contains(sections, "reminders") {
		a.applyReminders(c, next)
	}

	a.ops.Reconfigure(c, mapOpsConfig(next))
	a.sups.Set("opsapi", a.ops.Supervisor())

	if !slices.Equal(prev.Telegram.OwnerUserIDs, next.Telegram.OwnerUserIDs) {
		a.sup.Go0("commands.menus", a.publishMenus)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyReminders swaps the schedule settings and rebuilds so pending jobs
// move to the new offsets, time and zone.
func (a *App) applyReminders(c context.Context, cfg *Config) {
	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
		return
	}
	if err := a.sched.Apply(rcfg); err != nil {
		a.log.Warn("apply reminders config failed", logx.Err(err))
		return
	}
	rctx, cancel := context.WithTimeout(c, 30*time.Second)
	defer cancel()
	if err := a.sched.Rebuild(rctx, time.Now()); err != nil {
		a.log.Warn("reminder rebuild after reload failed", logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs one shutdown step with an upper bound so one component
	// cannot stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("limit", limit))

		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < limit {
				limit = max(rem, 0)
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// Intake first, then the timers, then the outbound side.
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("scheduler", 2*time.Second, a.sched.Stop)
	step("opsapi", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("tracing", 2*time.Second, func(c context.Context) error { return a.traceShutdown(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
