// Package reminder schedules birthday countdown messages for givers.
//
// The job set is never persisted. Rebuild derives it from the store and arms
// one-shot cron entries; a daily refresh and every admin mutation rebuild it
// again. Rebuild, Clear and job firing are serialized on one lock.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"giftbot/internal/participant"
	logx "giftbot/pkg/logx"
)

// Store is the read side the scheduler needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (participant.Participant, bool, error)
	ListWithGiver(ctx context.Context) ([]participant.Participant, error)
}

// Notifier delivers a message to a participant's chat.
type Notifier interface {
	Send(ctx context.Context, externalID int64, text string) error
}

type entry struct {
	Job
	id   cron.EntryID
	pass string
}

// Snapshot is the operator view of the scheduler.
type Snapshot struct {
	Running     bool      `json:"running"`
	Timezone    string    `json:"timezone"`
	Pending     int       `json:"pending"`
	Fired       uint64    `json:"fired"`
	Failed      uint64    `json:"failed"`
	Skipped     uint64    `json:"skipped"`
	LastRebuild time.Time `json:"last_rebuild"`
	LastPass    string    `json:"last_pass,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type Scheduler struct {
	store  Store
	notify Notifier
	log    logx.Logger
	now    func() time.Time

	// runMu serializes Rebuild, Clear and fire.
	runMu sync.Mutex

	mu        sync.RWMutex
	cfg       Config
	cron      *cron.Cron
	running   bool
	jobs      map[cron.EntryID]*entry
	refreshID cron.EntryID
	stats     Snapshot
}

type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func New(store Store, notify Notifier, cfg Config, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		store:  store,
		notify: notify,
		log:    log.With(logx.String("comp", "reminder")),
		now:    time.Now,
		cfg:    cfg.normalized(),
		jobs:   map[cron.EntryID]*entry{},
	}
	for _, o := range opts {
		o(s)
	}
	s.cron = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	return s
}

// Start runs the timer service and arms the daily refresh. It does not
// rebuild; callers do that once the store is ready.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.armRefreshLocked(); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.stats.Running = true
	s.log.Info("scheduler started",
		logx.String("tz", s.cfg.Location.String()),
		logx.String("refresh", s.cfg.RefreshSpec),
		logx.Any("offsets", s.cfg.Offsets),
	)
	return nil
}

// Stop cancels every pending job and waits for running ones.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.Clear()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stats.Running = false
	if s.refreshID != 0 {
		s.cron.Remove(s.refreshID)
		s.refreshID = 0
	}
	done := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply swaps the reminder config. Pending jobs keep their old instants
// until the next Rebuild.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.running && (old.RefreshSpec != cfg.RefreshSpec || old.Location.String() != cfg.Location.String()) {
		if err := s.armRefreshLocked(); err != nil {
			s.cfg = old
			return err
		}
	}
	return nil
}

func (s *Scheduler) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Scheduler) armRefreshLocked() error {
	spec := "CRON_TZ=" + s.cfg.Location.String() + " " + s.cfg.RefreshSpec
	id, err := s.cron.AddFunc(spec, s.refresh)
	if err != nil {
		return fmt.Errorf("reminder refresh spec %q: %w", s.cfg.RefreshSpec, err)
	}
	if s.refreshID != 0 {
		s.cron.Remove(s.refreshID)
	}
	s.refreshID = id
	return nil
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.Rebuild(ctx, s.now()); err != nil {
		s.log.Warn("scheduled refresh failed", logx.Err(err))
	}
}

// Rebuild clears every pending job and derives a fresh set from the store.
// On a store error the scheduler is left empty and the error is returned.
func (s *Scheduler) Rebuild(ctx context.Context, asOf time.Time) (err error) {
	ctx, span := otel.Tracer("giftbot/reminder").Start(ctx, "reminder.Rebuild")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	pass := uuid.NewString()

	// The previous job set stays armed until the store read succeeds.
	wards, err := s.store.ListWithGiver(ctx)
	if err != nil {
		err = fmt.Errorf("list participants with giver: %w", err)
		s.mu.Lock()
		s.stats.LastRebuild = s.now()
		s.stats.LastPass = pass
		s.stats.LastError = err.Error()
		kept := len(s.jobs)
		s.mu.Unlock()
		s.log.Error("rebuild failed; keeping previous jobs", logx.String("pass", pass), logx.Int("kept", kept), logx.Err(err))
		return err
	}

	cfg := s.config()
	planned := Plan(asOf, wards, cfg)

	s.clearLocked()
	s.mu.Lock()
	for _, j := range planned {
		e := &entry{Job: j, pass: pass}
		e.id = s.cron.Schedule(onceAt(j.At), cron.FuncJob(func() { s.fire(e) }))
		s.jobs[e.id] = e
	}
	s.stats.Pending = len(s.jobs)
	s.stats.LastRebuild = s.now()
	s.stats.LastPass = pass
	s.stats.LastError = ""
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("reminder.wards", len(wards)),
		attribute.Int("reminder.jobs", len(planned)),
		attribute.String("reminder.pass", pass),
	)
	s.log.Info("reminders rebuilt",
		logx.String("pass", pass),
		logx.Int("wards", len(wards)),
		logx.Int("jobs", len(planned)),
		logx.Time("as_of", asOf),
	)
	return nil
}

// Clear cancels every pending job.
func (s *Scheduler) Clear() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.clearLocked()
}

// clearLocked runs under runMu.
func (s *Scheduler) clearLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.jobs)
	for id := range s.jobs {
		s.cancelEntry(id)
	}
	s.jobs = map[cron.EntryID]*entry{}
	s.stats.Pending = 0
	if n > 0 {
		s.log.Debug("reminders cleared", logx.Int("count", n))
	}
}

// cancelEntry removes one cron entry. A panic from the timer service is
// logged and the remaining entries are still cancelled.
func (s *Scheduler) cancelEntry(id cron.EntryID) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("cancel reminder failed", logx.Int("entry", int(id)), logx.Any("panic", r))
		}
	}()
	s.cron.Remove(id)
}

// ListPending returns pending jobs ordered by fire instant.
func (s *Scheduler) ListPending() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.Job)
	}
	s.mu.RUnlock()
	sortJobs(out)
	return out
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.stats
	snap.Timezone = s.cfg.Location.String()
	snap.Pending = len(s.jobs)
	return snap
}

// fire delivers one reminder. The ward and giver are read fresh; a missing
// record, a changed pairing or a job cancelled while its trigger was in
// flight is a no-op.
func (s *Scheduler) fire(e *entry) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	cur, ok := s.jobs[e.id]
	if !ok || cur != e {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, e.id)
	s.cancelEntry(e.id)
	s.stats.Pending = len(s.jobs)
	s.mu.Unlock()

	cfg := s.config()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.FireTimeout)
	defer cancel()
	ctx, span := otel.Tracer("giftbot/reminder").Start(ctx, "reminder.Fire")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("reminder.giver", e.GiverID),
		attribute.Int64("reminder.ward", e.WardID),
		attribute.Int("reminder.offset", e.Offset),
	)

	log := s.log.With(
		logx.String("pass", e.pass),
		logx.Int64("giver_id", e.GiverID),
		logx.Int64("ward_id", e.WardID),
		logx.Int("offset", e.Offset),
	)

	ward, okW, err := s.store.GetByID(ctx, e.WardID)
	if err == nil && okW && ward.GiverID == e.GiverID {
		var giver participant.Participant
		var okG bool
		giver, okG, err = s.store.GetByID(ctx, e.GiverID)
		if err == nil && okG {
			s.deliver(ctx, log, giver, ward, e.Offset)
			return
		}
	}
	if err != nil {
		log.Warn("reminder abandoned: store unavailable", logx.Err(err))
		span.RecordError(err)
	} else {
		log.Debug("reminder skipped: participant gone or pairing changed")
	}
	s.mu.Lock()
	s.stats.Skipped++
	s.mu.Unlock()
}

func (s *Scheduler) deliver(ctx context.Context, log logx.Logger, giver, ward participant.Participant, offset int) {
	err := s.notify.Send(ctx, giver.ExternalID, Message(ward, offset))
	s.mu.Lock()
	if err != nil {
		s.stats.Failed++
	} else {
		s.stats.Fired++
	}
	s.mu.Unlock()
	if err != nil {
		log.Warn("reminder delivery failed", logx.Int64("chat_id", giver.ExternalID), logx.Err(err))
		return
	}
	log.Info("reminder sent", logx.Int64("chat_id", giver.ExternalID))
}
