// Package admin implements the administrative actions on the gift pool.
//
// Every mutation commits to the store first, then appends an audit entry,
// then rebuilds the reminder schedule. A failed rebuild does not roll the
// mutation back; it is reported as ErrRemindersStale.
package admin

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"giftbot/internal/eventbus"
	"giftbot/internal/pairing"
	"giftbot/internal/participant"
	"giftbot/internal/storage"
	logx "giftbot/pkg/logx"
)

var (
	ErrRemindersStale = errors.New("changes saved but reminders were not rebuilt")
	ErrSelfAction     = errors.New("admins cannot apply this action to themselves")
	ErrNotAdmin       = errors.New("participant is not an admin")
	ErrNeedTwoNames   = errors.New("two quoted names are required")
)

// Rebuilder is the reminder scheduler's rebuild entry point.
type Rebuilder interface {
	Rebuild(ctx context.Context, asOf time.Time) error
}

// Pair is one giver -> ward edge with both records after the write.
type Pair struct {
	Giver participant.Participant
	Ward  participant.Participant
}

type Service struct {
	store storage.Store
	sched Rebuilder
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	rngMu       sync.Mutex
	rng         *rand.Rand
	maxAttempts int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRand fixes the pairing RNG, for reproducible tests.
func WithRand(rng *rand.Rand) Option { return func(s *Service) { s.rng = rng } }

func WithMaxAttempts(n int) Option { return func(s *Service) { s.maxAttempts = n } }

func New(store storage.Store, sched Rebuilder, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:       store,
		sched:       sched,
		bus:         bus,
		log:         log.With(logx.String("comp", "admin")),
		now:         time.Now,
		maxAttempts: pairing.DefaultMaxAttempts,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// SetMaxAttempts changes the random pairing budget on hot reload.
func (s *Service) SetMaxAttempts(n int) {
	if n <= 0 {
		n = pairing.DefaultMaxAttempts
	}
	s.rngMu.Lock()
	s.maxAttempts = n
	s.rngMu.Unlock()
}

// SetPair links giver -> ward by internal id.
func (s *Service) SetPair(ctx context.Context, actor, giverID, wardID int64) (Pair, error) {
	target := fmt.Sprintf("%d->%d", giverID, wardID)
	p, err := s.writeEdge(ctx, giverID, wardID)
	return p, s.finish(ctx, actor, "set_pair", target, err)
}

// SetPairByName links two participants named in text. Quoted names are
// matched exactly; otherwise names are searched for in the free text.
func (s *Service) SetPairByName(ctx context.Context, actor int64, text string) (Pair, error) {
	text = strings.TrimSpace(text)
	giver, ward, err := s.resolveNames(ctx, text)
	if err != nil {
		return Pair{}, s.finish(ctx, actor, "set_pair_name", text, err)
	}
	target := fmt.Sprintf("%s->%s", giver.Name, ward.Name)
	p, err := s.writeEdge(ctx, giver.ID, ward.ID)
	return p, s.finish(ctx, actor, "set_pair_name", target, err)
}

func (s *Service) resolveNames(ctx context.Context, text string) (participant.Participant, participant.Participant, error) {
	var none participant.Participant
	if strings.ContainsAny(text, "\"«“") {
		names := pairing.QuotedNames(text)
		if len(names) < 2 {
			return none, none, ErrNeedTwoNames
		}
		picked := make([]participant.Participant, 2)
		for i, n := range names[:2] {
			cands, err := s.store.FindByName(ctx, n)
			if err != nil {
				return none, none, fmt.Errorf("find %q: %w", n, err)
			}
			if picked[i], err = pairing.ExactMatch(n, cands); err != nil {
				return none, none, err
			}
		}
		return picked[0], picked[1], nil
	}
	pool, err := s.store.ListAll(ctx)
	if err != nil {
		return none, none, fmt.Errorf("list participants: %w", err)
	}
	return pairing.ResolvePair(text, pool)
}

func (s *Service) writeEdge(ctx context.Context, giverID, wardID int64) (Pair, error) {
	if err := s.store.SetPairingEdge(ctx, giverID, wardID); err != nil {
		return Pair{}, err
	}
	g, _, err := s.store.GetByID(ctx, giverID)
	if err != nil {
		return Pair{}, err
	}
	w, _, err := s.store.GetByID(ctx, wardID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Giver: g, Ward: w}, nil
}

// RandomPairing replaces every edge with a fresh single-cycle assignment.
func (s *Service) RandomPairing(ctx context.Context, actor int64) (a pairing.Assignment, err error) {
	ctx, span := otel.Tracer("giftbot/admin").Start(ctx, "admin.RandomPairing")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	all, err := s.store.ListAll(ctx)
	if err != nil {
		return a, s.finish(ctx, actor, "random", "all", fmt.Errorf("list participants: %w", err))
	}
	ids := make([]int64, 0, len(all))
	for _, p := range all {
		ids = append(ids, p.ID)
	}

	s.rngMu.Lock()
	a, err = pairing.Assign(ids, s.rng, s.maxAttempts)
	s.rngMu.Unlock()
	span.SetAttributes(attribute.Int("pairing.participants", len(ids)), attribute.Int("pairing.attempts", a.Attempts))
	if err != nil {
		return pairing.Assignment{}, s.finish(ctx, actor, "random", "all", err)
	}
	if err := s.store.ApplyPairing(ctx, a.Ward); err != nil {
		return pairing.Assignment{}, s.finish(ctx, actor, "random", "all", fmt.Errorf("apply pairing: %w", err))
	}
	s.log.Info("random pairing applied", logx.Int("pairs", len(a.Ward)), logx.Int("attempts", a.Attempts), logx.Int64s("order", a.Order))
	return a, s.finish(ctx, actor, "random", fmt.Sprintf("%d pairs", len(a.Ward)), nil)
}

// DeleteParticipant removes a participant by messenger id and detaches its
// edges.
func (s *Service) DeleteParticipant(ctx context.Context, actor, externalID int64) (participant.Participant, error) {
	target := fmt.Sprintf("tg:%d", externalID)
	if actor == externalID {
		return participant.Participant{}, s.finish(ctx, actor, "delete", target, ErrSelfAction)
	}
	p, err := s.byExternal(ctx, externalID)
	if err == nil {
		err = s.store.Delete(ctx, p.ID)
	}
	return p, s.finish(ctx, actor, "delete", target, err)
}

// ResetEdges detaches one participant from its ward and giver.
func (s *Service) ResetEdges(ctx context.Context, actor, id int64) (participant.Participant, error) {
	err := s.store.ClearEdges(ctx, id)
	var p participant.Participant
	if err == nil {
		p, _, err = s.store.GetByID(ctx, id)
	}
	return p, s.finish(ctx, actor, "reset", fmt.Sprintf("%d", id), err)
}

func (s *Service) ResetAll(ctx context.Context, actor int64) error {
	return s.finish(ctx, actor, "reset", "all", s.store.ClearAllEdges(ctx))
}

func (s *Service) MakeAdmin(ctx context.Context, actor, externalID int64) (participant.Participant, error) {
	return s.setAdmin(ctx, actor, externalID, true)
}

// RevokeAdmin clears the admin flag. Admins cannot revoke themselves.
func (s *Service) RevokeAdmin(ctx context.Context, actor, externalID int64) (participant.Participant, error) {
	if actor == externalID {
		return participant.Participant{}, s.finish(ctx, actor, "admin_revoke", fmt.Sprintf("tg:%d", externalID), ErrSelfAction)
	}
	return s.setAdmin(ctx, actor, externalID, false)
}

func (s *Service) setAdmin(ctx context.Context, actor, externalID int64, on bool) (participant.Participant, error) {
	action := "make_admin"
	if !on {
		action = "admin_revoke"
	}
	target := fmt.Sprintf("tg:%d", externalID)
	p, err := s.byExternal(ctx, externalID)
	if err == nil && !on && !p.IsAdmin {
		err = ErrNotAdmin
	}
	if err == nil {
		p, err = s.store.Update(ctx, p.ID, participant.Patch{IsAdmin: &on})
	}
	// Admin flags do not affect reminders.
	s.audit(ctx, actor, action, target, err)
	return p, err
}

// Refresh rebuilds reminders after a profile change made outside this
// service, such as a birthday edit.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.sched.Rebuild(ctx, s.now()); err != nil {
		s.log.Warn("reminder rebuild failed", logx.Err(err))
		return fmt.Errorf("%w: %w", ErrRemindersStale, err)
	}
	return nil
}

func (s *Service) byExternal(ctx context.Context, externalID int64) (participant.Participant, error) {
	p, ok, err := s.store.GetByExternalID(ctx, externalID)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, fmt.Errorf("%w: telegram id %d", storage.ErrNotFound, externalID)
	}
	return p, nil
}

// finish audits the action and, when it succeeded, rebuilds reminders.
func (s *Service) finish(ctx context.Context, actor int64, action, target string, err error) error {
	s.audit(ctx, actor, action, target, err)
	if err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Service) audit(ctx context.Context, actor int64, action, target string, err error) {
	e := storage.AuditEntry{At: s.now(), ActorID: actor, Action: action, Target: target, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.store.AppendAudit(ctx, e); aerr != nil {
		s.log.Warn("audit write failed", logx.String("action", action), logx.Err(aerr))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "admin." + action, Time: e.At, Data: e})
	}
	log := s.log.With(logx.Int64("actor", actor), logx.String("action", action), logx.String("target", target))
	if err != nil {
		log.Info("admin action rejected", logx.Err(err))
		return
	}
	log.Info("admin action applied")
}
