// Package opsapi serves a small read-only HTTP API for operators: health,
// the reminder schedule, the pair table, recent domain events and recent
// reminder deliveries.
package opsapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"giftbot/internal/eventbus"
	"giftbot/internal/notifier"
	"giftbot/internal/participant"
	"giftbot/internal/reminder"
	"giftbot/internal/runtime/supervisor"
	logx "giftbot/pkg/logx"
)

// Store is the read side of storage.Store the API needs.
type Store interface {
	ListAll(ctx context.Context) ([]participant.Participant, error)
	Ping(ctx context.Context) error
}

type Scheduler interface {
	ListPending() []reminder.Job
	Snapshot() reminder.Snapshot
}

type Deps struct {
	Store     Store
	Scheduler Scheduler
	Events    *eventbus.Recorder
	// Notifier, Deliveries and Supervisors are optional.
	Notifier    func() notifier.Stats
	Deliveries  func() []notifier.HistoryItem
	Supervisors func() map[string]supervisor.Snapshot
	Log         logx.Logger
	Now         func() time.Time
}

type handler struct {
	d Deps
}

// NewRouter builds the API. A non-empty cfg.Token is required as a bearer
// token on every route except /healthz.
func NewRouter(d Deps, cfg Config) *chi.Mux {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handler{d: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(requestLog(d.Log))

	r.Get("/healthz", h.health)
	r.Group(func(r chi.Router) {
		r.Use(bearer(cfg.Token))
		r.Get("/reminders", h.reminders)
		r.Get("/pairs", h.pairs)
		r.Get("/events", h.events)
		r.Get("/deliveries", h.deliveries)
		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

type healthResponse struct {
	Status      string                         `json:"status"`
	Time        time.Time                      `json:"time"`
	Store       string                         `json:"store"`
	Scheduler   reminder.Snapshot              `json:"scheduler"`
	Notifier    *notifier.Stats                `json:"notifier,omitempty"`
	Supervisors map[string]supervisor.Snapshot `json:"supervisors,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Time: h.d.Now(), Store: "ok"}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.d.Store.Ping(ctx); err != nil {
		resp.Status, resp.Store = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	resp.Scheduler = h.d.Scheduler.Snapshot()
	if !resp.Scheduler.Running || resp.Scheduler.LastError != "" {
		resp.Status = "degraded"
	}
	if h.d.Notifier != nil {
		st := h.d.Notifier()
		resp.Notifier = &st
	}
	if h.d.Supervisors != nil {
		resp.Supervisors = h.d.Supervisors()
	}
	respondWithJSON(w, code, resp)
}

func (h *handler) reminders(w http.ResponseWriter, _ *http.Request) {
	jobs := h.d.Scheduler.ListPending()
	if jobs == nil {
		jobs = []reminder.Job{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"count": len(jobs), "jobs": jobs})
}

type pairRow struct {
	GiverID      int64  `json:"giver_id"`
	GiverName    string `json:"giver_name"`
	WardID       int64  `json:"ward_id"`
	WardName     string `json:"ward_name"`
	WardBirthday string `json:"ward_birthday"`
}

func (h *handler) pairs(w http.ResponseWriter, r *http.Request) {
	all, err := h.d.Store.ListAll(r.Context())
	if err != nil {
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	byID := make(map[int64]participant.Participant, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	rows := []pairRow{}
	for _, g := range all {
		ward, ok := byID[g.WardID]
		if !g.HasWard() || !ok {
			continue
		}
		rows = append(rows, pairRow{
			GiverID:      g.ID,
			GiverName:    g.DisplayName(),
			WardID:       ward.ID,
			WardName:     ward.DisplayName(),
			WardBirthday: ward.Birthday.String(),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].GiverID < rows[j].GiverID })
	respondWithJSON(w, http.StatusOK, rows)
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	n, ok := limitParam(w, r)
	if !ok {
		return
	}
	events := []eventbus.Event{}
	if h.d.Events != nil {
		events = append(events, h.d.Events.Recent(n)...)
	}
	respondWithJSON(w, http.StatusOK, events)
}

// deliveries returns the last n notifier sends, oldest first.
func (h *handler) deliveries(w http.ResponseWriter, r *http.Request) {
	n, ok := limitParam(w, r)
	if !ok {
		return
	}
	items := []notifier.HistoryItem{}
	if h.d.Deliveries != nil {
		items = append(items, h.d.Deliveries()...)
	}
	if len(items) > n {
		items = items[len(items)-n:]
	}
	respondWithJSON(w, http.StatusOK, items)
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 50, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		respondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return v, true
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, msg string) {
	respondWithJSON(w, code, map[string]string{"error": msg})
}

func bearer(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondWithError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("ops request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("req_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
