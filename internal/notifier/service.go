package notifier

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"giftbot/internal/eventbus"
	kit "giftbot/internal/transport"
	logx "giftbot/pkg/logx"
)

// Sender is the slice of kit.Adapter the notifier uses.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

var ErrNoSender = errors.New("notifier has no sender")

// Service delivers direct messages with rate limiting, retry and dedup. It is
// safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus

	dmu   sync.Mutex
	dedup map[uint64]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	sent, failed, deduped atomic.Uint64
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		dedup:  map[uint64]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text to a private chat. A suppressed duplicate returns nil.
func (s *Service) Send(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	cfg, lim, snd := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if snd == nil {
		return ErrNoSender
	}

	key := dedupKey(chatID, text)
	if cfg.DedupWindow > 0 && !s.dedupAllow(key, cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.deduped.Add(1)
		s.log.Debug("duplicate message suppressed", logx.Int64("chat_id", chatID))
		return nil
	}

	attempts, err := s.sendWithRetry(ctx, cfg, lim, snd, chatID, text)
	s.record(chatID, text, attempts, err)
	if err != nil && cfg.DedupWindow > 0 {
		// Let a later retry by the caller through.
		s.dmu.Lock()
		delete(s.dedup, key)
		s.dmu.Unlock()
	}
	return err
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, snd Sender, chatID int64, text string) (int, error) {
	maxAttempts := 1 + cfg.RetryMax
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return attempt - 1, werr
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = snd.SendText(callCtx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			return attempt, nil
		}
		if errors.Is(err, kit.ErrUndeliverable) || ctx.Err() != nil || attempt == maxAttempts {
			return attempt, err
		}
		s.log.Debug("send failed, retrying", logx.Int64("chat_id", chatID), logx.Int("attempt", attempt), logx.Err(err))

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt, ctx.Err()
		case <-t.C:
		}
	}
	return maxAttempts, err
}

func (s *Service) record(chatID int64, text string, attempts int, err error) {
	item := HistoryItem{At: time.Now(), ChatID: chatID, Text: text}
	ev := Event{ChatID: chatID, Attempts: attempts, At: item.At}
	typ := "notifier.sent"
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		typ = "notifier.failed"
	} else {
		s.sent.Add(1)
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: item.At, Data: ev})
	}
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load(), Deduped: s.deduped.Load()}
}

// LogSender adapts the service for the log chat sink.
func (s *Service) LogSender() logx.SendFunc {
	return func(ctx context.Context, chatID int64, threadID int, text string) error {
		s.mu.Lock()
		snd := s.sender
		s.mu.Unlock()
		if snd == nil {
			return ErrNoSender
		}
		_, err := snd.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	}
}

func dedupKey(chatID int64, text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(chatID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum64()
}

func (s *Service) dedupAllow(key uint64, window time.Duration, max int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > max {
		var oldest uint64
		var at time.Time
		first := true
		for k, t := range s.dedup {
			if first || t.Before(at) {
				oldest, at, first = k, t, false
			}
		}
		delete(s.dedup, oldest)
	}
	return true
}

// retryDelay is exponential from RetryBase with 0.7..1.3 jitter, capped at
// RetryMaxDelay. attempt starts at 1.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
