package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFormatChatLine(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"error","time":"x","message":"rebuild failed","err":"db down","comp":"reminder"}`)
	got := formatChatLine(line)
	want := "[ERROR] rebuild failed\n- comp=reminder\n- err=db down"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}

	if got := formatChatLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-JSON line = %q", got)
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	if got := clip("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("clip = %q", got)
	}
	if got := clip("short", 12); got != "short" {
		t.Fatalf("clip = %q", got)
	}
}

func TestWithKeepsFieldsAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))
	log.Debug("hidden")
	log.Info("shown", Int("n", 3), Err(errors.New("boom")))

	out := strings.TrimSpace(buf.String())
	if strings.Count(out, "\n") != 0 {
		t.Fatalf("expected exactly one line, got %q", out)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["comp"] != "test" || m["n"] != float64(3) || m["message"] != "shown" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if _, ok := m[zerolog.ErrorFieldName]; !ok {
		t.Fatalf("missing error field: %v", m)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
}

func TestServiceRoutesWarningsToChat(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
		done = make(chan struct{}, 4)
	)
	send := func(_ context.Context, chatID int64, _ int, text string) error {
		mu.Lock()
		sent = append(sent, text)
		mu.Unlock()
		if chatID != -100 {
			t.Errorf("chatID = %d, want -100", chatID)
		}
		done <- struct{}{}
		return nil
	}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 10},
	}, send)
	defer svc.Close()

	log.Info("not forwarded")
	log.Warn("forwarded", String("k", "v"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("chat sink did not deliver")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], "[WARN] forwarded") {
		t.Fatalf("sent = %q", sent)
	}
}
