package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func newManager(path string, environ map[string]string) *ConfigManager {
	m := NewConfigManager(path)
	if environ == nil {
		environ = map[string]string{}
	}
	m.SetEnviron(environ)
	return m
}

func TestParseJSONAppliesDefaults(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.json", `{"telegram":{"token":"x","owner_user_ids":[42]}}`)
	cfg, err := newManager(p, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reminders.Timezone != DefaultTimezone || cfg.Reminders.Time != "12:00" {
		t.Fatalf("reminder defaults: %+v", cfg.Reminders)
	}
	if !slices.Equal(cfg.Reminders.Offsets, []int{21, 14, 7, 3, 1}) {
		t.Fatalf("offsets = %v", cfg.Reminders.Offsets)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != DefaultSQLitePath {
		t.Fatalf("storage defaults: %+v", cfg.Storage)
	}
	if cfg.Notifier == nil || cfg.Notifier.RetryMax != 0 {
		t.Fatalf("notifier defaults: %+v", cfg.Notifier)
	}
	if !cfg.IsOwner(42) || cfg.IsOwner(7) {
		t.Fatalf("IsOwner wrong")
	}
	if cfg.Location().String() != "Europe/Moscow" {
		t.Fatalf("Location = %v", cfg.Location())
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown key":   `{"telegram":{"token":"x"},"plugins":{}}`,
		"nested key":    `{"reminders":{"tz":"UTC"}}`,
		"trailing data": `{"telegram":{"token":"x"}}{"x":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, "config.json", body)
			if _, err := newManager(p, nil).Parse(); err == nil {
				t.Fatalf("Parse accepted %s", body)
			}
		})
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	body := `
telegram:
  token: abc
  owner_user_ids: [1, 2]
reminders:
  timezone: UTC
  time: "09:30"
  offsets: [7, 1]
storage:
  driver: memory
`
	p := writeFile(t, "config.yaml", body)
	cfg, err := newManager(p, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "abc" || len(cfg.Telegram.OwnerUserIDs) != 2 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Reminders.Time != "09:30" || !slices.Equal(cfg.Reminders.Offsets, []int{7, 1}) {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}

	bad := writeFile(t, "bad.yml", "storage:\n  engine: sqlite\n")
	if _, err := newManager(bad, nil).Parse(); err == nil {
		t.Fatalf("yaml with unknown key accepted")
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.json", `{
		"telegram": {"token": "from-file"},
		"reminders": {"timezone": "UTC", "offsets": [3]},
		"logging": {"level": "info"}
	}`)
	m := newManager(p, map[string]string{
		"GIFTBOT_TELEGRAM_TOKEN":   "from-env",
		"GIFTBOT_DATABASE_URL":     "postgres://u:p@localhost/gifts",
		"GIFTBOT_TIMEZONE":         "Asia/Tokyo",
		"GIFTBOT_REMINDER_OFFSETS": "10,5,2",
		"GIFTBOT_LOG_LEVEL":        "debug",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage.Driver != "postgres" || !strings.HasPrefix(cfg.Storage.DSN, "postgres://") {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Storage.MinConns != 1 || cfg.Storage.MaxConns != 10 {
		t.Fatalf("pool bounds = %d/%d", cfg.Storage.MinConns, cfg.Storage.MaxConns)
	}
	if cfg.Reminders.Timezone != "Asia/Tokyo" || !slices.Equal(cfg.Reminders.Offsets, []int{10, 5, 2}) {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestEnvDriverOverridesDatabaseURLGuess(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.json", `{"telegram": {"token": "t"}}`)
	cfg, err := newManager(p, map[string]string{
		"GIFTBOT_DATABASE_URL":   "postgres://x",
		"GIFTBOT_STORAGE_DRIVER": "memory",
	}).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad timezone", func(c *Config) { c.Reminders.Timezone = "Mars/Olympus" }, "reminders.timezone"},
		{"bad time", func(c *Config) { c.Reminders.Time = "25:99" }, "reminders.time"},
		{"negative offset", func(c *Config) { c.Reminders.Offsets = []int{7, -1} }, "negative offset"},
		{"bad refresh", func(c *Config) { c.Reminders.RefreshSpec = "every day" }, "refresh_spec"},
		{"bad duration", func(c *Config) { c.Telegram.PollTimeout = "soon" }, "poll_timeout"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown storage.driver"},
		{"ops addr", func(c *Config) { c.Ops = OpsConfig{Enabled: true, Addr: "nope"} }, "ops.addr"},
		{"tracing endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
		{"owner id", func(c *Config) { c.Telegram.OwnerUserIDs = []int64{0} }, "owner_user_ids"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Telegram: TelegramConfig{Token: "t"}}
			cfg.Normalize()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := &Config{Telegram: TelegramConfig{Token: "t"}}
	a.Normalize()
	b := *a
	b.Reminders.Offsets = []int{7}
	b.Ops = OpsConfig{Enabled: true, Addr: DefaultOpsAddr}
	b.Tracing.Enabled = true

	changed, attrs := SummarizeConfigChange(a, &b)
	if !slices.Equal(changed, []string{"ops", "reminders", "tracing"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
	if got := RestartRequired(changed); !slices.Equal(got, []string{"tracing"}) {
		t.Fatalf("RestartRequired = %v", got)
	}
	if changed, _ := SummarizeConfigChange(a, a); len(changed) != 0 {
		t.Fatalf("self diff = %v", changed)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2m", time.Second); err != nil || d != 2*time.Minute {
		t.Fatalf("2m: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
}

func TestWatchPublishesValidReloads(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.json", `{"telegram":{"token":"t"},"reminders":{"offsets":[7]}}`)
	m := newManager(p, nil)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Invalid content is rejected; the next valid write goes through.
	// Writes repeat until the watcher has registered.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		_ = os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"reminders":{"time":"nope"}}`), 0o600)
		time.Sleep(40 * time.Millisecond)
		_ = os.WriteFile(p, []byte(`{"telegram":{"token":"t"},"reminders":{"offsets":[3,1]}}`), 0o600)
		select {
		case cfg := <-sub:
			if cfg.Reminders.Time != DefaultReminderAt || !slices.Equal(cfg.Reminders.Offsets, []int{3, 1}) {
				t.Fatalf("published %+v", cfg.Reminders)
			}
			if got := m.Get(); got != cfg {
				t.Fatalf("Get not updated")
			}
			cancel()
			<-done
			return
		case <-deadline:
			t.Fatalf("no reload published")
		case <-tick.C:
		}
	}
}

func TestLoadDotEnvMissingFileIsFine(t *testing.T) {
	t.Parallel()

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}
