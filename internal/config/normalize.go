package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

const (
	DefaultTimezone    = "Europe/Moscow"
	DefaultReminderAt  = "12:00"
	DefaultRefreshSpec = "5 0 * * *"
	DefaultOpsAddr     = "127.0.0.1:8089"
	DefaultSQLitePath  = "./giftbot.db"
)

var DefaultOffsets = []int{21, 14, 7, 3, 1}

// Normalize fills omitted fields with defaults. It never fails; Validate
// reports what Normalize cannot repair.
func (c *Config) Normalize() {
	c.Telegram.Token = strings.TrimSpace(c.Telegram.Token)
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Telegram.Workers <= 0 {
		c.Telegram.Workers = 4
	}
	if strings.TrimSpace(c.Telegram.HandlerTimeout) == "" {
		c.Telegram.HandlerTimeout = "30s"
	}

	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Telegram.MinLevel == "" {
		c.Logging.Telegram.MinLevel = "warn"
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "", "sqlite3":
		c.Storage.Driver = "sqlite"
	case "postgresql", "pg":
		c.Storage.Driver = "postgres"
	}
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultSQLitePath
	}
	if c.Storage.Driver == "postgres" {
		if c.Storage.MinConns <= 0 {
			c.Storage.MinConns = 1
		}
		if c.Storage.MaxConns <= 0 {
			c.Storage.MaxConns = 10
		}
	}

	r := &c.Reminders
	if strings.TrimSpace(r.Timezone) == "" {
		r.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(r.Time) == "" {
		r.Time = DefaultReminderAt
	}
	if len(r.Offsets) == 0 {
		r.Offsets = append([]int(nil), DefaultOffsets...)
	}
	if strings.TrimSpace(r.RefreshSpec) == "" {
		r.RefreshSpec = DefaultRefreshSpec
	}
	if strings.TrimSpace(r.FireTimeout) == "" {
		r.FireTimeout = "30s"
	}

	if c.Pairing.MaxAttempts <= 0 {
		c.Pairing.MaxAttempts = 1000
	}

	if c.Notifier == nil {
		c.Notifier = DefaultNotifier()
	}

	if c.Ops.Enabled && strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = DefaultOpsAddr
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "giftbot"
	}
	if c.Tracing.SampleRatio <= 0 {
		c.Tracing.SampleRatio = 1
	}
}

// DefaultNotifier mirrors the runtime defaults. Failed deliveries are not
// retried unless retry_max is set.
func DefaultNotifier() *NotifierConfig {
	return &NotifierConfig{
		RatePerSec:      20,
		RetryMax:        0,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		SendTimeout:     "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}

// Validate checks a normalized config.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Telegram.Token == "" {
		add("telegram.token is required (or set GIFTBOT_TELEGRAM_TOKEN)")
	}
	for _, id := range c.Telegram.OwnerUserIDs {
		if id <= 0 {
			add("telegram.owner_user_ids: invalid user id %d", id)
		}
	}
	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"telegram.handler_timeout", c.Telegram.HandlerTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"reminders.fire_timeout", c.Reminders.FireTimeout},
	}
	if n := c.Notifier; n != nil {
		durations = append(durations,
			struct{ path, raw string }{"notifier.retry_base", n.RetryBase},
			struct{ path, raw string }{"notifier.retry_max_delay", n.RetryMaxDelay},
			struct{ path, raw string }{"notifier.send_timeout", n.SendTimeout},
			struct{ path, raw string }{"notifier.dedup_window", n.DedupWindow},
		)
		if n.RetryMax < 0 {
			add("notifier.retry_max must be >= 0")
		}
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Storage.Driver {
	case "sqlite", "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path is required when storage.driver=%s", c.Storage.Driver)
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add("storage.dsn is required when storage.driver=postgres (or set GIFTBOT_DATABASE_URL)")
		}
		if c.Storage.MaxConns < c.Storage.MinConns {
			add("storage.max_conns must be >= storage.min_conns")
		}
	case "memory":
	default:
		add("unknown storage.driver: %s", c.Storage.Driver)
	}

	if _, err := time.LoadLocation(c.Reminders.Timezone); err != nil {
		add("reminders.timezone: %v", err)
	}
	if _, err := time.Parse("15:04", c.Reminders.Time); err != nil {
		add("reminders.time: %q is not HH:MM", c.Reminders.Time)
	}
	for _, o := range c.Reminders.Offsets {
		if o < 0 {
			add("reminders.offsets: negative offset %d", o)
		}
	}
	if _, err := cron.ParseStandard(c.Reminders.RefreshSpec); err != nil {
		add("reminders.refresh_spec: %v", err)
	}

	if c.Ops.Enabled {
		if _, _, err := net.SplitHostPort(c.Ops.Addr); err != nil {
			add("ops.addr: %v", err)
		}
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		add("tracing.endpoint is required when tracing.enabled=true")
	}
	if c.Tracing.SampleRatio > 1 {
		add("tracing.sample_ratio must be in (0, 1]")
	}
	return errors.Join(errs...)
}

// Location returns the reminder timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Reminders.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsOwner reports whether id is listed in telegram.owner_user_ids.
func (c *Config) IsOwner(id int64) bool {
	return slices.Contains(c.Telegram.OwnerUserIDs, id)
}
