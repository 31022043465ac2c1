package app

import (
	"fmt"
	"time"

	"giftbot/internal/notifier"
	"giftbot/internal/observability/tracing"
	"giftbot/internal/opsapi"
	"giftbot/internal/reminder"
	logx "giftbot/pkg/logx"
)

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.LogChatID != 0,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapReminderConfig(cfg *Config) (reminder.Config, error) {
	r := cfg.Reminders
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return reminder.Config{}, fmt.Errorf("reminders.timezone: %w", err)
	}
	hour, minute, err := reminder.ParseClock(r.Time)
	if err != nil {
		return reminder.Config{}, fmt.Errorf("reminders.time: %w", err)
	}
	fire, err := parseDurationOrDefault("reminders.fire_timeout", r.FireTimeout, 30*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Location:    loc,
		Hour:        hour,
		Minute:      minute,
		Offsets:     append([]int(nil), r.Offsets...),
		RefreshSpec: r.RefreshSpec,
		FireTimeout: fire,
	}, nil
}

func mapNotifierConfig(cfg *Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		n = DefaultNotifier()
	}
	out := notifier.Config{
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = parseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = parseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return out, err
	}
	if out.SendTimeout, err = parseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 10*time.Second); err != nil {
		return out, err
	}
	if out.DedupWindow, err = parseDurationOrDefault("notifier.dedup_window", n.DedupWindow, time.Minute); err != nil {
		return out, err
	}
	return out, nil
}

func mapOpsConfig(cfg *Config) opsapi.Config {
	return opsapi.Config{
		Enabled:      cfg.Ops.Enabled,
		Addr:         cfg.Ops.Addr,
		Token:        cfg.Ops.Token,
		Pprof:        cfg.Ops.Pprof,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // pprof profiles stream for 30s
		IdleTimeout:  60 * time.Second,
	}
}

func mapTracingConfig(cfg *Config, version string) tracing.Config {
	return tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Version:     version,
	}
}
