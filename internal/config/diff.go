package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "giftbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// log fields describing them. Secrets (token, dsn) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.LogChatID != nt.LogChatID ||
		ot.Workers != nt.Workers ||
		ot.HandlerTimeout != nt.HandlerTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", nt.PollTimeout),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oSt, nSt := oldCfg.Storage, newCfg.Storage
	if oSt.Driver != nSt.Driver || oSt.Path != nSt.Path || oSt.DSN != nSt.DSN ||
		oSt.BusyTimeout != nSt.BusyTimeout || oSt.MinConns != nSt.MinConns || oSt.MaxConns != nSt.MaxConns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nSt.Driver),
			logx.Bool("storage.path_set", nSt.Path != ""),
			logx.Bool("storage.dsn_set", nSt.DSN != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		r := newCfg.Reminders
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.String("reminders.timezone", r.Timezone),
			logx.String("reminders.time", r.Time),
			logx.Any("reminders.offsets", r.Offsets),
			logx.String("reminders.refresh_spec", r.RefreshSpec),
		)
	}

	if oldCfg.Pairing != newCfg.Pairing {
		changed = append(changed, "pairing")
		attrs = append(attrs, logx.Int("pairing.max_attempts", newCfg.Pairing.MaxAttempts))
	}

	oldN, newN := oldCfg.Notifier, newCfg.Notifier
	if oldN == nil {
		oldN = DefaultNotifier()
	}
	if newN == nil {
		newN = DefaultNotifier()
	}
	if *oldN != *newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.String("notifier.dedup_window", newN.DedupWindow),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}
	if oldCfg.Tracing != newCfg.Tracing {
		changed = append(changed, "tracing")
		attrs = append(attrs, logx.Bool("tracing.enabled", newCfg.Tracing.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "tracing":
			out = append(out, s)
		}
	}
	return out
}
