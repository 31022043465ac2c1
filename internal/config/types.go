package config

// Config is the on-disk configuration. Duration fields are Go duration
// strings ("500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Pairing   PairingConfig   `json:"pairing"`

	// Notifier may be omitted; runtime defaults apply.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Ops     OpsConfig     `json:"ops"`
	Tracing TracingConfig `json:"tracing"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs always have admin rights, whatever the store says.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChatID receives warnings from the log pipeline. 0 disables it.
	LogChatID   int64  `json:"log_chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout"`
	Workers     int    `json:"workers,omitempty"`
	// HandlerTimeout bounds a single command handler.
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the participant store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./giftbot.db" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// DSN is the postgres connection string. Never logged.
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MinConns    int32  `json:"min_conns,omitempty"`    // postgres
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

type RemindersConfig struct {
	Timezone string `json:"timezone"`
	// Time is the local wall-clock time reminders fire at, "HH:MM".
	Time string `json:"time"`
	// Offsets are days before the birthday.
	Offsets     []int  `json:"offsets"`
	RefreshSpec string `json:"refresh_spec,omitempty"`
	FireTimeout string `json:"fire_timeout,omitempty"`
}

type PairingConfig struct {
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// NotifierConfig controls reminder delivery.
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// OpsConfig controls the read-only operator HTTP API.
//
// A non-loopback Addr requires Token; requests then carry
// "Authorization: Bearer <token>".
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8089"
	Token   string `json:"token,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof"`
}

type TracingConfig struct {
	Enabled bool `json:"enabled"`
	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint    string  `json:"endpoint,omitempty"`
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
}
