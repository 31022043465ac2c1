package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverrides are applied on top of the file on every parse, so a secret
// can live outside the watched config.
type envOverrides struct {
	TelegramToken   string `env:"GIFTBOT_TELEGRAM_TOKEN"`
	DatabaseURL     string `env:"GIFTBOT_DATABASE_URL"`
	StorageDriver   string `env:"GIFTBOT_STORAGE_DRIVER"`
	Timezone        string `env:"GIFTBOT_TIMEZONE"`
	ReminderOffsets []int  `env:"GIFTBOT_REMINDER_OFFSETS" envSeparator:","`
	LogLevel        string `env:"GIFTBOT_LOG_LEVEL"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error. Variables already set are kept.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment values onto cfg. environ nil means the
// process environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.TelegramToken != "" {
		cfg.Telegram.Token = o.TelegramToken
	}
	if o.DatabaseURL != "" {
		cfg.Storage.DSN = o.DatabaseURL
		if o.StorageDriver == "" && cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if o.StorageDriver != "" {
		cfg.Storage.Driver = o.StorageDriver
	}
	if o.Timezone != "" {
		cfg.Reminders.Timezone = o.Timezone
	}
	if len(o.ReminderOffsets) > 0 {
		cfg.Reminders.Offsets = o.ReminderOffsets
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return nil
}
