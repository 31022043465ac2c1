package app

import (
	"fmt"
	"time"

	"giftbot/internal/storage"
)

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	sc := cfg.Storage
	switch sc.Driver {
	case "sqlite", "file", "memory":
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, nil
	case "postgres":
		return storage.Config{Driver: sc.Driver, DSN: sc.DSN, MinConns: sc.MinConns, MaxConns: sc.MaxConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
