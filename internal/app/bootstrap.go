package app

import (
	"time"

	"giftbot/internal/config"
	"giftbot/internal/runtime/supervisor"
	"giftbot/internal/transport/telegram/router"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

var DefaultNotifier = config.DefaultNotifier

var SummarizeConfigChange = config.SummarizeConfigChange

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

type SupervisorRegistry = router.SupervisorRegistry

var NewSupervisor = supervisor.New

var NewSupervisorRegistry = router.NewSupervisorRegistry

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// ---- Router ----

type CommandManager = router.CommandManager

var NewCommandManager = router.NewCommandManager
