package router

import "giftbot/internal/runtime/supervisor"

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.New

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// ---- Restart helpers (for resilient worker loops) ----

type RestartOption = supervisor.RestartOption

var WithRestartBackoff = supervisor.WithRestartBackoff

var WithMaxRestarts = supervisor.WithMaxRestarts
