// Package logx is giftbot's structured logging layer.
//
// Logger wraps zerolog behind small Field helpers. Service owns the sinks:
//   - console output with short timestamps and file:line callers
//   - an optional JSON file
//   - an optional Telegram admin chat (min level, rate limited, never blocks)
//
// Service.Apply swaps sinks at runtime so config reloads take effect without
// re-creating loggers held by components.
package logx
