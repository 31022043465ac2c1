// Package notifier delivers direct messages to participants.
//
// Sends are synchronous: callers such as the reminder scheduler get the final
// error back after rate limiting and retries. Identical text to the same chat
// inside the dedup window is suppressed, so a rebuild racing a fire cannot
// double-deliver a reminder.
package notifier
