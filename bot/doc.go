// Package bot implements the league management Discord bot.
//
// The bot bridges Discord guild lifecycle events and slash-command
// interactions to the league backend API. Incoming interactions are run
// through a dispatch pipeline (allow-list, cooldown, permission validation,
// audit logging) before the command handler executes. Guild create/delete
// and member lifecycle events are forwarded to the backend, with failures
// classified as conflict, transient or permanent to decide whether the
// guild owner is notified.
//
// A small read-only status API (gin) exposes liveness and runtime counters.
package bot
