// Package storage persists the watcher's durable state:
//
//   - Per-group event subscriptions (single-subscription mode)
//   - The two notified sets (start / result) enforcing at-most-once
//     notification per match per category
//
// Two drivers: "file" (single JSON snapshot, dependency-free) and
// "sqlite" (modernc.org/sqlite, cgo-free). Subscriptions and notified
// sets survive restarts; wake timers do not and are rebuilt from them.
package storage
