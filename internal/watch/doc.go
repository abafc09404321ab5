// Package watch implements the polling orchestrator: it classifies
// subscribed events by lifecycle phase, adapts the polling interval to
// how close the next match is, schedules one-shot wake timers for
// dormant subscriptions, and gates notifications so every match is
// announced at most once per category.
//
// The package owns no I/O of its own. The upstream data source, the
// durable store, the timer facility and the delivery sinks are injected
// ports (see ports.go); everything here degrades to "try again next
// tick" and never crashes the process.
package watch
