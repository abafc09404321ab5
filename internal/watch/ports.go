package watch

import (
	"context"
	"time"
)

// DataSource is the upstream match data provider. Implementations own
// their transport concerns (timeouts, rate limiting); the orchestrator
// only distinguishes "data", "legitimately empty" and "error".
type DataSource interface {
	FetchMatches(ctx context.Context, eventID string) ([]Match, error)
	FetchResults(ctx context.Context, eventID string) ([]Result, error)
}

// Store is the durable subscription + notified-set state. It must
// survive process restarts; one-shot timers do not, so the planner is
// re-run from Store state at startup.
type Store interface {
	// ReplaceSubscription installs sub as the group's only subscription
	// (single-subscription mode) and returns the event ids it displaced,
	// including sub's own id when re-subscribing the same event.
	ReplaceSubscription(ctx context.Context, groupID int64, sub Subscription) ([]string, error)
	// RemoveSubscription reports whether the group actually had the event.
	RemoveSubscription(ctx context.Context, groupID int64, eventID string) (bool, error)

	// Subscriptions returns one subscription per distinct event id across
	// all groups.
	Subscriptions(ctx context.Context) (map[string]Subscription, error)
	GroupsByEvent(ctx context.Context, eventID string) ([]int64, error)

	IsNotified(ctx context.Context, kind NotifyKind, matchID string) (bool, error)
	MarkNotified(ctx context.Context, kind NotifyKind, matchID, eventID string) error
	// ClearEventNotified drops both notified sets' entries recorded under
	// eventID. Used on re-subscribe, which intentionally resets history.
	ClearEventNotified(ctx context.Context, eventID string) error
	// CleanNotified removes entries whose match id is not in valid,
	// returning how many were dropped.
	CleanNotified(ctx context.Context, valid map[string]struct{}) (int, error)

	Close() error
}

// JobControl abstracts the host timer facility: one recurring tick job
// plus keyed one-shot timers. Replacing a one-shot under the same key
// cancels the prior timer.
type JobControl interface {
	PauseRecurring()
	ResumeRecurring()
	RescheduleRecurring(interval time.Duration)

	ScheduleOnce(key string, at time.Time, fn func())
	CancelOnce(key string)
	OnceKeys() []string
}

// Sink delivers one notification to one destination group.
type Sink interface {
	Deliver(ctx context.Context, groupID int64, n Notification) error
}
