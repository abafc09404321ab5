package watch

import "time"

// Subscription tracks one event for one destination group.
// Dates are upstream month-day strings ("MM-DD"); the year is inferred
// at evaluation time (see ParseMonthDay).
type Subscription struct {
	EventID   string
	Title     string
	StartDate string
	EndDate   string
}

// Match is one scheduled or running match inside an event.
type Match struct {
	ID    string
	TeamA string
	TeamB string

	// IsLive is set when the upstream flags the match as running.
	IsLive bool

	// Scheduled is the resolved start time. Zero means the upstream no
	// longer reports a resolvable time for this match.
	Scheduled time.Time

	// TBD is set when the upstream explicitly marks the time as not yet
	// decided. A zero Scheduled without TBD reads as "about to start,
	// time hidden".
	TBD bool

	// MapsFormat is the best-of count (3 for a BO3), 0 if unknown.
	MapsFormat int
}

// MapResult is the per-map score line of a finished map.
type MapResult struct {
	Name   string
	ScoreA int
	ScoreB int
}

// MapDetail carries the per-map detail record (player lines) for one map.
// Sinks render it; the gate only cares that it exists.
type MapDetail struct {
	Map  string
	Rows []PlayerRow
}

type PlayerRow struct {
	Name   string
	Team   string
	Kills  int
	Deaths int
	Rating float64
}

// Result is a finished match as published by the upstream. The upstream
// publishes incrementally: the aggregate score usually appears before
// all per-map records do.
type Result struct {
	ID     string
	TeamA  string
	TeamB  string
	ScoreA int // maps won by TeamA
	ScoreB int
	Maps   []MapResult
	Detail []MapDetail
}

// Complete reports whether every map implied by the aggregate score has
// both a per-map score and a per-map detail record. An aggregate of 0-0
// is never complete.
func (r Result) Complete() bool {
	n := r.ScoreA + r.ScoreB
	if n <= 0 {
		return false
	}
	return len(r.Maps) >= n && len(r.Detail) >= n
}

// PollState is the controller's per-tick scratch record. It has a single
// writer (the tick in flight); ticks are serialized by the active-tick
// guard so no locking is needed.
type PollState struct {
	CurrentInterval time.Duration
	NextMinutesHint int // minutes until the closest upcoming match; -1 = none known
	HasLiveMatch    bool
	LastLiveSeenAt  time.Time
	HasFetchError   bool
}

// NotifyKind is the notification category a dedup set guards.
type NotifyKind int

const (
	NotifyStart NotifyKind = iota
	NotifyResult
)

func (k NotifyKind) String() string {
	switch k {
	case NotifyStart:
		return "start"
	case NotifyResult:
		return "result"
	default:
		return "unknown"
	}
}

// Notification is the payload handed to delivery sinks.
type Notification struct {
	Kind       NotifyKind
	EventID    string
	EventTitle string

	// Start notifications.
	Match        Match
	MinutesUntil int

	// Result notifications.
	Result Result
}

// MatchID returns the match identifier for whichever kind this is.
func (n Notification) MatchID() string {
	if n.Kind == NotifyResult {
		return n.Result.ID
	}
	return n.Match.ID
}

// UpcomingMatch is one row of the read-only upcoming projection.
type UpcomingMatch struct {
	MatchID      string
	TeamA        string
	TeamB        string
	EventID      string
	EventTitle   string
	StartTime    time.Time
	MinutesUntil int
	MapsFormat   int
}
