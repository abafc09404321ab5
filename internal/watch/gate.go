package watch

import "time"

// startStage names which signal made a match eligible for a start
// notification. Each stage is sufficient on its own.
type startStage int

const (
	stageNone startStage = iota
	// stageLive: upstream explicitly flags the match as running.
	stageLive
	// stageHidden: upstream stopped reporting a resolvable scheduled
	// time without flagging TBD, read as "about to start, time hidden".
	stageHidden
	// stageOverdue: the scheduled time passed within the overdue
	// threshold and the match is still not flagged live; the upstream is
	// presumed late, not wrong.
	stageOverdue
)

func (s startStage) String() string {
	switch s {
	case stageLive:
		return "live"
	case stageHidden:
		return "hidden_schedule"
	case stageOverdue:
		return "overdue"
	default:
		return "none"
	}
}

// classifyStart decides start-notification eligibility for one match.
func classifyStart(now time.Time, m Match, overdue time.Duration) startStage {
	if m.IsLive {
		return stageLive
	}
	if m.Scheduled.IsZero() {
		if m.TBD {
			return stageNone
		}
		return stageHidden
	}
	late := now.Sub(m.Scheduled)
	if late > 0 && late <= overdue {
		return stageOverdue
	}
	return stageNone
}
