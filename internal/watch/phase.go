package watch

import (
	"strconv"
	"strings"
	"time"
)

// Phase is the derived lifecycle classification of an event at a point
// in time. It is recomputed on every evaluation and never stored.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseNotOngoing
	PhaseUpcoming
	PhaseOngoing
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseNotOngoing:
		return "NOT_ONGOING"
	case PhaseUpcoming:
		return "UPCOMING"
	case PhaseOngoing:
		return "ONGOING"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether the phase warrants polling at all.
func (p Phase) Active() bool { return p == PhaseOngoing || p == PhaseUpcoming }

// ParseMonthDay resolves an upstream "MM-DD" date against now in loc.
// The year is inferred as the nearest occurrence: a date more than 30
// days in the past is assumed to mean next year (upstream pages carry
// no year at all). endOfDay anchors the result at 23:59:59 instead of
// midnight, so end dates cover their whole day.
func ParseMonthDay(now time.Time, loc *time.Location, mmdd string, endOfDay bool) (time.Time, bool) {
	mmdd = strings.TrimSpace(mmdd)
	if mmdd == "" || !strings.Contains(mmdd, "-") {
		return time.Time{}, false
	}
	parts := strings.SplitN(mmdd, "-", 2)
	month, err1 := strconv.Atoi(parts[0])
	day, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}

	hour, min, sec := 0, 0, 0
	if endOfDay {
		hour, min, sec = 23, 59, 59
	}

	dt := time.Date(now.Year(), time.Month(month), day, hour, min, sec, 0, loc)
	if dt.Before(now.AddDate(0, 0, -30)) {
		dt = time.Date(now.Year()+1, time.Month(month), day, hour, min, sec, 0, loc)
	}
	return dt, true
}

// EvalPhase classifies a subscription. Rules apply in order:
//
//  1. ENDED      if now > end + grace
//  2. ONGOING    if start <= now <= end + grace
//  3. UPCOMING   if start - window <= now < start
//  4. NOT_ONGOING if now < start - window
//  5. UNKNOWN    if dates are missing or unparsable
//
// The end grace exists because a final match can finish after the
// nominal end date (timezone skew, schedule slip). UNKNOWN is a
// legitimate terminal classification meaning "do not poll", not an
// error.
func EvalPhase(now time.Time, loc *time.Location, sub Subscription, window, grace time.Duration) Phase {
	start, ok := ParseMonthDay(now, loc, sub.StartDate, false)
	if !ok {
		return PhaseUnknown
	}
	end, ok := ParseMonthDay(now, loc, sub.EndDate, true)
	if !ok {
		return PhaseUnknown
	}

	graceEnd := end.Add(grace)
	if now.After(graceEnd) {
		return PhaseEnded
	}
	if !now.Before(start) && !now.After(graceEnd) {
		return PhaseOngoing
	}
	windowStart := start.Add(-window)
	if !now.Before(windowStart) && now.Before(start) {
		return PhaseUpcoming
	}
	if now.Before(windowStart) {
		return PhaseNotOngoing
	}
	return PhaseUnknown
}
