// Package events reads the event calendar and answers "what is next".
package events

import "time"

type Status int

const (
	Past Status = iota
	Running
	Upcoming
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Upcoming:
		return "upcoming"
	default:
		return "past"
	}
}

// Event is one calendar entry. Start and End are whole days; End is inclusive.
type Event struct {
	Key   string
	Title string
	Start time.Time
	End   time.Time
	Link  string
}

// Status compares at date granularity in now's location.
func (e Event) Status(now time.Time) Status {
	today := civil(now)
	switch {
	case today.Before(civil(e.Start)):
		return Upcoming
	case today.After(civil(e.End)):
		return Past
	default:
		return Running
	}
}

// DaysLeft is the number of calendar days from today until Start: 0 today or
// while running, negative once the event is over.
func (e Event) DaysLeft(now time.Time) int {
	switch e.Status(now) {
	case Running:
		return 0
	default:
		return DaysBetween(now, e.Start)
	}
}

// DaysBetween counts calendar days from a to b, ignoring clock time and DST.
func DaysBetween(a, b time.Time) int {
	return int(civil(b).Sub(civil(a)).Hours() / 24)
}

// civil maps t to midnight UTC of its local calendar date so day arithmetic is exact.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
