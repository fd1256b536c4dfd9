package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// TimeOfDay is a wall-clock time with second granularity.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

var reTimeOfDay = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})(?::(\d{2}))?\s*$`)

// ParseTimeOfDay accepts "HH:MM:SS" or "HH:MM" (seconds default to zero).
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	m := reTimeOfDay.FindStringSubmatch(raw)
	if m == nil {
		return TimeOfDay{}, errors.Newf("invalid time of day %q (use HH:MM:SS)", raw)
	}
	t := TimeOfDay{}
	t.Hour, _ = strconv.Atoi(m[1])
	t.Minute, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		t.Second, _ = strconv.Atoi(m[3])
	}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, errors.Wrapf(err, "invalid time of day %q", raw)
	}
	return t, nil
}

// MustTimeOfDay is ParseTimeOfDay for constants and tests.
func MustTimeOfDay(raw string) TimeOfDay {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Validate() error {
	switch {
	case t.Hour < 0 || t.Hour > 23:
		return errors.Newf("hour %d out of range", t.Hour)
	case t.Minute < 0 || t.Minute > 59:
		return errors.Newf("minute %d out of range", t.Minute)
	case t.Second < 0 || t.Second > 59:
		return errors.Newf("second %d out of range", t.Second)
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// after reports whether t is still ahead of the wall clock of w.
func (t TimeOfDay) after(w time.Time) bool {
	h, m, sec := w.Clock()
	if h != t.Hour {
		return t.Hour > h
	}
	if m != t.Minute {
		return t.Minute > m
	}
	return t.Second > sec
}

// daily is a cron.Schedule that fires once per calendar day in loc.
//
// cron's SpecSchedule matches wall-clock fields, so a time inside the
// spring-forward gap never matches and one inside the repeated fall-back hour
// matches twice. daily picks the calendar date first and lets time.Date
// normalise the wall time, which keeps exactly one fire per date.
type daily struct {
	at  TimeOfDay
	loc *time.Location
}

var _ cron.Schedule = daily{}

// Next returns the fire on the date of after if its wall clock has not yet
// reached the time of day, otherwise the fire on the following date.
func (d daily) Next(after time.Time) time.Time {
	after = after.In(d.loc)
	y, mo, day := after.Date()
	if !d.at.after(after) {
		day++
	}
	next := time.Date(y, mo, day, d.at.Hour, d.at.Minute, d.at.Second, 0, d.loc)
	if !next.After(after) {
		// the fall-back hour: today's time of day resolved to the earlier offset
		next = time.Date(y, mo, day+1, d.at.Hour, d.at.Minute, d.at.Second, 0, d.loc)
	}
	return next
}
