package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func at(day, h, m, s int) time.Time {
	return time.Date(2026, time.March, day, h, m, s, 0, time.UTC)
}

func noop(context.Context) error { return nil }

func newTestScheduler(start time.Time) (*Scheduler, *fakeClock) {
	clk := &fakeClock{now: start}
	return New(WithClock(clk.Now), WithLocation(time.UTC)), clk
}

func TestPollDueDailyDetection(t *testing.T) {
	s, clk := newTestScheduler(at(1, 0, 0, 0))
	id, err := s.AddDaily("announce:1", MustTimeOfDay("00:00:05"), noop)
	require.NoError(t, err)

	clk.Set(at(1, 0, 0, 4))
	assert.Empty(t, s.PollDue())

	clk.Set(at(1, 0, 0, 5))
	due := s.PollDue()
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
	assert.Equal(t, at(1, 0, 0, 5), due[0].Prev)
	assert.Equal(t, at(2, 0, 0, 5), due[0].Next)

	clk.Set(at(1, 0, 0, 6))
	assert.Empty(t, s.PollDue())
	clk.Set(at(1, 23, 59, 59))
	assert.Empty(t, s.PollDue())

	clk.Set(at(2, 0, 0, 5))
	require.Len(t, s.PollDue(), 1)
	assert.Equal(t, 1, s.Len())
}

func TestPollDueMissedDaysFireOnce(t *testing.T) {
	s, clk := newTestScheduler(at(1, 12, 0, 0))
	_, err := s.AddDaily("late", MustTimeOfDay("09:00:00"), noop)
	require.NoError(t, err)

	clk.Set(at(5, 10, 0, 0))
	due := s.PollDue()
	require.Len(t, due, 1)
	assert.Equal(t, at(2, 9, 0, 0), due[0].Prev)
	assert.Equal(t, at(6, 9, 0, 0), due[0].Next)
	assert.Empty(t, s.PollDue())
}

func TestRegisteredAtFireTimeWaitsForTomorrow(t *testing.T) {
	s, _ := newTestScheduler(at(1, 9, 0, 0))
	id, err := s.AddDaily("x", MustTimeOfDay("09:00:00"), noop)
	require.NoError(t, err)

	assert.Empty(t, s.PollDue())
	j, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, at(2, 9, 0, 0), j.Next)
}

// firesPerDay polls every second for days and counts fires by civil date.
// Like the subscription controller, every fire replaces its job with a fresh one.
func firesPerDay(t *testing.T, loc *time.Location, fireAt string, start time.Time, days int) map[string]int {
	t.Helper()
	clk := &fakeClock{now: start}
	s := New(WithClock(clk.Now), WithLocation(loc))
	_, err := s.AddDaily("dst", MustTimeOfDay(fireAt), noop)
	require.NoError(t, err)

	fires := map[string]int{}
	end := start.Add(time.Duration(days) * 24 * time.Hour)
	for now := start; now.Before(end); now = now.Add(time.Second) {
		clk.Set(now)
		for _, j := range s.PollDue() {
			fires[now.In(loc).Format("2006-01-02")]++
			require.NoError(t, s.Cancel(j.ID))
			_, err := s.AddDaily("dst", MustTimeOfDay(fireAt), noop)
			require.NoError(t, err)
		}
	}
	return fires
}

func TestDailyFiresOncePerDateAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 2026-03-08 02:30 does not exist in New York.
	spring := firesPerDay(t, ny, "02:30:00", time.Date(2026, time.March, 7, 12, 0, 0, 0, ny), 3)
	assert.Equal(t, map[string]int{"2026-03-08": 1, "2026-03-09": 1, "2026-03-10": 1}, spring)

	// 2026-11-01 01:30 happens twice in New York.
	fall := firesPerDay(t, ny, "01:30:00", time.Date(2026, time.October, 31, 12, 0, 0, 0, ny), 3)
	assert.Equal(t, map[string]int{"2026-11-01": 1, "2026-11-02": 1, "2026-11-03": 1}, fall)
}

func TestDailyNextInGapMovesForward(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	d := daily{at: MustTimeOfDay("02:30:00"), loc: ny}
	next := d.Next(time.Date(2026, time.March, 8, 1, 0, 0, 0, ny))
	assert.Equal(t, 8, next.Day())
	assert.Equal(t, 3, next.Hour())

	after := d.Next(next)
	assert.Equal(t, time.Date(2026, time.March, 9, 2, 30, 0, 0, ny), after)
}

func TestTiesFireInRegistrationOrder(t *testing.T) {
	s, clk := newTestScheduler(at(1, 0, 0, 0))
	var ids []JobID
	for _, name := range []string{"a", "b", "c"} {
		id, err := s.AddDaily(name, MustTimeOfDay("08:30"), noop)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, s.Cancel(ids[1]))

	clk.Set(at(1, 8, 30, 0))
	due := s.PollDue()
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].Name)
	assert.Equal(t, "c", due[1].Name)
}

func TestCancelTwiceIsUnknownJob(t *testing.T) {
	s, _ := newTestScheduler(at(1, 0, 0, 0))
	id, err := s.AddDaily("x", MustTimeOfDay("10:00:00"), noop)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(id))
	assert.False(t, s.Has(id))
	assert.True(t, errors.Is(s.Cancel(id), ErrUnknownJob))
	assert.True(t, errors.Is(s.Cancel(JobID(999)), ErrUnknownJob))
}

func TestCanceledJobNeverDue(t *testing.T) {
	s, clk := newTestScheduler(at(1, 0, 0, 0))
	id, err := s.AddDaily("x", MustTimeOfDay("00:00:01"), noop)
	require.NoError(t, err)
	require.NoError(t, s.Cancel(id))

	clk.Set(at(3, 0, 0, 0))
	assert.Empty(t, s.PollDue())
}

func TestAddDailyRejectsNilAction(t *testing.T) {
	s, _ := newTestScheduler(at(1, 0, 0, 0))
	_, err := s.AddDaily("x", MustTimeOfDay("10:00:00"), nil)
	assert.Error(t, err)
	_, err = s.AddDaily("x", TimeOfDay{Hour: 24}, noop)
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	s, _ := newTestScheduler(at(1, 0, 0, 0))
	_, err := s.AddDaily("announce:42", MustTimeOfDay("09:15:00"), noop)
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "UTC", snap.Location)
	require.Len(t, snap.Jobs, 1)
	assert.Equal(t, "announce:42", snap.Jobs[0].Name)
	assert.Equal(t, "09:15:00", snap.Jobs[0].At)
	assert.Equal(t, at(1, 9, 15, 0), snap.Jobs[0].Next)
}

func TestParseTimeOfDay(t *testing.T) {
	cases := map[string]struct {
		want TimeOfDay
		ok   bool
	}{
		"00:00:05":   {TimeOfDay{0, 0, 5}, true},
		"9:30":       {TimeOfDay{9, 30, 0}, true},
		" 23:59:59 ": {TimeOfDay{23, 59, 59}, true},
		"24:00:00":   {ok: false},
		"12:60":      {ok: false},
		"noon":       {ok: false},
		"":           {ok: false},
	}
	for in, tc := range cases {
		got, err := ParseTimeOfDay(in)
		if !tc.ok {
			assert.Error(t, err, in)
			continue
		}
		require.NoError(t, err, in)
		assert.Equal(t, tc.want, got, in)
	}
	assert.Equal(t, "09:05:00", MustTimeOfDay("9:05").String())
}
