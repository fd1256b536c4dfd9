package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// JobID identifies one scheduled job. IDs are never reused within a Scheduler,
// so a stale handle can always be told apart from its successor.
type JobID uint64

// Action is the work a job performs when it fires.
type Action func(ctx context.Context) error

// Job is a copy of a scheduled entry as seen by callers.
type Job struct {
	ID   JobID
	Name string
	At   TimeOfDay
	Next time.Time
	Prev time.Time
	Run  Action
}

type entry struct {
	id    JobID
	name  string
	at    TimeOfDay
	sched cron.Schedule
	next  time.Time
	prev  time.Time
	run   Action
}

func (e *entry) job() Job {
	return Job{ID: e.id, Name: e.name, At: e.at, Next: e.next, Prev: e.prev, Run: e.run}
}

type JobInfo struct {
	ID   JobID
	Name string
	At   string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Location string
	Now      time.Time
	Jobs     []JobInfo
}
