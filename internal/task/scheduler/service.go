package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "eventbot/pkg/logx"
)

// ErrUnknownJob is returned by Cancel for a handle that is not pending. Callers
// that hold a handle they believe is live should treat it as a desync.
var ErrUnknownJob = errors.New("scheduler: unknown job")

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) {
		if !log.IsZero() {
			s.log = log
		}
	}
}

// WithClock replaces time.Now. Tests drive the scheduler with a fake clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone wall-clock times are interpreted in (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// Scheduler holds pending daily jobs ordered by registration.
type Scheduler struct {
	mu sync.Mutex

	log logx.Logger
	now func() time.Time
	loc *time.Location

	seq  JobID
	jobs []*entry // ascending id == registration order
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		log: logx.Nop(),
		now: time.Now,
		loc: time.Local,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddDaily registers a job firing once per calendar day at the given time.
func (s *Scheduler) AddDaily(name string, at TimeOfDay, run Action) (JobID, error) {
	if run == nil {
		return 0, errors.Newf("scheduler: nil action for %q", name)
	}
	if err := at.Validate(); err != nil {
		return 0, errors.Wrap(err, "scheduler")
	}
	sched := daily{at: at, loc: s.loc}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e := &entry{
		id:    s.seq,
		name:  strings.TrimSpace(name),
		at:    at,
		sched: sched,
		next:  sched.Next(s.now().In(s.loc)),
		run:   run,
	}
	s.jobs = append(s.jobs, e)
	s.log.Debug("job added", logx.JobID(uint64(e.id)), logx.String("name", e.name), logx.Time("next", e.next))
	return e.id, nil
}

// Cancel removes a pending job. A second Cancel of the same id fails with ErrUnknownJob.
func (s *Scheduler) Cancel(id JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.indexLocked(id)
	if !ok {
		return errors.Wrapf(ErrUnknownJob, "job %d", id)
	}
	s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
	return nil
}

func (s *Scheduler) indexLocked(id JobID) (int, bool) {
	i := sort.Search(len(s.jobs), func(i int) bool { return s.jobs[i].id >= id })
	return i, i < len(s.jobs) && s.jobs[i].id == id
}

// Has reports whether id is still pending.
func (s *Scheduler) Has(id JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indexLocked(id)
	return ok
}

// Get returns a copy of a pending job.
func (s *Scheduler) Get(id JobID) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.indexLocked(id)
	if !ok {
		return Job{}, false
	}
	return s.jobs[i].job(), true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// PollDue returns every job whose next fire time has been reached, in
// registration order, and advances each one to its following occurrence.
// A job that was missed for several days is returned once.
func (s *Scheduler) PollDue() []Job {
	now := s.now().In(s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, e := range s.jobs {
		if now.Before(e.next) {
			continue
		}
		e.prev = e.next
		e.next = e.sched.Next(now)
		due = append(due, e.job())
	}
	return due
}
