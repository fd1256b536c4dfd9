// Package dispatch drives a scheduler forward: it polls for due jobs at a
// fixed cadence and launches each one in its own goroutine without waiting.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	rtsup "eventbot/internal/runtime/supervisor"
	"eventbot/internal/task/scheduler"
	logx "eventbot/pkg/logx"
)

const (
	DefaultInterval = time.Second
	slowJob         = 750 * time.Millisecond
)

type Config struct {
	Interval    time.Duration
	JobTimeout  time.Duration // 0 disables the per-job deadline
	HistorySize int
}

// Poller is the subset of the scheduler the loop needs.
type Poller interface {
	PollDue() []scheduler.Job
}

type HistoryItem struct {
	JobID    scheduler.JobID
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

type Snapshot struct {
	Interval time.Duration
	Polls    uint64
	Launched uint64
	Failed   uint64
	InFlight int64
	LastPoll time.Time
	History  []HistoryItem
}

type Loop struct {
	cfg    Config
	poller Poller
	log    logx.Logger

	sup *rtsup.Supervisor

	polls    atomic.Uint64
	launched atomic.Uint64
	failed   atomic.Uint64
	inFlight atomic.Int64
	lastPoll atomic.Int64 // unix nano

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, poller Poller, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Loop{cfg: cfg, poller: poller, log: log}
}

// Run polls immediately and then once per interval until ctx is canceled.
// Each due job runs in a goroutine owned by sup; Run never waits for them.
func (l *Loop) Run(ctx context.Context, sup *rtsup.Supervisor) error {
	l.sup = sup
	t := time.NewTicker(l.cfg.Interval)
	defer t.Stop()

	l.log.Info("dispatch loop started", logx.Duration("interval", l.cfg.Interval))
	for {
		l.tick(ctx)
		select {
		case <-ctx.Done():
			l.log.Info("dispatch loop stopped")
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.polls.Add(1)
	l.lastPoll.Store(time.Now().UnixNano())
	for _, j := range l.poller.PollDue() {
		l.launch(ctx, j)
	}
}

func (l *Loop) launch(ctx context.Context, j scheduler.Job) {
	l.launched.Add(1)
	l.inFlight.Add(1)
	run := func(ctx context.Context) error {
		defer l.inFlight.Add(-1)
		l.execOne(ctx, j)
		return nil
	}
	if l.sup == nil {
		go func() { _ = run(ctx) }()
		return
	}
	l.sup.Go(fmt.Sprintf("job.%s", j.Name), run)
}

func (l *Loop) execOne(ctx context.Context, j scheduler.Job) {
	start := time.Now()
	runCtx := ctx
	if l.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.cfg.JobTimeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				l.log.Error("job.panic", logx.String("job", j.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = j.Run(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{JobID: j.ID, Name: j.Name, Started: start, Duration: dur}
	switch {
	case err != nil:
		l.failed.Add(1)
		item.Error = err.Error()
		l.log.Warn("job.failed", logx.String("job", j.Name), logx.JobID(uint64(j.ID)), logx.Duration("dur", dur), logx.Err(err))
	case dur >= slowJob:
		l.log.Info("job.completed", logx.String("job", j.Name), logx.Duration("dur", dur))
	default:
		l.log.Debug("job.completed", logx.String("job", j.Name), logx.Duration("dur", dur))
	}

	l.hmu.Lock()
	l.history = append(l.history, item)
	if len(l.history) > l.cfg.HistorySize {
		l.history = l.history[len(l.history)-l.cfg.HistorySize:]
	}
	l.hmu.Unlock()
}

func (l *Loop) Snapshot() Snapshot {
	s := Snapshot{
		Interval: l.cfg.Interval,
		Polls:    l.polls.Load(),
		Launched: l.launched.Load(),
		Failed:   l.failed.Load(),
		InFlight: l.inFlight.Load(),
	}
	if ns := l.lastPoll.Load(); ns > 0 {
		s.LastPoll = time.Unix(0, ns)
	}
	l.hmu.Lock()
	s.History = append([]HistoryItem(nil), l.history...)
	l.hmu.Unlock()
	return s
}
