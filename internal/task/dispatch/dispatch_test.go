package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtsup "eventbot/internal/runtime/supervisor"
	"eventbot/internal/task/scheduler"
	logx "eventbot/pkg/logx"
)

type scriptedPoller struct {
	mu    sync.Mutex
	polls int
	due   [][]scheduler.Job
}

func (p *scriptedPoller) PollDue() []scheduler.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if len(p.due) == 0 {
		return nil
	}
	out := p.due[0]
	p.due = p.due[1:]
	return out
}

func (p *scriptedPoller) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func startLoop(t *testing.T, l *Loop) (*rtsup.Supervisor, func()) {
	t.Helper()
	sup := rtsup.New(context.Background())
	sup.Go("dispatch", func(ctx context.Context) error { return l.Run(ctx, sup) })
	return sup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, sup.Stop(ctx))
	}
}

func TestSlowJobDoesNotBlockOthersOrPolling(t *testing.T) {
	release := make(chan struct{})
	fastDone := make(chan struct{})
	p := &scriptedPoller{due: [][]scheduler.Job{{
		{ID: 1, Name: "slow", Run: func(ctx context.Context) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}},
		{ID: 2, Name: "fast", Run: func(context.Context) error {
			close(fastDone)
			return nil
		}},
	}}}
	l := New(Config{Interval: 5 * time.Millisecond}, p, logx.Nop())
	_, stop := startLoop(t, l)
	defer stop()

	select {
	case <-fastDone:
	case <-time.After(time.Second):
		t.Fatal("fast job was blocked by slow job")
	}
	require.Eventually(t, func() bool { return p.count() >= 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return l.Snapshot().InFlight == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return l.Snapshot().InFlight == 0 }, time.Second, 5*time.Millisecond)
}

func TestFailingAndPanickingJobsAreIsolated(t *testing.T) {
	var ok atomic.Bool
	p := &scriptedPoller{due: [][]scheduler.Job{{
		{ID: 1, Name: "boom", Run: func(context.Context) error { panic("kaboom") }},
		{ID: 2, Name: "err", Run: func(context.Context) error { return errors.New("send failed") }},
		{ID: 3, Name: "ok", Run: func(context.Context) error { ok.Store(true); return nil }},
	}}}
	l := New(Config{Interval: 5 * time.Millisecond}, p, logx.Nop())
	sup, stop := startLoop(t, l)
	defer stop()

	require.Eventually(t, func() bool { return len(l.Snapshot().History) == 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, ok.Load())
	snap := l.Snapshot()
	assert.Equal(t, uint64(3), snap.Launched)
	assert.Equal(t, uint64(2), snap.Failed)
	assert.NoError(t, sup.Err())
	assert.NoError(t, sup.Context().Err())
}

func TestJobTimeoutCancelsContext(t *testing.T) {
	p := &scriptedPoller{due: [][]scheduler.Job{{
		{ID: 1, Name: "hang", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	}}}
	l := New(Config{Interval: 5 * time.Millisecond, JobTimeout: 20 * time.Millisecond}, p, logx.Nop())
	_, stop := startLoop(t, l)
	defer stop()

	require.Eventually(t, func() bool { return l.Snapshot().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, l.Snapshot().History[0].Error, "deadline")
}

func TestRunStopsOnCancel(t *testing.T) {
	l := New(Config{}, &scriptedPoller{}, logx.Nop())
	assert.Equal(t, DefaultInterval, l.Snapshot().Interval)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, nil) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
