package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanicAndRecordsError(t *testing.T) {
	sup := New(context.Background())
	sup.Go("boom", func(ctx context.Context) error { panic("kaboom") })

	require.NoError(t, waitStopped(sup))
	require.Error(t, sup.Err())
	assert.Contains(t, sup.Err().Error(), "boom")

	stats := sup.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(1), stats[0].Panics)
	assert.Zero(t, stats[0].Active)
}

func TestCancelOnError(t *testing.T) {
	sup := New(context.Background(), WithCancelOnError(true))
	sup.Go("fail", func(ctx context.Context) error { return errors.New("nope") })

	select {
	case <-sup.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("expected supervisor context to be canceled")
	}
}

func TestContextCanceledIsCleanStop(t *testing.T) {
	sup := New(context.Background())
	sup.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
	assert.NoError(t, sup.Err())
}

func TestGoRestartRestartsUntilCanceled(t *testing.T) {
	sup := New(context.Background())
	var runs atomic.Int32
	sup.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}

func waitStopped(sup *Supervisor) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sup.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
