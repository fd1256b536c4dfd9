package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"eventbot/internal/eventbus"
	"eventbot/internal/transport"
	logx "eventbot/pkg/logx"
)

// RestoreReport summarizes a startup replay.
type RestoreReport struct {
	Total    int
	Restored int
	Skipped  int // already live before replay
	Failed   map[int64]string
	Took     time.Duration
}

// Restore re-subscribes every channel in the registry. Channels are resolved
// and subscribed concurrently; one failure never blocks the others. A channel
// that cannot be resolved stays in the registry and is retried next start.
func (c *Controller) Restore(ctx context.Context, resolver transport.ChannelResolver) (RestoreReport, error) {
	start := time.Now()
	ids, err := c.reg.List(ctx)
	if err != nil {
		return RestoreReport{}, markPersistence(err, "list registry")
	}

	rep := RestoreReport{Total: len(ids), Failed: map[int64]string{}}
	var mu sync.Mutex
	record := func(id int64, result string, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch result {
		case "restored":
			rep.Restored++
		case "skipped":
			rep.Skipped++
		default:
			rep.Failed[id] = err.Error()
		}
		c.metrics.Replayed(result)
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.ReplayConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			result, err := c.restoreOne(ctx, resolver, id)
			record(id, result, err)
			return nil
		})
	}
	_ = g.Wait()

	rep.Took = time.Since(start)
	c.log.Info("subscriptions restored",
		logx.Int("total", rep.Total),
		logx.Int("restored", rep.Restored),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", len(rep.Failed)),
		logx.Duration("took", rep.Took),
	)
	return rep, nil
}

func (c *Controller) restoreOne(ctx context.Context, resolver transport.ChannelResolver, id int64) (string, error) {
	log := c.log.With(logx.ChatID(id))
	ch, err := resolver.FetchChannel(ctx, id)
	if err != nil {
		log.Warn("restore: channel lookup failed", logx.Err(err))
		return "unresolved", errors.Wrapf(err, "fetch channel %d", id)
	}
	if ch.ID == 0 {
		ch.ID = id
	}
	result := "restored"
	err = c.Subscribe(ctx, ch)
	switch {
	case err == nil:
		job, _ := c.JobFor(ch.ID)
		c.publish(eventbus.SubscriptionRestored, ch.ID, job, nil)
	case errors.Is(err, ErrAlreadySubscribed):
		result = "skipped"
	default:
		log.Warn("restore: subscribe failed", logx.Err(err))
		return "failed", err
	}
	if ch.ID != id {
		// The chat moved (e.g. group upgraded to supergroup): the new id is
		// now persisted and live, so the old one must go.
		if err := c.forgetStale(ctx, id, ch.ID); err != nil {
			log.Warn("restore: stale id not removed", logx.Int64("new_chat_id", ch.ID), logx.Err(err))
			return "failed", err
		}
	}
	return result, nil
}

func (c *Controller) forgetStale(ctx context.Context, staleID, liveID int64) error {
	unlock := c.locks.Lock(staleID)
	defer unlock()
	if c.jobs.Has(staleID) {
		return nil
	}
	if err := c.reg.Remove(ctx, staleID); err != nil {
		return markPersistence(err, "forget channel %d (now %d)", staleID, liveID)
	}
	c.log.Info("restore: channel id migrated", logx.ChatID(liveID), logx.Int64("old_chat_id", staleID))
	return nil
}
