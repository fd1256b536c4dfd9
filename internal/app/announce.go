package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"eventbot/internal/events"
	"eventbot/internal/observability/metrics"
	"eventbot/internal/render"
	"eventbot/internal/subscription"
	"eventbot/internal/task/scheduler"
	kit "eventbot/internal/transport"
)

var announceOpts = &kit.SendOptions{ParseMode: render.ParseMode, DisablePreview: true}

// announcer is the daily action bound to every subscription: render the next
// calendar event and send it to the channel.
func announcer(src events.Source, sender kit.Sender, now func() time.Time) subscription.Notifier {
	return func(ctx context.Context, ch kit.Channel) error {
		text, err := nextEventText(ctx, src, now)
		if err != nil {
			return err
		}
		return sender.SendText(ctx, ch.ID, text, announceOpts)
	}
}

func nextEventText(ctx context.Context, src events.Source, now func() time.Time) (string, error) {
	e, err := src.Next(ctx)
	switch {
	case errors.Is(err, events.ErrNoEvents):
		return render.NoEvents(), nil
	case err != nil:
		return "", errors.Wrap(err, "next event")
	}
	return render.NextEvent(e, now()), nil
}

// countingPoller feeds the poll counter on every dispatch tick.
type countingPoller struct {
	sched   *scheduler.Scheduler
	metrics *metrics.Metrics
}

func (p countingPoller) PollDue() []scheduler.Job {
	p.metrics.Polled()
	return p.sched.PollDue()
}
