// Package subscription ties channels to self-rescheduling daily announcement
// jobs and keeps the durable channel registry in step with them.
//
// Every mutation of one channel (subscribe, unsubscribe and the post-fire
// reschedule) runs under that channel's lock, so a channel has at most one
// live job and an unsubscribe can never be undone by an in-flight fire.
package subscription

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"

	"eventbot/internal/eventbus"
	"eventbot/internal/observability/metrics"
	"eventbot/internal/task/scheduler"
	"eventbot/internal/transport"
	logx "eventbot/pkg/logx"
)

// Notifier performs one announcement for a channel.
type Notifier func(ctx context.Context, ch transport.Channel) error

// Scheduler is the part of *scheduler.Scheduler the controller drives.
type Scheduler interface {
	AddDaily(name string, at scheduler.TimeOfDay, run scheduler.Action) (scheduler.JobID, error)
	Cancel(id scheduler.JobID) error
}

// Registry is the durable set of subscribed channel ids.
type Registry interface {
	List(ctx context.Context) ([]int64, error)
	Add(ctx context.Context, channelID int64) error
	Remove(ctx context.Context, channelID int64) error
}

type Config struct {
	FireAt            scheduler.TimeOfDay
	ReplayConcurrency int
}

type Option func(*Controller)

func WithLogger(log logx.Logger) Option {
	return func(c *Controller) {
		if !log.IsZero() {
			c.log = log
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(c *Controller) {
		if bus != nil {
			c.bus = bus
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

type Controller struct {
	cfg    Config
	sched  Scheduler
	reg    Registry
	notify Notifier

	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	jobs  *JobTable
	locks *channelLocks
}

// binding is everything a job needs to fire and rebuild itself.
type binding struct {
	ch     transport.Channel
	at     scheduler.TimeOfDay
	notify Notifier
}

func New(cfg Config, sched Scheduler, reg Registry, notify Notifier, opts ...Option) *Controller {
	if cfg.ReplayConcurrency <= 0 {
		cfg.ReplayConcurrency = 4
	}
	c := &Controller{
		cfg:    cfg,
		sched:  sched,
		reg:    reg,
		notify: notify,
		log:    logx.Nop(),
		bus:    eventbus.Nop(),
		jobs:   NewJobTable(),
		locks:  newChannelLocks(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) FireAt() scheduler.TimeOfDay { return c.cfg.FireAt }

func (c *Controller) IsSubscribed(channelID int64) bool { return c.jobs.Has(channelID) }

// JobFor returns the handle of the channel's live job.
func (c *Controller) JobFor(channelID int64) (scheduler.JobID, bool) { return c.jobs.Get(channelID) }

func (c *Controller) Channels() []int64 { return c.jobs.Channels() }

func (c *Controller) Len() int { return c.jobs.Len() }

// Subscribe starts the daily announcement for ch at the configured time.
func (c *Controller) Subscribe(ctx context.Context, ch transport.Channel) error {
	return c.SubscribeWith(ctx, ch, c.cfg.FireAt, c.notify)
}

// SubscribeWith is Subscribe with an explicit fire time and action.
func (c *Controller) SubscribeWith(ctx context.Context, ch transport.Channel, at scheduler.TimeOfDay, notify Notifier) error {
	if notify == nil {
		return errors.New("subscription: nil notifier")
	}
	unlock := c.locks.Lock(ch.ID)
	defer unlock()

	if c.jobs.Has(ch.ID) {
		return errors.Wrapf(ErrAlreadySubscribed, "channel %d", ch.ID)
	}
	b := &binding{ch: ch, at: at, notify: notify}
	id, err := c.install(b)
	if err != nil {
		return err
	}
	c.jobs.Set(ch.ID, id)

	if err := c.reg.Add(ctx, ch.ID); err != nil {
		c.jobs.Delete(ch.ID)
		c.cancelJob(ch.ID, id)
		return markPersistence(err, "persist channel %d", ch.ID)
	}

	c.metrics.SetActive(c.jobs.Len())
	c.publish(eventbus.SubscriptionSubscribed, ch.ID, id, nil)
	c.log.Info("subscribed", logx.ChatID(ch.ID), logx.String("title", ch.Title), logx.String("at", at.String()), logx.JobID(uint64(id)))
	return nil
}

// Unsubscribe stops the channel's announcements and forgets it durably.
// An announcement already being delivered may finish, but will not reschedule.
func (c *Controller) Unsubscribe(ctx context.Context, channelID int64) error {
	unlock := c.locks.Lock(channelID)
	defer unlock()

	id, ok := c.jobs.Get(channelID)
	if !ok {
		return errors.Wrapf(ErrNotSubscribed, "channel %d", channelID)
	}
	// Registry first: on failure nothing has changed and the caller can retry.
	if err := c.reg.Remove(ctx, channelID); err != nil {
		return markPersistence(err, "forget channel %d", channelID)
	}
	c.jobs.Delete(channelID)
	c.cancelJob(channelID, id)

	c.metrics.SetActive(c.jobs.Len())
	c.publish(eventbus.SubscriptionUnsubscribed, channelID, id, nil)
	c.log.Info("unsubscribed", logx.ChatID(channelID), logx.JobID(uint64(id)))
	return nil
}

// install registers a job whose action is the self-rescheduling wrapper for b.
// Callers hold the channel lock.
func (c *Controller) install(b *binding) (scheduler.JobID, error) {
	self := new(scheduler.JobID)
	id, err := c.sched.AddDaily(jobName(b.ch.ID), b.at, func(ctx context.Context) error {
		return c.fire(ctx, b, self)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "schedule channel %d", b.ch.ID)
	}
	// Read back only under the same channel lock, in reschedule.
	*self = id
	return id, nil
}

// fire delivers the announcement and then installs tomorrow's job, whatever
// the delivery outcome.
func (c *Controller) fire(ctx context.Context, b *binding, self *scheduler.JobID) error {
	derr := c.deliver(ctx, b)
	rerr := c.reschedule(b, self)
	return errors.CombineErrors(derr, rerr)
}

func (c *Controller) deliver(ctx context.Context, b *binding) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
			c.log.Error("announcement panicked", logx.ChatID(b.ch.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		if err != nil {
			err = errors.Mark(errors.Wrapf(err, "announce to %d", b.ch.ID), ErrDelivery)
			c.metrics.Announced("error")
			c.log.Warn("announcement failed", logx.ChatID(b.ch.ID), logx.Err(err))
		} else {
			c.metrics.Announced("ok")
		}
		c.publish(eventbus.SubscriptionFired, b.ch.ID, 0, err)
	}()
	return b.notify(ctx, b.ch)
}

// reschedule swaps the fired job for a fresh one, unless the channel was
// unsubscribed (or resubscribed under a new job) while the announcement ran.
func (c *Controller) reschedule(b *binding, self *scheduler.JobID) error {
	unlock := c.locks.Lock(b.ch.ID)
	defer unlock()

	old := *self
	cur, ok := c.jobs.Get(b.ch.ID)
	if !ok || cur != old {
		c.metrics.Rescheduled("skipped")
		c.log.Debug("not rescheduling superseded job", logx.ChatID(b.ch.ID), logx.JobID(uint64(old)), logx.Bool("subscribed", ok))
		return nil
	}

	next, err := c.install(b)
	if err != nil {
		// The fired job is still pending for tomorrow, so the channel stays covered.
		c.metrics.Rescheduled("failed")
		c.log.Error("reschedule failed; keeping fired job", logx.ChatID(b.ch.ID), logx.Err(err))
		return err
	}
	c.jobs.Set(b.ch.ID, next)
	c.cancelJob(b.ch.ID, old)
	c.metrics.Rescheduled("installed")
	c.log.Debug("rescheduled", logx.ChatID(b.ch.ID), logx.Uint64("old_job_id", uint64(old)), logx.JobID(uint64(next)))
	return nil
}

// cancelJob cancels a handle the table believed live. ErrUnknownJob here
// means the table and scheduler disagree.
func (c *Controller) cancelJob(channelID int64, id scheduler.JobID) {
	if err := c.sched.Cancel(id); err != nil {
		c.log.Error("job table desync: cancel failed", logx.ChatID(channelID), logx.JobID(uint64(id)), logx.Err(err))
	}
}

func (c *Controller) publish(typ string, channelID int64, id scheduler.JobID, err error) {
	ev := eventbus.ChannelEvent{ChannelID: channelID, JobID: uint64(id)}
	if err != nil {
		ev.Err = err.Error()
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func jobName(channelID int64) string { return fmt.Sprintf("announce:%d", channelID) }
