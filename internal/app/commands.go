package app

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"eventbot/internal/render"
	"eventbot/internal/storage"
	"eventbot/internal/subscription"
	"eventbot/internal/transport/telegram/router"
	logx "eventbot/pkg/logx"
)

const (
	replySubscribed     = "Subscribed. Daily announcement at %s."
	replyAlreadySub     = "Already subscribed."
	replyUnsubscribed   = "Unsubscribed."
	replyNotSubscribed  = "Not subscribed."
	replyEventsBadLimit = "Usage: /events [--limit N]"
	statusTimeLayout    = "2006-01-02 15:04:05 MST"
	defaultEventsLimit  = 20
	auditTimeout        = 3 * time.Second
)

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "subscribe",
			Aliases:     []string{"sub"},
			Description: "Daily event announcement in this chat",
			Usage:       "/subscribe",
			Handle:      a.cmdSubscribe,
		},
		{
			Name:        "unsubscribe",
			Aliases:     []string{"unsub"},
			Description: "Stop the daily announcement",
			Usage:       "/unsubscribe",
			Handle:      a.cmdUnsubscribe,
		},
		{
			Name:        "next",
			Description: "Show the next event",
			Handle:      a.cmdNext,
		},
		{
			Name:        "events",
			Description: "List running and upcoming events",
			Usage:       "/events [--limit N]",
			Handle:      a.cmdEvents,
		},
		{
			Name:        "status",
			Description: "Subscription and scheduler status",
			Handle:      a.cmdStatus,
		},
	}
}

func (a *App) cmdSubscribe(ctx context.Context, req *router.Request) error {
	err := a.subs.Subscribe(ctx, req.Channel())
	a.audit(ctx, req, "subscribe", err)
	switch {
	case err == nil:
		return req.Reply(ctx, fmt.Sprintf(replySubscribed, a.subs.FireAt()))
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		return req.Reply(ctx, replyAlreadySub)
	default:
		return err
	}
}

func (a *App) cmdUnsubscribe(ctx context.Context, req *router.Request) error {
	err := a.subs.Unsubscribe(ctx, req.ChatID)
	a.audit(ctx, req, "unsubscribe", err)
	switch {
	case err == nil:
		return req.Reply(ctx, replyUnsubscribed)
	case errors.Is(err, subscription.ErrNotSubscribed):
		return req.Reply(ctx, replyNotSubscribed)
	default:
		return err
	}
}

func (a *App) cmdNext(ctx context.Context, req *router.Request) error {
	text, err := nextEventText(ctx, a.events, a.now)
	if err != nil {
		return err
	}
	return req.Reply(ctx, text)
}

func (a *App) cmdEvents(ctx context.Context, req *router.Request) error {
	limit := defaultEventsLimit
	if raw, ok := req.Flags["limit"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return req.Reply(ctx, replyEventsBadLimit)
		}
		limit = n
	}
	evs, err := a.events.Upcoming(ctx)
	if err != nil {
		return errors.Wrap(err, "upcoming events")
	}
	if len(evs) > limit {
		evs = evs[:limit]
	}
	return req.Reply(ctx, render.EventsTable(evs, a.now()))
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, a.statusText(req.ChatID))
}

func (a *App) statusText(chatID int64) string {
	now := a.now()
	var b strings.Builder

	if id, ok := a.subs.JobFor(chatID); ok {
		b.WriteString("<b>This chat:</b> subscribed\n")
		if job, ok := a.sched.Get(id); ok {
			fmt.Fprintf(&b, "Next announcement: %s (%s)\n",
				job.Next.Format(statusTimeLayout), humanize.RelTime(job.Next, now, "ago", "from now"))
		}
	} else {
		b.WriteString("<b>This chat:</b> not subscribed\n")
	}
	fmt.Fprintf(&b, "Daily at: %s\n", a.subs.FireAt())
	fmt.Fprintf(&b, "Active subscriptions: %d\n", a.subs.Len())

	a.mu.Lock()
	started := a.startedAt
	rep := a.replay
	a.mu.Unlock()
	if !started.IsZero() {
		fmt.Fprintf(&b, "Up since: %s\n", humanize.RelTime(started, now, "ago", "from now"))
	}
	if rep.Total > 0 {
		fmt.Fprintf(&b, "Replay: %d/%d restored, %d failed\n", rep.Restored, rep.Total, len(rep.Failed))
	}

	ds := a.loop.Snapshot()
	fmt.Fprintf(&b, "Dispatch: %s polls, %d jobs run, %d failed, %d in flight\n",
		humanize.Comma(int64(ds.Polls)), ds.Launched, ds.Failed, ds.InFlight)

	if a.logs != nil {
		if n := a.logs.Dropped(); n > 0 {
			fmt.Fprintf(&b, "Log lines dropped: %s\n", humanize.Comma(int64(n)))
		}
	}

	if rows := a.sups.Counters(); len(rows) > 0 {
		b.WriteString("<b>Goroutines</b>\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "%s: %d active, %d started\n", html.EscapeString(r.Name), r.Active, r.Started)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// audit records a subscription change. Failures are logged and never reach the user.
func (a *App) audit(ctx context.Context, req *router.Request, action string, err error) {
	e := storage.AuditEntry{
		At:            a.now(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.ChatID,
		Action:        action,
		OK:            err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if aerr := a.store.AppendAudit(actx, e); aerr != nil {
		a.log.Warn("audit append failed", logx.ChatID(req.ChatID), logx.String("action", action), logx.Err(aerr))
	}
}
