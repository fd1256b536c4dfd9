package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbot/internal/config"
	"eventbot/internal/events"
	"eventbot/internal/observability/metrics"
	"eventbot/internal/render"
	"eventbot/internal/storage"
	"eventbot/internal/task/scheduler"
	kit "eventbot/internal/transport"
)

const calendar = `key,title,start,end
gc,GopherCon,05.03.2026,07.03.2026
old,Last Year,01.02.2025,02.02.2025
`

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

type sent struct {
	ChatID int64
	Text   string
}

type fakeAdapter struct {
	mu         sync.Mutex
	sent       []sent
	unresolved map[int64]bool
	out        chan<- kit.Update
	stopped    bool
	startErr   error
}

func (f *fakeAdapter) SendText(_ context.Context, chatID int64, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeAdapter) FetchChannel(_ context.Context, chatID int64) (kit.Channel, error) {
	if f.unresolved[chatID] {
		return kit.Channel{}, errors.New("chat not found")
	}
	return kit.Channel{ID: chatID, Title: "chat"}, nil
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Username() string { return "eventbot" }

func (f *fakeAdapter) command(chatID int64, text string) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, ChatTitle: "chat", FromID: 42, FromUsername: "alice", Text: text}}
}

func (f *fakeAdapter) messagesTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (f *fakeAdapter) waitFor(t *testing.T, chatID int64, substr string) string {
	t.Helper()
	var found string
	require.Eventually(t, func() bool {
		for _, m := range f.messagesTo(chatID) {
			if strings.Contains(m, substr) {
				found = m
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "no message to %d containing %q", chatID, substr)
	return found
}

type fixture struct {
	app   *App
	ad    *fakeAdapter
	store *storage.Memory
	clk   *fakeClock
}

func newFixture(t *testing.T, stored ...int64) *fixture {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "events.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(calendar), 0o600))

	cfg := config.Default()
	cfg.Telegram.Token = "t"
	cfg.Subscriptions.Timezone = "UTC"
	cfg.Subscriptions.PollInterval = "10ms"
	cfg.Events.Path = csvPath
	cfg.Storage.Driver = "memory"
	require.NoError(t, config.Validate(cfg))

	f := &fixture{
		ad:    &fakeAdapter{unresolved: map[int64]bool{}},
		store: storage.NewMemory(stored...),
		clk:   &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
	}
	a, err := New(cfg, Deps{Adapter: f.ad, Store: f.store, Clock: f.clk.Now, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	f.app = a
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.app.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.app.Stop(ctx, StopAppStop)
	})
}

func TestStartupReplayAndDailyAnnouncement(t *testing.T) {
	f := newFixture(t, -100, -200)
	f.ad.unresolved[-200] = true
	f.start(t)

	rep := f.app.ReplayReport()
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 1, rep.Restored)
	assert.Contains(t, rep.Failed, int64(-200))
	assert.True(t, f.app.Subscriptions().IsSubscribed(-100))
	assert.False(t, f.app.Subscriptions().IsSubscribed(-200))
	// an unresolvable channel stays registered for the next start
	assert.True(t, f.store.Contains(-200))

	f.ad.command(5, "/subscribe")
	assert.Equal(t, "Subscribed. Daily announcement at 09:00:00.", f.ad.waitFor(t, 5, "Subscribed."))
	assert.True(t, f.store.Contains(5))
	first, ok := f.app.Subscriptions().JobFor(5)
	require.True(t, ok)

	f.clk.Set(time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC))
	msg := f.ad.waitFor(t, 5, "GopherCon")
	assert.Contains(t, msg, "4 days left")
	f.ad.waitFor(t, -100, "GopherCon")

	// the fired job was replaced by tomorrow's
	require.Eventually(t, func() bool {
		id, ok := f.app.Subscriptions().JobFor(5)
		return ok && id != first
	}, 3*time.Second, 5*time.Millisecond)
	id, _ := f.app.Subscriptions().JobFor(5)
	job, ok := f.app.Scheduler().Get(id)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), job.Next.UTC())
	assert.False(t, f.app.Scheduler().Has(first))
	// -100 reschedules concurrently; both end with exactly one pending job
	require.Eventually(t, func() bool { return f.app.Scheduler().Len() == 2 }, 3*time.Second, 5*time.Millisecond)

	audit := f.store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, storage.AuditEntry{
		At: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), ActorID: 42, ActorUsername: "alice",
		ChatID: 5, Action: "subscribe", OK: true,
	}, audit[0])
}

func TestSubscribeUnsubscribeReplies(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.ad.command(7, "/subscribe")
	f.ad.waitFor(t, 7, "Subscribed.")
	f.ad.command(7, "/sub")
	f.ad.waitFor(t, 7, "Already subscribed.")

	f.ad.command(7, "/status")
	status := f.ad.waitFor(t, 7, "This chat")
	assert.Contains(t, status, "<b>This chat:</b> subscribed")
	assert.Contains(t, status, "Next announcement: 2026-03-01 09:00:00 UTC")
	assert.Contains(t, status, "Active subscriptions: 1")

	f.ad.command(7, "/unsubscribe")
	f.ad.waitFor(t, 7, "Unsubscribed.")
	assert.False(t, f.store.Contains(7))
	assert.Equal(t, 0, f.app.Scheduler().Len())

	f.ad.command(7, "/unsub")
	f.ad.waitFor(t, 7, "Not subscribed.")

	audit := f.store.Audit()
	require.Len(t, audit, 4)
	assert.False(t, audit[1].OK)
	assert.Contains(t, audit[1].Error, "already subscribed")
	assert.Equal(t, "unsubscribe", audit[3].Action)
	assert.False(t, audit[3].OK)
}

func TestPersistenceFailureGetsGenericReply(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.store.FailNextWrite(errors.New("disk full"))
	f.ad.command(8, "/subscribe")
	f.ad.waitFor(t, 8, "Something went wrong")
	assert.False(t, f.app.Subscriptions().IsSubscribed(8))
	assert.Equal(t, 0, f.app.Scheduler().Len())
}

func TestNextAndEventsCommands(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.ad.command(3, "/next")
	next := f.ad.waitFor(t, 3, "Next event")
	assert.Contains(t, next, "GopherCon")

	f.ad.command(3, "/events --limit 0")
	f.ad.waitFor(t, 3, replyEventsBadLimit)

	f.ad.command(3, "/events")
	table := f.ad.waitFor(t, 3, "<pre>")
	assert.Contains(t, table, "GopherCon")
	assert.NotContains(t, table, "Last Year")
}

func TestStartFailsWhenAdapterDoes(t *testing.T) {
	f := newFixture(t)
	f.ad.startErr = errors.New("unauthorized")
	err := f.app.Start(context.Background())
	require.ErrorContains(t, err, "unauthorized")
	<-f.app.Done()
}

func TestStopClosesEverything(t *testing.T) {
	f := newFixture(t, -1)
	require.NoError(t, f.app.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.app.Stop(ctx, StopSIGTERM))

	<-f.app.Done()
	assert.True(t, f.ad.stopped)
	_, err := f.store.List(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrPersistence))
}

type staticSource struct {
	next events.Event
	err  error
}

func (s staticSource) Next(context.Context) (events.Event, error)       { return s.next, s.err }
func (s staticSource) Upcoming(context.Context) ([]events.Event, error) { return nil, s.err }

func TestAnnouncer(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	ad := &fakeAdapter{}

	notify := announcer(staticSource{err: events.ErrNoEvents}, ad, now)
	require.NoError(t, notify(context.Background(), kit.Channel{ID: 1}))
	assert.Equal(t, []string{render.NoEvents()}, ad.messagesTo(1))

	notify = announcer(staticSource{err: errors.New("calendar missing")}, ad, now)
	require.ErrorContains(t, notify(context.Background(), kit.Channel{ID: 2}), "calendar missing")
	assert.Empty(t, ad.messagesTo(2))
}

func TestCountingPoller(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	p := countingPoller{sched: scheduler.New(), metrics: m}
	assert.Empty(t, p.PollDue())
	assert.Empty(t, p.PollDue())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DispatchPolls))
}

func TestMapStorageConfig(t *testing.T) {
	cfg := config.Default()
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Driver: "file", Path: config.DefaultStoragePath}, sc)

	cfg.Storage = config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: 2 * time.Second}, sc)

	cfg.Storage = config.StorageConfig{Driver: "sqlite"}
	_, err = mapStorageConfig(cfg)
	require.Error(t, err)

	cfg.Storage = config.StorageConfig{Driver: "redis", Redis: config.StorageRedisConfig{Addr: "localhost:6379"}}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", sc.Redis.Addr)
	assert.Empty(t, sc.Redis.Key)

	cfg.Storage = config.StorageConfig{Driver: "postgres"}
	_, err = mapStorageConfig(cfg)
	require.Error(t, err)
}

func TestGroupLogTarget(t *testing.T) {
	cfg := config.Default()
	assert.Zero(t, groupLogTarget(cfg))
	cfg.Telegram.GroupLog = "-1001"
	assert.Equal(t, int64(-1001), groupLogTarget(cfg))
	cfg.Telegram.GroupLog = "logs"
	assert.Zero(t, groupLogTarget(cfg))
}

func TestStopReasonFromSignal(t *testing.T) {
	assert.Equal(t, StopSIGINT, StopReasonFromSignal(os.Interrupt))
	assert.Equal(t, StopSIGTERM, StopReasonFromSignal(syscall.SIGTERM))
	assert.Equal(t, StopUnknown, StopReasonFromSignal(nil))
}
