package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"eventbot/internal/config"
	"eventbot/internal/eventbus"
	"eventbot/internal/events"
	"eventbot/internal/observability/metrics"
	rtsup "eventbot/internal/runtime/supervisor"
	"eventbot/internal/storage"
	"eventbot/internal/subscription"
	"eventbot/internal/task/dispatch"
	"eventbot/internal/task/scheduler"
	kit "eventbot/internal/transport"
	telegram "eventbot/internal/transport/telegram/adapter"
	"eventbot/internal/transport/telegram/router"
	logx "eventbot/pkg/logx"
	"eventbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	sup *rtsup.Supervisor
	// jobs outlives sup so Stop can let in-flight announcements finish.
	jobs *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	events  events.Source
	now     func() time.Time

	sched *scheduler.Scheduler
	loop  *dispatch.Loop
	subs  *subscription.Controller

	metrics *metrics.Metrics
	msrv    *metrics.Server

	cmdm *router.CommandManager
	sups *router.SupervisorRegistry

	updates chan kit.Update

	mu        sync.Mutex
	startedAt time.Time
	replay    subscription.RestoreReport
}

// Deps are collaborators New would otherwise build from the config.
// Adapter is required.
type Deps struct {
	Adapter    kit.Adapter
	Store      storage.Store
	Events     events.Source
	Logger     logx.Logger
	LogService *logx.Service
	Clock      func() time.Time
	Registry   *prometheus.Registry
}

// NewApp loads cfgPath and builds the production app: Telegram adapter,
// configured registry backend, CSV calendar and Prometheus registry.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	acfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.Component("telegram"))
	ad, err := telegram.New(acfg, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; set the log chat before enabling the Telegram sink.
	logCfg := mapLogConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logSvc, log := logx.New(boot, ad)
	logSvc.SetTelegramTarget(groupLogTarget(cfg))
	logSvc.Apply(logCfg)

	store, err := OpenStore(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := New(cfg, Deps{Adapter: ad, Store: store, Logger: log, LogService: logSvc, Registry: reg})
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// New wires the subscription engine around an already validated config.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if deps.Adapter == nil {
		return nil, errors.New("app: adapter is required")
	}
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	loc, err := cfg.Subscriptions.Location()
	if err != nil {
		return nil, err
	}
	now := func() time.Time { return clock().In(loc) }

	store := deps.Store
	if store == nil {
		if store, err = OpenStore(cfg, log); err != nil {
			return nil, err
		}
	}
	src := deps.Events
	if src == nil {
		csv, err := NewEventSource(cfg, clock, log)
		if err != nil {
			return nil, err
		}
		src = csv
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	scfg, err := mapSubscriptionConfig(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	m := metrics.New(reg)
	sched := scheduler.New(
		scheduler.WithLogger(log.With(logx.Component("scheduler"))),
		scheduler.WithClock(clock),
		scheduler.WithLocation(loc),
	)
	subs := subscription.New(scfg, sched, store, announcer(src, deps.Adapter, now),
		subscription.WithLogger(log.With(logx.Component("subscription"))),
		subscription.WithBus(bus),
		subscription.WithMetrics(m),
	)
	loop := dispatch.New(dcfg, countingPoller{sched: sched, metrics: m}, log.With(logx.Component("dispatch")))

	return &App{
		cfg:     cfg,
		log:     log.With(logx.Component("app")),
		logs:    deps.LogService,
		bus:     bus,
		store:   store,
		adapter: deps.Adapter,
		events:  src,
		now:     now,
		sched:   sched,
		loop:    loop,
		subs:    subs,
		metrics: m,
		msrv:    metrics.NewServer(mapMetricsConfig(cfg), reg, log),
		sups:    router.NewSupervisorRegistry(),
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Subscriptions() *subscription.Controller { return a.subs }

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// ReplayReport returns the outcome of the startup replay.
func (a *App) ReplayReport() subscription.RestoreReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.replay
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings the engine up: adapter, startup replay, dispatch loop, command
// router, config reload and metrics. Replay failures are logged, never fatal.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.jobs = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(a.log.With(logx.Component("jobs"))), rtsup.WithCancelOnError(false))
	a.sups.Set("app", a.sup)
	a.sups.Set("dispatch.jobs", a.jobs)

	a.mu.Lock()
	a.startedAt = a.now()
	a.mu.Unlock()

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		a.jobs.Cancel()
		return errors.Wrap(err, "start adapter")
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		if sup := sp.Supervisor(); sup != nil {
			a.sups.Set("telegram.adapter", sup)
		}
	}

	rep, err := a.subs.Restore(a.sup.Context(), a.adapter)
	if err != nil {
		a.sup.Cancel()
		a.jobs.Cancel()
		_ = a.adapter.Stop(context.Background())
		return errors.Wrap(err, "startup replay")
	}
	for id, reason := range rep.Failed {
		a.log.Warn("channel not restored; kept for next start", logx.ChatID(id), logx.String("reason", reason))
	}
	a.mu.Lock()
	a.replay = rep
	a.mu.Unlock()
	a.metrics.SetActive(a.subs.Len())

	a.sup.GoRestart("dispatch.loop", func(c context.Context) error {
		return a.loop.Run(c, a.jobs)
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	opts := []router.Option{router.WithSupervisor(a.sup)}
	if un, ok := a.adapter.(interface{ Username() string }); ok {
		opts = append(opts, router.WithBotUsername(un.Username()))
	}
	a.cmdm = router.NewCommandManager(a.log.With(logx.Component("commands")), a.adapter, opts...)
	a.cmdm.SetRegistry(a.commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	busEvents, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-busEvents:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if ce, ok := e.Data.(eventbus.ChannelEvent); ok {
					fields = append(fields, logx.ChatID(ce.ChannelID), logx.JobID(ce.JobID))
					if ce.Err != "" {
						fields = append(fields, logx.String("err", ce.Err))
					}
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	if a.cfgm != nil {
		a.startConfigReload()
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.msrv.Start(a.sup.Context())

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		_, _ = systemd.Status(statusLine(a.subs.Len()))
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.Int("subscriptions", a.subs.Len()),
		logx.String("fire_at", a.subs.FireAt().String()),
	)
	return nil
}

func statusLine(n int) string {
	if n == 1 {
		return "1 subscription"
	}
	return fmt.Sprintf("%d subscriptions", n)
}

// startConfigReload applies hot-reloadable sections and flags the rest.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	if a.logs != nil {
		// target first so enabling the Telegram sink never races an unset chat
		a.logs.SetTelegramTarget(groupLogTarget(newCfg))
		a.logs.Apply(mapLogConfig(newCfg))
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// Cancel the run context first: the dispatch loop stops launching jobs immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = max0(rem)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errors.Newf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	step("metrics", time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// in-flight announcements get a bounded grace period, then their context is canceled
	step("dispatch.jobs", 5*time.Second, func(c context.Context) error { return a.jobs.Wait(c) })
	a.jobs.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func max0(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
