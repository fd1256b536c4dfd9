package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"eventbot/internal/config"
	"eventbot/internal/events"
	"eventbot/internal/observability/metrics"
	"eventbot/internal/storage"
	"eventbot/internal/subscription"
	"eventbot/internal/task/dispatch"
	telegram "eventbot/internal/transport/telegram/adapter"
	logx "eventbot/pkg/logx"
)

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: poll,
		RatePerSec:  cfg.Telegram.RatePerSec,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// groupLogTarget returns the log chat id, 0 when unset or invalid.
func groupLogTarget(cfg *config.Config) int64 {
	id, err := config.ParseChatID("telegram.group_log", cfg.Telegram.GroupLog)
	if err != nil {
		return 0
	}
	return id
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = config.DefaultStoragePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "redis":
		return storage.Config{Driver: "redis", Redis: storage.RedisConfig{
			Addr:     strings.TrimSpace(sc.Redis.Addr),
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Key:      strings.TrimSpace(sc.Redis.Key), // empty: the storage default
		}}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, errors.Newf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEventsConfig(cfg *config.Config) events.Config {
	return events.Config{
		Path:       strings.TrimSpace(cfg.Events.Path),
		DateFormat: strings.TrimSpace(cfg.Events.DateFormat),
		LinkBase:   strings.TrimSpace(cfg.Events.LinkBase),
	}
}

func mapSubscriptionConfig(cfg *config.Config) (subscription.Config, error) {
	at, err := cfg.Subscriptions.FireAt()
	if err != nil {
		return subscription.Config{}, err
	}
	return subscription.Config{FireAt: at, ReplayConcurrency: cfg.Subscriptions.Concurrency()}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	every, err := cfg.Subscriptions.PollEvery()
	if err != nil {
		return dispatch.Config{}, err
	}
	timeout, err := cfg.Subscriptions.Timeout()
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{Interval: every, JobTimeout: timeout, HistorySize: 100}, nil
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled:       cfg.Metrics.Enabled,
		Addr:          strings.TrimSpace(cfg.Metrics.Addr),
		Pprof:         cfg.Metrics.Pprof,
		AllowInsecure: cfg.Metrics.AllowInsecure,
	}
}

// OpenStore opens the registry backend selected by cfg.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log.With(logx.Component("storage")))
}

// NewEventSource builds the CSV calendar with the clock in the configured timezone.
func NewEventSource(cfg *config.Config, clock func() time.Time, log logx.Logger) (*events.CSVSource, error) {
	loc, err := cfg.Subscriptions.Location()
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return events.NewCSV(mapEventsConfig(cfg),
		events.WithClock(func() time.Time { return clock().In(loc) }),
		events.WithLogger(log.With(logx.Component("events"))),
	), nil
}
