package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"eventbot/internal/task/scheduler"
)

type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Subscriptions SubscriptionsConfig `json:"subscriptions"`
	Events        EventsConfig        `json:"events"`
	Storage       StorageConfig       `json:"storage"`
	Metrics       MetricsConfig       `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is the chat id that receives forwarded log lines ("" disables).
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers).
	APIURL string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SubscriptionsConfig controls the daily announcement schedule.
//
// Defaults (when fields are omitted/zero):
//   - fire_time: "09:00:00"
//   - poll_interval: "1s"
//   - job_timeout: "30s"
//   - replay_concurrency: 4
type SubscriptionsConfig struct {
	FireTime          string `json:"fire_time"`
	PollInterval      string `json:"poll_interval,omitempty"`
	JobTimeout        string `json:"job_timeout,omitempty"`
	ReplayConcurrency int    `json:"replay_concurrency,omitempty"`
	// Timezone is an IANA name; empty means the host's local time.
	Timezone string `json:"timezone,omitempty"`
}

type EventsConfig struct {
	Path       string `json:"path"`
	DateFormat string `json:"date_format,omitempty"`
	LinkBase   string `json:"link_base,omitempty"`
}

// StorageConfig selects the subscription registry backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/eventbot.db" }
type StorageConfig struct {
	Driver      string             `json:"driver"`
	Path        string             `json:"path"`
	BusyTimeout string             `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       StorageRedisConfig `json:"redis,omitempty"`
}

type StorageRedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

// MetricsConfig controls the optional Prometheus/pprof HTTP server.
// Prefer binding to localhost; a non-loopback address needs allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Pprof         bool   `json:"pprof,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

const (
	DefaultFireTime          = "09:00:00"
	DefaultPollInterval      = time.Second
	DefaultJobTimeout        = 30 * time.Second
	DefaultReplayConcurrency = 4
	DefaultEventsPath        = "./data/events.csv"
	DefaultStoragePath       = "./data/subscriptions"
)

// Default returns a config that runs with nothing but a token.
func Default() *Config {
	return &Config{
		Logging:       LoggingConfig{Level: "info", Console: true},
		Subscriptions: SubscriptionsConfig{FireTime: DefaultFireTime},
		Events:        EventsConfig{Path: DefaultEventsPath},
		Storage:       StorageConfig{Driver: "file", Path: DefaultStoragePath},
	}
}

// FireAt parses subscriptions.fire_time, falling back to the default.
func (c SubscriptionsConfig) FireAt() (scheduler.TimeOfDay, error) {
	raw := strings.TrimSpace(c.FireTime)
	if raw == "" {
		raw = DefaultFireTime
	}
	t, err := scheduler.ParseTimeOfDay(raw)
	if err != nil {
		return scheduler.TimeOfDay{}, errors.Wrap(err, "subscriptions.fire_time")
	}
	return t, nil
}

// Location resolves subscriptions.timezone (nil error and time.Local when empty).
func (c SubscriptionsConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "subscriptions.timezone: %q", tz)
	}
	return loc, nil
}

func (c SubscriptionsConfig) PollEvery() (time.Duration, error) {
	return ParseDurationOrDefault("subscriptions.poll_interval", c.PollInterval, DefaultPollInterval)
}

func (c SubscriptionsConfig) Timeout() (time.Duration, error) {
	return ParseDurationOrDefault("subscriptions.job_timeout", c.JobTimeout, DefaultJobTimeout)
}

func (c SubscriptionsConfig) Concurrency() int {
	if c.ReplayConcurrency <= 0 {
		return DefaultReplayConcurrency
	}
	return c.ReplayConcurrency
}

var storageDrivers = map[string]bool{"": true, "file": true, "sqlite": true, "sqlite3": true, "redis": true, "memory": true, "mem": true}

// Validate checks every field that would otherwise fail at startup.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var problems []string
	add := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set " + EnvTelegramToken + ")"))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	if cfg.Telegram.RatePerSec < 0 {
		add(errors.New("telegram.rate_per_sec must be >= 0"))
	}
	if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
		_, err := ParseChatID("telegram.group_log", gl)
		add(err)
	}

	_, err = cfg.Subscriptions.FireAt()
	add(err)
	_, err = cfg.Subscriptions.Location()
	add(err)
	_, err = cfg.Subscriptions.PollEvery()
	add(err)
	_, err = cfg.Subscriptions.Timeout()
	add(err)
	if cfg.Subscriptions.ReplayConcurrency < 0 {
		add(errors.New("subscriptions.replay_concurrency must be >= 0"))
	}

	if strings.TrimSpace(cfg.Events.Path) == "" {
		add(errors.New("events.path is required"))
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !storageDrivers[driver] {
		add(errors.Newf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if driver == "redis" && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
		add(errors.New("storage.redis.addr is required for the redis driver"))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if len(problems) > 0 {
		return errors.Newf("%s", strings.Join(problems, "; "))
	}
	return nil
}
