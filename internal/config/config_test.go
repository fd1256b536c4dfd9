package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbot/internal/task/scheduler"
)

const jsonCfg = `{
  "telegram": {"token": "abc", "poll_timeout": "15s"},
  "subscriptions": {"fire_time": "08:30:00", "replay_concurrency": 2},
  "storage": {"driver": "sqlite", "path": "./x.db"}
}`

const yamlCfg = `
telegram:
  token: "abc"
  poll_timeout: 15s
subscriptions:
  fire_time: "08:30:00"
  replay_concurrency: 2
storage:
  driver: sqlite
  path: ./x.db
`

const tomlCfg = `
[telegram]
token = "abc"
poll_timeout = "15s"

[subscriptions]
fire_time = "08:30:00"
replay_concurrency = 2

[storage]
driver = "sqlite"
path = "./x.db"
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseFormatsAgree(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	dir := t.TempDir()
	for name, body := range map[string]string{"c.json": jsonCfg, "c.yaml": yamlCfg, "c.toml": tomlCfg} {
		cfg, err := NewConfigManager(writeFile(t, dir, name, body)).Parse()
		require.NoError(t, err, name)

		assert.Equal(t, "abc", cfg.Telegram.Token, name)
		assert.Equal(t, "15s", cfg.Telegram.PollTimeout, name)
		assert.Equal(t, 2, cfg.Subscriptions.Concurrency(), name)
		assert.Equal(t, "sqlite", cfg.Storage.Driver, name)
		// untouched sections keep defaults
		assert.Equal(t, DefaultEventsPath, cfg.Events.Path, name)
		assert.True(t, cfg.Logging.Console, name)

		at, err := cfg.Subscriptions.FireAt()
		require.NoError(t, err)
		assert.Equal(t, scheduler.TimeOfDay{Hour: 8, Minute: 30}, at)
	}
}

func TestParseIsStrict(t *testing.T) {
	dir := t.TempDir()

	_, err := NewConfigManager(writeFile(t, dir, "unknown.json", `{"telegram":{"token":"x","owner":1}}`)).Parse()
	require.Error(t, err)

	_, err = NewConfigManager(writeFile(t, dir, "trailing.json", `{"telegram":{"token":"x"}} {}`)).Parse()
	require.Error(t, err)

	_, err = NewConfigManager(writeFile(t, dir, "unknown.yaml", "plugins:\n  x: 1\n")).Parse()
	require.Error(t, err)
}

func TestEnvOverridesToken(t *testing.T) {
	t.Setenv(EnvTelegramToken, "from-env")
	cfg, err := NewConfigManager(writeFile(t, t.TempDir(), "c.json", jsonCfg)).Parse()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "EVENTBOT_TEST_DOTENV"
	t.Cleanup(func() { _ = os.Unsetenv(key) })
	dir := t.TempDir()
	p := writeFile(t, dir, ".env", key+"=loaded\n")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), p))
	assert.Equal(t, "loaded", os.Getenv(key))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "t"
	require.NoError(t, Validate(cfg))

	bad := Default()
	bad.Subscriptions.FireTime = "25:00"
	bad.Subscriptions.PollInterval = "soon"
	bad.Storage.Driver = "postgres"
	bad.Telegram.GroupLog = "not-a-number"
	err := Validate(bad)
	require.Error(t, err)
	for _, want := range []string{"telegram.token", "subscriptions.fire_time", "subscriptions.poll_interval", "storage.driver", "telegram.group_log"} {
		assert.Contains(t, err.Error(), want)
	}

	redis := Default()
	redis.Telegram.Token = "t"
	redis.Storage.Driver = "redis"
	require.ErrorContains(t, Validate(redis), "storage.redis.addr")
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	m := NewConfigManager(writeFile(t, t.TempDir(), "c.json", `{"subscriptions":{"fire_time":"9am"}}`))
	_, err := m.Load()
	require.Error(t, err)
	assert.Nil(t, m.Get())
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", jsonCfg)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published)

	writeFile(t, dir, "c.json", `{"telegram":{"token":"abc"},"logging":{"level":"debug"}}`)
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	got := <-sub
	assert.Equal(t, "debug", got.Logging.Level)

	// invalid content keeps the committed config
	writeFile(t, dir, "c.json", `{"telegram":{"token":"abc"},"storage":{"driver":"nope"}}`)
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestWatchPicksUpEdits(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", jsonCfg)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "c.json", `{"telegram":{"token":"abc"},"logging":{"level":"warn"}}`)

	select {
	case cfg := <-sub:
		assert.Equal(t, "warn", cfg.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	a.Telegram.Token = "secret-1"
	b := Default()
	b.Telegram.Token = "secret-2"
	b.Logging.Level = "debug"
	b.Subscriptions.FireTime = "10:00:00"
	b.Telegram.GroupLog = "-100"

	changed, attrs, restart := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"logging", "subscriptions", "telegram", "telegram.group_log"}, changed)
	assert.Equal(t, []string{"subscriptions", "telegram"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, restart = SummarizeConfigChange(a, a)
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}

func TestParseChatID(t *testing.T) {
	id, err := ParseChatID("x", " -1001234 ")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234), id)

	id, err = ParseChatID("x", "")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = ParseChatID("x", "abc")
	require.Error(t, err)
}
