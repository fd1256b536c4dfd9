package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbot/internal/storage"
	logx "eventbot/pkg/logx"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() { eventsNext = false })
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	next := time.Now().AddDate(0, 0, 3).Format("02.01.2006")
	csv := "key,title,start,end\nmeet,Gopher Meetup," + next + ",\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.csv"), []byte(csv), 0o600))

	cfg := fmt.Sprintf(`
events:
  path: %q
storage:
  driver: file
  path: %q
`, filepath.Join(dir, "events.csv"), filepath.Join(dir, "subs"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(cfg), 0o600))
	return p
}

func TestSubscriptionsList(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "subs")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Add(context.Background(), -100))
	require.NoError(t, st.Add(context.Background(), 42))
	require.NoError(t, st.Close())

	out := execute(t, "subscriptions", "list", "--config", cfg)
	assert.Equal(t, "-100\n42\n", out)
}

func TestEventsCommand(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())

	out := execute(t, "events", "--config", cfg)
	assert.Contains(t, out, "Gopher Meetup")
	assert.Contains(t, out, "Days left")

	out = execute(t, "events", "--next", "--config", cfg)
	assert.Contains(t, out, "Gopher Meetup")
	assert.Contains(t, out, "3 days left")
}
