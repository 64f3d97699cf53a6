package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultFeed}, cfg.Feeds)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 1, cfg.FetchConcurrency)
	assert.Equal(t, "json", cfg.Store.Driver)
	assert.Equal(t, "status_history.json", cfg.Store.Path)
	assert.True(t, cfg.Notify.Console)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "statuspulse.yaml", `
feeds:
  - https://status.example.com/history.atom
  - " https://status.example.com/history.atom "
  - https://other.example.com/feed.rss
interval: 2m
fetch_timeout: 5s
fetch_concurrency: 2
store:
  driver: sqlite
  path: /var/lib/statuspulse/history.db
notify:
  webhook_url: https://hooks.example.com/pulse
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://status.example.com/history.atom", "https://other.example.com/feed.rss"}, cfg.Feeds)
	assert.Equal(t, 2*time.Minute, cfg.Interval)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2, cfg.FetchConcurrency)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/statuspulse/history.db", cfg.Store.Path)
	assert.Equal(t, "https://hooks.example.com/pulse", cfg.Notify.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STATUSPULSE_STORE_PATH", "/tmp/pulse.json")
	t.Setenv("STATUSPULSE_INTERVAL", "30s")
	t.Setenv("STATUSPULSE_FEEDS", "https://a.example.com/feed,https://b.example.com/feed")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pulse.json", cfg.Store.Path)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, []string{"https://a.example.com/feed", "https://b.example.com/feed"}, cfg.Feeds)
}

func TestLoadOPML(t *testing.T) {
	opmlPath := writeFile(t, "feeds.opml", `<?xml version="1.0"?>
<opml version="2.0"><head><title>x</title></head><body>
  <outline text="GitHub" xmlUrl="https://www.githubstatus.com/history.atom"/>
  <outline text="OpenAI" xmlUrl="https://status.openai.com/history.atom"/>
</body></opml>`)
	path := writeFile(t, "statuspulse.yaml", "feeds_opml: "+opmlPath+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultFeed, "https://www.githubstatus.com/history.atom"}, cfg.Feeds)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Feeds:            []string{DefaultFeed},
		Interval:         time.Minute,
		FetchTimeout:     time.Second,
		FetchConcurrency: 1,
		Store:            StoreConfig{Driver: "json", Path: "h.json"},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no feeds", func(c *Config) { c.Feeds = nil }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"zero timeout", func(c *Config) { c.FetchTimeout = 0 }},
		{"zero concurrency", func(c *Config) { c.FetchConcurrency = 0 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }},
		{"json without path", func(c *Config) { c.Store.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			c.Feeds = append([]string(nil), valid.Feeds...)
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid
	c.Feeds = nil
	assert.True(t, errors.Is(c.Validate(), ErrNoFeeds))
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "STATUSPULSE_TEST_DOTENV=loaded\n")
	t.Setenv("STATUSPULSE_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("STATUSPULSE_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("STATUSPULSE_TEST_DOTENV"))
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
