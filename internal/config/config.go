// Package config loads statuspulse settings from a YAML file, the environment
// and an optional .env file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bryan-buckman/statuspulse/internal/database"
	"github.com/bryan-buckman/statuspulse/internal/opml"
)

// EnvPrefix is prepended to every environment override, e.g. STATUSPULSE_STORE_PATH.
const EnvPrefix = "STATUSPULSE"

// DefaultFeed is polled when no feeds are configured.
const DefaultFeed = "https://status.openai.com/history.atom"

// ErrNoFeeds is returned when the configuration lists no endpoints.
var ErrNoFeeds = errors.New("no feeds configured")

// StoreConfig selects the history backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // json | sqlite | postgres
	Path   string `mapstructure:"path"`   // JSON document or SQLite file
	DSN    string `mapstructure:"dsn"`    // PostgreSQL connection string
}

// NotifyConfig enables the notifiers for new incidents.
type NotifyConfig struct {
	Console    bool   `mapstructure:"console"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig sets the logger level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full runtime configuration.
type Config struct {
	Feeds            []string      `mapstructure:"feeds"`
	FeedsOPML        string        `mapstructure:"feeds_opml"`
	Interval         time.Duration `mapstructure:"interval"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	UserAgent        string        `mapstructure:"user_agent"`

	Store  StoreConfig  `mapstructure:"store"`
	Notify NotifyConfig `mapstructure:"notify"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feeds", []string{DefaultFeed})
	v.SetDefault("feeds_opml", "")
	v.SetDefault("interval", 60*time.Second)
	v.SetDefault("fetch_timeout", 10*time.Second)
	v.SetDefault("fetch_concurrency", 1)
	v.SetDefault("user_agent", "statuspulse/1.0")
	v.SetDefault("store.driver", database.DriverJSON)
	v.SetDefault("store.path", "status_history.json")
	v.SetDefault("store.dsn", "")
	v.SetDefault("notify.console", true)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("log.level", "info")
}

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// Load builds the configuration. If path is empty, statuspulse.yaml in the
// working directory is read when present. Environment variables override
// file values.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("statuspulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, errors.Wrap(err, "read config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.Feeds = cleanFeeds(cfg.Feeds)

	if cfg.FeedsOPML != "" {
		urls, err := opml.LoadURLs(cfg.FeedsOPML)
		if err != nil {
			return Config{}, err
		}
		cfg.Feeds = cleanFeeds(append(cfg.Feeds, urls...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the poller cannot run with.
func (c Config) Validate() error {
	if len(c.Feeds) == 0 {
		return ErrNoFeeds
	}
	if c.Interval <= 0 {
		return errors.Newf("interval must be positive, got %s", c.Interval)
	}
	if c.FetchTimeout <= 0 {
		return errors.Newf("fetch_timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.FetchConcurrency < 1 {
		return errors.Newf("fetch_concurrency must be at least 1, got %d", c.FetchConcurrency)
	}
	switch c.Store.Driver {
	case database.DriverJSON, database.DriverSQLite:
		if c.Store.Path == "" {
			return errors.Newf("store.path is required for the %s driver", c.Store.Driver)
		}
	case database.DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return errors.Newf("unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// cleanFeeds trims entries, drops blanks and removes repeats, keeping order.
func cleanFeeds(feeds []string) []string {
	seen := make(map[string]bool, len(feeds))
	out := make([]string, 0, len(feeds))
	for _, f := range feeds {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
