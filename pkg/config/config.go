// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultFeeds is the built-in feed list used when neither the config file
// nor the FEED_URLS environment variable provides one
var defaultFeeds = []string{
	"https://jobicy.com/?feed=job_feed",
	"https://jobicy.com/?feed=job_feed&job_categories=smm&job_types=full-time",
	"https://jobicy.com/?feed=job_feed&job_categories=seller&job_types=full-time&search_region=france",
	"https://jobicy.com/?feed=job_feed&job_categories=design-multimedia",
	"https://jobicy.com/?feed=job_feed&job_categories=data-science",
	"https://jobicy.com/?feed=job_feed&job_categories=copywriting",
	"https://jobicy.com/?feed=job_feed&job_categories=business",
	"https://jobicy.com/?feed=job_feed&job_categories=management",
	"https://www.higheredjobs.com/rss/articleFeed.cfm",
}

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	Database struct {
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
	} `yaml:"database"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Queue struct {
		Name        string        `yaml:"name"`
		Concurrency int           `yaml:"concurrency"`
		MaxAttempts int           `yaml:"max_attempts"`
		Backoff     time.Duration `yaml:"backoff"`
	} `yaml:"queue"`

	Import struct {
		BatchSize    int           `yaml:"batch_size"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
		UserAgent    string        `yaml:"user_agent"`
	} `yaml:"import"`

	Feeds struct {
		URLs     []string `yaml:"urls"`
		Schedule string   `yaml:"schedule"` // cron spec
	} `yaml:"feeds"`

	Notify struct {
		Channel string `yaml:"channel"`
	} `yaml:"notify"`
}

// Load reads configuration from a YAML file. A missing file is not an
// error: defaults apply, optionally adjusted by environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		// expand environment variables
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	setDefaults(&cfg)

	// FEED_URLS overrides the configured feed list, comma-separated
	if envList := os.Getenv("FEED_URLS"); strings.TrimSpace(envList) != "" {
		var urls []string
		for _, u := range strings.Split(envList, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			cfg.Feeds.URLs = urls
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults fills in zero values
func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:jobsink.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://127.0.0.1:6379"
	}

	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "job-import-queue"
	}
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 5
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.Backoff == 0 {
		cfg.Queue.Backoff = 5 * time.Second
	}

	if cfg.Import.BatchSize == 0 {
		cfg.Import.BatchSize = 50
	}
	if cfg.Import.FetchTimeout == 0 {
		cfg.Import.FetchTimeout = 15 * time.Second
	}
	if cfg.Import.UserAgent == "" {
		cfg.Import.UserAgent = "jobsink/1.0"
	}

	if len(cfg.Feeds.URLs) == 0 {
		cfg.Feeds.URLs = defaultFeeds
	}
	if cfg.Feeds.Schedule == "" {
		cfg.Feeds.Schedule = "0 * * * *" // hourly
	}

	if cfg.Notify.Channel == "" {
		cfg.Notify.Channel = "import-log"
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server.timeout must be at least 1 second")
	}
	if cfg.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if cfg.Queue.Backoff < time.Second {
		return fmt.Errorf("queue.backoff must be at least 1 second")
	}
	if cfg.Import.BatchSize < 1 {
		return fmt.Errorf("import.batch_size must be at least 1")
	}
	if cfg.Import.FetchTimeout < time.Second {
		return fmt.Errorf("import.fetch_timeout must be at least 1 second")
	}
	return nil
}
