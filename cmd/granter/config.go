package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/granter"
	"github.com/xraph/granter/badge"
	"github.com/xraph/granter/queue"
)

// Store backends.
const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// Config is the file layout of granter.yaml.
type Config struct {
	Log    LogConfig     `yaml:"log"`
	HTTP   HTTPConfig    `yaml:"http"`
	Store  StoreConfig   `yaml:"store"`
	Runner RunnerConfig  `yaml:"runner"`
	Badges BadgesConfig  `yaml:"badges"`
	Queues []QueueConfig `yaml:"queues"`
	Audit  AuditConfig   `yaml:"audit"`
}

// AuditConfig turns on the audit log. Actions empty means all.
type AuditConfig struct {
	Enabled bool     `yaml:"enabled"`
	Actions []string `yaml:"actions"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig selects the backend. The redis backend keeps jobs in Redis
// and reads badges from PostgresDSN.
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url"`
}

type RunnerConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	LockTTL            time.Duration `yaml:"lock_ttl"`
	LockAcquireTimeout time.Duration `yaml:"lock_acquire_timeout"`
}

type BadgesConfig struct {
	Enabled              bool          `yaml:"enabled"`
	QuietDelay           time.Duration `yaml:"quiet_delay"`
	Queue                string        `yaml:"queue"`
	Schedule             string        `yaml:"schedule"`
	SweepMaxRetries      int           `yaml:"sweep_max_retries"`
	CancelBeforeBackfill bool          `yaml:"cancel_before_backfill"`
}

type QueueConfig struct {
	Name           string  `yaml:"name"`
	MaxConcurrency int     `yaml:"max_concurrency"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
}

func defaultConfig() Config {
	rc := granter.DefaultConfig()
	bc := badge.DefaultConfig()
	return Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Store: StoreConfig{Backend: backendMemory},
		Runner: RunnerConfig{
			Concurrency:        rc.Concurrency,
			PollInterval:       rc.PollInterval,
			ShutdownTimeout:    rc.ShutdownTimeout,
			LockTTL:            rc.LockTTL,
			LockAcquireTimeout: rc.LockAcquireTimeout,
		},
		Badges: BadgesConfig{
			Enabled:              true,
			QuietDelay:           bc.QuietDelay,
			Queue:                bc.Queue,
			Schedule:             "@daily",
			SweepMaxRetries:      bc.SweepMaxRetries,
			CancelBeforeBackfill: bc.CancelBeforeBackfill,
		},
		Queues: []QueueConfig{{Name: bc.Queue, MaxConcurrency: 2}},
	}
}

// loadConfig reads path over the defaults, then applies GRANTER_*
// environment overrides. An empty path skips the file.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("GRANTER_LOG_LEVEL", &cfg.Log.Level)
	str("GRANTER_LOG_FORMAT", &cfg.Log.Format)
	str("GRANTER_HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRANTER_STORE_BACKEND", &cfg.Store.Backend)
	str("GRANTER_POSTGRES_DSN", &cfg.Store.PostgresDSN)
	str("GRANTER_REDIS_URL", &cfg.Store.RedisURL)

	if v, ok := lookup("GRANTER_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRANTER_CONCURRENCY: %w", err)
		}
		cfg.Runner.Concurrency = n
	}
	if v, ok := lookup("GRANTER_BADGES_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GRANTER_BADGES_ENABLED: %w", err)
		}
		cfg.Badges.Enabled = b
	}
	if v, ok := lookup("GRANTER_BADGES_QUIET_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GRANTER_BADGES_QUIET_DELAY: %w", err)
		}
		cfg.Badges.QuietDelay = d
	}
	return nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Store.Backend {
	case backendMemory:
	case backendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	case backendRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis backend"))
		}
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for badges with the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Badges.QuietDelay <= 0 {
		errs = append(errs, errors.New("badges.quiet_delay must be positive"))
	}
	if c.Runner.Concurrency <= 0 {
		errs = append(errs, errors.New("runner.concurrency must be positive"))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c Config) runnerConfig() granter.Config {
	rc := granter.DefaultConfig()
	rc.Concurrency = c.Runner.Concurrency
	if c.Runner.PollInterval > 0 {
		rc.PollInterval = c.Runner.PollInterval
	}
	if c.Runner.ShutdownTimeout > 0 {
		rc.ShutdownTimeout = c.Runner.ShutdownTimeout
	}
	if c.Runner.LockTTL > 0 {
		rc.LockTTL = c.Runner.LockTTL
	}
	rc.LockAcquireTimeout = c.Runner.LockAcquireTimeout

	queues := map[string]bool{"default": true}
	rc.Queues = []string{"default"}
	for _, q := range append([]string{c.Badges.Queue}, queueNames(c.Queues)...) {
		if !queues[q] {
			queues[q] = true
			rc.Queues = append(rc.Queues, q)
		}
	}
	return rc
}

func (c Config) badgeConfig() badge.Config {
	bc := badge.DefaultConfig()
	bc.QuietDelay = c.Badges.QuietDelay
	if c.Badges.Queue != "" {
		bc.Queue = c.Badges.Queue
	}
	if c.Badges.SweepMaxRetries > 0 {
		bc.SweepMaxRetries = c.Badges.SweepMaxRetries
	}
	bc.CancelBeforeBackfill = c.Badges.CancelBeforeBackfill
	return bc
}

func (c Config) queueConfigs() []queue.Config {
	out := make([]queue.Config, 0, len(c.Queues))
	for _, q := range c.Queues {
		out = append(out, queue.Config{
			Name:           q.Name,
			MaxConcurrency: q.MaxConcurrency,
			RateLimit:      q.RateLimit,
			RateBurst:      q.RateBurst,
		})
	}
	return out
}

func queueNames(qs []QueueConfig) []string {
	names := make([]string, 0, len(qs))
	for _, q := range qs {
		names = append(names, q.Name)
	}
	return names
}
