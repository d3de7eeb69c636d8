package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultPath = "configs/terminal.yaml"

// Config is the terminal-side configuration.
type Config struct {
	Server struct {
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`
	Poller struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		PaidHold     time.Duration `yaml:"paid_hold"`
	} `yaml:"poller"`
	Queue struct {
		Path        string        `yaml:"path"`
		BackoffBase time.Duration `yaml:"backoff_base"`
		BackoffMax  time.Duration `yaml:"backoff_max"`
	} `yaml:"queue"`
}

// Load reads the yaml file at path, falling back to CONFIG_PATH and then the
// default location. A missing default file is not an error; env overrides and
// defaults still apply.
func Load(path string) (*Config, error) {
	explicit := true
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = defaultPath
		explicit = false
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.BaseURL == "" {
		return nil, errors.New("server.base_url is required")
	}
	if cfg.Queue.BackoffMax < cfg.Queue.BackoffBase {
		return nil, errors.New("queue.backoff_max must not be below queue.backoff_base")
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POS_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("POS_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("POS_SERVER_TIMEOUT"); v != "" {
		cfg.Server.Timeout = durationOr(cfg.Server.Timeout, v)
	}
	if v := os.Getenv("POS_POLL_INTERVAL"); v != "" {
		cfg.Poller.PollInterval = durationOr(cfg.Poller.PollInterval, v)
	}
	if v := os.Getenv("POS_QUEUE_PATH"); v != "" {
		cfg.Queue.Path = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Timeout <= 0 {
		cfg.Server.Timeout = 10 * time.Second
	}
	if cfg.Poller.PollInterval <= 0 {
		cfg.Poller.PollInterval = 2 * time.Second
	}
	if cfg.Poller.PaidHold <= 0 {
		cfg.Poller.PaidHold = 3 * time.Second
	}
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = "pospay-queue.db"
	}
	if cfg.Queue.BackoffBase <= 0 {
		cfg.Queue.BackoffBase = time.Second
	}
	if cfg.Queue.BackoffMax <= 0 {
		cfg.Queue.BackoffMax = time.Minute
	}
}

func durationOr(def time.Duration, v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
