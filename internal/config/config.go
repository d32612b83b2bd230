package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aquaflow/sensorhub/internal/ratelimit"
)

type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SensorConfig struct {
	HistoryCapacity int `yaml:"history_capacity"`
	TrendWindow     int `yaml:"trend_window"`
}

type RateLimitConfig struct {
	Enabled  bool `yaml:"enabled"`
	Rate     int  `yaml:"rate"`
	WindowMs int  `yaml:"window_ms"`
}

// SubmitLimit shapes the raw yaml values for the limiter.
func (c RateLimitConfig) SubmitLimit() ratelimit.LimitConfig {
	return ratelimit.LimitConfig{
		Rate:   c.Rate,
		Window: time.Duration(c.WindowMs) * time.Millisecond,
	}
}

type NatsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sensor    SensorConfig    `yaml:"sensor"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Nats      NatsConfig      `yaml:"nats"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: "5000"},
		Sensor: SensorConfig{HistoryCapacity: 100, TrendWindow: 10},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Rate:     120,
			WindowMs: 60_000,
		},
		Nats: NatsConfig{Subject: "sensors.readings"},
	}
}

// Store holds the current configuration behind an atomic pointer so
// the watcher can swap in a reloaded file while request paths read
// without locking.
type Store struct {
	path    string
	current atomic.Pointer[Config]
}

// Load parses the YAML file at path over built-in defaults. A missing
// file is not an error; the defaults apply.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	cfg, err := s.read()
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	return s, nil
}

func (s *Store) read() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Sensor.HistoryCapacity <= 0 {
		cfg.Sensor.HistoryCapacity = 100
	}
	if cfg.Sensor.TrendWindow < 2 {
		cfg.Sensor.TrendWindow = 10
	}
	if cfg.RateLimit.Rate <= 0 || cfg.RateLimit.WindowMs <= 0 {
		cfg.RateLimit.Enabled = false
	}
	return &cfg, nil
}

// Current returns the live configuration snapshot.
func (s *Store) Current() Config {
	return *s.current.Load()
}

// Reload re-reads the file and swaps the snapshot. Structural settings
// (port, history capacity) only apply at boot; tunables like rate
// limits take effect immediately.
func (s *Store) Reload() error {
	cfg, err := s.read()
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}
