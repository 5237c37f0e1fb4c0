// Package config loads the server's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hakimelghazi/clob-core/internal/market"
)

var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	Listen   string         `yaml:"listen"`
	Market   market.Market  `yaml:"market"`
	Engine   EngineConfig   `yaml:"engine"`
	Database DatabaseConfig `yaml:"database"`
	Journal  JournalConfig  `yaml:"journal"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Ticker   TickerConfig   `yaml:"ticker"`
	Log      LogConfig      `yaml:"log"`
}

type EngineConfig struct {
	Buffer int `yaml:"buffer"`
}

// DatabaseConfig is optional; without a URL balances live in memory and
// fills are not stored.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// JournalConfig is optional; without a directory the book starts empty.
type JournalConfig struct {
	Dir string `yaml:"dir"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TickerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Listen: ":8080",
		Market: market.Market{
			Name:        "BTC-USD",
			Base:        "BTC",
			Quote:       "USD",
			ScaleFactor: 1_000_000,
		},
		Engine: EngineConfig{Buffer: 1024},
		Kafka:  KafkaConfig{Topic: "fills"},
		Ticker: TickerConfig{Interval: time.Second},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// DATABASE_URL, when set, overrides database.url.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if cfg, err = Parse(b); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Market.Validate(); err != nil {
		return fmt.Errorf("%w: market: %w", ErrInvalidConfig, err)
	}
	if c.Listen == "" {
		return fmt.Errorf("%w: listen is empty", ErrInvalidConfig)
	}
	if c.Engine.Buffer <= 0 {
		return fmt.Errorf("%w: engine.buffer must be positive", ErrInvalidConfig)
	}
	if c.Ticker.Interval <= 0 {
		return fmt.Errorf("%w: ticker.interval must be positive", ErrInvalidConfig)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("%w: kafka.topic is required with brokers", ErrInvalidConfig)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Build returns the zap logger described by c.
func (c LogConfig) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
