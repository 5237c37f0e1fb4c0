package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/hakimelghazi/clob-core/internal/market"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := writeFile(t, `
listen: ":9090"
market:
  name: ETH-USD
  base: ETH
scale_factor_comment_is_not_a_field: 1
`)
	_, err := Load(path)
	require.Error(t, err, "unknown keys are rejected")

	path = writeFile(t, `
listen: ":9090"
market:
  name: ETH-USD
  base: ETH
  scale_factor: 1000000000
journal:
  dir: /var/lib/clob
kafka:
  brokers: [localhost:9092]
ticker:
  interval: 250ms
log:
  level: debug
  development: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, market.Market{Name: "ETH-USD", Base: "ETH", Quote: "USD", ScaleFactor: 1_000_000_000}, cfg.Market)
	assert.Equal(t, 1024, cfg.Engine.Buffer)
	assert.Equal(t, "/var/lib/clob", cfg.Journal.Dir)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "fills", cfg.Kafka.Topic)
	assert.Equal(t, 250*time.Millisecond, cfg.Ticker.Interval)
	assert.True(t, cfg.Log.Development)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/clob")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	want := Default()
	want.Database.URL = "postgres://localhost/clob"
	assert.Equal(t, want, cfg)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"scale factor": func(c *Config) { c.Market.ScaleFactor = 250 },
		"market name":  func(c *Config) { c.Market.Name = "" },
		"listen":       func(c *Config) { c.Listen = "" },
		"buffer":       func(c *Config) { c.Engine.Buffer = 0 },
		"interval":     func(c *Config) { c.Ticker.Interval = 0 },
		"topic":        func(c *Config) { c.Kafka = KafkaConfig{Brokers: []string{"b:9092"}} },
		"log level":    func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLogConfigBuild(t *testing.T) {
	log, err := LogConfig{Level: "warn"}.Build()
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	_, err = LogConfig{Level: "nope"}.Build()
	assert.Error(t, err)
}
