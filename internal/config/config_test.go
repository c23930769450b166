package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: relay-a
server:
  addr: 127.0.0.1:9000
upstream:
  url: wss://ws.binaryws.com/websockets/v3
  app_id: "4242"
  reconnect_base_delay: 250ms
  default_symbols: [frxEURUSD, R_100]
storage:
  driver: postgres
  postgres:
    host: localhost
    name: relay
    user: relay
    password: relaypass
`
	path := writeTempFile(t, "config.yaml", yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "relay-a", cfg.Instance.ID)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "4242", cfg.Upstream.AppID)
	assert.Equal(t, 250*time.Millisecond, cfg.Upstream.ReconnectBaseDelay)
	assert.Equal(t, []string{"frxEURUSD", "R_100"}, cfg.Upstream.DefaultSymbols)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "localhost", cfg.Storage.Postgres.Host)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
storage:
  driver: postgres
  postgres:
    host: localhost
    name: relay
    user: relay
    password: ${TEST_DB_PASSWORD}
`
	cfg, err := Load(writeTempFile(t, "config.yaml", yaml))
	require.NoError(t, err)
	assert.Equal(t, "secret123", cfg.Storage.Postgres.Password)
}

func TestLoadEnvFile(t *testing.T) {
	path := writeTempFile(t, ".env", "TRADE_RELAY_TEST_TOPIC=from-dotenv\n")
	t.Setenv("TRADE_RELAY_TEST_TOPIC", "")
	os.Unsetenv("TRADE_RELAY_TEST_TOPIC")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-dotenv", os.Getenv("TRADE_RELAY_TEST_TOPIC"))

	// Missing file is fine
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := LoadWithDefaults(writeTempFile(t, "config.yaml", "instance:\n  id: relay-b\n"))
	require.NoError(t, err)

	assert.Equal(t, "relay-b", cfg.Instance.ID)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultUpstreamURL, cfg.Upstream.URL)
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.Upstream.MaxReconnectAttempts)
	assert.Equal(t, DefaultReconnectBaseDelay, cfg.Upstream.ReconnectBaseDelay)
	assert.Equal(t, DefaultStorageDriver, cfg.Storage.Driver)
	assert.Equal(t, DefaultDBPort, cfg.Storage.Postgres.Port)
	assert.Equal(t, DefaultPayoutMultiplier, cfg.Trading.PayoutMultiplier)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}

func TestLoadAndValidate_EmptyPath(t *testing.T) {
	cfg, err := LoadAndValidate("")
	require.NoError(t, err)
	assert.Equal(t, DefaultInstanceID, cfg.Instance.ID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "Config.Log.Level",
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "sqlite" },
			wantErr: "Config.Storage.Driver",
		},
		{
			name:    "bad server addr",
			mutate:  func(c *Config) { c.Server.Addr = "not an addr" },
			wantErr: "Config.Server.Addr",
		},
		{
			name:    "payout multiplier not above one",
			mutate:  func(c *Config) { c.Trading.PayoutMultiplier = "0.9" },
			wantErr: "trading.payout_multiplier must be a number > 1",
		},
		{
			name:    "postgres without host",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: "storage.postgres.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Storage.Driver = "postgres"
				c.Storage.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 5, MinConns: 10}
			},
			wantErr: "storage.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "audit without brokers",
			mutate:  func(c *Config) { c.Audit.Enabled = true },
			wantErr: "audit.brokers is required when audit is enabled",
		},
		{
			name: "relay enabled with defaults",
			mutate: func(c *Config) {
				c.Relay.Enabled = true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
