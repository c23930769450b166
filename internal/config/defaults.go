package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "trade-relay"
	DefaultServerAddr           = ":8080"
	DefaultReadTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultUpstreamURL          = "wss://ws.derivws.com/websockets/v3"
	DefaultAppID                = "1089"
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultUpstreamWriteTimeout = 5 * time.Second
	DefaultEventBufferSize      = 1024
	DefaultCurrency             = "USD"
	DefaultStorageDriver        = "memory"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultSubscriberBuffer     = 256
	DefaultPayoutMultiplier     = "1.85"
	DefaultRelayAddr            = "localhost:6379"
	DefaultRelayChannel         = "trade-relay:events"
	DefaultAuditTopic           = "trade-relay.trades"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
)

// Default returns a configuration with every default applied: in-memory
// storage, no relay, no audit stream.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Upstream defaults
	if c.Upstream.URL == "" {
		c.Upstream.URL = DefaultUpstreamURL
	}
	if c.Upstream.AppID == "" {
		c.Upstream.AppID = DefaultAppID
	}
	if c.Upstream.ReconnectBaseDelay == 0 {
		c.Upstream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Upstream.MaxReconnectAttempts == 0 {
		c.Upstream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Upstream.PingInterval == 0 {
		c.Upstream.PingInterval = DefaultPingInterval
	}
	if c.Upstream.PingTimeout == 0 {
		c.Upstream.PingTimeout = DefaultPingTimeout
	}
	if c.Upstream.WriteTimeout == 0 {
		c.Upstream.WriteTimeout = DefaultUpstreamWriteTimeout
	}
	if c.Upstream.EventBufferSize == 0 {
		c.Upstream.EventBufferSize = DefaultEventBufferSize
	}
	if c.Upstream.Currency == "" {
		c.Upstream.Currency = DefaultCurrency
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	applyDBDefaults(&c.Storage.Postgres)

	if c.Hub.SubscriberBuffer == 0 {
		c.Hub.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Trading.PayoutMultiplier == "" {
		c.Trading.PayoutMultiplier = DefaultPayoutMultiplier
	}

	// Relay and audit defaults only matter once enabled
	if c.Relay.Addr == "" {
		c.Relay.Addr = DefaultRelayAddr
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = DefaultRelayChannel
	}
	if c.Audit.Topic == "" {
		c.Audit.Topic = DefaultAuditTopic
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
