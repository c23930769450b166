package config

import "time"

// Config is the root configuration for a trade-relay instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Storage  StorageConfig  `yaml:"storage"`
	Hub      HubConfig      `yaml:"hub"`
	Trading  TradingConfig  `yaml:"trading"`
	Relay    RelayConfig    `yaml:"relay"`
	Audit    AuditConfig    `yaml:"audit"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this relay. The id tags relayed events.
type InstanceConfig struct {
	ID string `yaml:"id" validate:"required"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig holds broker session settings shared by every Connector.
type UpstreamConfig struct {
	URL                  string        `yaml:"url" validate:"required,url"`
	AppID                string        `yaml:"app_id"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" validate:"gte=1"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	EventBufferSize      int           `yaml:"event_buffer_size" validate:"gte=1"`
	Currency             string        `yaml:"currency" validate:"required,len=3"`
	DefaultSymbols       []string      `yaml:"default_symbols"` // Subscribed on every new session
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver   string   `yaml:"driver" validate:"oneof=memory postgres"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HubConfig holds fan-out settings.
type HubConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer" validate:"gte=1"`
}

// TradingConfig holds the trade preview settings.
type TradingConfig struct {
	PayoutMultiplier string `yaml:"payout_multiplier" validate:"required,numeric"` // e.g. "1.85"
}

// RelayConfig enables the Redis bridge between relay instances.
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// AuditConfig enables the Kafka trade lifecycle stream.
type AuditConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}
