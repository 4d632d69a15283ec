package config

import "time"

// Config is the root configuration for a livetail instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Journal    JournalConfig    `yaml:"journal"`
	Log        LogConfig        `yaml:"log"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the tournament server settings.
type ServerConfig struct {
	BaseURL    string            `yaml:"base_url"`   // http(s) origin of the web app
	Path       string            `yaml:"path"`       // WebSocket route prefix
	Tournament string            `yaml:"tournament"` // Default tournament id
	Headers    map[string]string `yaml:"headers"`    // Extra handshake headers (e.g. Cookie)
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	// Pointer so that an explicit 0 (no retries) is distinguishable from unset.
	MaxReconnectAttempts  *int          `yaml:"max_reconnect_attempts"`
	BaseReconnectInterval time.Duration `yaml:"base_reconnect_interval"`
	ReconnectCap          time.Duration `yaml:"reconnect_cap"`
	HeartbeatPeriod       time.Duration `yaml:"heartbeat_period"`
	HandshakeTimeout      time.Duration `yaml:"handshake_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	BufferSize            int           `yaml:"buffer_size"`
}

// JournalConfig holds the event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
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

	// ApplicationName tags journal sessions in pg_stat_activity.
	ApplicationName string `yaml:"application_name"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
