package config

import (
	"time"

	"github.com/rickgao/tourney-live/internal/connection"
	"github.com/rickgao/tourney-live/internal/journal"
)

// Default values for optional configuration fields.
const (
	DefaultInstanceID            = "livetail"
	DefaultBaseURL               = "http://localhost:8000"
	DefaultPath                  = "/ws/tournaments"
	DefaultMaxReconnectAttempts  = 10
	DefaultBaseReconnectInterval = 1 * time.Second
	DefaultReconnectCap          = 30 * time.Second
	DefaultHeartbeatPeriod       = 30 * time.Second
	DefaultHandshakeTimeout      = 10 * time.Second
	DefaultWriteTimeout          = 5 * time.Second
	DefaultConnBufferSize        = 1000
	DefaultDBPort                = 5432
	DefaultDBSSLMode             = "prefer"
	DefaultDBApplicationName     = "livetail-journal"
	DefaultMaxConns              = 4
	DefaultMinConns              = 1
	DefaultBatchSize             = 100
	DefaultFlushInterval         = 1 * time.Second
	DefaultJournalBufferSize     = 1000
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = DefaultBaseURL
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}

	// Connection defaults
	if c.Connection.MaxReconnectAttempts == nil {
		n := DefaultMaxReconnectAttempts
		c.Connection.MaxReconnectAttempts = &n
	}
	if c.Connection.BaseReconnectInterval == 0 {
		c.Connection.BaseReconnectInterval = DefaultBaseReconnectInterval
	}
	if c.Connection.ReconnectCap == 0 {
		c.Connection.ReconnectCap = DefaultReconnectCap
	}
	if c.Connection.HeartbeatPeriod == 0 {
		c.Connection.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.BufferSize == 0 {
		c.Connection.BufferSize = DefaultConnBufferSize
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	// Log defaults
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
	if db.ApplicationName == "" {
		db.ApplicationName = DefaultDBApplicationName
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// ManagerConfig converts the server and connection sections for connection.NewManager.
func (c *Config) ManagerConfig() connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.BaseURL = c.Server.BaseURL
	mc.Path = c.Server.Path
	mc.Headers = c.Server.Headers
	if c.Connection.MaxReconnectAttempts != nil {
		mc.MaxReconnectAttempts = *c.Connection.MaxReconnectAttempts
	}
	mc.BaseReconnectInterval = c.Connection.BaseReconnectInterval
	mc.ReconnectCap = c.Connection.ReconnectCap
	mc.HeartbeatPeriod = c.Connection.HeartbeatPeriod
	mc.HandshakeTimeout = c.Connection.HandshakeTimeout
	mc.WriteTimeout = c.Connection.WriteTimeout
	mc.BufferSize = c.Connection.BufferSize
	return mc
}

// JournalWriterConfig converts the journal section for journal.NewWriter.
func (c *Config) JournalWriterConfig() journal.WriterConfig {
	return journal.WriterConfig{
		BatchSize:     c.Journal.BatchSize,
		FlushInterval: c.Journal.FlushInterval,
		BufferSize:    c.Journal.BufferSize,
	}
}
