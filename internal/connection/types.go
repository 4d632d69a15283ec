package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNotConnected     = errors.New("websocket not connected")
	ErrConnectionFailed = errors.New("failed to connect to tournament updates")
	ErrDisconnected     = errors.New("disconnected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrInvalidSubject   = errors.New("invalid tournament id")
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TypePing is the reserved outbound keepalive type.
const TypePing = "ping"

// Message is the wire envelope used in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a Message, encoding data as JSON.
func NewMessage(msgType string, data any) (Message, error) {
	if data == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Data: raw}, nil
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// TransportConfig configures a WebSocket transport.
type TransportConfig struct {
	URL              string            // Full endpoint, e.g. wss://host/ws/tournaments/42
	Headers          map[string]string // Extra handshake headers (cookies, origin)
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound message channel buffer size
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	BaseURL               string        // Page/server URL; http(s) maps to ws(s)
	Path                  string        // Endpoint prefix; the subject id is appended
	Headers               map[string]string
	MaxReconnectAttempts  int           // Retries before terminal failure
	BaseReconnectInterval time.Duration // Backoff unit
	ReconnectCap          time.Duration // Max single-retry delay
	HeartbeatPeriod       time.Duration
	HandshakeTimeout      time.Duration
	WriteTimeout          time.Duration
	BufferSize            int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BaseURL:               "http://localhost:8000",
		Path:                  "/ws/tournaments",
		MaxReconnectAttempts:  10,
		BaseReconnectInterval: 1 * time.Second,
		ReconnectCap:          30 * time.Second,
		HeartbeatPeriod:       30 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		WriteTimeout:          5 * time.Second,
		BufferSize:            1000,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State          State
	Subject        string
	SessionID      uuid.UUID // Zero unless connected
	Attempts       int       // Current retry counter
	Connects       int64     // Successful opens since creation
	Disconnects    int64     // Transport closures observed (not manual)
	FramesReceived int64
	ParseErrors    int64
}
