package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/rickgao/tourney-live/internal/events"
	"github.com/rickgao/tourney-live/internal/heartbeat"
	"github.com/rickgao/tourney-live/internal/reconnect"
)

var pingFrame = []byte(`{"type":"ping"}`)

// Manager keeps one WebSocket connection to a subject alive and fans inbound
// events out to subscribers.
//
// State moves Disconnected → Connecting → Connected → Disconnected. Every
// open attempt gets a new generation; results arriving for an older
// generation are discarded, which is how Disconnect cancels in-flight dials,
// read loops and retry timers.
type Manager struct {
	cfg          ManagerConfig
	policy       *reconnect.Policy
	heartbeat    *heartbeat.Monitor
	events       *events.Dispatcher[json.RawMessage]
	status       *events.StatusPublisher
	clock        clock.WithTickerAndDelayedExecution
	newTransport TransportFactory
	logger       *slog.Logger

	mu         sync.Mutex
	state      State
	subject    string
	endpoint   string
	attempts   int
	gen        uint64
	sess       *session           // non-nil iff state == StateConnected
	dialCancel context.CancelFunc // non-nil iff state == StateConnecting
	retry      clock.Timer        // non-nil while a retry is scheduled
	pending    chan error         // result of the Connect call waiting, if any
	failure    error              // set when the retry budget runs out
	statusSeq  uint64 // orders status changes recorded under mu

	connects       atomic.Int64
	disconnects    atomic.Int64
	framesReceived atomic.Int64
	parseErrors    atomic.Int64
}

type session struct {
	id        uuid.UUID
	gen       uint64
	transport Transport
	done      chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the clock used for retry timers and heartbeats.
func WithClock(clk clock.WithTickerAndDelayedExecution) ManagerOption {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithTransportFactory sets how transports are created.
func WithTransportFactory(f TransportFactory) ManagerOption {
	return func(m *Manager) {
		m.newTransport = f
	}
}

// WithPolicy overrides the reconnection policy built from the config.
func WithPolicy(p *reconnect.Policy) ManagerOption {
	return func(m *Manager) {
		m.policy = p
	}
}

// NewManager creates a disconnected Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:          cfg,
		clock:        clock.RealClock{},
		newTransport: NewTransport,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.policy == nil {
		m.policy = reconnect.NewPolicy(cfg.BaseReconnectInterval, cfg.ReconnectCap, cfg.MaxReconnectAttempts)
	}
	m.heartbeat = heartbeat.New(cfg.HeartbeatPeriod, m.clock, logger.With("component", "heartbeat"))
	m.events = events.NewDispatcher[json.RawMessage](logger.With("component", "dispatcher"))
	m.status = events.NewStatusPublisher(logger.With("component", "status"))

	return m
}

// Connect opens a connection to subjectID and blocks until it is
// established. Any existing session is disconnected first.
//
// Lost connections are retried per the reconnection policy. If the retry
// budget runs out before the first successful open, Connect returns an error
// wrapping ErrConnectionFailed. If Disconnect is called while waiting it
// returns ErrDisconnected; if ctx ends it tears the session down and returns
// ctx.Err().
func (m *Manager) Connect(ctx context.Context, subjectID string) error {
	endpoint, err := Endpoint(m.cfg.BaseURL, m.cfg.Path, subjectID)
	if err != nil {
		return fmt.Errorf("build endpoint: %w", err)
	}

	result := make(chan error, 1)

	m.mu.Lock()
	prev := m.teardownLocked(ErrDisconnected)
	m.subject = subjectID
	m.endpoint = endpoint
	m.attempts = 0
	m.failure = nil
	m.pending = result
	m.startAttemptLocked()
	m.mu.Unlock()

	m.finishTeardown(prev)

	m.logger.Info("connecting to websocket", "url", endpoint, "tournament", subjectID)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
	}

	// Unless the attempt already claimed result, tearing down settles it
	// with ctx.Err().
	m.mu.Lock()
	var abandoned teardown
	if m.pending == result {
		abandoned = m.teardownLocked(ctx.Err())
	}
	m.mu.Unlock()
	m.finishTeardown(abandoned)

	return <-result
}

// Disconnect closes the connection, stops the heartbeat and cancels any
// pending retry. A waiting Connect returns ErrDisconnected. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	td := m.teardownLocked(ErrDisconnected)
	m.mu.Unlock()

	if td.active {
		m.logger.Info("websocket disconnected manually", "tournament", td.subject)
	}
	m.finishTeardown(td)
}

// Send transmits msg if connected. While disconnected the message is dropped
// and ErrNotConnected returned.
func (m *Manager) Send(msg Message) error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		m.logger.Error("cannot send message: websocket not connected", "type", msg.Type)
		return ErrNotConnected
	}
	t := m.sess.transport
	m.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := t.Send(data); err != nil {
		// The read loop observes the closure and drives the state change.
		m.logger.Warn("websocket send failed", "type", msg.Type, "error", err)
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// On subscribes h to inbound messages of eventType.
func (m *Manager) On(eventType string, h events.Handler[json.RawMessage]) *events.Subscription {
	return m.events.Subscribe(eventType, h)
}

// Off removes a subscription made with On.
func (m *Manager) Off(eventType string, sub *events.Subscription) {
	m.events.Unsubscribe(eventType, sub)
}

// OnConnectionStatusChange calls fn with the current status immediately and
// again on every transition.
func (m *Manager) OnConnectionStatusChange(fn func(connected bool)) *events.Subscription {
	return m.status.Subscribe(fn)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the state is StateConnected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Err returns the error that ended the session once the retry budget is
// spent, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		State:    m.state,
		Subject:  m.subject,
		Attempts: m.attempts,
	}
	if m.sess != nil {
		stats.SessionID = m.sess.id
	}
	m.mu.Unlock()

	stats.Connects = m.connects.Load()
	stats.Disconnects = m.disconnects.Load()
	stats.FramesReceived = m.framesReceived.Load()
	stats.ParseErrors = m.parseErrors.Load()
	return stats
}

// startAttemptLocked dials the current subject in a new goroutine.
func (m *Manager) startAttemptLocked() {
	m.gen++
	gen := m.gen

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.cfg.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.dialCancel = cancel
	m.state = StateConnecting

	t := m.newTransport(TransportConfig{
		URL:              m.endpoint,
		Headers:          m.cfg.Headers,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}, m.logger.With("tournament", m.subject, "attempt", m.attempts))

	go m.open(ctx, gen, t)
}

// open dials t and, on success, promotes it to the active session.
func (m *Manager) open(ctx context.Context, gen uint64, t Transport) {
	if err := t.Connect(ctx); err != nil {
		m.handleClose(gen, fmt.Errorf("dial: %w", err))
		return
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		t.Close()
		return
	}

	m.dialCancel()
	m.dialCancel = nil

	sess := &session{
		id:        uuid.New(),
		gen:       gen,
		transport: t,
		done:      make(chan struct{}),
	}
	m.sess = sess
	m.state = StateConnected
	m.attempts = 0
	m.heartbeat.Start(m.sendPing, m.IsConnected)
	seq := m.nextStatusLocked()
	subject := m.subject
	// Connect returns only after connected=true is published.
	result := m.pending
	m.pending = nil
	m.mu.Unlock()

	m.connects.Add(1)
	m.logger.Info("websocket connection established",
		"tournament", subject,
		"session", sess.id,
	)

	m.publishStatus(seq, true)
	if result != nil {
		result <- nil
	}

	go m.readLoop(sess)
}

// readLoop dispatches frames for one session until its transport fails or
// the session is torn down.
func (m *Manager) readLoop(sess *session) {
	t := sess.transport

	for {
		select {
		case <-sess.done:
			return

		case msg := <-t.Messages():
			m.handleFrame(msg)

		case err := <-t.Errors():
			// Deliver frames that arrived before the failure.
			for drained := false; !drained; {
				select {
				case msg := <-t.Messages():
					m.handleFrame(msg)
				default:
					drained = true
				}
			}
			m.handleClose(sess.gen, err)
			return
		}
	}
}

// handleFrame parses an inbound frame and dispatches it by type. Malformed
// frames are logged and dropped.
func (m *Manager) handleFrame(msg TimestampedMessage) {
	m.framesReceived.Add(1)

	var env Message
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		m.parseErrors.Add(1)
		m.logger.Warn("error parsing websocket message",
			"error", err,
			"size", len(msg.Data),
		)
		return
	}
	if env.Type == "" {
		m.parseErrors.Add(1)
		m.logger.Warn("websocket message without type", "size", len(msg.Data))
		return
	}

	m.events.Dispatch(env.Type, env.Data)
}

// handleClose reacts to the end of attempt gen, whether the dial failed or an
// established connection dropped.
func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}

	wasConnected := m.state == StateConnected
	td := teardown{}
	if wasConnected {
		td.transport = m.sess.transport
		close(m.sess.done)
		m.sess = nil
		m.heartbeat.Stop()
		td.statusSeq = m.nextStatusLocked()
		td.wasConnected = true
	} else if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.state = StateDisconnected
	subject := m.subject

	var failure error
	if m.policy.Exhausted(m.attempts) {
		failure = fmt.Errorf("%w: tournament %s after %d reconnect attempts: %v",
			ErrConnectionFailed, subject, m.attempts, cause)
		m.failure = failure
		m.settleLocked(failure)
	} else {
		m.attempts++
		attempt := m.attempts
		delay := m.policy.Delay(attempt)
		m.retry = m.clock.AfterFunc(delay, func() {
			go m.retryFired(gen)
		})
		m.logger.Info("attempting to reconnect",
			"tournament", subject,
			"attempt", attempt,
			"max_attempts", m.policy.MaxAttempts,
			"delay", delay,
			"cause", cause,
		)
	}
	m.mu.Unlock()

	if wasConnected {
		m.disconnects.Add(1)
		m.logger.Warn("websocket connection closed", "tournament", subject, "error", cause)
	}
	if failure != nil {
		m.logger.Error("max reconnect attempts reached", "tournament", subject, "error", failure)
	}
	m.finishTeardown(td)
}

// retryFired starts the scheduled attempt unless the session moved on.
func (m *Manager) retryFired(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.retry == nil || m.state != StateDisconnected {
		return
	}
	m.retry = nil
	m.startAttemptLocked()
}

// sendPing writes a keepalive frame. Silent when not connected.
func (m *Manager) sendPing() error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return nil
	}
	t := m.sess.transport
	m.mu.Unlock()

	return t.Send(pingFrame)
}

// teardown carries the work left after teardownLocked releases the lock.
type teardown struct {
	active       bool
	subject      string
	transport    Transport
	wasConnected bool
	statusSeq    uint64
}

// teardownLocked invalidates the current generation and releases every
// resource owned by the session. A waiting Connect receives reason.
func (m *Manager) teardownLocked(reason error) teardown {
	td := teardown{
		active:  m.state != StateDisconnected || m.retry != nil || m.pending != nil,
		subject: m.subject,
	}
	if !td.active {
		return td
	}

	m.gen++

	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.heartbeat.Stop()

	if m.sess != nil {
		td.transport = m.sess.transport
		close(m.sess.done)
		m.sess = nil
	}
	if m.state == StateConnected {
		td.wasConnected = true
		td.statusSeq = m.nextStatusLocked()
	}
	m.state = StateDisconnected

	m.settleLocked(reason)
	return td
}

// finishTeardown closes the transport and publishes the status change
// outside the lock.
func (m *Manager) finishTeardown(td teardown) {
	if td.transport != nil {
		if err := td.transport.Close(); err != nil {
			m.logger.Debug("error closing websocket", "error", err)
		}
	}
	if td.wasConnected {
		m.publishStatus(td.statusSeq, false)
	}
}

// settleLocked completes the waiting Connect, if any.
func (m *Manager) settleLocked(err error) {
	if m.pending == nil {
		return
	}
	m.pending <- err
	m.pending = nil
}

func (m *Manager) nextStatusLocked() uint64 {
	m.statusSeq++
	return m.statusSeq
}

// publishStatus delivers a status change unless a newer one was already
// recorded. Delivery order follows seq even when a status handler calls
// back into the manager.
func (m *Manager) publishStatus(seq uint64, connected bool) {
	if !m.status.Publish(seq, connected) {
		m.logger.Debug("dropping stale status change", "connected", connected)
	}
}
