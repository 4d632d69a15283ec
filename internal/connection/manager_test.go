package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/rickgao/tourney-live/internal/reconnect"
)

var errRefused = errors.New("connection refused")

// fakeNetwork hands out fakeTransports and scripts dial outcomes.
type fakeNetwork struct {
	mu         sync.Mutex
	transports []*fakeTransport
	failAll    bool
	failures   int           // upcoming dials that fail
	hold       chan struct{} // when set, dials block until closed
}

func (n *fakeNetwork) factory(cfg TransportConfig, _ *slog.Logger) Transport {
	ft := &fakeTransport{
		net:      n,
		cfg:      cfg,
		messages: make(chan TimestampedMessage, 16),
		errors:   make(chan error, 1),
	}
	n.mu.Lock()
	n.transports = append(n.transports, ft)
	n.mu.Unlock()
	return ft
}

func (n *fakeNetwork) setFailAll(v bool) {
	n.mu.Lock()
	n.failAll = v
	n.mu.Unlock()
}

// dials returns the number of Connect calls made so far.
func (n *fakeNetwork) dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, ft := range n.transports {
		if ft.dialed.Load() {
			count++
		}
	}
	return count
}

func (n *fakeNetwork) last() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[len(n.transports)-1]
}

type fakeTransport struct {
	net *fakeNetwork
	cfg TransportConfig

	messages chan TimestampedMessage
	errors   chan error

	dialed atomic.Bool

	mu        sync.Mutex
	sent      [][]byte
	connected bool
	closed    bool
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.net.mu.Lock()
	hold := f.net.hold
	fail := f.net.failAll
	if !fail && f.net.failures > 0 {
		f.net.failures--
		fail = true
	}
	f.net.mu.Unlock()
	f.dialed.Store(true)

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errRefused
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeTransport) Errors() <-chan error                { return f.errors }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// deliver simulates an inbound frame.
func (f *fakeTransport) deliver(frame string) {
	f.messages <- TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

// drop simulates the server closing the connection.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.errors <- err
}

func (f *fakeTransport) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, b := range f.sent {
		out[i] = string(b)
	}
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type statusLog struct {
	mu  sync.Mutex
	got []bool
}

func (s *statusLog) record(connected bool) {
	s.mu.Lock()
	s.got = append(s.got, connected)
	s.mu.Unlock()
}

func (s *statusLog) values() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.got...)
}

type testHarness struct {
	mgr   *Manager
	net   *fakeNetwork
	clock *clocktesting.FakeClock
}

func newHarness(t *testing.T, maxAttempts int) *testHarness {
	t.Helper()

	cfg := DefaultManagerConfig()
	cfg.BaseURL = "https://poker.example.com"
	cfg.MaxReconnectAttempts = maxAttempts
	cfg.HandshakeTimeout = 0

	net := &fakeNetwork{}
	clk := clocktesting.NewFakeClock(time.Now())
	policy := reconnect.NewPolicy(cfg.BaseReconnectInterval, cfg.ReconnectCap, maxAttempts).
		WithRand(func() float64 { return 0 })

	mgr := NewManager(cfg, nil,
		WithClock(clk),
		WithTransportFactory(net.factory),
		WithPolicy(policy),
	)
	t.Cleanup(mgr.Disconnect)

	return &testHarness{mgr: mgr, net: net, clock: clk}
}

// connectAsync runs Connect in the background and returns its result channel.
func (h *testHarness) connectAsync(ctx context.Context, subject string) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- h.mgr.Connect(ctx, subject)
	}()
	return result
}

// waitRetryScheduled waits until the manager is idle between attempts with
// the given retry count, which is when the retry timer is armed.
func (h *testHarness) waitRetryScheduled(t *testing.T, attempts int) {
	t.Helper()
	waitFor(t, func() bool {
		st := h.mgr.Stats()
		return st.State == StateDisconnected && st.Attempts == attempts
	})
}

func TestManager_ConnectAndDispatch(t *testing.T) {
	h := newHarness(t, 5)

	var status statusLog
	h.mgr.OnConnectionStatusChange(status.record)

	var mu sync.Mutex
	var updates, others []string
	h.mgr.On("update", func(data json.RawMessage) error {
		mu.Lock()
		updates = append(updates, string(data))
		mu.Unlock()
		return nil
	})
	h.mgr.On("other", func(data json.RawMessage) error {
		mu.Lock()
		others = append(others, string(data))
		mu.Unlock()
		return nil
	})

	if err := h.mgr.Connect(context.Background(), "42"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if got := h.mgr.State(); got != StateConnected {
		t.Fatalf("State = %v, want connected", got)
	}
	ft := h.net.last()
	if ft.cfg.URL != "wss://poker.example.com/ws/tournaments/42" {
		t.Errorf("URL = %q", ft.cfg.URL)
	}

	ft.deliver(`{"type":"update","data":{"x":1}}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 1
	})

	mu.Lock()
	if updates[0] != `{"x":1}` {
		t.Errorf("update payload = %s, want {\"x\":1}", updates[0])
	}
	if len(others) != 0 {
		t.Errorf("other handler received %v", others)
	}
	mu.Unlock()

	if got := status.values(); !reflect.DeepEqual(got, []bool{false, true}) {
		t.Errorf("status = %v, want [false true]", got)
	}

	st := h.mgr.Stats()
	if st.Attempts != 0 || st.Connects != 1 || st.Subject != "42" {
		t.Errorf("stats = %+v", st)
	}
	if st.SessionID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected a session id while connected")
	}
}

func TestManager_FramesDispatchedInOrder(t *testing.T) {
	h := newHarness(t, 5)

	var mu sync.Mutex
	var levels []string
	h.mgr.On("level_changed", func(data json.RawMessage) error {
		mu.Lock()
		levels = append(levels, string(data))
		mu.Unlock()
		return nil
	})

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ft := h.net.last()
	for _, lvl := range []string{"1", "2", "3", "4"} {
		ft.deliver(`{"type":"level_changed","data":` + lvl + `}`)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) == 4
	})
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(levels, []string{"1", "2", "3", "4"}) {
		t.Errorf("levels = %v, want [1 2 3 4]", levels)
	}
}

func TestManager_MalformedFrameIgnored(t *testing.T) {
	h := newHarness(t, 5)

	var calls atomic.Int32
	h.mgr.On("update", func(json.RawMessage) error {
		calls.Add(1)
		return nil
	})

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ft := h.net.last()

	ft.deliver("not json")
	ft.deliver(`{"data":{"x":1}}`)
	ft.deliver(`{"type":"update","data":{}}`)

	waitFor(t, func() bool { return calls.Load() == 1 })

	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1", got)
	}
	if got := h.mgr.Stats().ParseErrors; got != 2 {
		t.Errorf("ParseErrors = %d, want 2", got)
	}
	if got := h.mgr.State(); got != StateConnected {
		t.Errorf("State = %v after malformed frame, want connected", got)
	}
}

func TestManager_FailingHandlerDoesNotAffectConnection(t *testing.T) {
	h := newHarness(t, 5)

	var second atomic.Int32
	h.mgr.On("update", func(json.RawMessage) error { panic("subscriber bug") })
	h.mgr.On("update", func(json.RawMessage) error {
		second.Add(1)
		return nil
	})

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.net.last().deliver(`{"type":"update","data":1}`)

	waitFor(t, func() bool { return second.Load() == 1 })
	if got := h.mgr.State(); got != StateConnected {
		t.Errorf("State = %v, want connected", got)
	}
}

func TestManager_OffStopsDelivery(t *testing.T) {
	h := newHarness(t, 5)

	var calls atomic.Int32
	sub := h.mgr.On("update", func(json.RawMessage) error {
		calls.Add(1)
		return nil
	})

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ft := h.net.last()

	ft.deliver(`{"type":"update","data":1}`)
	waitFor(t, func() bool { return calls.Load() == 1 })

	h.mgr.Off("update", sub)
	sub.Unsubscribe()
	ft.deliver(`{"type":"update","data":2}`)
	waitFor(t, func() bool { return h.mgr.Stats().FramesReceived == 2 })

	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d after Off, want 1", got)
	}
}

func TestManager_SendWhileDisconnected(t *testing.T) {
	h := newHarness(t, 5)

	err := h.mgr.Send(Message{Type: "chat"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
	if len(h.net.transports) != 0 {
		t.Error("Send should not create a transport")
	}
}

func TestManager_SendWritesEnvelope(t *testing.T) {
	h := newHarness(t, 5)

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	msg, err := NewMessage("chat", map[string]string{"text": "gg"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := h.mgr.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	frames := h.net.last().sentFrames()
	if len(frames) != 1 || frames[0] != `{"type":"chat","data":{"text":"gg"}}` {
		t.Errorf("sent = %v", frames)
	}

	h.mgr.Disconnect()
	if err := h.mgr.Send(msg); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestManager_TerminalFailureAfterRetryBudget(t *testing.T) {
	h := newHarness(t, 2)
	h.net.setFailAll(true)

	result := h.connectAsync(context.Background(), "7")

	for attempt := 1; attempt <= 2; attempt++ {
		h.waitRetryScheduled(t, attempt)
		h.clock.Step(time.Hour)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectionFailed) {
			t.Fatalf("Connect error = %v, want ErrConnectionFailed", err)
		}
		if !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("error %q should carry the last cause", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not fail")
	}

	// Initial attempt plus two retries.
	if got := h.net.dials(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}

	h.clock.Step(time.Hour)
	time.Sleep(20 * time.Millisecond)

	if got := h.net.dials(); got != 3 {
		t.Errorf("dials = %d after terminal failure, want 3", got)
	}
	if h.clock.HasWaiters() {
		t.Error("no timer should remain after terminal failure")
	}
	if got := h.mgr.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
}

func TestManager_ZeroRetriesFailsImmediately(t *testing.T) {
	h := newHarness(t, 0)
	h.net.setFailAll(true)

	err := h.mgr.Connect(context.Background(), "7")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect error = %v, want ErrConnectionFailed", err)
	}
	if got := h.net.dials(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestManager_RecoversBeforeBudgetExhausted(t *testing.T) {
	h := newHarness(t, 5)
	h.net.failures = 2

	result := h.connectAsync(context.Background(), "7")

	h.waitRetryScheduled(t, 1)
	h.clock.Step(time.Hour)
	h.waitRetryScheduled(t, 2)
	h.clock.Step(time.Hour)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not complete")
	}

	if got := h.mgr.Stats().Attempts; got != 0 {
		t.Errorf("Attempts = %d after success, want 0", got)
	}
}

func TestManager_ThirdRetryDelay(t *testing.T) {
	// base 1000ms, cap 30000ms, minimum jitter:
	// retry 1 = floor(1500*0.85) = 1275ms
	// retry 2 = floor(2250*0.85) = 1912ms
	// retry 3 = floor(3375*0.85) = 2868ms
	h := newHarness(t, 5)
	h.net.setFailAll(true)

	h.connectAsync(context.Background(), "7")

	h.waitRetryScheduled(t, 1)
	h.clock.Step(1275 * time.Millisecond)
	h.waitRetryScheduled(t, 2)
	h.clock.Step(1912 * time.Millisecond)
	h.waitRetryScheduled(t, 3)

	if got := h.net.dials(); got != 3 {
		t.Fatalf("dials = %d, want 3", got)
	}

	h.clock.Step(2867 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if got := h.net.dials(); got != 3 {
		t.Fatalf("retry fired early: dials = %d", got)
	}

	h.clock.Step(time.Millisecond)
	waitFor(t, func() bool { return h.net.dials() == 4 })
}

func TestManager_DisconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, 5)
	h.net.setFailAll(true)

	result := h.connectAsync(context.Background(), "7")
	h.waitRetryScheduled(t, 1)

	h.mgr.Disconnect()

	select {
	case err := <-result:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("Connect error = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not settle after Disconnect")
	}

	h.clock.Step(time.Hour)
	time.Sleep(20 * time.Millisecond)

	if got := h.net.dials(); got != 1 {
		t.Errorf("dials = %d after Disconnect, want 1", got)
	}
	if h.clock.HasWaiters() {
		t.Error("retry timer should be cancelled")
	}
}

func TestManager_DisconnectDuringDial(t *testing.T) {
	h := newHarness(t, 5)
	h.net.hold = make(chan struct{})

	result := h.connectAsync(context.Background(), "7")
	waitFor(t, func() bool { return h.net.dials() == 1 })

	h.mgr.Disconnect()

	select {
	case err := <-result:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("Connect error = %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect hung after Disconnect")
	}

	time.Sleep(20 * time.Millisecond)
	if got := h.mgr.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
	if got := h.net.dials(); got != 1 {
		t.Errorf("dials = %d, want 1 (cancelled dial must not retry)", got)
	}
}

func TestManager_ContextCancelTearsDown(t *testing.T) {
	h := newHarness(t, 5)
	h.net.hold = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	result := h.connectAsync(ctx, "7")
	waitFor(t, func() bool { return h.net.dials() == 1 })

	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Connect error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect ignored context cancellation")
	}

	if got := h.mgr.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
}

func TestManager_HeartbeatOnlyWhileConnected(t *testing.T) {
	h := newHarness(t, 5)

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ft := h.net.last()

	h.clock.Step(30 * time.Second)
	waitFor(t, func() bool { return len(ft.sentFrames()) == 1 })

	if got := ft.sentFrames()[0]; got != `{"type":"ping"}` {
		t.Errorf("heartbeat frame = %s", got)
	}

	h.mgr.Disconnect()

	for i := 0; i < 3; i++ {
		h.clock.Step(30 * time.Second)
	}
	time.Sleep(20 * time.Millisecond)

	if got := len(ft.sentFrames()); got != 1 {
		t.Errorf("frames sent after Disconnect = %d, want 1 total", got)
	}
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	h := newHarness(t, 5)

	var status statusLog
	h.mgr.OnConnectionStatusChange(status.record)

	if err := h.mgr.Connect(context.Background(), "9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	first := h.net.last()

	first.drop(errors.New("websocket: close 1006 (abnormal closure)"))
	h.waitRetryScheduled(t, 1)
	waitFor(t, func() bool { return len(status.values()) == 3 })

	if got := status.values(); !reflect.DeepEqual(got, []bool{false, true, false}) {
		t.Errorf("status after drop = %v, want [false true false]", got)
	}
	if err := h.mgr.Send(Message{Type: "chat"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send during retry wait = %v, want ErrNotConnected", err)
	}

	h.clock.Step(time.Hour)
	waitFor(t, func() bool { return h.mgr.State() == StateConnected })

	second := h.net.last()
	if second == first {
		t.Fatal("expected a new transport for the retry")
	}
	if second.cfg.URL != first.cfg.URL {
		t.Errorf("retry URL = %q, want %q", second.cfg.URL, first.cfg.URL)
	}

	waitFor(t, func() bool { return len(status.values()) == 4 })
	if got := status.values(); !reflect.DeepEqual(got, []bool{false, true, false, true}) {
		t.Errorf("status = %v, want [false true false true]", got)
	}

	st := h.mgr.Stats()
	if st.Attempts != 0 || st.Connects != 2 || st.Disconnects != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestManager_DropAfterConnectExhaustsQuietly(t *testing.T) {
	h := newHarness(t, 1)

	if err := h.mgr.Connect(context.Background(), "9"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.net.setFailAll(true)
	h.net.last().drop(errors.New("gone"))

	h.waitRetryScheduled(t, 1)
	h.clock.Step(time.Hour)

	waitFor(t, func() bool { return h.net.dials() == 2 })
	time.Sleep(20 * time.Millisecond)

	if got := h.mgr.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
	if err := h.mgr.Err(); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Err() = %v, want ErrConnectionFailed", err)
	}
	h.clock.Step(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if got := h.net.dials(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestManager_ConnectReplacesExistingSession(t *testing.T) {
	h := newHarness(t, 5)

	var status statusLog
	h.mgr.OnConnectionStatusChange(status.record)

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	first := h.net.last()

	if err := h.mgr.Connect(context.Background(), "2"); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	second := h.net.last()

	if !first.isClosed() {
		t.Error("first transport should be closed")
	}
	if !strings.HasSuffix(second.cfg.URL, "/ws/tournaments/2") {
		t.Errorf("URL = %q", second.cfg.URL)
	}
	if got := h.mgr.Stats().Subject; got != "2" {
		t.Errorf("Subject = %q, want 2", got)
	}
	if got := status.values(); !reflect.DeepEqual(got, []bool{false, true, false, true}) {
		t.Errorf("status = %v, want [false true false true]", got)
	}

	// Frames on the superseded transport are not dispatched.
	var calls atomic.Int32
	h.mgr.On("update", func(json.RawMessage) error {
		calls.Add(1)
		return nil
	})
	first.deliver(`{"type":"update","data":1}`)
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("frame from old session was dispatched")
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	h := newHarness(t, 5)

	var status statusLog
	h.mgr.OnConnectionStatusChange(status.record)

	h.mgr.Disconnect()

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ft := h.net.last()

	h.mgr.Disconnect()
	h.mgr.Disconnect()

	if !ft.isClosed() {
		t.Error("transport should be closed")
	}
	if got := status.values(); !reflect.DeepEqual(got, []bool{false, true, false}) {
		t.Errorf("status = %v, want [false true false]", got)
	}

	// A close reported after Disconnect must not trigger the policy.
	select {
	case ft.errors <- errors.New("late close"):
	default:
	}
	time.Sleep(20 * time.Millisecond)
	if got := h.mgr.Stats().Attempts; got != 0 {
		t.Errorf("Attempts = %d, want 0", got)
	}
}

func TestManager_HandlerMayDisconnect(t *testing.T) {
	h := newHarness(t, 5)

	h.mgr.On("tournament_finished", func(json.RawMessage) error {
		h.mgr.Disconnect()
		return nil
	})

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	h.net.last().deliver(`{"type":"tournament_finished","data":null}`)

	waitFor(t, func() bool { return h.mgr.State() == StateDisconnected })
	time.Sleep(20 * time.Millisecond)
	if got := h.net.dials(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestManager_StatusOrderedAcrossSlowHandler(t *testing.T) {
	h := newHarness(t, 5)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.mgr.OnConnectionStatusChange(func(connected bool) {
		if connected {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})
	var status statusLog
	h.mgr.OnConnectionStatusChange(status.record)

	result := h.connectAsync(context.Background(), "1")
	<-entered

	h.mgr.Disconnect()
	if got := h.mgr.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
	close(release)

	if err := <-result; err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, func() bool { return len(status.values()) == 3 })
	if got := status.values(); !reflect.DeepEqual(got, []bool{false, true, false}) {
		t.Errorf("status = %v, want [false true false]", got)
	}
}

func TestManager_StatusHandlerMayDisconnect(t *testing.T) {
	h := newHarness(t, 5)

	h.mgr.OnConnectionStatusChange(func(connected bool) {
		if connected {
			h.mgr.Disconnect()
		}
	})
	var status statusLog
	h.mgr.OnConnectionStatusChange(status.record)

	if err := h.mgr.Connect(context.Background(), "1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, func() bool { return len(status.values()) == 3 })
	if got := status.values(); !reflect.DeepEqual(got, []bool{false, true, false}) {
		t.Errorf("status = %v, want [false true false]", got)
	}
	if h.mgr.IsConnected() {
		t.Error("manager should be disconnected")
	}
}

func TestManager_EmptySubjectRejected(t *testing.T) {
	h := newHarness(t, 5)

	err := h.mgr.Connect(context.Background(), "")
	if !errors.Is(err, ErrInvalidSubject) {
		t.Fatalf("Connect(\"\") error = %v, want ErrInvalidSubject", err)
	}
	if got := h.net.dials(); got != 0 {
		t.Errorf("dials = %d, want 0", got)
	}
}

func TestManager_InvalidBaseURL(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.BaseURL = "ftp://example.com"
	mgr := NewManager(cfg, nil)

	if err := mgr.Connect(context.Background(), "1"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
	if got := mgr.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
}

func TestManager_AgainstWebSocketServer(t *testing.T) {
	var gotPath atomic.Value
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"initial_state","data":{"id":5,"name":"Sunday Major","paused":false}}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == `{"type":"ping"}` {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
			}
		}
	}))
	defer server.Close()

	cfg := DefaultManagerConfig()
	cfg.BaseURL = server.URL
	mgr := NewManager(cfg, nil)
	defer mgr.Disconnect()

	initial := make(chan string, 1)
	pong := make(chan struct{}, 1)
	mgr.On("initial_state", func(data json.RawMessage) error {
		initial <- string(data)
		return nil
	})
	mgr.On("pong", func(json.RawMessage) error {
		pong <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Connect(ctx, "5"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case data := <-initial:
		if !strings.Contains(data, `"Sunday Major"`) {
			t.Errorf("initial_state = %s", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for initial_state")
	}
	if got := gotPath.Load(); got != "/ws/tournaments/5" {
		t.Errorf("path = %v, want /ws/tournaments/5", got)
	}

	ping, _ := NewMessage(TypePing, nil)
	if err := mgr.Send(ping); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case <-pong:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pong")
	}
}
