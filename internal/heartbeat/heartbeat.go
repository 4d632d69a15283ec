// Package heartbeat sends periodic keepalive pings over an established connection.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultPeriod is the interval between pings.
const DefaultPeriod = 30 * time.Second

// Monitor runs at most one ping ticker at a time.
type Monitor struct {
	period time.Duration
	clock  clock.WithTicker
	logger *slog.Logger

	mu   sync.Mutex
	stop chan struct{} // nil when not running
}

// New creates a Monitor. A nil clock uses the real clock.
func New(period time.Duration, clk clock.WithTicker, logger *slog.Logger) *Monitor {
	if period <= 0 {
		period = DefaultPeriod
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		period: period,
		clock:  clk,
		logger: logger,
	}
}

// Start begins calling ping every period while alive reports true.
// Any ticker started earlier is stopped first.
func (m *Monitor) Start(ping func() error, alive func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	stop := make(chan struct{})
	m.stop = stop
	ticker := m.clock.NewTicker(m.period)

	go m.loop(ticker, stop, ping, alive)
}

// Stop cancels the ticker. Safe to call when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Running reports whether a ticker is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

func (m *Monitor) stopLocked() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

func (m *Monitor) loop(ticker clock.Ticker, stop <-chan struct{}, ping func() error, alive func() bool) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			// A tick can race with Stop; the stop channel wins.
			select {
			case <-stop:
				return
			default:
			}

			if !alive() {
				continue
			}
			if err := ping(); err != nil {
				m.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
