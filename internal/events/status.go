package events

import (
	"log/slog"
	"sync"
)

const statusTopic = "connection_status"

// StatusPublisher broadcasts connected/disconnected transitions. New
// subscribers are called with the current value before any later transition.
//
// Deliveries are serialized: notifications and subscribe replays are queued
// and run one at a time, in order, by whichever caller finds the queue idle.
// A handler that notifies or subscribes re-entrantly has its work queued
// behind the delivery in progress, so every subscriber observes transitions
// in the order they were recorded and ends on the latest value.
type StatusPublisher struct {
	dispatcher *Dispatcher[bool]
	logger     *slog.Logger

	mu        sync.Mutex
	connected bool // latest recorded value
	seq       uint64
	delivered bool // value of the last notification delivered
	queue     []statusJob
	draining  bool
}

// statusJob is a queued notification, or a replay when sub is non-nil.
type statusJob struct {
	connected bool
	sub       *statusSubscriber
}

// statusSubscriber ignores notifications until its replay has run. Its
// fields are only touched by the goroutine draining the queue.
type statusSubscriber struct {
	fn    func(connected bool)
	ready bool
}

func (s *statusSubscriber) deliver(connected bool) error {
	if s.ready {
		s.fn(connected)
	}
	return nil
}

// NewStatusPublisher creates a publisher whose initial value is false.
func NewStatusPublisher(logger *slog.Logger) *StatusPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusPublisher{
		dispatcher: NewDispatcher[bool](logger),
		logger:     logger,
	}
}

// Subscribe registers fn and calls it with the current value. The call is
// synchronous unless another delivery is in progress, in which case the
// replay runs right after it.
func (p *StatusPublisher) Subscribe(fn func(connected bool)) *Subscription {
	s := &statusSubscriber{fn: fn}
	sub := p.dispatcher.Subscribe(statusTopic, s.deliver)

	p.mu.Lock()
	p.queue = append(p.queue, statusJob{sub: s})
	p.mu.Unlock()

	p.drain()
	return sub
}

// Notify records connected as the newest transition and delivers it.
func (p *StatusPublisher) Notify(connected bool) {
	p.mu.Lock()
	p.recordLocked(p.seq+1, connected)
	p.mu.Unlock()

	p.drain()
}

// Publish records connected as transition seq and delivers it. Transitions
// not newer than the last recorded one are dropped; the result reports
// whether connected was recorded.
func (p *StatusPublisher) Publish(seq uint64, connected bool) bool {
	p.mu.Lock()
	if seq <= p.seq {
		p.mu.Unlock()
		return false
	}
	p.recordLocked(seq, connected)
	p.mu.Unlock()

	p.drain()
	return true
}

func (p *StatusPublisher) recordLocked(seq uint64, connected bool) {
	p.seq = seq
	p.connected = connected
	p.queue = append(p.queue, statusJob{connected: connected})
}

// drain runs queued jobs until the queue is empty. Only one goroutine
// drains at a time; others return immediately after queueing.
func (p *StatusPublisher) drain() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true

	for len(p.queue) > 0 {
		job := p.queue[0]
		p.queue = p.queue[1:]
		value := job.connected
		if job.sub != nil {
			value = p.delivered
		} else {
			p.delivered = job.connected
		}
		p.mu.Unlock()

		if job.sub != nil {
			job.sub.ready = true
			if err := invoke(Handler[bool](job.sub.deliver), value); err != nil {
				p.logger.Error("status handler failed", "error", err)
			}
		} else {
			p.dispatcher.Dispatch(statusTopic, value)
		}

		p.mu.Lock()
	}

	p.draining = false
	p.mu.Unlock()
}

// Connected returns the last recorded value.
func (p *StatusPublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Count returns the number of subscribers.
func (p *StatusPublisher) Count() int {
	return p.dispatcher.Count(statusTopic)
}
