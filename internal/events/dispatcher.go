// Package events fans payloads out to subscribers keyed by event type, and
// publishes connection status transitions.
//
// Handlers are isolated from one another: an error or panic in one handler is
// logged and delivery continues with the next.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives a dispatched payload.
type Handler[P any] func(payload P) error

// Subscription identifies one registered handler.
type Subscription struct {
	id        uint64
	eventType string
	remove    func(eventType string, id uint64)
	once      sync.Once
}

// EventType returns the bucket this subscription belongs to.
func (s *Subscription) EventType() string {
	return s.eventType
}

// Unsubscribe removes the handler. Calls after the first are no-ops.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.remove(s.eventType, s.id)
	})
}

type entry[P any] struct {
	id      uint64
	handler Handler[P]
}

// Dispatcher maps event types to ordered handler lists.
type Dispatcher[P any] struct {
	logger *slog.Logger

	nextID atomic.Uint64

	mu       sync.RWMutex
	handlers map[string][]entry[P]
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher[P any](logger *slog.Logger) *Dispatcher[P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher[P]{
		logger:   logger,
		handlers: make(map[string][]entry[P]),
	}
}

// Subscribe appends h to the handlers for eventType.
func (d *Dispatcher[P]) Subscribe(eventType string, h Handler[P]) *Subscription {
	id := d.nextID.Add(1)

	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], entry[P]{id: id, handler: h})
	d.mu.Unlock()

	return &Subscription{
		id:        id,
		eventType: eventType,
		remove:    d.remove,
	}
}

// Unsubscribe removes sub from eventType. No-op if sub is not registered there.
func (d *Dispatcher[P]) Unsubscribe(eventType string, sub *Subscription) {
	if sub == nil || sub.eventType != eventType {
		return
	}
	sub.Unsubscribe()
}

// Dispatch delivers payload to every handler registered for eventType, in
// subscription order. It returns the number of handlers invoked.
func (d *Dispatcher[P]) Dispatch(eventType string, payload P) int {
	d.mu.RLock()
	list := d.handlers[eventType]
	snapshot := make([]entry[P], len(list))
	copy(snapshot, list)
	d.mu.RUnlock()

	for _, e := range snapshot {
		if err := invoke(e.handler, payload); err != nil {
			d.logger.Error("event handler failed",
				"event_type", eventType,
				"error", err,
			)
		}
	}
	return len(snapshot)
}

// Count returns the number of handlers registered for eventType.
func (d *Dispatcher[P]) Count(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

func (d *Dispatcher[P]) remove(eventType string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[eventType]
	for i, e := range list {
		if e.id != id {
			continue
		}
		// Copy so in-flight snapshots are unaffected.
		next := make([]entry[P], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(d.handlers, eventType)
		} else {
			d.handlers[eventType] = next
		}
		return
	}
}

func invoke[P any](h Handler[P], payload P) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(payload)
}
