package journal

import (
	"encoding/json"
	"time"

	"github.com/rickgao/tourney-live/internal/connection"
	"github.com/rickgao/tourney-live/internal/events"
)

// StatusEventType is the event type recorded for connection status changes.
const StatusEventType = "connection_status"

// Source is the part of connection.Manager the journal listens to.
type Source interface {
	On(eventType string, h events.Handler[json.RawMessage]) *events.Subscription
	OnConnectionStatusChange(fn func(connected bool)) *events.Subscription
	Stats() connection.ManagerStats
}

// Attach records every event of the given types, plus status changes, from
// src into w. The returned function removes the subscriptions.
func Attach(src Source, w *Writer, eventTypes []string) (detach func()) {
	subs := make([]*events.Subscription, 0, len(eventTypes)+1)

	for _, et := range eventTypes {
		subs = append(subs, src.On(et, func(data json.RawMessage) error {
			st := src.Stats()
			w.Record(Entry{
				Tournament: st.Subject,
				SessionID:  st.SessionID,
				EventType:  et,
				Payload:    data,
				ReceivedAt: time.Now(),
			})
			return nil
		}))
	}

	subs = append(subs, src.OnConnectionStatusChange(func(connected bool) {
		st := src.Stats()
		if st.Subject == "" {
			// Initial replay before any Connect.
			return
		}
		payload, _ := json.Marshal(map[string]bool{"connected": connected})
		w.Record(Entry{
			Tournament: st.Subject,
			SessionID:  st.SessionID,
			EventType:  StatusEventType,
			Payload:    payload,
			ReceivedAt: time.Now(),
		})
	}))

	return func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
}
