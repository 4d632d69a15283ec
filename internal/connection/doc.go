// Package connection implements the live-update Connection Manager.
//
// The Connection Manager:
//   - Maintains one WebSocket connection per tournament (ws[s]://host/ws/tournaments/{id})
//   - Reconnects with capped exponential backoff and jitter after a loss
//   - Sends a "ping" keepalive every heartbeat period while connected
//   - Parses {"type", "data"} frames and dispatches them by type to subscribers
//   - Publishes connected/disconnected transitions
package connection
