// Package model defines the payloads carried by tournament live-update events.
//
// Conventions:
//   - Event kinds are the "type" field of the wire envelope (e.g. "level_changed")
//   - Timestamps are ISO 8601 strings as sent by the server, parsed with ParseTime
//   - Optional server fields are pointers; nil means the server sent null
//   - Table layouts are kept as raw JSON, their shape is owned by the server
package model
