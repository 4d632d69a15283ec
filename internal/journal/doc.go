// Package journal persists received tournament events to PostgreSQL.
//
// Events are queued without blocking the connection's read loop and written
// in batches. Rows are append-only and keyed by a client-generated UUID.
package journal
