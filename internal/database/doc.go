// Package database opens the PostgreSQL pool used by the event journal.
//
// The journal keeps one row per received event in tournament_events, keyed
// by a client-generated UUID so that retried batches do not duplicate rows.
package database
