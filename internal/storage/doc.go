// Package storage persists characters, status events, will configurations and
// the notification outbox in a single SQLite database.
//
// Timestamps are stored as UTC unix milliseconds. The schema is managed by
// embedded golang-migrate migrations applied on Open.
package storage
