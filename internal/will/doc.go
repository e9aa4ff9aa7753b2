// Package will implements the dead-man's switch: the sweep that detects
// characters that went silent, the outbox relay that hands pending
// notifications to the task engine, and the dispatcher that renders and mails
// the will.
//
// A will fires at most once per enable. The sweep disables the configuration
// and queues the notification in one storage transaction; delivery retries
// happen on the task engine and never re-enable the configuration.
package will
