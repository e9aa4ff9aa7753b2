// Package mailer delivers HTML email.
//
// # Transport
//
// SMTP delivery uses github.com/wneessen/go-mail. A "log" driver writes the
// message to the logger instead, which is handy for local runs.
//
// # Throttling
//
// Limited wraps any Mailer with a token bucket so a burst of triggered wills
// does not trip the relay's provider limits.
//
// # History
//
// Limited keeps a small in-memory history of recent sends for diagnostics.
package mailer
