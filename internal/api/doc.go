// Package api is the HTTP surface of stillalive: status ingestion keyed by a
// character secret, owner will configuration, and the public display view.
package api
