// Package config loads stillalive's JSON or YAML configuration, overlays
// secrets from the environment and watches the file for hot reloads.
package config
