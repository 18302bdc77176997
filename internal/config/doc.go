// Package config loads, validates, and normalizes murmur's TOML
// configuration. Defaults live in defaults.go; path expansion and
// derived values live in normalize.go.
package config
