// Package config loads, normalizes, and validates celluloid's TOML
// configuration.
package config
