// Package config loads, normalizes, and validates the TOML configuration
// shared by the dialwatch daemon and CLI.
package config
