// Package config loads, normalizes, and validates transcoder configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// TRANSCODER_REDIS_ADDR. The Config type centralizes every knob the daemon and
// CLI need: working and content-store directories, scheduler concurrency, the
// ffmpeg encode profile, the status store backend, and event fan-out.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
