// Package config loads, normalizes, and validates pipettor configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the PIPETTOR_STATE_DIR
// environment fallback. The Config type centralizes the pipette geometry,
// allocator dead-volume policy, bead-handling defaults, and primer-rotation
// backend used by protocol runs.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
