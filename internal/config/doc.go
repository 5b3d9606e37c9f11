// Package config loads, normalizes, and validates mriprep configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files (or YAML when the file name ends in .yaml or
// .yml), and honours environment fallbacks such as MRIPREP_TEMPLATE. The
// Config type centralizes every per-stage toggle and algorithm parameter the
// orchestrator needs.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical method names, and clear validation errors.
package config
