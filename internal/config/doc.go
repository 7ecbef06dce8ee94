// Package config loads, normalizes, and validates dvetransfer configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DVETRANSFER_CATALOG_TOKEN. The Config type centralizes every inbox, outbox,
// threshold and service endpoint the daemon and CLI need, so one pass
// discovers the whole directory chain of the pipeline.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
