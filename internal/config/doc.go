// Package config loads, normalizes, and validates bookbag configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// BOOKBAG_SSL_VERIFY and SABNZBD_API_KEY. Provider slots are kept here too:
// Save compacts them (dropping empty and duplicate hosts, renumbering names)
// before writing the file back.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical extension lists, and clear validation errors.
package config
