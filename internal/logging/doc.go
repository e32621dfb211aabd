// Package logging assembles structured slog loggers and formatting helpers used
// across bookbag components.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so search, acquisition and
// postprocessing code can tag log lines with item IDs, providers and
// correlation IDs. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
