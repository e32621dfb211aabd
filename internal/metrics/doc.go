// Package metrics defines the Prometheus collectors bookbag exports and small
// helpers for recording them. Collectors register with the default registry
// at init; the daemon serves them on /metrics when metrics.enabled is set.
package metrics
