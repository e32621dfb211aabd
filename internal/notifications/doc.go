// Package notifications delivers pipeline events via ntfy.
//
// The ntfy implementation publishes to the topic configured in config.toml and
// degrades to a no-op when no topic is set. Each event type can be switched
// off individually; suppressed events return nil without a network call.
package notifications
