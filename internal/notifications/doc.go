// Package notifications delivers campaign lifecycle events via pluggable
// notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Per-event toggles let operators suppress completion or degradation
// pushes independently.
//
// Extend this package if you need alternative transports; tracking code
// depends only on the simple Service interface.
package notifications
