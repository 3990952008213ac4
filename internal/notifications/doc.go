// Package notifications delivers session events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. One method per session milestone keeps the controller free of
// HTTP glue and message formatting.
//
// Extend this package if you need alternative transports; session code
// depends only on the simple Service interface.
package notifications
