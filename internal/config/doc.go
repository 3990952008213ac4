// Package config loads, validates, and normalizes sentinel configuration.
//
// Configuration lives in a TOML file (default ~/.config/sentinel/config.toml)
// with sections per subsystem: paths, capture cadences, distress keywords,
// upload target, auth, notifications, workflow timing, and logging. Load
// returns a fully expanded config; callers never see unexpanded ~ paths.
package config
