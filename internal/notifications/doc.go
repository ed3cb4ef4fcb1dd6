// Package notifications pushes run milestones to ntfy.
//
// The ntfy topic URL comes from the [notifications] section of config.toml.
// With no topic configured NewService returns a no-op, so callers never need
// to check whether notifications are enabled.
package notifications
