// Package notifications pushes job outcomes to an ntfy topic.
//
// The Service publishes to the topic configured in config.toml and degrades to
// a no-op when notifications are disabled. Sink bridges the event hub to the
// Service so the scheduler never waits on HTTP.
package notifications
