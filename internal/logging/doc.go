// Package logging assembles structured slog loggers and formatting helpers used
// across transcoder services.
//
// It owns the console and JSON handlers, rotates the daemon log file through
// lumberjack, and exposes context-aware helpers so scheduler and workflow code
// can tag log lines with job IDs, content hashes, stages, and renditions. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
