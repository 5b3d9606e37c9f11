// Package logging assembles structured slog loggers and formatting helpers used
// across mriprep.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so stage code can tag log lines with the
// subject, stage, and run identifier automatically. When a log directory is
// configured every record is also written as JSON to mriprep.log. The package
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
