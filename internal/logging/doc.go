// Package logging assembles structured slog loggers and formatting helpers used
// across TruthLens.
//
// It owns the console, JSON, and colour handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code can tag log lines
// with request correlation IDs and engine names. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging
