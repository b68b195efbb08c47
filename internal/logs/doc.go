// Package logs reads the JSON log file written by the logging package.
//
// Tail returns the last N lines or everything after a byte offset, and can
// poll for new lines in follow mode. Record and Filter decode individual
// lines so `truthlens logs --request <id>` can trace one analysis across
// every engine that touched it. Lines that are not JSON pass through
// unfiltered only when no filter is set.
package logs
