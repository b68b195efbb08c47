// Package services defines shared utilities consumed by the analysis engines
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp request correlation IDs and engine names for
//     logging.
//   - Structured error markers plus the Wrap helper so failures keep a stable
//     classification (bad input, remote failure, codec problems) as they cross
//     package boundaries.
//
// Use these helpers when wiring new engine logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
