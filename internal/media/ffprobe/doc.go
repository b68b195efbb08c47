// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: per-stream properties including dimensions, frame rate and frame count
//
// Inspect executes ffprobe and returns a parsed Result; Parse decodes JSON
// captured elsewhere.
package ffprobe
