// Package api serves the TruthLens HTTP surface and defines its wire types.
//
// # Routes
//
//	GET  /              service status and engine availability
//	POST /analyze       multipart upload (field "file", optional "mode")
//	GET  /generated/    heatmap artifacts produced by the saliency engine
//	GET  /metrics       Prometheus metrics, when enabled
//
// # Modes
//
// "ensemble" (the default) runs every configured engine and fuses their
// scores. "cloud", "saliency", "local" and "lightweight" run one engine;
// failures are reported as a SYSTEM ERROR verdict with status 200 so callers
// always receive the same response shape. Only request-level problems
// (missing file, oversized upload, unknown mode) produce HTTP errors.
//
// # Design Notes
//
// JSON keys use snake_case to stay compatible with existing front ends.
// Uploads are streamed to a uniquely named file in the work directory and
// removed when the request completes. Every response carries
// Access-Control-Allow-Origin: * so browser clients on other origins can
// call the API.
package api
