// Package config loads, normalizes, and validates TruthLens configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GEMINI_API_KEY. The Config type centralizes every knob the engines, the API
// server and the CLI need.
package config
