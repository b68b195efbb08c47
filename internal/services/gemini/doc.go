// Package gemini provides a REST client for the Google Generative Language
// API: resumable File API uploads, file state polling, generateContent with
// optional search grounding and a JSON response schema, and model
// verification through countTokens.
//
// Transient HTTP failures (408, 429, 5xx, network timeouts) are retried with
// exponential backoff honouring Retry-After. When an upload cache is
// attached, files whose content hash matches a live remote asset are reused
// instead of re-uploaded.
package gemini
