// Package uploadcache remembers which local videos have already been uploaded
// to the remote forensic service.
//
// Entries are keyed by the SHA-256 of the file content and hold the remote
// asset name, URI and MIME type until the configured TTL elapses. Callers
// invalidate an entry when the remote reports the asset missing or failed.
package uploadcache
