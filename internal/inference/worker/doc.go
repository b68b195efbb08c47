// Package worker drives the model sidecar: a long-lived process (Python by
// default) that owns the neural networks and answers requests over its
// stdin/stdout.
//
// Frames are length-prefixed msgpack: a 4-byte big-endian payload length
// followed by the payload. Requests and responses are matched by id and
// serialized with a mutex, so one worker can be shared by every engine.
// Client implements inference.Loader; the models it returns are handles into
// the sidecar.
package worker
