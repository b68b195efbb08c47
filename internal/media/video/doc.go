// Package video opens video files, samples frames from them and writes
// annotated frames back out.
//
// Asset wraps an opened video and its metadata. Sample returns a lazy
// sequence of frames chosen by a Stride or Percentile policy; the sequence can
// be ranged over more than once and is always finite. OpenWriter negotiates an
// output codec from an ordered candidate list, falling through to the next
// candidate when a sink cannot be opened.
//
// Decoding and encoding go through the Decoder and Encoder interfaces. The
// FFmpeg type implements both on top of the ffmpeg and ffprobe binaries using
// raw rgb24 pipes.
package video
