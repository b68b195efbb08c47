// Package deps reports whether the external executables TruthLens shells out
// to are installed: ffmpeg and ffprobe for video I/O, and the inference
// worker command. Results feed `truthlens status` and the startup warnings
// of `truthlens serve`.
package deps
