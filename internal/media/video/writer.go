package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"truthlens/internal/services"
)

// Codec names an output codec candidate.
type Codec struct {
	ID        string
	Encoder   string
	Extension string
}

// DefaultCodecs is the negotiation order for annotated output: H.264 in MP4,
// then VP9 in WebM, then MPEG-4 Part 2 in MP4.
var DefaultCodecs = []Codec{
	{ID: "avc1", Encoder: "libx264", Extension: ".mp4"},
	{ID: "vp09", Encoder: "libvpx-vp9", Extension: ".webm"},
	{ID: "mp4v", Encoder: "mpeg4", Extension: ".mp4"},
}

// LookupCodecs resolves codec identifiers against DefaultCodecs, preserving
// the caller's order. An empty list returns DefaultCodecs.
func LookupCodecs(ids []string) ([]Codec, error) {
	if len(ids) == 0 {
		return append([]Codec(nil), DefaultCodecs...), nil
	}
	out := make([]Codec, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		found := false
		for _, codec := range DefaultCodecs {
			if codec.ID == id {
				out = append(out, codec)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown codec %q", id)
		}
	}
	return out, nil
}

// Sink receives encoded frames for one output file.
type Sink interface {
	Opened() bool
	WriteFrame(img *image.RGBA) error
	Close() error
}

// Encoder opens sinks for a codec. Open may return a sink that reports
// Opened() == false; the negotiation treats that the same as an error.
type Encoder interface {
	Open(ctx context.Context, path string, codec Codec, fps float64, width, height int) (Sink, error)
}

// Writer is an open output video. All frames of one video go through the
// same Writer, which must be closed.
type Writer struct {
	Path  string
	Codec Codec
	sink  Sink
}

// WriteFrame appends a frame to the output.
func (w *Writer) WriteFrame(img *image.RGBA) error {
	return w.sink.WriteFrame(img)
}

// Close finalizes the output file.
func (w *Writer) Close() error {
	if w == nil || w.sink == nil {
		return nil
	}
	return w.sink.Close()
}

// OpenWriter tries each codec in order, writing to base+codec.Extension, and
// returns the first sink that opens. Sinks that fail are closed and their
// partial files removed. When every candidate fails the error wraps
// services.ErrCodecNegotiation.
func OpenWriter(ctx context.Context, enc Encoder, base string, fps float64, width, height int, codecs []Codec) (*Writer, error) {
	if enc == nil {
		return nil, services.Wrap(services.ErrCodecNegotiation, "video writer", "open", "encoder unavailable", nil)
	}
	if fps <= 0 {
		fps = 1
	}
	var errs []error
	for _, codec := range codecs {
		path := base + codec.Extension
		sink, err := enc.Open(ctx, path, codec, fps, width, height)
		if err == nil && sink != nil && sink.Opened() {
			return &Writer{Path: path, Codec: codec, sink: sink}, nil
		}
		if sink != nil {
			_ = sink.Close()
		}
		_ = os.Remove(path)
		if err == nil {
			err = errors.New("sink did not open")
		}
		errs = append(errs, fmt.Errorf("%s: %w", codec.ID, err))
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no candidate codecs"))
	}
	return nil, services.Wrap(services.ErrCodecNegotiation, "video writer", "open", base, errors.Join(errs...))
}
