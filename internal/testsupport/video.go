package testsupport

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"sync"

	"truthlens/internal/media/video"
)

// FakeDecoder serves synthetic frames of a fixed geometry. Frame i is filled
// with a grey level of i%256 so tests can tell frames apart.
type FakeDecoder struct {
	Info      video.Info
	ProbeErr  error
	BadFrames map[int]bool

	mu     sync.Mutex
	Opened int
	Closed int
}

// NewFakeDecoder returns a decoder for a width x height clip of frames frames.
func NewFakeDecoder(width, height, frames int, fps float64) *FakeDecoder {
	return &FakeDecoder{Info: video.Info{Width: width, Height: height, FPS: fps, FrameCount: frames}}
}

func (d *FakeDecoder) Probe(context.Context, string) (video.Info, error) {
	return d.Info, d.ProbeErr
}

func (d *FakeDecoder) Sequential(context.Context, string, video.Info) (video.FrameReader, error) {
	d.mu.Lock()
	d.Opened++
	d.mu.Unlock()
	return &fakeReader{dec: d}, nil
}

func (d *FakeDecoder) FrameAt(_ context.Context, _ string, _ video.Info, index int) (*image.RGBA, error) {
	if d.BadFrames[index] || index < 0 || index >= d.Info.FrameCount {
		return nil, errors.New("decode failed")
	}
	return d.frame(index), nil
}

func (d *FakeDecoder) frame(index int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, d.Info.Width, d.Info.Height))
	level := uint8(index % 256)
	for y := 0; y < d.Info.Height; y++ {
		for x := 0; x < d.Info.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: level, G: level, B: level, A: 0xff})
		}
	}
	return img
}

type fakeReader struct {
	dec  *FakeDecoder
	next int
}

func (r *fakeReader) Next() (*image.RGBA, error) {
	if r.next >= r.dec.Info.FrameCount {
		return nil, io.EOF
	}
	img := r.dec.frame(r.next)
	r.next++
	return img, nil
}

func (r *fakeReader) Close() error {
	r.dec.mu.Lock()
	r.dec.Closed++
	r.dec.mu.Unlock()
	return nil
}

// FakeEncoder opens in-memory sinks. Codec IDs listed in Reject fail to open.
// Successful sinks create the output file so callers can stat it. WriteErr
// makes every sink open cleanly and then fail on WriteFrame, the way an
// ffmpeg encoder that dies during initialisation behaves.
type FakeEncoder struct {
	Reject   map[string]bool
	WriteErr error

	mu    sync.Mutex
	Sinks []*FakeSink
}

// FakeSink records the frames written to it.
type FakeSink struct {
	Path     string
	Codec    video.Codec
	FPS      float64
	Frames   []*image.RGBA
	Closed   bool
	WriteErr error
}

func (e *FakeEncoder) Open(_ context.Context, path string, codec video.Codec, fps float64, _, _ int) (video.Sink, error) {
	if e.Reject[codec.ID] {
		return nil, errors.New("encoder unavailable: " + codec.Encoder)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return nil, err
	}
	sink := &FakeSink{Path: path, Codec: codec, FPS: fps, WriteErr: e.WriteErr}
	e.mu.Lock()
	e.Sinks = append(e.Sinks, sink)
	e.mu.Unlock()
	return sink, nil
}

func (s *FakeSink) Opened() bool { return true }

func (s *FakeSink) WriteFrame(img *image.RGBA) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Frames = append(s.Frames, img)
	return nil
}

func (s *FakeSink) Close() error {
	s.Closed = true
	return nil
}
