package video

import (
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"sync"

	"truthlens/internal/services"
)

// FrameReader yields decoded frames in stream order. Next returns io.EOF at
// the end of the stream.
type FrameReader interface {
	Next() (*image.RGBA, error)
	Close() error
}

// Decoder is the decoding backend behind an Asset.
type Decoder interface {
	Probe(ctx context.Context, path string) (Info, error)
	Sequential(ctx context.Context, path string, info Info) (FrameReader, error)
	FrameAt(ctx context.Context, path string, info Info, index int) (*image.RGBA, error)
}

// Asset is an opened video. Close releases every reader still in flight and
// must be called on every exit path.
type Asset struct {
	Path string
	Info

	decoder Decoder

	mu      sync.Mutex
	readers map[FrameReader]struct{}
	closed  bool
}

// Open probes path and returns an Asset ready for sampling. Files that cannot
// be probed or carry no decodable video stream fail with services.ErrVideoOpen.
func Open(ctx context.Context, decoder Decoder, path string) (*Asset, error) {
	if decoder == nil {
		return nil, services.Wrap(services.ErrConfiguration, "video", "open", "decoder unavailable", nil)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, services.Wrap(services.ErrVideoOpen, "video", "open", "empty path", nil)
	}
	info, err := decoder.Probe(ctx, path)
	if err != nil {
		if errors.Is(err, services.ErrVideoOpen) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrVideoOpen, "video", "probe", path, err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, services.Wrap(services.ErrVideoOpen, "video", "probe", "no decodable video stream in "+path, nil)
	}
	return &Asset{Path: path, Info: info, decoder: decoder, readers: make(map[FrameReader]struct{})}, nil
}

// Close terminates all outstanding frame readers. It is safe to call more than once.
func (a *Asset) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	var errs []error
	for reader := range a.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(a.readers, reader)
	}
	return errors.Join(errs...)
}

func (a *Asset) sequential(ctx context.Context) (FrameReader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, io.ErrClosedPipe
	}
	reader, err := a.decoder.Sequential(ctx, a.Path, a.Info)
	if err != nil {
		return nil, err
	}
	a.readers[reader] = struct{}{}
	return reader, nil
}

func (a *Asset) release(reader FrameReader) {
	a.mu.Lock()
	_, tracked := a.readers[reader]
	delete(a.readers, reader)
	a.mu.Unlock()
	if tracked {
		_ = reader.Close()
	}
}

func (a *Asset) frameAt(ctx context.Context, index int) (*image.RGBA, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, io.ErrClosedPipe
	}
	return a.decoder.FrameAt(ctx, a.Path, a.Info, index)
}
