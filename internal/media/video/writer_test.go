package video

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"truthlens/internal/services"
)

type fakeSink struct {
	opened bool
	frames int
	closed bool
}

func (s *fakeSink) Opened() bool { return s.opened }

func (s *fakeSink) WriteFrame(*image.RGBA) error {
	s.frames++
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

type fakeEncoder struct {
	accept   map[string]bool
	attempts []string
	sinks    []*fakeSink
}

func (e *fakeEncoder) Open(_ context.Context, path string, codec Codec, _ float64, _, _ int) (Sink, error) {
	e.attempts = append(e.attempts, codec.ID)
	if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
		return nil, err
	}
	sink := &fakeSink{opened: e.accept[codec.ID]}
	e.sinks = append(e.sinks, sink)
	return sink, nil
}

func TestOpenWriterFallsThroughInOrder(t *testing.T) {
	base := filepath.Join(t.TempDir(), "heatmap_1")
	enc := &fakeEncoder{accept: map[string]bool{"vp09": true}}

	writer, err := OpenWriter(context.Background(), enc, base, 6, 64, 48, DefaultCodecs)
	if err != nil {
		t.Fatalf("OpenWriter returned error: %v", err)
	}
	defer writer.Close()

	if strings.Join(enc.attempts, ",") != "avc1,vp09" {
		t.Fatalf("unexpected attempt order %v", enc.attempts)
	}
	if writer.Codec.ID != "vp09" || writer.Path != base+".webm" {
		t.Fatalf("expected webm output, got %s at %s", writer.Codec.ID, writer.Path)
	}
	if !enc.sinks[0].closed {
		t.Fatal("expected rejected sink to be closed")
	}
	if _, err := os.Stat(base + ".mp4"); !os.IsNotExist(err) {
		t.Fatalf("expected partial mp4 removed, stat err=%v", err)
	}
	if err := writer.WriteFrame(image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatalf("WriteFrame returned error: %v", err)
	}
	if enc.sinks[1].frames != 1 {
		t.Fatalf("expected frame written to accepted sink")
	}
}

func TestOpenWriterFailsWhenAllCandidatesFail(t *testing.T) {
	base := filepath.Join(t.TempDir(), "heatmap_2")
	enc := &fakeEncoder{}

	_, err := OpenWriter(context.Background(), enc, base, 6, 64, 48, DefaultCodecs)
	if !errors.Is(err, services.ErrCodecNegotiation) {
		t.Fatalf("expected ErrCodecNegotiation, got %v", err)
	}
	if len(enc.attempts) != 3 {
		t.Fatalf("expected every candidate attempted, got %v", enc.attempts)
	}
	for _, ext := range []string{".mp4", ".webm"} {
		if _, statErr := os.Stat(base + ext); !os.IsNotExist(statErr) {
			t.Fatalf("expected %s removed", ext)
		}
	}
}

func TestLookupCodecs(t *testing.T) {
	codecs, err := LookupCodecs([]string{"MP4V", "avc1"})
	if err != nil {
		t.Fatalf("LookupCodecs returned error: %v", err)
	}
	if codecs[0].Encoder != "mpeg4" || codecs[1].Encoder != "libx264" {
		t.Fatalf("unexpected codecs %+v", codecs)
	}
	if _, err := LookupCodecs([]string{"hevc"}); err == nil {
		t.Fatal("expected unknown codec error")
	}
	if all, _ := LookupCodecs(nil); len(all) != len(DefaultCodecs) {
		t.Fatalf("expected defaults for empty list, got %v", all)
	}
}
