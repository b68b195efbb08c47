package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"truthlens/internal/media/video"
	"truthlens/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected status for empty command: %#v", results[2])
	}
}

func TestRequirementsResolveStubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("ffmpeg", "ffprobe", "python3"))
	cfg.Inference.Command = "python3"

	for _, status := range CheckBinaries(Requirements(cfg)) {
		if !status.Available {
			t.Fatalf("expected %s available, got %q", status.Name, status.Detail)
		}
		if !filepath.IsAbs(status.Command) {
			t.Fatalf("expected resolved path for %s, got %q", status.Name, status.Command)
		}
	}
}

func writeEncoderStub(t *testing.T, listing string) *video.FFmpeg {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nprintf '" + listing + "'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	return video.NewFFmpeg(path, "")
}

func TestCheckEncodersPartial(t *testing.T) {
	ffmpeg := writeEncoderStub(t, ` V..... = Video\n ------\n V....D mpeg4                MPEG-4 part 2\n`)
	status := CheckEncoders(context.Background(), ffmpeg, video.DefaultCodecs)
	if !status.Available {
		t.Fatalf("expected mpeg4 fallback to satisfy check, got %q", status.Detail)
	}
	if status.Detail != "using mpeg4 (missing libx264, libvpx-vp9)" {
		t.Fatalf("unexpected detail %q", status.Detail)
	}
}

func TestCheckEncodersNone(t *testing.T) {
	ffmpeg := writeEncoderStub(t, ` V..... = Video\n ------\n`)
	status := CheckEncoders(context.Background(), ffmpeg, video.DefaultCodecs)
	if status.Available {
		t.Fatal("expected failure without encoders")
	}
}
