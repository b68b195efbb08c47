package video

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

const stubProbe = `#!/bin/sh
cat <<'JSON'
{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","width":2,"height":1,"nb_frames":"3","avg_frame_rate":"25/1"}],"format":{"duration":"0.12"}}
JSON
`

// Three 2x1 frames whose first red byte is the frame number.
const stubDecoder = `#!/bin/sh
case "$*" in
  *select=*) printf '\007\000\000\000\000\000' ;;
  *-encoders*) printf ' V..... = Video\n ------\n V....D libx264              H.264\n V....D mpeg4                MPEG-4 part 2\n' ;;
  *) printf '\000\000\000\000\000\000\001\000\000\000\000\000\002\000\000\000\000\000' ;;
esac
`

func stubBinaries(t *testing.T) *FFmpeg {
	t.Helper()
	return stubBinariesWithProbe(t, stubProbe)
}

func stubBinariesWithProbe(t *testing.T, probeScript string) *FFmpeg {
	t.Helper()
	dir := t.TempDir()
	probe := filepath.Join(dir, "ffprobe")
	mpeg := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(probe, []byte(probeScript), 0o755); err != nil {
		t.Fatalf("write ffprobe stub: %v", err)
	}
	if err := os.WriteFile(mpeg, []byte(stubDecoder), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	return NewFFmpeg(mpeg, probe)
}

func TestFFmpegProbeAndSequentialDecode(t *testing.T) {
	backend := stubBinaries(t)
	asset, err := Open(context.Background(), backend, "clip.mp4")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer asset.Close()

	if asset.Width != 2 || asset.Height != 1 || asset.FrameCount != 3 || asset.FPS != 25 {
		t.Fatalf("unexpected info %+v", asset.Info)
	}

	var reds []uint8
	var indices []int
	for frame, err := range Sample(context.Background(), asset, Stride{Step: 1}) {
		if err != nil {
			t.Fatalf("sampling error: %v", err)
		}
		indices = append(indices, frame.Index)
		reds = append(reds, frame.Image.Pix[0])
	}
	if !slices.Equal(indices, []int{1, 2}) || !slices.Equal(reds, []uint8{1, 2}) {
		t.Fatalf("unexpected frames %v reds %v", indices, reds)
	}
}

func TestFFmpegProbeUsesDisplayOrientation(t *testing.T) {
	// portrait phone clip: coded 2x1 with a quarter-turn display matrix
	backend := stubBinariesWithProbe(t, `#!/bin/sh
cat <<'JSON'
{"streams":[{"index":0,"codec_type":"video","width":2,"height":1,"nb_frames":"3","avg_frame_rate":"25/1","side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]}],"format":{}}
JSON
`)
	asset, err := Open(context.Background(), backend, "portrait.mp4")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer asset.Close()
	if asset.Width != 1 || asset.Height != 2 {
		t.Fatalf("expected 1x2 display geometry, got %dx%d", asset.Width, asset.Height)
	}
	for frame, err := range Sample(context.Background(), asset, Stride{Step: 1, MaxFrames: 1}) {
		if err != nil {
			t.Fatalf("sampling error: %v", err)
		}
		if b := frame.Image.Bounds(); b.Dx() != 1 || b.Dy() != 2 {
			t.Fatalf("unexpected frame bounds %v", b)
		}
	}
}

func TestFFmpegFrameAt(t *testing.T) {
	backend := stubBinaries(t)
	img, err := backend.FrameAt(context.Background(), "clip.mp4", Info{Width: 2, Height: 1}, 1)
	if err != nil {
		t.Fatalf("FrameAt returned error: %v", err)
	}
	if img.Pix[0] != 7 || img.Pix[3] != 0xff {
		t.Fatalf("unexpected pixel data %v", img.Pix[:4])
	}
}

func TestFFmpegRequireEncoder(t *testing.T) {
	backend := stubBinaries(t)
	if err := backend.requireEncoder(context.Background(), "libx264"); err != nil {
		t.Fatalf("expected libx264 available: %v", err)
	}
	if err := backend.requireEncoder(context.Background(), "libvpx-vp9"); err == nil {
		t.Fatal("expected libvpx-vp9 to be reported missing")
	}
}

func TestImageRoundTripDropsAlpha(t *testing.T) {
	img, err := rgbToImage([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	if err != nil {
		t.Fatalf("rgbToImage returned error: %v", err)
	}
	if got := imageToRGB(img, nil); !slices.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected rgb bytes %v", got)
	}
	if _, err := rgbToImage([]byte{1, 2}, 2, 1); err == nil {
		t.Fatal("expected short frame error")
	}
}
