package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"truthlens/internal/media/ffprobe"
	"truthlens/internal/services"
)

// FFmpeg decodes and encodes video through the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegBinary  string
	FFprobeBinary string

	encodersOnce sync.Once
	encoders     map[string]struct{}
	encodersErr  error
}

// NewFFmpeg returns an FFmpeg backend using the given binaries; empty values
// fall back to "ffmpeg" and "ffprobe" on PATH.
func NewFFmpeg(ffmpegBinary, ffprobeBinary string) *FFmpeg {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	return &FFmpeg{FFmpegBinary: ffmpegBinary, FFprobeBinary: ffprobeBinary}
}

// Probe inspects path with ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	result, err := ffprobe.Inspect(ctx, f.FFprobeBinary, path)
	if err != nil {
		return Info{}, services.Wrap(services.ErrVideoOpen, "video", "probe", path, err)
	}
	stream, ok := result.PrimaryVideo()
	if !ok {
		return Info{}, services.Wrap(services.ErrVideoOpen, "video", "probe", "no video stream in "+path, nil)
	}
	// ffmpeg auto-rotates while decoding, so frames arrive in display
	// orientation rather than the coded one
	width, height := stream.DisplaySize()
	return Info{
		Width:      width,
		Height:     height,
		FPS:        stream.FrameRate(),
		FrameCount: stream.FrameCount(result.DurationSeconds()),
	}, nil
}

// Sequential starts a single rawvideo decode of the first video stream.
func (f *FFmpeg) Sequential(ctx context.Context, path string, info Info) (FrameReader, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, f.FFmpegBinary,
		"-v", "error", "-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg decode: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, services.Wrap(services.ErrExternalTool, "video", "decode", "start ffmpeg", err)
	}
	return &pipeReader{
		cmd:    cmd,
		cancel: cancel,
		stdout: bufio.NewReaderSize(stdout, info.frameBytes()),
		stderr: &stderr,
		info:   info,
		buf:    make([]byte, info.frameBytes()),
	}, nil
}

// FrameAt decodes exactly one frame by index using the select filter.
func (f *FFmpeg) FrameAt(ctx context.Context, path string, info Info, index int) (*image.RGBA, error) {
	cmd := exec.CommandContext(ctx, f.FFmpegBinary,
		"-v", "error", "-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-vf", "select=eq(n\\,"+strconv.Itoa(index)+")",
		"-fps_mode", "passthrough",
		"-frames:v", "1",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame %d: %w: %s", index, err, strings.TrimSpace(stderr.String()))
	}
	if len(out) < info.frameBytes() {
		return nil, fmt.Errorf("ffmpeg frame %d: %w", index, io.ErrUnexpectedEOF)
	}
	return rgbToImage(out, info.Width, info.Height)
}

type pipeReader struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.Reader
	stderr *bytes.Buffer
	info   Info
	buf    []byte

	closeOnce sync.Once
	closeErr  error
}

func (r *pipeReader) Next() (*image.RGBA, error) {
	if _, err := io.ReadFull(r.stdout, r.buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if waitErr := r.finish(false); waitErr != nil {
				return nil, waitErr
			}
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ffmpeg decode: read frame: %w", err)
	}
	return rgbToImage(r.buf, r.info.Width, r.info.Height)
}

// Close stops the decoder. A process killed before the end of the stream is
// not reported as an error.
func (r *pipeReader) Close() error {
	return r.finish(true)
}

func (r *pipeReader) finish(early bool) error {
	r.closeOnce.Do(func() {
		if early {
			r.cancel()
		}
		err := r.cmd.Wait()
		r.cancel()
		if err != nil && !early {
			r.closeErr = fmt.Errorf("ffmpeg decode: %w: %s", err, strings.TrimSpace(r.stderr.String()))
		}
	})
	return r.closeErr
}
