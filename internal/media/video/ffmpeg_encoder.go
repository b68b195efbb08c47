package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Open starts an ffmpeg process encoding rgb24 frames from stdin into path.
// The codec's encoder must appear in `ffmpeg -encoders`.
func (f *FFmpeg) Open(ctx context.Context, path string, codec Codec, fps float64, width, height int) (Sink, error) {
	if err := f.requireEncoder(ctx, codec.Encoder); err != nil {
		return nil, err
	}
	args := []string{
		"-y", "-v", "error", "-hide_banner",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-s", strconv.Itoa(width) + "x" + strconv.Itoa(height),
		"-r", strconv.FormatFloat(fps, 'f', 3, 64),
		"-i", "-",
		"-an",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", codec.Encoder,
		"-pix_fmt", "yuv420p",
	}
	if codec.Extension == ".mp4" {
		args = append(args, "-tag:v", codec.ID, "-movflags", "+faststart")
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, f.FFmpegBinary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg encode: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg encode: start: %w", err)
	}
	sink := &ffmpegSink{
		cmd:    cmd,
		stdin:  stdin,
		writer: bufio.NewWriterSize(stdin, width*height*3),
		stderr: &stderr,
		done:   make(chan struct{}),
	}
	go func() {
		sink.waitErr = cmd.Wait()
		close(sink.done)
	}()
	return sink, nil
}

func (f *FFmpeg) requireEncoder(ctx context.Context, name string) error {
	f.encodersOnce.Do(func() {
		f.encoders, f.encodersErr = f.Encoders(ctx)
	})
	if f.encodersErr != nil {
		return f.encodersErr
	}
	if _, ok := f.encoders[name]; !ok {
		return fmt.Errorf("ffmpeg encoder %q not available", name)
	}
	return nil
}

// Encoders lists the encoder names the ffmpeg binary was built with.
func (f *FFmpeg) Encoders(ctx context.Context) (map[string]struct{}, error) {
	out, err := exec.CommandContext(ctx, f.FFmpegBinary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg encoders: %w", err)
	}
	return parseEncoders(out), nil
}

// parseEncoders reads the `ffmpeg -encoders` listing. Entry lines look like
// " V....D libx264              libx264 H.264 / AVC ...".
func parseEncoders(out []byte) map[string]struct{} {
	encoders := make(map[string]struct{})
	inList := false
	for line := range strings.Lines(string(out)) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if strings.HasPrefix(fields[0], "---") {
			inList = true
			continue
		}
		if !inList || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = struct{}{}
	}
	return encoders
}

type ffmpegSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *bufio.Writer
	stderr *bytes.Buffer
	buf    []byte

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Opened reports whether the encoder process is still running.
func (s *ffmpegSink) Opened() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *ffmpegSink) WriteFrame(img *image.RGBA) error {
	s.buf = imageToRGB(img, s.buf)
	if _, err := s.writer.Write(s.buf); err != nil {
		return fmt.Errorf("ffmpeg encode: write frame: %w: %s", err, s.stderrText())
	}
	return nil
}

func (s *ffmpegSink) Close() error {
	s.closeOnce.Do(func() {
		flushErr := s.writer.Flush()
		_ = s.stdin.Close()
		<-s.done
		switch {
		case s.waitErr != nil:
			s.closeErr = fmt.Errorf("ffmpeg encode: %w: %s", s.waitErr, s.stderrText())
		case flushErr != nil:
			s.closeErr = fmt.Errorf("ffmpeg encode: flush: %w", flushErr)
		}
	})
	return s.closeErr
}

func (s *ffmpegSink) stderrText() string {
	select {
	case <-s.done:
		return strings.TrimSpace(s.stderr.String())
	default:
		return ""
	}
}
