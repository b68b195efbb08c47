// Package cloud delegates forensic analysis to a remote multimodal model.
// The video and a handful of keyframes are uploaded, the model is asked for a
// structured JSON report, and the report is mapped onto an engine result.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/logging"
	"truthlens/internal/media/video"
	"truthlens/internal/services"
	"truthlens/internal/services/gemini"
)

// Name identifies the engine in logs, metrics and evidence.
const Name = "cloud"

const deleteTimeout = 15 * time.Second

// Service is the remote forensic model.
type Service interface {
	Verify(ctx context.Context, opts gemini.GenerationOptions) error
	Upload(ctx context.Context, path, mimeType string) (gemini.File, error)
	State(ctx context.Context, file gemini.File) (gemini.FileState, error)
	Generate(ctx context.Context, prompt string, files []gemini.File, opts gemini.GenerationOptions) (string, error)
	Delete(ctx context.Context, file gemini.File) error
}

// Engine is the remote forensic engine.
type Engine struct {
	svc       Service
	opts      gemini.GenerationOptions
	keyframes int
	interval  time.Duration
	budget    time.Duration
	workDir   string
	keepVideo bool
	decoder   video.Decoder
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

// New verifies that the remote model accepts the generation configuration,
// first with search grounding and then without it. If neither is accepted
// the engine cannot start.
func New(ctx context.Context, svc Service, cfg *config.Config, decoder video.Decoder, logger *slog.Logger) (*Engine, error) {
	if svc == nil {
		return nil, services.Wrap(services.ErrConfiguration, Name, "init", "remote service unavailable", nil)
	}
	logger = logging.NewComponentLogger(logger, Name)
	opts := gemini.GenerationOptions{Grounding: cfg.Gemini.Grounding, ResponseSchema: responseSchema}
	if err := svc.Verify(ctx, opts); err != nil {
		if !opts.Grounding {
			return nil, services.Wrap(services.ErrConfiguration, Name, "verify model", cfg.Gemini.Model, err)
		}
		logging.WarnWithContext(logger, "search grounding rejected; retrying without it", "grounding_unavailable",
			logging.String("model", cfg.Gemini.Model),
			logging.Error(err),
			logging.String(logging.FieldImpact, "fact-check analysis runs without web search"),
		)
		opts.Grounding = false
		if err := svc.Verify(ctx, opts); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, Name, "verify model", cfg.Gemini.Model, err)
		}
	}
	logger.Info("cloud engine ready",
		logging.String("model", cfg.Gemini.Model),
		logging.Bool("grounding", opts.Grounding),
	)
	return &Engine{
		svc:       svc,
		opts:      opts,
		keyframes: cfg.Gemini.Keyframes,
		interval:  cfg.PollInterval(),
		budget:    cfg.ProcessingTimeout(),
		workDir:   cfg.Paths.WorkDir,
		keepVideo: cfg.Uploads.CacheEnabled,
		decoder:   decoder,
		logger:    logger,
		sleep:     sleepContext,
	}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// Grounded reports whether search grounding survived verification.
func (e *Engine) Grounded() bool { return e.opts.Grounding }

// Analyze uploads the video and keyframes, waits for remote processing and
// asks the model for a forensic report.
func (e *Engine) Analyze(ctx context.Context, path string) (engine.Result, error) {
	ctx = services.WithEngine(ctx, Name)
	logger := logging.WithContext(ctx, e.logger)
	start := time.Now()

	frameDir, err := os.MkdirTemp(e.workDir, "keyframes-")
	if err != nil {
		return engine.Result{}, services.Wrap(services.ErrConfiguration, Name, "keyframes", "create temp dir", err)
	}
	defer os.RemoveAll(frameDir)

	keyframes, err := e.extractKeyframes(ctx, path, frameDir)
	if err != nil {
		if ctx.Err() != nil {
			return engine.Result{}, ctx.Err()
		}
		logger.Warn("keyframe extraction failed; sending video only", logging.Error(err))
	}

	var uploaded []gemini.File
	defer func() { e.cleanup(ctx, uploaded) }()

	videoFile, err := e.svc.Upload(ctx, path, videoMIME(path))
	if err != nil {
		return engine.Result{}, services.Wrap(services.ErrTransient, Name, "upload", filepath.Base(path), err)
	}
	uploaded = append(uploaded, videoFile)
	for _, frame := range keyframes {
		file, err := e.svc.Upload(ctx, frame, "image/jpeg")
		if err != nil {
			return engine.Result{}, services.Wrap(services.ErrTransient, Name, "upload", filepath.Base(frame), err)
		}
		uploaded = append(uploaded, file)
	}

	if err := e.waitActive(ctx, videoFile); err != nil {
		return engine.Result{}, err
	}

	text, err := e.svc.Generate(ctx, forensicPrompt, uploaded, e.opts)
	if err != nil {
		return engine.Result{}, services.Wrap(services.ErrTransient, Name, "generate", videoFile.Name, err)
	}
	result, err := parseReport(text)
	if err != nil {
		logging.WarnWithContext(logger, "remote report is not valid JSON", "response_format",
			logging.Error(err),
			logging.Int("response_chars", len(text)),
			logging.String(logging.FieldImpact, "cloud verdict reported as FORMAT ERROR"),
		)
		return result, nil
	}
	logger.Info("cloud analysis complete",
		logging.Float64("score", result.Score),
		logging.String("verdict", result.Label),
		logging.Int("keyframes", len(keyframes)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// extractKeyframes writes percentile-sampled frames as JPEG files into dir.
func (e *Engine) extractKeyframes(ctx context.Context, path, dir string) ([]string, error) {
	if e.keyframes <= 0 || e.decoder == nil {
		return nil, nil
	}
	asset, err := video.Open(ctx, e.decoder, path)
	if err != nil {
		return nil, err
	}
	defer asset.Close()

	var paths []string
	for frame, err := range video.Sample(ctx, asset, video.Percentile{Count: e.keyframes}) {
		if err != nil {
			return paths, err
		}
		target := filepath.Join(dir, fmt.Sprintf("keyframe_%06d.jpg", frame.Index))
		if err := writeJPEG(target, frame); err != nil {
			return paths, err
		}
		paths = append(paths, target)
	}
	return paths, nil
}

func writeJPEG(path string, frame video.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: 90}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// waitActive polls the video state until it leaves PROCESSING, the
// processing budget elapses, or ctx ends.
func (e *Engine) waitActive(ctx context.Context, file gemini.File) error {
	pollCtx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()
	state := file.State
	for {
		switch state {
		case gemini.FileStateFailed:
			return services.Wrap(services.ErrRemoteProcessing, Name, "poll", file.Name, errors.New("remote processing failed"))
		case gemini.FileStateProcessing, "":
		default:
			return nil
		}
		if err := e.sleep(pollCtx, e.interval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return services.Wrap(services.ErrTimeout, Name, "poll", fmt.Sprintf("%s still processing after %s", file.Name, e.budget), err)
		}
		next, err := e.svc.State(pollCtx, file)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if pollCtx.Err() != nil {
				return services.Wrap(services.ErrTimeout, Name, "poll", file.Name, err)
			}
			return services.Wrap(services.ErrTransient, Name, "poll", file.Name, err)
		}
		state = next
	}
}

func (e *Engine) cleanup(ctx context.Context, files []gemini.File) {
	if len(files) == 0 {
		return
	}
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	for i, file := range files {
		if i == 0 && e.keepVideo {
			continue
		}
		if err := e.svc.Delete(delCtx, file); err != nil {
			e.logger.Debug("remote asset delete failed", logging.String("file", file.Name), logging.Error(err))
		}
	}
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

func videoMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "video/") {
		return t
	}
	return "video/mp4"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
