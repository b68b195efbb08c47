// Package saliency scores videos with a gradient-attributed frame classifier
// and renders a heatmap video showing which regions drove each decision.
package saliency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"truthlens/internal/artifacts"
	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/imaging"
	"truthlens/internal/inference"
	"truthlens/internal/logging"
	"truthlens/internal/media/video"
	"truthlens/internal/services"
)

// Name identifies the engine in logs, metrics and evidence.
const Name = "saliency"

// Deps are the media backends and artifact store the engine writes through.
type Deps struct {
	Decoder   video.Decoder
	Encoder   video.Encoder
	Artifacts *artifacts.Store
}

// Engine is the Grad-CAM saliency engine.
type Engine struct {
	model  inference.GradientModel
	state  inference.ModelState
	step   int
	max    int
	alpha  float64
	codecs []video.Codec
	deps   Deps
	logger *slog.Logger
}

// New loads the gradient model, falling back to the pretrained backbone in
// demo state when trained weights are unavailable.
func New(ctx context.Context, loader inference.Loader, cfg *config.Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if loader == nil {
		return nil, services.Wrap(services.ErrConfiguration, Name, "init", "model loader unavailable", nil)
	}
	codecs, err := video.LookupCodecs(cfg.Saliency.Codecs)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, Name, "init", "resolve codecs", err)
	}
	logger = logging.NewComponentLogger(logger, Name)
	spec := inference.ModelSpec{
		Kind:        "gradcam",
		Backbone:    cfg.Saliency.Backbone,
		WeightsPath: cfg.Saliency.WeightsPath,
		NumClasses:  2,
		Device:      cfg.Inference.Device,
	}
	model, state, err := inference.LoadWithFallback(ctx, spec, loader.LoadGradientModel, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, Name, "load model", spec.Backbone, err)
	}
	logger.Info("saliency engine ready",
		logging.String("backbone", spec.Backbone),
		logging.String("model_state", state.String()),
		logging.Int("frame_step", cfg.Saliency.FrameStep),
	)
	return &Engine{
		model:  model,
		state:  state,
		step:   cfg.Saliency.FrameStep,
		max:    cfg.Saliency.MaxFrames,
		alpha:  cfg.Saliency.Alpha,
		codecs: codecs,
		deps:   deps,
		logger: logger,
	}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// State reports whether trained weights are loaded.
func (e *Engine) State() inference.ModelState { return e.state }

// Analyze scores every frame_step-th frame and writes the annotated heatmap
// video. Failing to negotiate an output codec does not fail the analysis.
func (e *Engine) Analyze(ctx context.Context, path string) (engine.Result, error) {
	ctx = services.WithEngine(ctx, Name)
	logger := logging.WithContext(ctx, e.logger)
	start := time.Now()

	asset, err := video.Open(ctx, e.deps.Decoder, path)
	if err != nil {
		return engine.Result{}, err
	}
	defer asset.Close()

	var evidence []string
	writer, err := e.openWriter(ctx, asset)
	if err != nil {
		logging.WarnWithContext(logger, "heatmap video unavailable", "codec_negotiation_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "analysis continues without a heatmap artifact"),
			logging.String(logging.FieldErrorHint, "install an ffmpeg build with libx264, libvpx-vp9 or mpeg4"),
		)
		evidence = append(evidence, "Heatmap video could not be encoded; no artifact produced.")
	}
	keep := false
	defer func() {
		if writer == nil {
			return
		}
		_ = writer.Close()
		if !keep {
			_ = os.Remove(writer.Path)
		}
	}()

	var (
		sum    float64
		frames int
		mapped int
	)
	policy := video.Stride{Step: e.step, MaxFrames: e.max}
	for frame, err := range video.Sample(ctx, asset, policy) {
		if err != nil {
			return engine.Result{}, services.Wrap(services.ErrExternalTool, Name, "decode", path, err)
		}
		prob, hasMap, err := e.processFrame(ctx, frame, writer)
		var werr *writeError
		if errors.As(err, &werr) {
			logging.WarnWithContext(logger, "heatmap video write failed", "artifact_write_failed",
				logging.Error(werr.err),
				logging.String("path", writer.Path),
				logging.String(logging.FieldImpact, "analysis continues without a heatmap artifact"),
			)
			evidence = append(evidence, "Heatmap video encoding failed; no artifact produced.")
			_ = writer.Close()
			_ = os.Remove(writer.Path)
			writer = nil
		} else if err != nil {
			return engine.Result{}, err
		}
		sum += prob
		frames++
		if hasMap {
			mapped++
		}
	}

	result := engine.Result{Degraded: e.state == inference.StateDemo}
	if frames == 0 {
		result.Label = engine.LabelUncertain
		result.NoScore = true
		result.Evidence = append(evidence, "No frames were sampled for saliency analysis.")
		logger.Warn("no frames processed", logging.String("path", path))
		return result, nil
	}

	result.Score = engine.ClampScore(sum / float64(frames) * 100)
	result.Label = engine.LabelReal
	if result.Score > 50 {
		result.Label = engine.LabelFake
	}
	evidence = append(evidence,
		fmt.Sprintf("Grad-CAM analyzed %d frames (every %d frame).", frames, e.step),
		fmt.Sprintf("Mean fake probability: %.1f%%", result.Score),
	)
	if mapped < frames {
		evidence = append(evidence, fmt.Sprintf("%d frames written without a heatmap overlay.", frames-mapped))
	}
	if result.Degraded {
		evidence = append(evidence, "Model running on generic pretrained weights (demo mode).")
	}
	result.Evidence = evidence

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Warn("heatmap video finalize failed", logging.Error(err), logging.String("path", writer.Path))
			_ = os.Remove(writer.Path)
		} else {
			keep = true
			result.ArtifactPath = writer.Path
		}
		writer = nil
	}

	logger.Info("saliency analysis complete",
		logging.Int("frames", frames),
		logging.Float64("score", result.Score),
		logging.Bool("degraded", result.Degraded),
		logging.String("artifact", result.ArtifactPath),
		logging.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (e *Engine) openWriter(ctx context.Context, asset *video.Asset) (*video.Writer, error) {
	if e.deps.Artifacts == nil {
		return nil, services.Wrap(services.ErrCodecNegotiation, Name, "open writer", "artifact store unavailable", nil)
	}
	fps := asset.FPS / float64(e.step)
	return video.OpenWriter(ctx, e.deps.Encoder, e.deps.Artifacts.NewBase("heatmap"), fps, asset.Width, asset.Height, e.codecs)
}

// writeError reports a frame that could not be written to the heatmap video.
// The frame's probability is still valid.
type writeError struct{ err error }

func (w *writeError) Error() string { return "write frame: " + w.err.Error() }
func (w *writeError) Unwrap() error { return w.err }

// processFrame runs attribution on one frame, writes the annotated frame and
// returns the fake probability. Frames without a usable capture are written
// unmodified.
func (e *Engine) processFrame(ctx context.Context, frame video.Frame, writer *video.Writer) (float64, bool, error) {
	fc := &capture{}
	logits, err := e.model.Attribute(ctx, imaging.Preprocess(frame.Image, imaging.InputSize), -1, fc)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, false, err
		}
		return 0, false, services.Wrap(services.ErrExternalTool, Name, "attribute", fmt.Sprintf("frame %d", frame.Index), err)
	}
	probs := inference.Softmax(logits)
	var prob float64
	if len(probs) >= 2 {
		prob = probs[1]
	}

	cam, w, h, ok := fc.camMap()
	if writer == nil {
		return prob, ok, nil
	}
	out := frame.Image
	if ok {
		b := frame.Image.Bounds()
		heat := imaging.ResizeMap(cam, w, h, b.Dx(), b.Dy())
		out = imaging.Overlay(frame.Image, heat, e.alpha)
		label, colour := "REAL", imaging.RealColor
		if inference.Argmax(probs) == 1 {
			label, colour = "FAKE", imaging.FakeColor
		}
		imaging.Annotate(out, fmt.Sprintf("%s (%.2f)", label, prob), 30, 50, colour)
	}
	if err := writer.WriteFrame(out); err != nil {
		return prob, ok, &writeError{err: err}
	}
	return prob, ok, nil
}
