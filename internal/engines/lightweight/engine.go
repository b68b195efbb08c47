// Package lightweight scores videos with an off-the-shelf image classifier
// that emits named labels rather than logits.
package lightweight

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/inference"
	"truthlens/internal/logging"
	"truthlens/internal/media/video"
	"truthlens/internal/services"
)

// Name identifies the engine in logs, metrics and evidence.
const Name = "lightweight"

// Engine is the label-classifier engine. A nil classifier yields neutral
// frame scores and marks results degraded.
type Engine struct {
	classifier inference.LabelClassifier
	model      string
	stride     int
	within     int
	decoder    video.Decoder
	logger     *slog.Logger
}

// New loads the label classifier. Load failures are logged and leave the
// engine running without a classifier.
func New(ctx context.Context, loader inference.Loader, cfg *config.Config, decoder video.Decoder, logger *slog.Logger) *Engine {
	logger = logging.NewComponentLogger(logger, Name)
	e := &Engine{
		model:   cfg.Lightweight.Model,
		stride:  cfg.Lightweight.Stride,
		within:  cfg.Lightweight.InspectFrames,
		decoder: decoder,
		logger:  logger,
	}
	if loader == nil || !cfg.Lightweight.Enabled {
		logger.Info("label classifier disabled")
		return e
	}
	classifier, err := loader.LoadLabelClassifier(ctx, inference.ModelSpec{
		Kind:       "label_classifier",
		Backbone:   cfg.Lightweight.Model,
		Pretrained: true,
		Device:     cfg.Inference.Device,
	})
	if err != nil {
		logging.WarnWithContext(logger, "label classifier unavailable", "model_unavailable",
			logging.String("model", cfg.Lightweight.Model),
			logging.Error(err),
			logging.String(logging.FieldImpact, "lightweight engine reports neutral scores"),
			logging.String(logging.FieldErrorHint, "check the inference worker can download the model"),
		)
		return e
	}
	e.classifier = classifier
	return e
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// Available reports whether a classifier is loaded.
func (e *Engine) Available() bool { return e.classifier != nil }

// Analyze scores every stride-th frame within the first inspect_frames frames.
func (e *Engine) Analyze(ctx context.Context, path string) (engine.Result, error) {
	ctx = services.WithEngine(ctx, Name)
	logger := logging.WithContext(ctx, e.logger)
	start := time.Now()

	asset, err := video.Open(ctx, e.decoder, path)
	if err != nil {
		return engine.Result{}, err
	}
	defer asset.Close()

	var scores []float64
	for frame, err := range video.Sample(ctx, asset, video.Stride{Step: e.stride, Within: e.within}) {
		if err != nil {
			return engine.Result{}, services.Wrap(services.ErrExternalTool, Name, "decode", path, err)
		}
		if e.classifier == nil {
			scores = append(scores, neutralRisk)
			continue
		}
		predictions, err := e.classifier.Predict(ctx, frame.Image)
		if err != nil {
			return engine.Result{}, services.Wrap(services.ErrExternalTool, Name, "predict", fmt.Sprintf("frame %d", frame.Index), err)
		}
		scores = append(scores, RiskScore(predictions))
	}

	degraded := e.classifier == nil
	if len(scores) == 0 {
		result := engine.NewResult(neutralRisk, engine.LabelUncertain, "No frames sampled for label classification.")
		result.Degraded = degraded
		result.NoScore = true
		return result, nil
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	score := engine.Round2(sum / float64(len(scores)))
	label := engine.LabelReal
	if score > 50 {
		label = engine.LabelFake
	}
	result := engine.NewResult(score, label,
		fmt.Sprintf("Label classifier %s scored %d frames.", e.model, len(scores)),
		fmt.Sprintf("Mean deepfake score: %.2f", score),
	)
	result.Degraded = degraded
	if degraded {
		result.Evidence = append(result.Evidence, "Classifier unavailable; frames scored neutral.")
	}
	logger.Info("lightweight analysis complete",
		logging.Int("frames", len(scores)),
		logging.Float64("score", score),
		logging.Bool("degraded", degraded),
		logging.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
