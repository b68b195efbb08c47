// Package local runs the face-based neural classifier: faces are detected in
// sampled frames, cropped, classified, and pooled into one video score.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/imaging"
	"truthlens/internal/inference"
	"truthlens/internal/logging"
	"truthlens/internal/media/video"
	"truthlens/internal/services"
)

// Name identifies the engine in logs, metrics and evidence.
const Name = "local"

// Engine is the local face classifier.
type Engine struct {
	classifier inference.Classifier
	detector   inference.FaceDetector
	state      inference.ModelState
	numFrames  int
	sampling   string
	decoder    video.Decoder
	logger     *slog.Logger
}

// New loads the face detector and the frame classifier. Missing classifier
// weights fall back to the pretrained backbone in demo state.
func New(ctx context.Context, loader inference.Loader, cfg *config.Config, decoder video.Decoder, logger *slog.Logger) (*Engine, error) {
	if loader == nil {
		return nil, services.Wrap(services.ErrConfiguration, Name, "init", "model loader unavailable", nil)
	}
	logger = logging.NewComponentLogger(logger, Name)
	detector, err := loader.LoadFaceDetector(ctx, inference.ModelSpec{Kind: "face_detector", Device: cfg.Inference.Device})
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, Name, "load detector", "face detector", err)
	}
	spec := inference.ModelSpec{
		Kind:        "frame_classifier",
		Backbone:    cfg.Saliency.Backbone,
		WeightsPath: cfg.Local.WeightsPath,
		NumClasses:  2,
		Device:      cfg.Inference.Device,
	}
	classifier, state, err := inference.LoadWithFallback(ctx, spec, loader.LoadClassifier, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, Name, "load classifier", spec.Backbone, err)
	}
	return &Engine{
		classifier: classifier,
		detector:   detector,
		state:      state,
		numFrames:  cfg.Local.NumFrames,
		sampling:   cfg.Local.Sampling,
		decoder:    decoder,
		logger:     logger,
	}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// State reports whether the classifier carries trained weights.
func (e *Engine) State() inference.ModelState { return e.state }

func (e *Engine) policy(asset *video.Asset) video.Policy {
	if e.sampling == config.SamplingStride {
		step := max(1, asset.FrameCount/e.numFrames)
		return video.Stride{Step: step, MaxFrames: e.numFrames}
	}
	return video.Percentile{Count: e.numFrames}
}

// Analyze classifies every detected face in num_frames sampled frames.
func (e *Engine) Analyze(ctx context.Context, path string) (engine.Result, error) {
	ctx = services.WithEngine(ctx, Name)
	logger := logging.WithContext(ctx, e.logger)
	start := time.Now()

	asset, err := video.Open(ctx, e.decoder, path)
	if err != nil {
		return engine.Result{}, err
	}
	defer asset.Close()

	var (
		probs  []float64
		frames int
	)
	for frame, err := range video.Sample(ctx, asset, e.policy(asset)) {
		if err != nil {
			return engine.Result{}, services.Wrap(services.ErrExternalTool, Name, "decode", path, err)
		}
		frames++
		boxes, err := e.detector.Detect(ctx, frame.Image)
		if err != nil {
			return engine.Result{}, services.Wrap(services.ErrExternalTool, Name, "detect faces", fmt.Sprintf("frame %d", frame.Index), err)
		}
		for _, box := range boxes {
			face := imaging.Crop(frame.Image, box)
			if face == nil {
				continue
			}
			logits, err := e.classifier.Classify(ctx, imaging.Preprocess(face, imaging.InputSize))
			if err != nil {
				return engine.Result{}, services.Wrap(services.ErrExternalTool, Name, "classify", fmt.Sprintf("frame %d", frame.Index), err)
			}
			probs = append(probs, inference.FakeProbability(logits))
		}
	}

	degraded := e.state == inference.StateDemo
	if frames == 0 {
		logger.Warn("no frames extracted", logging.String("path", path))
		return engine.Result{Label: engine.LabelError, Evidence: []string{"Could not extract frames."}, Degraded: degraded, NoScore: true}, nil
	}
	if len(probs) == 0 {
		logger.Info("no faces detected", logging.Int("frames", frames))
		return engine.Result{Label: engine.LabelUncertain, Evidence: []string{"No biological faces detected in video."}, Degraded: degraded, NoScore: true}, nil
	}

	var sum float64
	for _, p := range probs {
		sum += p
	}
	confidence := math.Round(sum / float64(len(probs)) * 100)
	label := engine.LabelLikelyAuthentic
	if confidence > 50 {
		label = engine.LabelDeepfake
	}
	result := engine.NewResult(confidence, label,
		fmt.Sprintf("Analyzed %d face regions locally.", len(probs)),
		fmt.Sprintf("Aggregated Neural Score: %d%%", int(confidence)),
	)
	result.Degraded = degraded
	logger.Info("local analysis complete",
		logging.Int("frames", frames),
		logging.Int("faces", len(probs)),
		logging.Float64("score", result.Score),
		logging.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
