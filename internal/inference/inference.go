package inference

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"math"
	"strings"

	"truthlens/internal/imaging"
	"truthlens/internal/logging"
	"truthlens/internal/services"
)

// ModelState records whether a model carries trained forensic weights or is
// a generic pretrained backbone used for demonstration.
type ModelState int

const (
	StateTrained ModelState = iota
	StateDemo
)

func (s ModelState) String() string {
	if s == StateDemo {
		return "demo"
	}
	return "trained"
}

// ModelSpec describes a model to load. An empty WeightsPath with Pretrained
// set loads the generic backbone.
type ModelSpec struct {
	Kind        string
	Backbone    string
	WeightsPath string
	NumClasses  int
	Pretrained  bool
	Device      string
}

// FeatureMap is a C x H x W tensor captured from a convolutional layer.
type FeatureMap struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Empty reports whether the map carries no values.
func (f FeatureMap) Empty() bool {
	return f.Channels == 0 || f.Height == 0 || f.Width == 0 || len(f.Data) < f.Channels*f.Height*f.Width
}

// Capture receives the last convolutional layer's activations during the
// forward pass and their gradients during the backward pass.
type Capture interface {
	OnActivations(FeatureMap)
	OnGradients(FeatureMap)
}

// Classifier maps a preprocessed frame to class logits.
type Classifier interface {
	Classify(ctx context.Context, input imaging.Tensor) ([]float32, error)
}

// GradientModel runs a forward pass and a backward pass from class, reporting
// intermediate tensors to capture. A negative class selects the argmax of the
// forward logits. The returned logits come from the forward pass.
type GradientModel interface {
	Attribute(ctx context.Context, input imaging.Tensor, class int, capture Capture) ([]float32, error)
}

// FaceDetector returns face bounding boxes in frame pixel coordinates.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// Prediction is one label and its confidence from a LabelClassifier.
type Prediction struct {
	Label string
	Score float64
}

// LabelClassifier returns ranked labels for a raw frame.
type LabelClassifier interface {
	Predict(ctx context.Context, img image.Image) ([]Prediction, error)
}

// Loader builds models. Loading trained weights that are missing or fail to
// deserialize returns an error wrapping services.ErrModelLoad.
type Loader interface {
	LoadGradientModel(ctx context.Context, spec ModelSpec) (GradientModel, error)
	LoadClassifier(ctx context.Context, spec ModelSpec) (Classifier, error)
	LoadFaceDetector(ctx context.Context, spec ModelSpec) (FaceDetector, error)
	LoadLabelClassifier(ctx context.Context, spec ModelSpec) (LabelClassifier, error)
}

// LoadWithFallback loads spec with trained weights and falls back to the
// pretrained backbone in demo state when the weights are absent or broken.
// Only the fallback load failing is an error.
func LoadWithFallback[M any](ctx context.Context, spec ModelSpec, load func(context.Context, ModelSpec) (M, error), logger *slog.Logger) (M, ModelState, error) {
	if strings.TrimSpace(spec.WeightsPath) != "" {
		model, err := load(ctx, spec)
		if err == nil {
			return model, StateTrained, nil
		}
		if !errors.Is(err, services.ErrModelLoad) {
			var zero M
			return zero, StateDemo, err
		}
		logging.WarnWithContext(logger, "trained weights unavailable; using pretrained backbone", "model_fallback",
			logging.String("weights_path", spec.WeightsPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "scores come from an untrained forensic head"),
			logging.String(logging.FieldErrorHint, "check the configured weights_path"),
		)
	} else {
		logging.WarnWithContext(logger, "no trained weights configured; using pretrained backbone", "model_fallback",
			logging.String("backbone", spec.Backbone),
			logging.String(logging.FieldImpact, "scores come from an untrained forensic head"),
			logging.String(logging.FieldErrorHint, "set weights_path to a trained checkpoint"),
		)
	}
	demo := spec
	demo.WeightsPath = ""
	demo.Pretrained = true
	model, err := load(ctx, demo)
	if err != nil {
		var zero M
		return zero, StateDemo, err
	}
	return model, StateDemo, nil
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(l))
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(float64(l) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value, or -1 for an empty slice.
func Argmax(values []float64) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}

// FakeProbability returns the softmax probability of class 1 ("fake") for a
// two-class head, or 0 when the logits do not carry that class.
func FakeProbability(logits []float32) float64 {
	probs := Softmax(logits)
	if len(probs) < 2 {
		return 0
	}
	return probs[1]
}
