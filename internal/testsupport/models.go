package testsupport

import (
	"context"
	"errors"
	"image"
	"sync"

	"truthlens/internal/imaging"
	"truthlens/internal/inference"
	"truthlens/internal/services"
)

// FakeLoader hands out preconfigured models. When TrainedMissing is set,
// loading a spec with a weights path fails with services.ErrModelLoad so the
// caller falls back to demo weights.
type FakeLoader struct {
	Gradient       inference.GradientModel
	Classifier     inference.Classifier
	Detector       inference.FaceDetector
	Labels         inference.LabelClassifier
	TrainedMissing bool
	Err            error

	mu    sync.Mutex
	Specs []inference.ModelSpec
}

func (l *FakeLoader) record(spec inference.ModelSpec) error {
	l.mu.Lock()
	l.Specs = append(l.Specs, spec)
	l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	if l.TrainedMissing && spec.WeightsPath != "" {
		return services.Wrap(services.ErrModelLoad, "fake loader", "load", spec.WeightsPath, errors.New("no such file"))
	}
	return nil
}

func (l *FakeLoader) LoadGradientModel(_ context.Context, spec inference.ModelSpec) (inference.GradientModel, error) {
	if err := l.record(spec); err != nil {
		return nil, err
	}
	return l.Gradient, nil
}

func (l *FakeLoader) LoadClassifier(_ context.Context, spec inference.ModelSpec) (inference.Classifier, error) {
	if err := l.record(spec); err != nil {
		return nil, err
	}
	return l.Classifier, nil
}

func (l *FakeLoader) LoadFaceDetector(_ context.Context, spec inference.ModelSpec) (inference.FaceDetector, error) {
	if err := l.record(spec); err != nil {
		return nil, err
	}
	return l.Detector, nil
}

func (l *FakeLoader) LoadLabelClassifier(_ context.Context, spec inference.ModelSpec) (inference.LabelClassifier, error) {
	if err := l.record(spec); err != nil {
		return nil, err
	}
	return l.Labels, nil
}

// FakeGradientModel returns fixed logits and reports the configured feature
// maps to the capture. Empty maps are not reported.
type FakeGradientModel struct {
	Logits      []float32
	Activations inference.FeatureMap
	Gradients   inference.FeatureMap
	Err         error
	Calls       int
}

func (m *FakeGradientModel) Attribute(_ context.Context, _ imaging.Tensor, _ int, capture inference.Capture) ([]float32, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if !m.Activations.Empty() {
		capture.OnActivations(m.Activations)
	}
	if !m.Gradients.Empty() {
		capture.OnGradients(m.Gradients)
	}
	return append([]float32(nil), m.Logits...), nil
}

// FakeClassifier returns fixed logits for every input.
type FakeClassifier struct {
	Logits []float32
	Err    error
	Calls  int
}

func (c *FakeClassifier) Classify(context.Context, imaging.Tensor) ([]float32, error) {
	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	return append([]float32(nil), c.Logits...), nil
}

// FakeDetector returns the same boxes for every frame.
type FakeDetector struct {
	Boxes []image.Rectangle
	Err   error
}

func (d *FakeDetector) Detect(context.Context, image.Image) ([]image.Rectangle, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return append([]image.Rectangle(nil), d.Boxes...), nil
}

// FakeLabelClassifier returns the same predictions for every frame.
type FakeLabelClassifier struct {
	Predictions []inference.Prediction
	Err         error
}

func (c *FakeLabelClassifier) Predict(context.Context, image.Image) ([]inference.Prediction, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return append([]inference.Prediction(nil), c.Predictions...), nil
}
