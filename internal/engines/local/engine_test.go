package local

import (
	"context"
	"errors"
	"image"
	"testing"

	"truthlens/internal/config"
	"truthlens/internal/engine"
	"truthlens/internal/logging"
	"truthlens/internal/testsupport"
)

func newEngine(t *testing.T, frames int, loader *testsupport.FakeLoader, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Local.WeightsPath = "/models/best_model.pth"
	if mutate != nil {
		mutate(cfg)
	}
	eng, err := New(context.Background(), loader, cfg, testsupport.NewFakeDecoder(64, 48, frames, 25), logging.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return eng
}

func TestAnalyzePoolsFacesAcrossFrames(t *testing.T) {
	classifier := &testsupport.FakeClassifier{Logits: []float32{0, 1}}
	loader := &testsupport.FakeLoader{
		Classifier: classifier,
		Detector: &testsupport.FakeDetector{Boxes: []image.Rectangle{
			image.Rect(0, 0, 20, 20),
			image.Rect(30, 10, 80, 60), // clamped to the frame
		}},
	}
	eng := newEngine(t, 100, loader, nil)

	result, err := eng.Analyze(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if classifier.Calls != 20 {
		t.Fatalf("expected 20 face classifications, got %d", classifier.Calls)
	}
	// softmax([0,1])[1] = 0.731 -> 73
	if result.Score != 73 || result.Label != engine.LabelDeepfake {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Evidence[0] != "Analyzed 20 face regions locally." || result.Evidence[1] != "Aggregated Neural Score: 73%" {
		t.Fatalf("unexpected evidence %v", result.Evidence)
	}
}

func TestAnalyzeNoFacesIsUncertain(t *testing.T) {
	loader := &testsupport.FakeLoader{
		Classifier: &testsupport.FakeClassifier{Logits: []float32{0, 1}},
		Detector:   &testsupport.FakeDetector{},
	}
	result, err := newEngine(t, 100, loader, nil).Analyze(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if result.Label != engine.LabelUncertain || result.Score != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Evidence) != 1 || result.Evidence[0] != "No biological faces detected in video." {
		t.Fatalf("unexpected evidence %v", result.Evidence)
	}
}

func TestAnalyzeNoFramesIsError(t *testing.T) {
	loader := &testsupport.FakeLoader{
		Classifier: &testsupport.FakeClassifier{Logits: []float32{1, 0}},
		Detector:   &testsupport.FakeDetector{Boxes: []image.Rectangle{image.Rect(0, 0, 10, 10)}},
	}
	eng := newEngine(t, 10, loader, nil)
	eng.decoder.(*testsupport.FakeDecoder).BadFrames = map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true, 9: true}
	result, err := eng.Analyze(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if result.Label != engine.LabelError || result.Evidence[0] != "Could not extract frames." {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAnalyzeAuthenticBelowThreshold(t *testing.T) {
	loader := &testsupport.FakeLoader{
		Classifier: &testsupport.FakeClassifier{Logits: []float32{2, 0}},
		Detector:   &testsupport.FakeDetector{Boxes: []image.Rectangle{image.Rect(0, 0, 10, 10)}},
	}
	eng := newEngine(t, 100, loader, func(c *config.Config) { c.Local.Sampling = config.SamplingStride })
	result, err := eng.Analyze(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if result.Label != engine.LabelLikelyAuthentic || result.Score != 12 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestNewFallsBackToDemoWeights(t *testing.T) {
	loader := &testsupport.FakeLoader{
		Classifier:     &testsupport.FakeClassifier{Logits: []float32{0, 0}},
		Detector:       &testsupport.FakeDetector{Boxes: []image.Rectangle{image.Rect(0, 0, 10, 10)}},
		TrainedMissing: true,
	}
	result, err := newEngine(t, 20, loader, nil).Analyze(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if !result.Degraded || result.Score != 50 {
		t.Fatalf("expected degraded neutral result, got %+v", result)
	}
}

func TestAnalyzePropagatesDetectorFailure(t *testing.T) {
	loader := &testsupport.FakeLoader{
		Classifier: &testsupport.FakeClassifier{Logits: []float32{0, 1}},
		Detector:   &testsupport.FakeDetector{Err: errors.New("detector crashed")},
	}
	if _, err := newEngine(t, 20, loader, nil).Analyze(context.Background(), "clip.mp4"); err == nil {
		t.Fatal("expected detector error")
	}
}
