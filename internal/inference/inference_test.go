package inference

import (
	"context"
	"errors"
	"math"
	"testing"

	"truthlens/internal/logging"
	"truthlens/internal/services"
)

func TestSoftmaxAndArgmax(t *testing.T) {
	probs := Softmax([]float32{1, 3})
	if math.Abs(probs[0]+probs[1]-1) > 1e-9 {
		t.Fatalf("probabilities do not sum to 1: %v", probs)
	}
	if Argmax(probs) != 1 {
		t.Fatalf("expected argmax 1, got %d", Argmax(probs))
	}
	if got := FakeProbability([]float32{0, 0}); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected 0.5 for equal logits, got %v", got)
	}
	if FakeProbability([]float32{2}) != 0 {
		t.Fatal("expected 0 for single-class logits")
	}
	if Argmax(nil) != -1 {
		t.Fatal("expected -1 for empty input")
	}
}

func TestLoadWithFallbackUsesDemoOnMissingWeights(t *testing.T) {
	var specs []ModelSpec
	load := func(_ context.Context, spec ModelSpec) (string, error) {
		specs = append(specs, spec)
		if spec.WeightsPath != "" {
			return "", services.Wrap(services.ErrModelLoad, "worker", "load", "missing file", nil)
		}
		return "backbone", nil
	}
	model, state, err := LoadWithFallback(context.Background(), ModelSpec{Backbone: "resnet18", WeightsPath: "/missing.pth"}, load, logging.NewNop())
	if err != nil {
		t.Fatalf("LoadWithFallback returned error: %v", err)
	}
	if model != "backbone" || state != StateDemo {
		t.Fatalf("expected demo backbone, got %q %s", model, state)
	}
	if len(specs) != 2 || !specs[1].Pretrained || specs[1].WeightsPath != "" {
		t.Fatalf("unexpected load sequence %+v", specs)
	}
}

func TestLoadWithFallbackTrained(t *testing.T) {
	load := func(_ context.Context, spec ModelSpec) (string, error) { return spec.WeightsPath, nil }
	model, state, err := LoadWithFallback(context.Background(), ModelSpec{WeightsPath: "/ok.pth"}, load, nil)
	if err != nil || model != "/ok.pth" || state != StateTrained {
		t.Fatalf("unexpected result %q %s %v", model, state, err)
	}
}

func TestLoadWithFallbackPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("worker crashed")
	load := func(context.Context, ModelSpec) (int, error) { return 0, boom }
	if _, _, err := LoadWithFallback(context.Background(), ModelSpec{WeightsPath: "/w.pth"}, load, nil); !errors.Is(err, boom) {
		t.Fatalf("expected worker error, got %v", err)
	}
}
