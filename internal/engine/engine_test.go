package engine

import (
	"errors"
	"math"
	"testing"
)

func TestNewResultClampsAndCopies(t *testing.T) {
	evidence := []string{"a"}
	res := NewResult(140, LabelFake, evidence...)
	evidence[0] = "changed"
	if res.Score != 100 || res.Evidence[0] != "a" {
		t.Fatalf("unexpected result %+v", res)
	}
	if NewResult(math.NaN(), LabelReal).Score != 0 {
		t.Fatal("expected NaN score clamped to 0")
	}
}

func TestSystemErrorShape(t *testing.T) {
	res := SystemError(errors.New("upload failed"))
	if res.Label != LabelSystemError || res.Score != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.VisualEvidence) != 1 || res.VisualEvidence[0] != "upload failed" {
		t.Fatalf("expected error as visual evidence, got %v", res.VisualEvidence)
	}
	if res.AudioEvidence == nil || len(res.AudioEvidence) != 0 {
		t.Fatalf("expected empty non-nil audio evidence, got %#v", res.AudioEvidence)
	}
	if res.FactCheck != "System failed to process video." {
		t.Fatalf("unexpected fact check %q", res.FactCheck)
	}
}

func TestRound2(t *testing.T) {
	if Round2(70.004) != 70 || Round2(66.666) != 66.67 {
		t.Fatalf("unexpected rounding %v %v", Round2(70.004), Round2(66.666))
	}
}
