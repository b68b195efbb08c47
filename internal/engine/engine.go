// Package engine defines the result type shared by every analysis engine and
// the interface the ensemble drives them through.
package engine

import (
	"context"
	"math"
)

// Verdict labels shared across engines.
const (
	LabelUncertain       = "UNCERTAIN"
	LabelError           = "ERROR"
	LabelSystemError     = "SYSTEM ERROR"
	LabelFormatError     = "FORMAT ERROR"
	LabelFake            = "FAKE"
	LabelReal            = "REAL"
	LabelDeepfake        = "DEEPFAKE DETECTED"
	LabelLikelyAuthentic = "LIKELY AUTHENTIC"
)

// Result is one engine's verdict on a video. Score is a 0-100 likelihood
// that the video is synthetic or manipulated.
type Result struct {
	Score        float64
	Label        string
	Evidence     []string
	ArtifactPath string
	// Degraded marks results produced by a demo model or with a capability
	// missing; the score is still usable but less trustworthy.
	Degraded bool
	// NoScore marks results where nothing could be measured, such as a clip
	// with no sampled frames. Score is reported as-is but fusion treats the
	// engine as missing.
	NoScore bool

	// Set by the cloud engine only.
	VisualEvidence []string
	AudioEvidence  []string
	FactCheck      string
}

// Engine analyzes one video file.
type Engine interface {
	Name() string
	Analyze(ctx context.Context, path string) (Result, error)
}

// NewResult builds a Result with the score clamped to [0,100] and the
// evidence slice copied.
func NewResult(score float64, label string, evidence ...string) Result {
	return Result{Score: ClampScore(score), Label: label, Evidence: append([]string(nil), evidence...)}
}

// SystemError is the result reported in place of an engine that failed
// outright, preserving the response shape.
func SystemError(err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{
		Score:          0,
		Label:          LabelSystemError,
		Evidence:       []string{msg},
		VisualEvidence: []string{msg},
		AudioEvidence:  []string{},
		FactCheck:      "System failed to process video.",
	}
}

// ClampScore bounds score to [0,100]; NaN becomes 0.
func ClampScore(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
