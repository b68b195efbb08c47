// Package ensemble runs the analysis engines against one video and fuses
// their scores into a single verdict.
//
// Engines run sequentially in a fixed order. A failing, panicking or
// disabled engine contributes the neutral score 50 and never aborts the
// others, so a fused score is always produced.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"truthlens/internal/artifacts"
	"truthlens/internal/engine"
	"truthlens/internal/logging"
	"truthlens/internal/metrics"
	"truthlens/internal/services"
)

// Breakdown keys and fusion weights.
const (
	KeyCloud       = "api"
	KeySaliency    = "heatmap"
	KeyLightweight = "neural"

	WeightCloud       = 0.6
	WeightSaliency    = 0.3
	WeightLightweight = 0.1

	NeutralScore = 50.0
)

// Options wires the engines into a Runner. Nil engines count as failed.
type Options struct {
	Cloud       engine.Engine
	Saliency    engine.Engine
	Lightweight engine.Engine
	Artifacts   *artifacts.Store
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
}

// Runner executes the ensemble.
type Runner struct {
	slots     []slot
	artifacts *artifacts.Store
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

type slot struct {
	key    string
	weight float64
	engine engine.Engine
}

// Outcome is one engine's contribution to a verdict.
type Outcome struct {
	Key    string
	Engine string
	Result engine.Result
	Err    error
	// Score is the value used in fusion: the engine score, or NeutralScore
	// when the engine failed.
	Score float64
}

// Failed reports whether the engine was replaced by the neutral score.
func (o Outcome) Failed() bool { return o.Err != nil }

// Verdict is the fused result for one video.
type Verdict struct {
	FinalScore     float64
	Breakdown      map[string]float64
	Outcomes       []Outcome
	ArtifactPath   string
	ArtifactURL    string
	Title          string
	Evidence       []string
	VisualEvidence []string
	AudioEvidence  []string
	FactCheck      string
	Degraded       bool
}

// New builds a Runner over the fixed engine order cloud, saliency, lightweight.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		slots: []slot{
			{key: KeyCloud, weight: WeightCloud, engine: opts.Cloud},
			{key: KeySaliency, weight: WeightSaliency, engine: opts.Saliency},
			{key: KeyLightweight, weight: WeightLightweight, engine: opts.Lightweight},
		},
		artifacts: opts.Artifacts,
		metrics:   opts.Metrics,
		logger:    logging.NewComponentLogger(logger, "ensemble"),
	}
}

// Fuse combines cloud, saliency and lightweight scores with the fixed weights,
// rounded to two decimals.
func Fuse(cloud, saliency, lightweight float64) float64 {
	return engine.Round2(WeightCloud*cloud + WeightSaliency*saliency + WeightLightweight*lightweight)
}

// Run analyzes path with every engine and fuses the scores.
func (r *Runner) Run(ctx context.Context, path string) Verdict {
	logger := logging.WithContext(ctx, r.logger)
	verdict := Verdict{Breakdown: make(map[string]float64, len(r.slots))}
	var final float64
	for _, s := range r.slots {
		out := r.invoke(ctx, s, path)
		verdict.Outcomes = append(verdict.Outcomes, out)
		verdict.Breakdown[s.key] = out.Score
		final += s.weight * out.Score
		if out.Failed() || out.Result.Degraded {
			verdict.Degraded = true
		}
	}
	verdict.FinalScore = engine.Round2(final)
	r.metrics.ObserveFinal(verdict.FinalScore)
	r.assemble(&verdict)

	logger.Info("ensemble verdict",
		logging.Float64("final_score", verdict.FinalScore),
		logging.Float64(KeyCloud, verdict.Breakdown[KeyCloud]),
		logging.Float64(KeySaliency, verdict.Breakdown[KeySaliency]),
		logging.Float64(KeyLightweight, verdict.Breakdown[KeyLightweight]),
		logging.Bool("degraded", verdict.Degraded),
		logging.String("artifact", verdict.ArtifactURL),
	)
	return verdict
}

// RunSingle runs one engine. Failures become a SYSTEM ERROR result so the
// caller always receives a result of the same shape.
func (r *Runner) RunSingle(ctx context.Context, eng engine.Engine, path string) engine.Result {
	name := "engine"
	if eng != nil {
		name = eng.Name()
	}
	out := r.invoke(ctx, slot{key: name, engine: eng}, path)
	if out.Failed() {
		return engine.SystemError(out.Err)
	}
	return out.Result
}

// invoke runs one engine with panic recovery and metrics.
func (r *Runner) invoke(ctx context.Context, s slot, path string) (out Outcome) {
	out = Outcome{Key: s.key, Engine: s.key, Score: NeutralScore}
	if s.engine == nil {
		out.Err = services.Wrap(services.ErrConfiguration, "ensemble", s.key, "engine disabled", nil)
		r.metrics.ObserveEngine(s.key, metrics.OutcomeSkipped, 0)
		return out
	}
	out.Engine = s.engine.Name()
	logger := logging.WithContext(services.WithEngine(ctx, out.Engine), r.logger)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			out.Err = fmt.Errorf("engine %s panicked: %v", out.Engine, rec)
			out.Score = NeutralScore
			logging.ErrorWithContext(logger, "engine panicked", "engine_panic",
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldImpact, "engine replaced by neutral score"),
			)
		}
		outcome := metrics.OutcomeOK
		switch {
		case out.Err != nil:
			outcome = metrics.OutcomeError
		case out.Result.Degraded:
			outcome = metrics.OutcomeDegraded
		}
		r.metrics.ObserveEngine(out.Engine, outcome, time.Since(start))
	}()

	result, err := s.engine.Analyze(ctx, path)
	if err != nil {
		out.Err = err
		logging.WarnWithContext(logger, "engine failed; using neutral score", "engine_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "engine replaced by neutral score"),
		)
		return out
	}
	out.Result = result
	out.Score = engine.ClampScore(result.Score)
	if result.NoScore || result.Label == engine.LabelFormatError || result.Label == engine.LabelSystemError {
		// sentinel results carry no usable score
		out.Score = NeutralScore
		out.Result.Degraded = true
		logger.Info("engine produced no score; using neutral score", logging.String("label", result.Label))
	}
	return out
}

// assemble fills the verdict's title, artifact and evidence bundle.
func (r *Runner) assemble(v *Verdict) {
	v.VisualEvidence = []string{}
	v.AudioEvidence = []string{}
	for _, out := range v.Outcomes {
		if out.Failed() {
			line := fmt.Sprintf("[%s] engine unavailable: %v", out.Key, out.Err)
			v.Evidence = append(v.Evidence, line)
			v.VisualEvidence = append(v.VisualEvidence, line)
			continue
		}
		for _, item := range out.Result.Evidence {
			v.Evidence = append(v.Evidence, fmt.Sprintf("[%s] %s", out.Key, item))
		}
		switch out.Key {
		case KeyCloud:
			v.Title = out.Result.Label
			v.VisualEvidence = append(v.VisualEvidence, out.Result.VisualEvidence...)
			v.AudioEvidence = append(v.AudioEvidence, out.Result.AudioEvidence...)
			v.FactCheck = out.Result.FactCheck
		default:
			for _, item := range out.Result.Evidence {
				v.VisualEvidence = append(v.VisualEvidence, fmt.Sprintf("[%s] %s", out.Key, item))
			}
		}
		if out.Key == KeySaliency && out.Result.ArtifactPath != "" {
			v.ArtifactPath = out.Result.ArtifactPath
			if r.artifacts != nil {
				v.ArtifactURL = r.artifacts.URL(out.Result.ArtifactPath)
			}
		}
	}
	if v.Title == "" || v.Title == engine.LabelFormatError {
		if v.Title == "" {
			v.FactCheck = "Cloud analysis unavailable; verdict derived from local engines."
		}
		v.Title = engine.LabelLikelyAuthentic
		if v.FinalScore > 50 {
			v.Title = engine.LabelDeepfake
		}
	}
}
