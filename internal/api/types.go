package api

import (
	"truthlens/internal/engine"
	"truthlens/internal/ensemble"
)

// AnalysisResponse is the verdict returned by POST /analyze.
type AnalysisResponse struct {
	ConfidenceScore float64            `json:"confidence_score"`
	FinalVerdict    float64            `json:"final_verdict"`
	Breakdown       map[string]float64 `json:"breakdown"`
	VideoURL        *string            `json:"video_url"`
	VerdictTitle    string             `json:"verdict_title"`
	VisualEvidence  []string           `json:"visual_evidence"`
	AudioEvidence   []string           `json:"audio_evidence"`
	FactCheck       string             `json:"fact_check_analysis"`
	IsDemo          bool               `json:"is_demo"`
	RequestID       string             `json:"request_id,omitempty"`
}

// StatusResponse is returned by GET /.
type StatusResponse struct {
	Status  string            `json:"status"`
	Model   string            `json:"model"`
	Engines map[string]string `json:"engines"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromVerdict converts a fused ensemble verdict.
func FromVerdict(v ensemble.Verdict) AnalysisResponse {
	breakdown := make(map[string]float64, len(v.Breakdown))
	for key, score := range v.Breakdown {
		breakdown[key] = score
	}
	return AnalysisResponse{
		ConfidenceScore: v.FinalScore,
		FinalVerdict:    v.FinalScore,
		Breakdown:       breakdown,
		VideoURL:        optionalString(v.ArtifactURL),
		VerdictTitle:    v.Title,
		VisualEvidence:  nonNil(v.VisualEvidence),
		AudioEvidence:   nonNil(v.AudioEvidence),
		FactCheck:       v.FactCheck,
		IsDemo:          v.Degraded,
	}
}

// FromResult converts a single engine result. key names the engine in the
// breakdown; artifactURL is the public URL of any artifact it produced.
func FromResult(key string, res engine.Result, artifactURL string) AnalysisResponse {
	visual := res.VisualEvidence
	if len(visual) == 0 {
		visual = res.Evidence
	}
	return AnalysisResponse{
		ConfidenceScore: res.Score,
		FinalVerdict:    res.Score,
		Breakdown:       map[string]float64{key: res.Score},
		VideoURL:        optionalString(artifactURL),
		VerdictTitle:    res.Label,
		VisualEvidence:  nonNil(visual),
		AudioEvidence:   nonNil(res.AudioEvidence),
		FactCheck:       res.FactCheck,
		IsDemo:          res.Degraded,
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
