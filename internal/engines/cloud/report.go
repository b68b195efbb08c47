package cloud

import (
	_ "embed"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"truthlens/internal/engine"
	"truthlens/internal/services"
	"truthlens/internal/services/gemini"
)

//go:embed prompt.txt
var forensicPrompt string

// responseSchema constrains the model output when search grounding is off.
var responseSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"confidence_score":    map[string]any{"type": "INTEGER", "minimum": 0, "maximum": 100},
		"verdict_title":       map[string]any{"type": "STRING"},
		"visual_evidence":     map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
		"audio_evidence":      map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}},
		"fact_check_analysis": map[string]any{"type": "STRING"},
	},
	"required": []string{"confidence_score", "verdict_title", "visual_evidence", "audio_evidence", "fact_check_analysis"},
}

// report is the forensic verdict the model returns.
type report struct {
	ConfidenceScore   float64  `json:"confidence_score"`
	VerdictTitle      string   `json:"verdict_title"`
	VisualEvidence    []string `json:"visual_evidence"`
	AudioEvidence     []string `json:"audio_evidence"`
	FactCheckAnalysis string   `json:"fact_check_analysis"`
}

var upper = cases.Upper(language.Und)

// parseReport converts model output into a Result. Output that is not a JSON
// report becomes a FORMAT ERROR result carrying the raw text, returned with an
// error wrapping services.ErrResponseFormat.
func parseReport(text string) (engine.Result, error) {
	var r report
	if err := gemini.DecodeJSON(text, &r); err != nil {
		return engine.Result{
			Label:          engine.LabelFormatError,
			Evidence:       []string{"Remote model returned a response that is not a JSON report."},
			VisualEvidence: []string{},
			AudioEvidence:  []string{},
			FactCheck:      text,
		}, services.Wrap(services.ErrResponseFormat, Name, "parse report", "", err)
	}
	score := engine.ClampScore(math.Round(r.ConfidenceScore))
	title := upper.String(strings.TrimSpace(r.VerdictTitle))
	if title == "" {
		title = engine.LabelLikelyAuthentic
		if score > 50 {
			title = engine.LabelDeepfake
		}
	}
	visual := cleanList(r.VisualEvidence)
	audio := cleanList(r.AudioEvidence)
	return engine.Result{
		Score:          score,
		Label:          title,
		Evidence:       append(append([]string(nil), visual...), audio...),
		VisualEvidence: visual,
		AudioEvidence:  audio,
		FactCheck:      strings.TrimSpace(r.FactCheckAnalysis),
	}, nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
