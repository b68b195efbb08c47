package lightweight

import (
	"strings"

	"truthlens/internal/inference"
)

// labelPolarity maps classifier labels to the direction of their score:
// true means the label names the synthetic class.
var labelPolarity = map[string]bool{
	"fake":      true,
	"deepfake":  true,
	"ai":        true,
	"synthetic": true,
	"real":      false,
	"authentic": false,
	"human":     false,
}

const neutralRisk = 50.0

// RiskScore converts one frame's predictions to a 0-100 synthetic risk. A
// synthetic-class label wins over an authentic-class label regardless of
// order; unrecognised labels are ignored and no recognised label is neutral.
func RiskScore(predictions []inference.Prediction) float64 {
	var (
		realScore float64
		haveReal  bool
	)
	for _, p := range predictions {
		fake, known := labelPolarity[strings.ToLower(strings.TrimSpace(p.Label))]
		if !known {
			continue
		}
		if fake {
			return p.Score * 100
		}
		if !haveReal {
			realScore, haveReal = p.Score, true
		}
	}
	if haveReal {
		return (1 - realScore) * 100
	}
	return neutralRisk
}
