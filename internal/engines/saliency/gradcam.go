package saliency

import (
	"truthlens/internal/inference"
)

const normEpsilon = 1e-8

// capture holds the tensors reported during one frame's forward and backward
// pass. A fresh capture is used per frame.
type capture struct {
	activations inference.FeatureMap
	gradients   inference.FeatureMap
}

func (c *capture) OnActivations(fm inference.FeatureMap) { c.activations = fm }
func (c *capture) OnGradients(fm inference.FeatureMap)   { c.gradients = fm }

// camMap computes the class activation map: each activation channel is
// weighted by the spatial mean of its gradient, the weighted channels are
// summed and negative values dropped. It reports false when either capture
// is missing or the shapes disagree.
func (c *capture) camMap() ([]float32, int, int, bool) {
	a, g := c.activations, c.gradients
	if a.Empty() || g.Empty() {
		return nil, 0, 0, false
	}
	if a.Channels != g.Channels || a.Height != g.Height || a.Width != g.Width {
		return nil, 0, 0, false
	}
	plane := a.Height * a.Width
	cam := make([]float32, plane)
	for ch := 0; ch < a.Channels; ch++ {
		grads := g.Data[ch*plane : (ch+1)*plane]
		var mean float64
		for _, v := range grads {
			mean += float64(v)
		}
		weight := float32(mean / float64(plane))
		if weight == 0 {
			continue
		}
		acts := a.Data[ch*plane : (ch+1)*plane]
		for i, v := range acts {
			cam[i] += weight * v
		}
	}
	for i, v := range cam {
		if v < 0 {
			cam[i] = 0
		}
	}
	return NormalizeMap(cam), a.Width, a.Height, true
}

// NormalizeMap min-max scales values into [0,1] in place and returns them.
// A constant map scales to all zeros.
func NormalizeMap(values []float32) []float32 {
	if len(values) == 0 {
		return values
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := float64(hi-lo) + normEpsilon
	for i, v := range values {
		values[i] = float32(float64(v-lo) / span)
	}
	return values
}
