// Package inference declares the model capabilities the analysis engines
// consume: plain classifiers, classifiers that expose activation and gradient
// capture for attribution, face detectors and label classifiers.
//
// Engines depend only on these interfaces. The worker subpackage provides the
// production implementation backed by a model sidecar process.
package inference
