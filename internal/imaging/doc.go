// Package imaging holds the pixel-level helpers shared by the analysis
// engines: model input preprocessing, face cropping, heatmap colouring and
// frame annotation.
package imaging
