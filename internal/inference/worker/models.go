package worker

import (
	"context"
	"image"
	"math"

	"truthlens/internal/imaging"
	"truthlens/internal/inference"
)

const (
	kindGradient   = "gradient"
	kindClassifier = "classifier"
	kindFaces      = "faces"
	kindLabels     = "labels"
)

var _ inference.Loader = (*Client)(nil)

// LoadGradientModel loads a classifier with activation and gradient capture.
func (c *Client) LoadGradientModel(ctx context.Context, spec inference.ModelSpec) (inference.GradientModel, error) {
	handle, err := c.load(ctx, kindGradient, spec)
	if err != nil {
		return nil, err
	}
	return &gradientModel{client: c, handle: handle}, nil
}

// LoadClassifier loads a plain frame classifier.
func (c *Client) LoadClassifier(ctx context.Context, spec inference.ModelSpec) (inference.Classifier, error) {
	handle, err := c.load(ctx, kindClassifier, spec)
	if err != nil {
		return nil, err
	}
	return &classifier{client: c, handle: handle}, nil
}

// LoadFaceDetector loads the face detector.
func (c *Client) LoadFaceDetector(ctx context.Context, spec inference.ModelSpec) (inference.FaceDetector, error) {
	handle, err := c.load(ctx, kindFaces, spec)
	if err != nil {
		return nil, err
	}
	return &faceDetector{client: c, handle: handle}, nil
}

// LoadLabelClassifier loads an image classification pipeline that returns
// ranked labels.
func (c *Client) LoadLabelClassifier(ctx context.Context, spec inference.ModelSpec) (inference.LabelClassifier, error) {
	handle, err := c.load(ctx, kindLabels, spec)
	if err != nil {
		return nil, err
	}
	return &labelClassifier{client: c, handle: handle}, nil
}

func (c *Client) load(ctx context.Context, kind string, spec inference.ModelSpec) (string, error) {
	device := spec.Device
	if device == "" {
		device = c.device
	}
	resp, err := c.call(ctx, request{Op: opLoad, Spec: &specPayload{
		Kind:        kind,
		Backbone:    spec.Backbone,
		WeightsPath: spec.WeightsPath,
		NumClasses:  spec.NumClasses,
		Pretrained:  spec.Pretrained,
		Device:      device,
	}})
	if err != nil {
		return "", err
	}
	return resp.Handle, nil
}

type gradientModel struct {
	client *Client
	handle string
}

func (m *gradientModel) Attribute(ctx context.Context, input imaging.Tensor, class int, capture inference.Capture) ([]float32, error) {
	resp, err := m.client.call(ctx, request{Op: opAttribute, Handle: m.handle, Tensor: tensorOf(input), Class: class})
	if err != nil {
		return nil, err
	}
	if capture != nil {
		if resp.Activations != nil {
			capture.OnActivations(featureMapOf(resp.Activations))
		}
		if resp.Gradients != nil {
			capture.OnGradients(featureMapOf(resp.Gradients))
		}
	}
	return resp.Logits, nil
}

type classifier struct {
	client *Client
	handle string
}

func (m *classifier) Classify(ctx context.Context, input imaging.Tensor) ([]float32, error) {
	resp, err := m.client.call(ctx, request{Op: opClassify, Handle: m.handle, Tensor: tensorOf(input)})
	if err != nil {
		return nil, err
	}
	return resp.Logits, nil
}

type faceDetector struct {
	client *Client
	handle string
}

func (m *faceDetector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	resp, err := m.client.call(ctx, request{Op: opDetect, Handle: m.handle, Image: imageOf(img)})
	if err != nil {
		return nil, err
	}
	origin := img.Bounds().Min
	boxes := make([]image.Rectangle, 0, len(resp.Boxes))
	for _, b := range resp.Boxes {
		rect := image.Rect(
			int(math.Floor(float64(b[0]))), int(math.Floor(float64(b[1]))),
			int(math.Ceil(float64(b[2]))), int(math.Ceil(float64(b[3]))),
		).Add(origin)
		if !rect.Empty() {
			boxes = append(boxes, rect)
		}
	}
	return boxes, nil
}

type labelClassifier struct {
	client *Client
	handle string
}

func (m *labelClassifier) Predict(ctx context.Context, img image.Image) ([]inference.Prediction, error) {
	resp, err := m.client.call(ctx, request{Op: opPredict, Handle: m.handle, Image: imageOf(img)})
	if err != nil {
		return nil, err
	}
	out := make([]inference.Prediction, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		out = append(out, inference.Prediction{Label: p.Label, Score: p.Score})
	}
	return out, nil
}

func tensorOf(t imaging.Tensor) *tensorPayload {
	return &tensorPayload{Shape: []int{t.Channels, t.Height, t.Width}, Data: t.Data}
}

func featureMapOf(p *tensorPayload) inference.FeatureMap {
	if len(p.Shape) != 3 {
		return inference.FeatureMap{}
	}
	return inference.FeatureMap{Channels: p.Shape[0], Height: p.Shape[1], Width: p.Shape[2], Data: p.Data}
}

func imageOf(img image.Image) *imagePayload {
	rgba := imaging.CloneRGBA(img)
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	rgb := make([]byte, 0, w*h*3)
	for i := 0; i < len(rgba.Pix); i += 4 {
		rgb = append(rgb, rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2])
	}
	return &imagePayload{Width: w, Height: h, RGB: rgb}
}
