package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// InputSize is the square edge length the frame classifiers expect.
const InputSize = 224

// ImageNet normalization constants, RGB order.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Tensor is a dense CHW float32 tensor for a single image.
type Tensor struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Preprocess resizes img to size x size with bilinear filtering and
// normalizes it with ImageNet mean and standard deviation.
func Preprocess(img image.Image, size int) Tensor {
	if size <= 0 {
		size = InputSize
	}
	resized := Resize(img, size, size)
	plane := size * size
	t := Tensor{Channels: 3, Height: size, Width: size, Data: make([]float32, 3*plane)}
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+3]
			for c := 0; c < 3; c++ {
				t.Data[c*plane+y*size+x] = (float32(px[c])/255 - imagenetMean[c]) / imagenetStd[c]
			}
		}
	}
	return t
}

// Resize scales img to width x height with bilinear filtering.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Crop copies the part of img inside rect, clamped to the image bounds.
// It returns nil when the clamped rectangle is empty.
func Crop(img image.Image, rect image.Rectangle) *image.RGBA {
	rect = rect.Canon().Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// CloneRGBA returns a copy of img as an RGBA image anchored at the origin.
func CloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
