package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// ResizeMap bilinearly scales a row-major map of values in [0,1] from
// w x h to dstW x dstH.
func ResizeMap(values []float32, w, h, dstW, dstH int) []float32 {
	if w == dstW && h == dstH {
		return append([]float32(nil), values...)
	}
	src := image.NewGray16(image.Rect(0, 0, w, h))
	for i, v := range values {
		src.SetGray16(i%w, i/w, color.Gray16{Y: uint16(clamp01(v) * 65535)})
	}
	dst := image.NewGray16(image.Rect(0, 0, dstW, dstH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	out := make([]float32, dstW*dstH)
	for y := 0; y < dstH; y++ {
		for x := 0; x < dstW; x++ {
			out[y*dstW+x] = float32(dst.Gray16At(x, y).Y) / 65535
		}
	}
	return out
}

// Jet maps v in [0,1] to the JET colormap (blue through red).
func Jet(v float32) color.RGBA {
	q := float64(uint8(math.Round(float64(clamp01(v)) * 255)))
	x := q / 255
	r := jetChannel(x - 0.75)
	g := jetChannel(x - 0.5)
	b := jetChannel(x - 0.25)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func jetChannel(offset float64) uint8 {
	v := 1.5 - 4*math.Abs(offset)
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(math.Round(v * 255))
}

// Overlay blends the JET-coloured heat map over frame: out = frame*(1-alpha) +
// heat*alpha. heat must hold one value per frame pixel.
func Overlay(frame *image.RGBA, heat []float32, alpha float64) *image.RGBA {
	b := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	keep := 1 - alpha
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			src := frame.RGBAAt(b.Min.X+x, b.Min.Y+y)
			jet := Jet(heat[y*b.Dx()+x])
			out.SetRGBA(x, y, color.RGBA{
				R: blend(src.R, jet.R, keep, alpha),
				G: blend(src.G, jet.G, keep, alpha),
				B: blend(src.B, jet.B, keep, alpha),
				A: 0xff,
			})
		}
	}
	return out
}

func blend(a, b uint8, wa, wb float64) uint8 {
	v := math.Round(float64(a)*wa + float64(b)*wb)
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

func clamp01(v float32) float32 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
