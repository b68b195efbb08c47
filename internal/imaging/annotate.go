package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	// FakeColor marks frames the classifier considers manipulated.
	FakeColor = color.RGBA{R: 0xff, A: 0xff}
	// RealColor marks frames the classifier considers authentic.
	RealColor = color.RGBA{G: 0xff, A: 0xff}
)

const labelScale = 2

// Annotate draws text onto img with its baseline at (x, y), scaled up from
// the 7x13 bitmap face so it stays legible on full-resolution frames.
func Annotate(img *image.RGBA, text string, x, y int, c color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()
	if width == 0 || height == 0 {
		return
	}
	label := image.NewRGBA(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  label,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)

	ascent := face.Metrics().Ascent.Ceil() * labelScale
	target := image.Rect(x, y-ascent, x+width*labelScale, y-ascent+height*labelScale)
	draw.NearestNeighbor.Scale(img, target, label, label.Bounds(), draw.Over, nil)
}
