package video

import (
	"fmt"
	"image"
)

// Frame is a single decoded frame and its absolute index in the stream.
type Frame struct {
	Index int
	Image *image.RGBA
}

// Info is the metadata needed to sample a video.
type Info struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

func (i Info) frameBytes() int {
	return i.Width * i.Height * 3
}

// rgbToImage converts a packed rgb24 buffer into an RGBA image.
func rgbToImage(buf []byte, width, height int) (*image.RGBA, error) {
	if len(buf) < width*height*3 {
		return nil, fmt.Errorf("short frame: got %d bytes, want %d", len(buf), width*height*3)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	src, dst := 0, 0
	for px := 0; px < width*height; px++ {
		img.Pix[dst] = buf[src]
		img.Pix[dst+1] = buf[src+1]
		img.Pix[dst+2] = buf[src+2]
		img.Pix[dst+3] = 0xff
		src += 3
		dst += 4
	}
	return img, nil
}

// imageToRGB packs an RGBA image into rgb24, dropping alpha.
func imageToRGB(img *image.RGBA, dst []byte) []byte {
	bounds := img.Bounds()
	need := bounds.Dx() * bounds.Dy() * 3
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[img.PixOffset(bounds.Min.X, y):]
		for x := 0; x < bounds.Dx(); x++ {
			dst[i] = row[x*4]
			dst[i+1] = row[x*4+1]
			dst[i+2] = row[x*4+2]
			i += 3
		}
	}
	return dst
}
