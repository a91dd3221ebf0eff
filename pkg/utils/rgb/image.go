package rgb

import (
	"image"
	"image/color"
)

// RGB is an RGB24 image laid over a raw capture buffer.
type RGB struct {
	// Pix holds the image's pixels, in R, G, B order. The pixel at
	// (x, y) starts at Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)*3].
	Pix []byte
	// Stride is the Pix stride (in bytes) between vertically adjacent pixels.
	Stride int
	// Rect is the image's bounds.
	Rect image.Rectangle
}

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+3 : i+3] // Small cap improves performance, see https://golang.org/issue/27857
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: 0xff}
}

// PixOffset returns the index of the first element of Pix that corresponds to
// the pixel at (x, y).
func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// NewRGB wraps data without copying. A stride of zero means rows are packed.
// Drivers may hand out buffers longer than height*stride; the tail is ignored.
func NewRGB(data []byte, width, height, stride int) *RGB {
	if stride == 0 {
		stride = width * 3
	}
	return &RGB{
		Pix:    data,
		Stride: stride,
		Rect: image.Rectangle{
			Min: image.Point{X: 0, Y: 0},
			Max: image.Point{X: width, Y: height},
		},
	}
}

// Valid reports whether Pix is long enough to hold every pixel in Rect.
func (p *RGB) Valid() bool {
	h, w := p.Rect.Dy(), p.Rect.Dx()
	if h <= 0 || w <= 0 {
		return false
	}
	return p.Stride >= w*3 && len(p.Pix) >= (h-1)*p.Stride+w*3
}
