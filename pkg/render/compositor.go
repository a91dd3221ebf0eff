package render

import (
	"fmt"
	"image"

	"shader-cam/pkg/utils/rgb"
)

// Compositor draws a frame through two passes side by side into a
// 2*width x height image.
type Compositor struct {
	width, height int
	passes        [2]Pass

	// lut holds, for each output pixel in row major order, the texel it
	// samples as y*width+x.
	lut []int32
	dst *image.RGBA
}

// NewCompositor returns a compositor for width x height frames. The left
// half is always Identity; the right half is Wave unless cpu is set, in
// which case it is Identity too.
func NewCompositor(width, height int, cpu bool) *Compositor {
	second := Wave
	if cpu {
		second = Identity
	}
	return NewCompositorWith(width, height, Identity, second)
}

func NewCompositorWith(width, height int, left, right Pass) *Compositor {
	c := &Compositor{
		width:  width,
		height: height,
		passes: [2]Pass{left, right},
		lut:    make([]int32, 2*width*height),
		dst:    image.NewRGBA(image.Rect(0, 0, 2*width, height)),
	}
	c.build()

	return c
}

// build evaluates both passes once per output pixel. The passes only depend
// on the fragment position, so frames are drawn from the table.
func (c *Compositor) build() {
	px := Vec2{X: 1 / float64(c.width), Y: 1 / float64(c.height)}
	i := 0
	for y := 0; y < c.height; y++ {
		for half := 0; half < 2; half++ {
			pass := c.passes[half]
			for x := 0; x < c.width; x++ {
				tx, ty := Texel(pass(quadUV(x, y, c.width, c.height), px), c.width, c.height)
				c.lut[i] = int32(ty*c.width + tx)
				i++
			}
		}
	}
}

func (c *Compositor) Bounds() image.Rectangle {
	return c.dst.Rect
}

// Render draws tex and returns the composite. The returned image is reused
// by the next call.
func (c *Compositor) Render(tex *rgb.RGB) (*image.RGBA, error) {
	if tex.Rect.Dx() != c.width || tex.Rect.Dy() != c.height {
		return nil, fmt.Errorf("texture is %dx%d, compositor expects %dx%d",
			tex.Rect.Dx(), tex.Rect.Dy(), c.width, c.height)
	}
	if !tex.Valid() {
		return nil, fmt.Errorf("texture buffer of %d bytes is too short for %dx%d stride %d",
			len(tex.Pix), c.width, c.height, tex.Stride)
	}

	out := c.dst.Pix
	o := 0
	for _, t := range c.lut {
		sx, sy := int(t)%c.width, int(t)/c.width
		s := tex.PixOffset(sx+tex.Rect.Min.X, sy+tex.Rect.Min.Y)
		out[o] = tex.Pix[s]
		out[o+1] = tex.Pix[s+1]
		out[o+2] = tex.Pix[s+2]
		out[o+3] = 0xff
		o += 4
	}

	return c.dst, nil
}
