package render

import "math"

// Vec2 is a normalized 2D coordinate.
type Vec2 struct {
	X, Y float64
}

// Pass is a fragment program. It maps the interpolated quad coordinate of a
// fragment to the texture coordinate it samples. px is the size of one texel.
//
// Quad coordinates run X from 0 at the top edge to 1 at the bottom and Y from
// 1 at the left edge to 0 at the right.
type Pass func(uv, px Vec2) Vec2

// Identity samples uv.yx, which shows the frame mirrored horizontally.
func Identity(uv, _ Vec2) Vec2 {
	return Vec2{X: uv.Y, Y: uv.X}
}

// Wave swaps the axes, flips the frame vertically and ripples it sideways
// with a sine of the row.
func Wave(uv, px Vec2) Vec2 {
	st := Vec2{X: uv.Y, Y: px.X - uv.X}
	st.X += 0.1 * math.Sin(st.Y*20)
	return st
}

// Texel returns the texel a nearest filter picks for st on a width x height
// texture with repeat wrapping. Row 0 is t = 0.
func Texel(st Vec2, width, height int) (x, y int) {
	return wrap(st.X, width), wrap(st.Y, height)
}

func wrap(c float64, n int) int {
	f := c - math.Floor(c)
	i := int(f * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// quadUV is the coordinate the rasterizer interpolates at the center of pixel
// (x, y) of a width x height viewport.
func quadUV(x, y, width, height int) Vec2 {
	return Vec2{
		X: (float64(y) + 0.5) / float64(height),
		Y: 1 - (float64(x)+0.5)/float64(width),
	}
}
