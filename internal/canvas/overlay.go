package canvas

import (
	"image"
	"image/color"
	"math"

	"github.com/andresmejia3/visage/internal/types"
)

// Style describes the face overlay.
type Style struct {
	Color      color.RGBA
	Alpha      float64 // stroke opacity
	LineWidth  int
	DashOn     int
	DashOff    int
	GlowAlpha  float64
	GlowRadius int
}

// DefaultStyle is a dashed red box with a soft red glow.
var DefaultStyle = Style{
	Color:      color.RGBA{R: 255, A: 255},
	Alpha:      0.7,
	LineWidth:  4,
	DashOn:     5,
	DashOff:    5,
	GlowAlpha:  0.5,
	GlowRadius: 15,
}

// strokeFace draws the glow first and the dashed stroke on top.
// Every pixel within halfWidth+GlowRadius of the box outline is visited once.
func strokeFace(img *image.RGBA, box types.BoundingBox, st Style) {
	if box.Width <= 0 || box.Height <= 0 {
		return
	}
	x0, y0 := box.X, box.Y
	x1, y1 := box.X+box.Width, box.Y+box.Height
	half := float64(st.LineWidth) / 2
	reach := half + float64(st.GlowRadius)

	// Clip the visited area to image bounds to prevent panics
	area := image.Rect(
		int(math.Floor(x0-reach)), int(math.Floor(y0-reach)),
		int(math.Ceil(x1+reach))+1, int(math.Ceil(y1+reach))+1,
	).Intersect(img.Bounds())
	if area.Empty() {
		return
	}

	period := st.DashOn + st.DashOff
	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	w, h := x1-x0, y1-y0

	for y := area.Min.Y; y < area.Max.Y; y++ {
		py := float64(y) + 0.5
		rowStart := (y - imgMinY) * stride
		for x := area.Min.X; x < area.Max.X; x++ {
			px := float64(x) + 0.5

			d, s := outlineDistance(px, py, x0, y0, x1, y1, w, h)
			if d > reach {
				continue
			}

			var a float64
			if d <= half {
				// Stroke band: dashed along the perimeter
				if period > 0 && int(s)%period >= st.DashOn {
					a = glowAt(0, st)
				} else {
					a = st.Alpha
				}
			} else {
				a = glowAt(d-half, st)
			}
			if a <= 0 {
				continue
			}

			off := rowStart + (x-imgMinX)*4
			pix[off] = blend(pix[off], st.Color.R, a)
			pix[off+1] = blend(pix[off+1], st.Color.G, a)
			pix[off+2] = blend(pix[off+2], st.Color.B, a)
			pix[off+3] = 255
		}
	}
}

// outlineDistance returns the distance from (px,py) to the rectangle outline and
// the arc position of the nearest outline point, measured clockwise from the top-left.
func outlineDistance(px, py, x0, y0, x1, y1, w, h float64) (dist, s float64) {
	inside := px >= x0 && px <= x1 && py >= y0 && py <= y1
	if inside {
		top, right, bottom, left := py-y0, x1-px, y1-py, px-x0
		dist = math.Min(math.Min(top, bottom), math.Min(left, right))
		switch dist {
		case top:
			return dist, px - x0
		case right:
			return dist, w + (py - y0)
		case bottom:
			return dist, w + h + (x1 - px)
		default:
			return dist, 2*w + h + (y1 - py)
		}
	}

	cx := math.Max(x0, math.Min(px, x1))
	cy := math.Max(y0, math.Min(py, y1))
	dist = math.Hypot(px-cx, py-cy)
	switch {
	case cy == y0:
		s = cx - x0
	case cx == x1:
		s = w + (cy - y0)
	case cy == y1:
		s = w + h + (x1 - cx)
	default:
		s = 2*w + h + (y1 - cy)
	}
	return dist, s
}

// glowAt is the glow opacity d pixels away from the stroke edge.
func glowAt(d float64, st Style) float64 {
	if st.GlowRadius <= 0 || d >= float64(st.GlowRadius) {
		return 0
	}
	f := 1 - d/float64(st.GlowRadius)
	return st.GlowAlpha * f * f
}

func blend(dst, src uint8, a float64) uint8 {
	v := float64(src)*a + float64(dst)*(1-a)
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}
