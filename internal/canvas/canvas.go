// Package canvas is the drawing surface: live frames are copied onto it, the face
// overlay is drawn over them, and recordings sample it.
package canvas

import (
	"errors"
	"image"
	"sync"

	"github.com/andresmejia3/visage/internal/types"
	"golang.org/x/image/draw"
)

// ErrNoSurface means the canvas has no pixels yet and cannot be captured.
var ErrNoSurface = errors.New("drawing surface not initialized")

// Canvas is safe for concurrent use: one goroutine draws while recorders snapshot.
type Canvas struct {
	mu  sync.RWMutex
	img *image.RGBA
}

// New returns a zero-sized canvas.
func New() *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rectangle{})}
}

// MatchDimensions resizes the canvas to w x h. Resizing clears it.
func (c *Canvas) MatchDimensions(w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img.Bounds().Dx() == w && c.img.Bounds().Dy() == h {
		return
	}
	c.img = image.NewRGBA(image.Rect(0, 0, w, h))
}

// Size returns the canvas pixel dimensions.
func (c *Canvas) Size() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.img.Bounds().Dx(), c.img.Bounds().Dy()
}

// DrawFrame clears the canvas and paints src stretched to fill it.
func (c *Canvas) DrawFrame(src image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img.Bounds().Empty() {
		return
	}
	if src.Bounds().Size() == c.img.Bounds().Size() {
		draw.Copy(c.img, image.Point{}, src, src.Bounds(), draw.Src, nil)
		return
	}
	draw.ApproxBiLinear.Scale(c.img, c.img.Bounds(), src, src.Bounds(), draw.Src, nil)
}

// StrokeFace draws the face overlay around box.
func (c *Canvas) StrokeFace(box types.BoundingBox, style Style) {
	c.mu.Lock()
	defer c.mu.Unlock()
	strokeFace(c.img, box, style)
}

// Snapshot returns a copy of the current pixels.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// CaptureStream returns a real-time view of the canvas for a recorder sampling at fps.
// The stream's size is fixed at capture time.
func (c *Canvas) CaptureStream(fps int) (*Stream, error) {
	w, h := c.Size()
	if w == 0 || h == 0 {
		return nil, ErrNoSurface
	}
	if fps <= 0 {
		fps = 30
	}
	return &Stream{canvas: c, FPS: fps, Width: w, Height: h}, nil
}

// Stream is a fixed-size, fixed-rate view of a Canvas.
type Stream struct {
	canvas *Canvas
	FPS    int
	Width  int
	Height int
}

// Frame returns the current canvas contents at the stream's size.
func (s *Stream) Frame() *image.RGBA {
	snap := s.canvas.Snapshot()
	if snap.Bounds().Dx() == s.Width && snap.Bounds().Dy() == s.Height {
		return snap
	}
	out := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	if !snap.Bounds().Empty() {
		draw.ApproxBiLinear.Scale(out, out.Bounds(), snap, snap.Bounds(), draw.Src, nil)
	}
	return out
}

// ScaleBox maps a detection from detector coordinates onto a w x h surface.
func ScaleBox(det types.Detection, w, h int) types.BoundingBox {
	if det.SourceWidth <= 0 || det.SourceHeight <= 0 {
		return det.Box
	}
	sx := float64(w) / float64(det.SourceWidth)
	sy := float64(h) / float64(det.SourceHeight)
	return types.BoundingBox{
		X:      det.Box.X * sx,
		Y:      det.Box.Y * sy,
		Width:  det.Box.Width * sx,
		Height: det.Box.Height * sy,
	}
}
