package camera

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Synthetic is an in-process camera that renders a moving bright disc on a dark
// background. It needs no device and no ffmpeg.
type Synthetic struct {
	cfg Config
	log *zap.Logger
}

// NewSynthetic returns a synthetic camera sized by cfg.
func NewSynthetic(cfg Config, log *zap.Logger) *Synthetic {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthetic{cfg: cfg, log: log.Named("camera")}
}

// Open starts the generator. The first frame is published before Open returns.
func (c *Synthetic) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &SyntheticStream{
		width:  c.cfg.Width,
		height: c.cfg.Height,
		audio:  c.cfg.audio(),
		stopCh: make(chan struct{}),
	}
	s.publish(s.render(0))

	s.wg.Add(1)
	go s.generate(time.Second / time.Duration(c.cfg.FPS))

	c.log.Info("synthetic camera granted", zap.Int("width", s.width), zap.Int("height", s.height))
	return s, nil
}

// SyntheticStream is the Stream produced by Synthetic.
type SyntheticStream struct {
	feed

	width  int
	height int
	audio  *AudioSource

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	tick     int
}

func (s *SyntheticStream) generate(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.Paused() {
				continue
			}
			s.tick++
			s.publish(s.render(s.tick))
		}
	}
}

// render draws frame n: the disc orbits the centre once every 180 frames.
func (s *SyntheticStream) render(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	bg := color.RGBA{R: 20, G: 24, B: 32, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = bg.R, bg.G, bg.B, bg.A
	}

	angle := 2 * math.Pi * float64(n%180) / 180
	cx := float64(s.width)/2 + float64(s.width)/6*math.Cos(angle)
	cy := float64(s.height)/2 + float64(s.height)/8*math.Sin(angle)
	r := float64(s.height) / 6

	for y := int(cy - r); y <= int(cy+r); y++ {
		for x := int(cx - r); x <= int(cx+r); x++ {
			if !image.Pt(x, y).In(img.Rect) {
				continue
			}
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= r*r {
				off := img.PixOffset(x, y)
				img.Pix[off], img.Pix[off+1], img.Pix[off+2] = 230, 190, 160
			}
		}
	}
	return img
}

func (s *SyntheticStream) Audio() *AudioSource { return s.audio }

// Close stops the generator.
func (s *SyntheticStream) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.end()
	})
	return nil
}
