package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/andresmejia3/visage/internal/utils"
	"go.uber.org/zap"
)

// FFmpeg opens a capture device through an ffmpeg child process.
type FFmpeg struct {
	cfg      Config
	log      *zap.Logger
	lookPath func(string) (string, error)
}

// NewFFmpeg returns a camera that captures cfg.Device at cfg.Width x cfg.Height.
func NewFFmpeg(cfg Config, log *zap.Logger) *FFmpeg {
	if log == nil {
		log = zap.NewNop()
	}
	return &FFmpeg{cfg: cfg, log: log.Named("camera"), lookPath: exec.LookPath}
}

// Open starts capturing and blocks until the first frame arrives, the device fails,
// or ctx is cancelled. There is no timeout of its own.
func (c *FFmpeg) Open(ctx context.Context) (Stream, error) {
	// 0. Check dependency
	if _, err := c.lookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found", ErrUnsupported)
	}
	if c.cfg.Width <= 0 || c.cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", c.cfg.Width, c.cfg.Height)
	}

	// 1. Device files can be checked before spawning anything
	if c.cfg.Format == "v4l2" || strings.HasPrefix(c.cfg.Device, "/dev/") {
		if err := checkDevice(c.cfg.Device); err != nil {
			return nil, err
		}
	}

	// 2. The stream outlives Open's context; only Close stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := utils.NewFFmpegCaptureCmd(runCtx, utils.CaptureSpec{
		Format: c.cfg.Format,
		Device: c.cfg.Device,
		Width:  c.cfg.Width,
		Height: c.cfg.Height,
		FPS:    c.cfg.FPS,
	})
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}

	s := &pipeStream{
		cmd:    cmd,
		out:    out,
		cancel: cancel,
		audio:  c.cfg.audio(),
		width:  c.cfg.Width,
		height: c.cfg.Height,
		first:  make(chan struct{}),
		done:   make(chan struct{}),
		log:    c.log,
	}
	go s.readLoop()

	// 3. Wait for the first frame
	select {
	case <-s.first:
		c.log.Info("camera granted",
			zap.String("device", c.cfg.Device),
			zap.Int("width", c.cfg.Width),
			zap.Int("height", c.cfg.Height),
			zap.Bool("audio", s.audio != nil),
		)
		return s, nil
	case <-s.done:
		s.Close()
		return nil, fmt.Errorf("%w: %v: %s", ErrPermissionDenied, s.readErr, strings.TrimSpace(cmd.Stderr.String()))
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

func checkDevice(path string) error {
	f, err := os.Open(path)
	if err == nil {
		f.Close()
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: no capture device at %s", ErrPermissionDenied, path)
	}
	return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
}

// pipeStream reads raw RGBA frames from ffmpeg's stdout.
type pipeStream struct {
	feed

	cmd    *utils.SafeCommand
	out    io.ReadCloser
	cancel context.CancelFunc
	audio  *AudioSource
	width  int
	height int
	log    *zap.Logger

	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

func (s *pipeStream) readLoop() {
	defer close(s.done)
	defer s.end()

	frameSize := s.width * s.height * 4
	for {
		// Each frame gets its own buffer: the previous one may still be on the canvas.
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(s.out, buf); err != nil {
			s.readErr = err
			return
		}
		s.publish(&image.RGBA{
			Pix:    buf,
			Stride: s.width * 4,
			Rect:   image.Rect(0, 0, s.width, s.height),
		})
		s.firstOnce.Do(func() { close(s.first) })
	}
}

func (s *pipeStream) Audio() *AudioSource { return s.audio }

// Close kills the capture process and waits for the reader to drain.
func (s *pipeStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.out.Close()
		<-s.done
		err = s.cmd.Wait()
		if errors.Is(err, context.Canceled) || isKilled(err) {
			err = nil
		}
		s.log.Debug("camera tracks stopped", zap.Uint64("dropped_frames", s.Drops()))
	})
	return err
}

func isKilled(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
