// Package recorder encodes a canvas stream into WebM clips and stores finished clips.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/andresmejia3/visage/internal/camera"
	"github.com/andresmejia3/visage/internal/canvas"
	"github.com/andresmejia3/visage/internal/utils"
	"go.uber.org/zap"
)

// ErrUnavailable means no encoder could be found.
var ErrUnavailable = errors.New("media recording is not available")

const chunkSize = 64 * 1024

// MediaStream is what gets recorded: a canvas view plus an optional audio track.
type MediaStream struct {
	Video *canvas.Stream
	Audio *camera.AudioSource
}

// Recording is one in-progress encode.
//
// Chunks delivers encoded data as it is produced and is closed when the encode has
// finished, either because Stop was called or because the encoder failed. Err is
// meaningful once Chunks is closed.
type Recording interface {
	Chunks() <-chan []byte
	Stop()
	Abort()
	Err() error
}

// FFmpeg starts encodes with an ffmpeg child process.
type FFmpeg struct {
	log      *zap.Logger
	lookPath func(string) (string, error)
}

// NewFFmpeg returns an ffmpeg-backed recorder.
func NewFFmpeg(log *zap.Logger) *FFmpeg {
	if log == nil {
		log = zap.NewNop()
	}
	return &FFmpeg{log: log.Named("recorder"), lookPath: exec.LookPath}
}

// Start begins sampling ms.Video at its frame rate and encoding it.
func (r *FFmpeg) Start(ctx context.Context, ms MediaStream) (Recording, error) {
	if ms.Video == nil {
		return nil, errors.New("no video track to record")
	}
	if _, err := r.lookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found", ErrUnavailable)
	}

	spec := utils.EncodeSpec{Width: ms.Video.Width, Height: ms.Video.Height, FPS: ms.Video.FPS}
	if ms.Audio != nil {
		spec.AudioFormat, spec.AudioDevice = ms.Audio.Format, ms.Audio.Device
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := utils.NewFFmpegRecordCmd(runCtx, spec)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	rec := &ffmpegRecording{
		cmd:    cmd,
		cancel: cancel,
		chunks: make(chan []byte, 64),
		stopCh: make(chan struct{}),
		log:    r.log,
	}
	go rec.feed(ms.Video, stdin)
	go rec.drain(stdout)

	r.log.Info("recording started",
		zap.Int("width", spec.Width),
		zap.Int("height", spec.Height),
		zap.Int("fps", spec.FPS),
		zap.Bool("audio", ms.Audio != nil),
	)
	return rec, nil
}

type ffmpegRecording struct {
	cmd    *utils.SafeCommand
	cancel context.CancelFunc
	chunks chan []byte
	log    *zap.Logger

	stopCh    chan struct{}
	stopOnce  sync.Once
	abortOnce sync.Once

	mu      sync.Mutex
	feedErr error
	err     error
	frames  int
}

func (r *ffmpegRecording) Chunks() <-chan []byte { return r.chunks }

// Stop asks the encoder to finish: no more frames are fed and the output is flushed.
func (r *ffmpegRecording) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Abort kills the encoder. Chunks still closes; Err reports the kill.
func (r *ffmpegRecording) Abort() {
	r.abortOnce.Do(func() {
		r.Stop()
		r.cancel()
	})
}

func (r *ffmpegRecording) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// feed writes one canvas frame per tick until Stop, then closes the encoder input.
func (r *ffmpegRecording) feed(video *canvas.Stream, stdin io.WriteCloser) {
	defer stdin.Close()

	ticker := time.NewTicker(time.Second / time.Duration(video.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			frame := video.Frame()
			if _, err := stdin.Write(frame.Pix); err != nil {
				r.mu.Lock()
				r.feedErr = err
				r.mu.Unlock()
				return
			}
			r.mu.Lock()
			r.frames++
			r.mu.Unlock()
		}
	}
}

// drain forwards encoder output as chunks and records the final status.
func (r *ffmpegRecording) drain(stdout io.Reader) {
	defer close(r.chunks)

	for {
		buf := make([]byte, chunkSize)
		n, err := stdout.Read(buf)
		if n > 0 {
			r.chunks <- buf[:n]
		}
		if err != nil {
			break
		}
	}

	waitErr := r.cmd.Wait()
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case waitErr != nil:
		r.err = fmt.Errorf("encoder exited: %w: %s", waitErr, r.cmd.Stderr.String())
	case r.feedErr != nil:
		r.err = fmt.Errorf("encoder input failed: %w", r.feedErr)
	default:
		select {
		case <-r.stopCh:
		default:
			r.err = errors.New("encoder stopped unexpectedly")
		}
	}
	r.log.Debug("recording finished", zap.Int("frames", r.frames), zap.Error(r.err))
}
