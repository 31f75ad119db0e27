package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/utils" // Using the SafeCommand wrapper
	"golang.org/x/image/draw"
)

const (
	statusOK    = 0
	statusError = 1
	readyMarker = 'r'

	// maxReplySize caps a single worker reply. Replies are a status byte and a box.
	maxReplySize = 1 << 20
)

// Config controls how the detector process is launched and fed.
type Config struct {
	Command []string // e.g. ["python3", "-u", "python/detector.py"]
	// MinConfidence is forwarded to the worker as VISAGE_MIN_CONFIDENCE.
	MinConfidence float64
	// InputWidth downsizes frames before sending them. Zero sends full resolution.
	InputWidth int
}

// PythonDetector runs a single-face detector in a child process.
//
// Protocol (big endian, every message prefixed with a uint32 length):
//
//	request:  [w u32][h u32][RGBA pixels]
//	ready:    [status 0]['r']
//	response: [status 0][found u8][x f32][y f32][w f32][h f32][score f32]
//	          [status 1][msgLen u32][msg]
type PythonDetector struct {
	cfg Config

	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	ioMu   sync.Mutex // one request in flight
	procMu sync.Mutex // guards process handles for Close
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
}

// NewPythonDetector prepares a detector. The process is started by Load.
func NewPythonDetector(cfg Config) *PythonDetector {
	return &PythonDetector{cfg: cfg}
}

// Load spawns the worker and blocks until it reports that its model is loaded.
// The wait is bounded only by ctx.
func (w *PythonDetector) Load(ctx context.Context) error {
	if len(w.cfg.Command) == 0 {
		return errors.New("no detector command configured")
	}

	// 1. Initialize the SafeCommand
	// The process outlives ctx; Close kills it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	py := utils.NewSafeCommand(runCtx, w.cfg.Command[0], w.cfg.Command[1:]...)
	py.Cmd.Env = append(os.Environ(), fmt.Sprintf("VISAGE_MIN_CONFIDENCE=%g", w.cfg.MinConfidence))

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, pw, err := os.Pipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{pw}

	stdin, err := py.StdinPipe()
	if err != nil {
		pw.Close() // Prevent FD leak
		r.Close()
		cancel()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		pw.Close()
		r.Close()
		cancel()
		return fmt.Errorf("detector failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	pw.Close()

	w.procMu.Lock()
	w.ioMu.Lock()
	w.Cmd, w.Stdin, w.DataPipe, w.cancel = py, stdin, r, cancel
	w.ioMu.Unlock()
	w.procMu.Unlock()
	if w.closed.Load() {
		// Closed while starting up
		cancel()
		stdin.Close()
		r.Close()
		py.Wait()
		return errors.New("detector closed during load")
	}

	// 2. Wait for the ready handshake (model download / warm-up happens here)
	ready := make(chan error, 1)
	go func() { ready <- w.awaitReady() }()

	select {
	case err := <-ready:
		if err != nil {
			w.Close()
			return fmt.Errorf("detector failed to load model: %w", err)
		}
		return nil
	case <-ctx.Done():
		w.Close()
		return ctx.Err()
	}
}

func (w *PythonDetector) awaitReady() error {
	resp, err := w.readMessage()
	if err != nil {
		return err
	}
	if len(resp) == 0 {
		return errors.New("empty handshake")
	}
	if resp[0] == statusError {
		return decodeError(resp[1:])
	}
	if resp[0] != statusOK || len(resp) < 2 || resp[1] != readyMarker {
		return fmt.Errorf("unexpected handshake % x", resp)
	}
	return nil
}

// DetectSingleFace sends one frame and returns the best face, or nil when none is found.
// Box coordinates refer to the frame as sent; SourceWidth/SourceHeight carry that size.
func (w *PythonDetector) DetectSingleFace(ctx context.Context, frame *image.RGBA) (*types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.ioMu.Lock()
	defer w.ioMu.Unlock()
	if w.closed.Load() || w.Stdin == nil {
		return nil, errors.New("detector not loaded")
	}

	img := downscale(frame, w.cfg.InputWidth)
	bounds := img.Bounds()

	var payload bytes.Buffer
	binary.Write(&payload, binary.BigEndian, uint32(bounds.Dx()))
	binary.Write(&payload, binary.BigEndian, uint32(bounds.Dy()))
	payload.Write(packedPixels(img))

	resp, err := w.communicate(payload.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeDetection(resp, bounds.Dx(), bounds.Dy())
}

// communicate implements the length-prefixed request/response exchange.
func (w *PythonDetector) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}
	return w.readMessage()
}

func (w *PythonDetector) readMessage() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import-time crash in the worker
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxReplySize {
		return nil, fmt.Errorf("worker reply of %d bytes exceeds %d byte limit", respLen, maxReplySize)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

func decodeDetection(resp []byte, srcW, srcH int) (*types.Detection, error) {
	if len(resp) == 0 {
		return nil, errors.New("empty detector response")
	}
	switch resp[0] {
	case statusError:
		return nil, decodeError(resp[1:])
	case statusOK:
	default:
		return nil, fmt.Errorf("unknown detector status %d", resp[0])
	}

	if len(resp) < 2 {
		return nil, errors.New("truncated detector response")
	}
	if resp[1] == 0 {
		return nil, nil
	}

	var vals [5]float32 // x, y, w, h, score
	if err := binary.Read(bytes.NewReader(resp[2:]), binary.BigEndian, &vals); err != nil {
		return nil, fmt.Errorf("truncated detection: %w", err)
	}
	for _, v := range vals {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, errors.New("detector returned a non-finite value")
		}
	}
	return &types.Detection{
		Box: types.BoundingBox{
			X:      float64(vals[0]),
			Y:      float64(vals[1]),
			Width:  float64(vals[2]),
			Height: float64(vals[3]),
		},
		Score:        float64(vals[4]),
		SourceWidth:  srcW,
		SourceHeight: srcH,
	}, nil
}

func decodeError(body []byte) error {
	if len(body) < 4 {
		return errors.New("python worker error: <truncated>")
	}
	n := binary.BigEndian.Uint32(body)
	msg := body[4:]
	if int(n) < len(msg) {
		msg = msg[:n]
	}
	return fmt.Errorf("python worker error: %s", msg)
}

// downscale shrinks frame to width, keeping aspect ratio. Frames already narrow
// enough are returned untouched.
func downscale(frame *image.RGBA, width int) *image.RGBA {
	b := frame.Bounds()
	if width <= 0 || b.Dx() <= width {
		return frame
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, b, draw.Src, nil)
	return dst
}

// packedPixels returns the pixel rows without stride padding.
func packedPixels(img *image.RGBA) []byte {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	if img.Stride == rowLen && b.Min == (image.Point{}) {
		return img.Pix[:rowLen*b.Dy()]
	}
	out := make([]byte, 0, rowLen*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[off:off+rowLen]...)
	}
	return out
}

// Close kills the worker. An in-flight DetectSingleFace returns with an error.
// Safe to call more than once.
func (w *PythonDetector) Close() error {
	w.once.Do(func() {
		w.closed.Store(true)

		w.procMu.Lock()
		cmd, stdin, data, cancel := w.Cmd, w.Stdin, w.DataPipe, w.cancel
		w.procMu.Unlock()

		if cancel != nil {
			cancel()
		}
		if stdin != nil {
			stdin.Close()
		}
		if data != nil {
			data.Close()
		}
		if cmd != nil && cmd.Process != nil {
			cmd.Wait()
		}
	})
	return nil
}
