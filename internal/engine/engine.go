// Package engine drives a capture session: it acquires the camera, loads the face
// detector, runs the detect-and-draw loop over the canvas and records the canvas
// into clips.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/visage/internal/camera"
	"github.com/andresmejia3/visage/internal/canvas"
	"github.com/andresmejia3/visage/internal/recorder"
	"github.com/andresmejia3/visage/internal/schedule"
	"github.com/andresmejia3/visage/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotReady means a recording cannot start yet.
	ErrNotReady = errors.New("models not ready")
	// ErrModelLoad means the face detector failed to load.
	ErrModelLoad = errors.New("failed to load face detection model")
	// ErrNotRecording is returned by StopRecording when nothing is being recorded.
	ErrNotRecording = errors.New("not recording")
	// ErrRecordingFailed means the recorder ended the session on its own.
	ErrRecordingFailed = errors.New("recording failed")
	// ErrClosed is returned once the engine has been torn down.
	ErrClosed = errors.New("engine closed")
)

// Camera opens the live stream.
type Camera interface {
	Open(ctx context.Context) (camera.Stream, error)
}

// Detector finds at most one face per frame.
type Detector interface {
	Load(ctx context.Context) error
	DetectSingleFace(ctx context.Context, frame *image.RGBA) (*types.Detection, error)
	Close() error
}

// Recorder encodes a media stream.
type Recorder interface {
	Start(ctx context.Context, ms recorder.MediaStream) (recorder.Recording, error)
}

// ClipSink turns buffered chunks into a stored clip.
type ClipSink interface {
	Finalize(id string, chunks [][]byte) (locator string, err error)
}

// Options wires an Engine to its collaborators.
type Options struct {
	Camera   Camera
	Detector Detector
	Recorder Recorder
	Clips    ClipSink

	// Clock paces the detect-and-draw loop. Defaults to 60 ticks per second.
	Clock    schedule.Clock
	Notifier Notifier
	Logger   *zap.Logger

	// OnNewVideo receives every finished clip.
	OnNewVideo func(ctx context.Context, video types.RecordedVideo)
	// LastID is the newest id already stored; new ids always sort after it.
	LastID string
	Now    func() time.Time

	RecordFPS int
	Style     *canvas.Style
}

// Engine is safe for concurrent use.
type Engine struct {
	opts   Options
	log    *zap.Logger
	notify Notifier
	canvas *canvas.Canvas
	style  canvas.Style
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	st      machine
	stream  camera.Stream
	task    *schedule.Task
	session *session
	lastID  time.Time
	closed  bool

	closeOnce sync.Once
	closeErr  error

	// owned by the loop goroutine
	lastSeq    uint64
	seen       bool
	detectErrs int
}

type session struct {
	rec      recorder.Recording
	chunks   [][]byte
	stopping bool
	done     chan struct{}
	started  time.Time
}

// New creates an engine in the uninitialized state.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RecordFPS <= 0 {
		opts.RecordFPS = 30
	}
	if opts.Clock == nil {
		opts.Clock = schedule.NewInterval(time.Second / 60)
	}
	style := canvas.DefaultStyle
	if opts.Style != nil {
		style = *opts.Style
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:   opts,
		log:    opts.Logger.Named("engine"),
		notify: opts.Notifier,
		canvas: canvas.New(),
		style:  style,
		now:    opts.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	if opts.LastID != "" {
		if t, err := time.Parse(types.IDLayout, opts.LastID); err == nil {
			e.lastID = t
		} else {
			e.log.Debug("ignoring unparseable last id", zap.String("id", opts.LastID))
		}
	}
	return e
}

// State returns a snapshot of the session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.s
}

// Canvas returns the drawing surface.
func (e *Engine) Canvas() *canvas.Canvas {
	return e.canvas
}

// Mount requests the camera and loads the model concurrently, then starts the
// detect-and-draw loop if both succeeded. Failures are reported through notices and
// returned joined; the engine stays usable in a degraded state.
func (e *Engine) Mount(ctx context.Context) error {
	var camErr, modelErr error
	var g errgroup.Group
	g.Go(func() error {
		camErr = e.RequestCamera(ctx)
		return nil
	})
	g.Go(func() error {
		modelErr = e.LoadModel(ctx)
		return nil
	})
	_ = g.Wait()

	if err := e.startLoop(); err != nil {
		return err
	}
	return errors.Join(camErr, modelErr)
}

// RequestCamera moves uninitialized → requesting → granted | denied. It runs once;
// later calls are no-ops.
func (e *Engine) RequestCamera(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.st.request() {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.log.Debug("requesting camera")
	stream, err := e.opts.Camera.Open(ctx)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		return ErrClosed
	}
	if err != nil {
		e.st.deny()
		e.mu.Unlock()

		if ctx.Err() != nil {
			e.log.Debug("camera request abandoned", zap.Error(err))
			return err
		}
		notice := noticeDenied
		if errors.Is(err, camera.ErrUnsupported) {
			notice = noticeUnsupported
		}
		notice.Err = err
		e.log.Warn("camera unavailable", zap.Error(err))
		e.notify.Notify(notice)
		return err
	}
	if err := e.st.grant(); err != nil {
		e.mu.Unlock()
		stream.Close()
		return err
	}
	e.stream = stream
	e.mu.Unlock()

	e.log.Info("camera granted", zap.Bool("audio", stream.Audio() != nil))
	return nil
}

// LoadModel loads the detector. On failure detection and recording stay disabled.
func (e *Engine) LoadModel(ctx context.Context) error {
	start := time.Now()
	if err := e.opts.Detector.Load(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrModelLoad, err)
		e.log.Error("model load failed", zap.Error(err))
		notice := noticeModelFailed
		notice.Err = err
		e.notify.Notify(notice)
		return err
	}

	e.mu.Lock()
	e.st.modelLoaded()
	e.mu.Unlock()
	e.log.Info("model ready", zap.Duration("took", time.Since(start)))
	return nil
}

// startLoop begins the detect-and-draw loop when the camera is granted and the model
// is ready. Only one loop ever runs.
func (e *Engine) startLoop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.task != nil || !e.st.detecting() {
		return nil
	}
	e.task = schedule.Start(e.ctx, e.opts.Clock, e.cycle)
	e.log.Debug("detect loop started")
	return nil
}

// cycle is one pass of the detect-and-draw loop.
func (e *Engine) cycle(ctx context.Context) {
	e.mu.Lock()
	stream := e.stream
	ready := e.st.detecting()
	e.mu.Unlock()

	// 1. Skip when the stream is paused or has nothing new
	if !ready || stream == nil || stream.Paused() {
		return
	}
	frame, ok := stream.Latest()
	if !ok || frame.Image == nil {
		return
	}
	if e.seen && frame.Seq == e.lastSeq {
		return
	}
	e.lastSeq, e.seen = frame.Seq, true

	// 2. Copy the frame onto the canvas at its native size
	w, h := frame.Image.Bounds().Dx(), frame.Image.Bounds().Dy()
	e.canvas.MatchDimensions(w, h)
	e.canvas.DrawFrame(frame.Image)

	// 3. Detect against the live frame, not the drawn copy
	det, err := e.opts.Detector.DetectSingleFace(ctx, frame.Image)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.detectErrs++
		if e.detectErrs == 1 {
			e.log.Warn("face detection failed", zap.Error(err))
		} else {
			e.log.Debug("face detection failed", zap.Error(err), zap.Int("failures", e.detectErrs))
		}
		det = nil
	}

	// 4. / 5. Update the signal and draw the overlay
	e.mu.Lock()
	e.st.face(det != nil)
	e.mu.Unlock()
	if det != nil {
		e.canvas.StrokeFace(canvas.ScaleBox(*det, w, h), e.style)
	}
}

// StartRecording begins recording the canvas. It is rejected with ErrNotReady unless
// the camera is granted and live, the model is ready and the canvas has pixels.
func (e *Engine) StartRecording(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.session != nil {
		e.mu.Unlock()
		return nil
	}
	stream := e.stream
	ready := e.st.detecting() && stream != nil && stream.Live()
	e.mu.Unlock()

	if !ready {
		e.notify.Notify(noticeNotReady)
		return ErrNotReady
	}
	video, err := e.canvas.CaptureStream(e.opts.RecordFPS)
	if err != nil {
		e.notify.Notify(noticeNotReady)
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	ms := recorder.MediaStream{Video: video, Audio: stream.Audio().Clone()}
	rec, err := e.opts.Recorder.Start(e.ctx, ms)
	if err != nil {
		e.log.Error("recorder failed to start", zap.Error(err))
		notice := noticeFailed
		notice.Err = err
		e.notify.Notify(notice)
		return fmt.Errorf("%w: %w", ErrRecordingFailed, err)
	}

	e.mu.Lock()
	if e.closed || e.st.beginRecording() != nil {
		closed := e.closed
		e.mu.Unlock()
		discardRecording(rec)
		if closed {
			return ErrClosed
		}
		return ErrNotReady
	}
	s := &session{rec: rec, done: make(chan struct{}), started: e.now()}
	e.session = s
	e.mu.Unlock()

	go e.collect(s)
	e.log.Info("recording started", zap.Int("width", video.Width), zap.Int("height", video.Height))
	return nil
}

// collect buffers chunks in memory until the recording ends.
func (e *Engine) collect(s *session) {
	for chunk := range s.rec.Chunks() {
		e.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		e.mu.Unlock()
	}

	e.mu.Lock()
	stopping := s.stopping
	if !stopping && e.session == s {
		e.session = nil
		e.st.endRecording()
		s.chunks = nil
	}
	e.mu.Unlock()
	close(s.done)

	if !stopping {
		err := s.rec.Err()
		if err == nil {
			err = errors.New("recorder ended without stop")
		}
		e.log.Error("recording ended unexpectedly, clip discarded", zap.Error(err))
		notice := noticeFailed
		notice.Err = err
		e.notify.Notify(notice)
	}
}

// StopRecording finalizes the buffered chunks into a clip and hands the new record to
// OnNewVideo. A recorder failure drops the clip.
func (e *Engine) StopRecording(ctx context.Context) (types.RecordedVideo, error) {
	e.mu.Lock()
	s := e.session
	if s == nil {
		e.mu.Unlock()
		return types.RecordedVideo{}, ErrNotRecording
	}
	s.stopping = true
	e.mu.Unlock()

	s.rec.Stop()
	select {
	case <-s.done:
	case <-ctx.Done():
		s.rec.Abort()
		<-s.done
	}

	e.mu.Lock()
	if e.session == s {
		e.session = nil
	}
	e.st.endRecording()
	chunks := s.chunks
	s.chunks = nil
	e.mu.Unlock()

	if ctx.Err() != nil {
		return types.RecordedVideo{}, ctx.Err()
	}
	if err := s.rec.Err(); err != nil {
		return types.RecordedVideo{}, e.failRecording(err)
	}

	now := e.now()
	id := e.nextID(now)
	locator, err := e.opts.Clips.Finalize(id, chunks)
	if err != nil {
		return types.RecordedVideo{}, e.failRecording(err)
	}

	video := types.RecordedVideo{
		ID:         id,
		Locator:    locator,
		RecordedAt: now.Local().Format(types.RecordedAtLayout),
	}
	if e.opts.OnNewVideo != nil {
		e.opts.OnNewVideo(ctx, video)
	}
	e.log.Info("recording saved",
		zap.String("id", id),
		zap.Int("chunks", len(chunks)),
		zap.Duration("duration", now.Sub(s.started)),
	)
	e.notify.Notify(noticeSaved)
	return video, nil
}

func (e *Engine) failRecording(err error) error {
	err = fmt.Errorf("%w: %w", ErrRecordingFailed, err)
	e.log.Error("recording discarded", zap.Error(err))
	notice := noticeFailed
	notice.Err = err
	e.notify.Notify(notice)
	return err
}

// ToggleRecording starts a recording when idle and stops it otherwise.
func (e *Engine) ToggleRecording(ctx context.Context) (*types.RecordedVideo, error) {
	if e.State().Recording {
		video, err := e.StopRecording(ctx)
		if err != nil {
			return nil, err
		}
		return &video, nil
	}
	return nil, e.StartRecording(ctx)
}

// nextID returns the capture time as an id, bumped past every id issued or stored.
func (e *Engine) nextID(now time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := now.UTC().Truncate(time.Millisecond)
	if !t.After(e.lastID) {
		t = e.lastID.Add(time.Millisecond)
	}
	e.lastID = t
	return t.Format(types.IDLayout)
}

// Close tears the session down: the loop is cancelled and waited for, an active
// recording is dropped, the detector is closed and every camera track is stopped.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		task := e.task
		stream := e.stream
		s := e.session
		e.session = nil
		if s != nil {
			s.stopping = true
		}
		e.st.endRecording()
		e.mu.Unlock()

		e.cancel()
		if task != nil {
			task.Cancel()
		}
		// Closing the detector unblocks an in-flight detection.
		detErr := e.opts.Detector.Close()
		if task != nil {
			<-task.Done()
		}
		if s != nil {
			s.rec.Abort()
			<-s.done
		}
		var camErr error
		if stream != nil {
			camErr = stream.Close()
		}
		if stopper, ok := e.opts.Clock.(interface{ Stop() }); ok {
			stopper.Stop()
		}
		e.closeErr = errors.Join(detErr, camErr)
		e.log.Debug("engine closed", zap.Error(e.closeErr))
	})
	return e.closeErr
}

func discardRecording(rec recorder.Recording) {
	rec.Abort()
	go func() {
		for range rec.Chunks() {
		}
	}()
}
