package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/visage/internal/camera"
	"github.com/andresmejia3/visage/internal/kv"
	"github.com/andresmejia3/visage/internal/library"
	"github.com/andresmejia3/visage/internal/recorder"
	"github.com/andresmejia3/visage/internal/schedule"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeStream struct {
	mu     sync.Mutex
	seq    uint64
	img    *image.RGBA
	paused bool
	frozen bool
	dead   bool
	closed int
	audio  *camera.AudioSource
}

func newFakeStream(w, h int) *fakeStream {
	return &fakeStream{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

func (s *fakeStream) Latest() (types.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen || s.seq == 0 {
		s.seq++
	}
	return types.Frame{Seq: s.seq, Image: s.img, CapturedAt: time.Now()}, true
}

func (s *fakeStream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *fakeStream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead && s.closed == 0
}

func (s *fakeStream) Audio() *camera.AudioSource { return s.audio }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeCamera struct {
	stream *fakeStream
	err    error
	opens  atomic.Int32
}

func (c *fakeCamera) Open(ctx context.Context) (camera.Stream, error) {
	c.opens.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type fakeDetector struct {
	mu      sync.Mutex
	loadErr error
	det     *types.Detection
	calls   atomic.Int32
	closed  atomic.Bool
}

func (d *fakeDetector) Load(ctx context.Context) error { return d.loadErr }

func (d *fakeDetector) DetectSingleFace(ctx context.Context, frame *image.RGBA) (*types.Detection, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.det == nil {
		return nil, nil
	}
	det := *d.det
	return &det, nil
}

func (d *fakeDetector) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *fakeDetector) setFace(det *types.Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.det = det
}

type fakeRecording struct {
	chunks  chan []byte
	once    sync.Once
	mu      sync.Mutex
	err     error
	aborted atomic.Bool
	ms      recorder.MediaStream
}

func (r *fakeRecording) Chunks() <-chan []byte { return r.chunks }
func (r *fakeRecording) Stop()                 { r.once.Do(func() { close(r.chunks) }) }
func (r *fakeRecording) Abort() {
	r.aborted.Store(true)
	r.Stop()
}
func (r *fakeRecording) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *fakeRecording) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.Stop()
}

type fakeRecorder struct {
	mu     sync.Mutex
	err    error
	starts []*fakeRecording
}

func (f *fakeRecorder) Start(ctx context.Context, ms recorder.MediaStream) (recorder.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec := &fakeRecording{chunks: make(chan []byte, 16), ms: ms}
	rec.chunks <- []byte("webm-header")
	f.starts = append(f.starts, rec)
	return rec, nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeRecorder) last() *fakeRecording {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[len(f.starts)-1]
}

type fakeSink struct {
	mu  sync.Mutex
	ids []string
}

func (s *fakeSink) Finalize(id string, chunks [][]byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(chunks) == 0 {
		return "", errors.New("empty")
	}
	s.ids = append(s.ids, id)
	return "file:///clips/recording-" + id + ".webm", nil
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) Notify(x Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, x)
}

func (n *noticeLog) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, x := range n.notices {
		out = append(out, x.Title)
	}
	return out
}

type harness struct {
	engine   *Engine
	camera   *fakeCamera
	stream   *fakeStream
	detector *fakeDetector
	recorder *fakeRecorder
	sink     *fakeSink
	notices  *noticeLog
	clock    *schedule.Manual
	videos   []types.RecordedVideo
	now      time.Time
	mu       sync.Mutex
}

func newHarness(t *testing.T, mutate func(*harness, *Options)) *harness {
	t.Helper()
	h := &harness{
		stream:   newFakeStream(100, 100),
		detector: &fakeDetector{},
		recorder: &fakeRecorder{},
		sink:     &fakeSink{},
		notices:  &noticeLog{},
		clock:    schedule.NewManual(),
		now:      time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
	}
	h.camera = &fakeCamera{stream: h.stream}
	opts := Options{
		Camera:   h.camera,
		Detector: h.detector,
		Recorder: h.recorder,
		Clips:    h.sink,
		Clock:    h.clock,
		Notifier: h.notices,
		Now: func() time.Time {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.now
		},
		OnNewVideo: func(_ context.Context, v types.RecordedVideo) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.videos = append(h.videos, v)
		},
	}
	if mutate != nil {
		mutate(h, &opts)
	}
	h.engine = New(opts)
	t.Cleanup(func() { h.engine.Close() })
	return h
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

// ready grants the camera, loads the model and paints one frame.
func (h *harness) ready(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.engine.RequestCamera(ctx))
	require.NoError(t, h.engine.LoadModel(ctx))
	h.engine.cycle(ctx)
}

var face = &types.Detection{
	Box:          types.BoundingBox{X: 10, Y: 10, Width: 20, Height: 20},
	Score:        0.9,
	SourceWidth:  50,
	SourceHeight: 50,
}

// --- tests ---

func TestModelNotReadyNeverDetects(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.detector.loadErr = errors.New("weights missing")
		h.detector.det = face
	})
	ctx := context.Background()

	require.NoError(t, h.engine.RequestCamera(ctx))
	err := h.engine.LoadModel(ctx)
	require.ErrorIs(t, err, ErrModelLoad)

	for i := 0; i < 5; i++ {
		h.engine.cycle(ctx)
	}
	st := h.engine.State()
	assert.Zero(t, h.detector.calls.Load(), "detector must not run without a model")
	assert.False(t, st.FaceDetected)
	assert.False(t, st.ModelReady)
	assert.Equal(t, CameraGranted, st.Camera)
	assert.Equal(t, []string{"Error"}, h.notices.titles())
}

func TestStartRejectedWhenNotReady(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
	}{
		{"camera denied", func(t *testing.T, h *harness) {
			h.camera.err = camera.ErrPermissionDenied
			h.engine.RequestCamera(context.Background())
			require.NoError(t, h.engine.LoadModel(context.Background()))
		}},
		{"model not ready", func(t *testing.T, h *harness) {
			require.NoError(t, h.engine.RequestCamera(context.Background()))
		}},
		{"no drawing surface", func(t *testing.T, h *harness) {
			require.NoError(t, h.engine.RequestCamera(context.Background()))
			require.NoError(t, h.engine.LoadModel(context.Background()))
		}},
		{"camera stopped", func(t *testing.T, h *harness) {
			h.ready(t)
			h.stream.mu.Lock()
			h.stream.dead = true
			h.stream.mu.Unlock()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.setup(t, h)
			before := h.engine.State()

			err := h.engine.StartRecording(context.Background())
			require.ErrorIs(t, err, ErrNotReady)
			assert.Zero(t, h.recorder.count(), "no recorder may be created")
			assert.Equal(t, before, h.engine.State())
			assert.Contains(t, h.notices.titles(), "Models not ready")
		})
	}
}

func TestStopYieldsExactlyOneFreshRecord(t *testing.T) {
	stored := "2026-10-17T10:00:00.000Z"
	h := newHarness(t, func(_ *harness, o *Options) { o.LastID = stored })
	h.ready(t)
	ctx := context.Background()

	seen := map[string]bool{stored: true}
	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.StartRecording(ctx))
		assert.True(t, h.engine.State().Recording)

		video, err := h.engine.StopRecording(ctx)
		require.NoError(t, err)
		assert.False(t, h.engine.State().Recording)
		assert.False(t, seen[video.ID], "id %s reused", video.ID)
		seen[video.ID] = true
		assert.Equal(t, "file:///clips/recording-"+video.ID+".webm", video.Locator)
		assert.Equal(t, h.now.Local().Format(types.RecordedAtLayout), video.RecordedAt)
	}

	require.Len(t, h.videos, 3)
	assert.Equal(t, "2026-10-17T10:00:00.001Z", h.videos[0].ID)
	assert.Equal(t, "2026-10-17T10:00:00.002Z", h.videos[1].ID)
	assert.Equal(t, "2026-10-17T10:00:00.003Z", h.videos[2].ID)
	assert.Equal(t, []string{"Recording Saved", "Recording Saved", "Recording Saved"}, h.notices.titles())
}

func TestStopWithoutRecording(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestToggleRecording(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()

	video, err := h.engine.ToggleRecording(ctx)
	require.NoError(t, err)
	assert.Nil(t, video)
	assert.True(t, h.engine.State().Recording)

	video, err = h.engine.ToggleRecording(ctx)
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.False(t, h.engine.State().Recording)
}

func TestRecordingAttachesAudioClone(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.stream.audio = &camera.AudioSource{Format: "pulse", Device: "default"}
	})
	h.ready(t)
	require.NoError(t, h.engine.StartRecording(context.Background()))

	ms := h.recorder.last().ms
	require.NotNil(t, ms.Audio)
	assert.Equal(t, "pulse", ms.Audio.Format)
	assert.NotSame(t, h.stream.audio, ms.Audio)
	assert.Equal(t, 30, ms.Video.FPS)
	assert.Equal(t, 100, ms.Video.Width)
}

func TestDeniedCameraScenario(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.camera.err = camera.ErrPermissionDenied
		h.detector.det = face
	})
	ctx := context.Background()

	err := h.engine.Mount(ctx)
	require.ErrorIs(t, err, camera.ErrPermissionDenied)
	assert.Equal(t, CameraDenied, h.engine.State().Camera)

	// No retry: asking again neither reopens nor re-notifies.
	require.NoError(t, h.engine.RequestCamera(ctx))
	assert.EqualValues(t, 1, h.camera.opens.Load())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, h.engine.StartRecording(ctx), ErrNotReady)
		h.engine.cycle(ctx)
	}

	assert.Zero(t, h.detector.calls.Load())
	assert.False(t, h.engine.State().FaceDetected)
	assert.Zero(t, h.recorder.count())

	denied := 0
	for _, n := range h.notices.notices {
		if n.Persistent {
			denied++
			assert.Equal(t, "Camera Access Denied", n.Title)
		}
	}
	assert.Equal(t, 1, denied)
}

func TestUnsupportedPlatformNotice(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) { h.camera.err = camera.ErrUnsupported })
	h.engine.RequestCamera(context.Background())

	require.Len(t, h.notices.notices, 1)
	n := h.notices.notices[0]
	assert.Equal(t, "Unsupported Platform", n.Title)
	assert.True(t, n.Persistent)
	assert.ErrorIs(t, n.Err, camera.ErrUnsupported)
}

func TestTwoSecondsWithFaceVisible(t *testing.T) {
	lib := library.New(kv.NewMemory(), "", nil)
	lib.Load(context.Background())
	lib.Append(context.Background(), types.RecordedVideo{ID: "2026-10-17T09:59:00.000Z", Locator: "file:///old.webm"})

	h := newHarness(t, func(h *harness, o *Options) {
		h.detector.det = face
		o.LastID = "2026-10-17T09:59:00.000Z"
		o.OnNewVideo = func(ctx context.Context, v types.RecordedVideo) { lib.Append(ctx, v) }
	})
	h.ready(t)
	ctx := context.Background()
	before := lib.Len()

	require.NoError(t, h.engine.StartRecording(ctx))
	for i := 0; i < 60; i++ {
		h.engine.cycle(ctx)
		require.True(t, h.engine.State().FaceDetected, "face lost at frame %d", i)
	}
	h.advance(2 * time.Second)
	video, err := h.engine.StopRecording(ctx)
	require.NoError(t, err)

	assert.Equal(t, before+1, lib.Len())
	newest, ok := lib.Newest()
	require.True(t, ok)
	assert.Equal(t, video, newest)
	assert.Equal(t, "2026-10-17T10:00:02.000Z", newest.ID)
	assert.EqualValues(t, 61, h.detector.calls.Load())
}

func TestRecorderFailureDropsClip(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()

	require.NoError(t, h.engine.StartRecording(ctx))
	h.recorder.last().fail(errors.New("device disconnected"))

	require.Eventually(t, func() bool { return !h.engine.State().Recording }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		titles := h.notices.titles()
		return len(titles) == 1 && titles[0] == "Recording Failed"
	}, time.Second, 5*time.Millisecond)

	_, err := h.engine.StopRecording(ctx)
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.Empty(t, h.sink.ids)
	assert.Empty(t, h.videos)

	// The engine is idle again and can record.
	require.NoError(t, h.engine.StartRecording(ctx))
}

func TestRecorderStartFailure(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) { h.recorder.err = recorder.ErrUnavailable })
	h.ready(t)

	err := h.engine.StartRecording(context.Background())
	assert.ErrorIs(t, err, recorder.ErrUnavailable)
	assert.False(t, h.engine.State().Recording)
}

func TestCycleSkipsPausedAndStaleFrames(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.RequestCamera(ctx))
	require.NoError(t, h.engine.LoadModel(ctx))

	h.stream.paused = true
	h.engine.cycle(ctx)
	assert.Zero(t, h.detector.calls.Load())

	h.stream.paused = false
	h.stream.frozen = true
	for i := 0; i < 4; i++ {
		h.engine.cycle(ctx)
	}
	assert.EqualValues(t, 1, h.detector.calls.Load(), "a repeated frame is not processed twice")
}

func TestOverlayIsDrawnScaled(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) { h.detector.det = face })
	h.ready(t)

	img := h.engine.Canvas().Snapshot()
	require.Equal(t, 100, img.Bounds().Dx())

	// Box (10,10,20,20) on a 50x50 source lands at (20,20,40,40) on the canvas.
	red := 0
	for x := 20; x <= 60; x++ {
		if img.RGBAAt(x, 20).R > 0 {
			red++
		}
	}
	assert.Positive(t, red, "top edge should be stroked")
	assert.Equal(t, color.RGBA{}, img.RGBAAt(40, 40), "box interior stays untouched")
	assert.True(t, h.engine.State().FaceDetected)

	h.detector.setFace(nil)
	h.engine.cycle(context.Background())
	assert.False(t, h.engine.State().FaceDetected)
	assert.Equal(t, color.RGBA{}, h.engine.Canvas().Snapshot().RGBAAt(20, 20))
}

func TestMountStartsLoopAndCloseTearsDown(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) { h.detector.det = face })
	ctx := context.Background()

	require.NoError(t, h.engine.Mount(ctx))
	require.Eventually(t, func() bool { return h.engine.State().FaceDetected }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.clock.Tick(ctx))

	require.NoError(t, h.engine.StartRecording(ctx))
	rec := h.recorder.last()

	require.NoError(t, h.engine.Close())
	assert.True(t, rec.aborted.Load(), "active recording must be aborted")
	assert.True(t, h.detector.closed.Load())
	assert.Equal(t, 1, h.stream.closed)
	assert.Empty(t, h.videos, "a torn-down recording is never saved")
	assert.False(t, h.engine.State().Recording)

	calls := h.detector.calls.Load()
	tickCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, h.clock.Tick(tickCtx), "no loop should be waiting for a tick")
	assert.Equal(t, calls, h.detector.calls.Load())

	require.NoError(t, h.engine.Close())
	assert.ErrorIs(t, h.engine.StartRecording(ctx), ErrClosed)
	assert.Equal(t, 1, h.stream.closed)
}

func TestNextIDMonotonic(t *testing.T) {
	h := newHarness(t, nil)
	at := time.Date(2026, 10, 17, 10, 0, 0, 123456789, time.UTC)

	a := h.engine.nextID(at)
	b := h.engine.nextID(at)
	c := h.engine.nextID(at.Add(-time.Hour))
	assert.Equal(t, "2026-10-17T10:00:00.123Z", a)
	assert.Equal(t, "2026-10-17T10:00:00.124Z", b)
	assert.Equal(t, "2026-10-17T10:00:00.125Z", c)
}
