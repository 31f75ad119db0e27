// Package camera acquires live video from a capture device and exposes it as a
// latest-frame stream.
//
// A stream never queues frames. The reader overwrites the previous frame with each new
// one, so a slow consumer simply sees fewer frames.
package camera

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/visage/internal/types"
)

var (
	// ErrUnsupported means this platform has no usable capture facility.
	ErrUnsupported = errors.New("camera capture is not supported on this platform")
	// ErrPermissionDenied means the capture device exists but could not be opened.
	ErrPermissionDenied = errors.New("camera access denied")
)

// Stream is a live camera stream.
type Stream interface {
	// Latest returns the current frame; ok is false until the first frame arrives.
	Latest() (frame types.Frame, ok bool)
	// Paused reports whether the stream is currently not advancing.
	Paused() bool
	// Live reports whether the underlying tracks are still running.
	Live() bool
	// Audio returns the stream's audio track, or nil when it has none.
	Audio() *AudioSource
	// Close stops every track. It is safe to call more than once.
	Close() error
}

// AudioSource identifies the microphone paired with a stream.
type AudioSource struct {
	Format string
	Device string
}

// Clone returns an independent copy that a recorder can open on its own.
func (a *AudioSource) Clone() *AudioSource {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Config selects and sizes the capture device.
type Config struct {
	Source      string // "ffmpeg" or "synthetic"
	Format      string
	Device      string
	Width       int
	Height      int
	FPS         int
	AudioFormat string
	AudioDevice string
}

func (c Config) audio() *AudioSource {
	if c.AudioFormat == "" || c.AudioDevice == "" {
		return nil
	}
	return &AudioSource{Format: c.AudioFormat, Device: c.AudioDevice}
}

// feed holds the most recent frame published by a reader.
type feed struct {
	mu     sync.Mutex
	latest types.Frame
	has    bool
	seq    uint64
	drops  uint64
	read   uint64 // seq of the last frame handed out by Latest
	paused bool
	ended  bool
}

func (f *feed) publish(img *image.RGBA) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.has && f.read != f.seq {
		// Previous frame was never looked at.
		f.drops++
	}
	f.seq++
	f.latest = types.Frame{Seq: f.seq, Image: img, CapturedAt: time.Now()}
	f.has = true
}

// Latest implements Stream.
func (f *feed) Latest() (types.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.has {
		return types.Frame{}, false
	}
	f.read = f.latest.Seq
	return f.latest, true
}

// Paused implements Stream.
func (f *feed) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused || f.ended
}

// Live implements Stream.
func (f *feed) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.ended
}

// SetPaused holds the stream on its current frame.
func (f *feed) SetPaused(p bool) {
	f.mu.Lock()
	f.paused = p
	f.mu.Unlock()
}

// Drops returns how many frames were overwritten before anyone read them.
func (f *feed) Drops() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drops
}

func (f *feed) end() {
	f.mu.Lock()
	f.ended = true
	f.mu.Unlock()
}
