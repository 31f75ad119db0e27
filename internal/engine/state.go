package engine

import "errors"

// CameraStatus is the camera acquisition state.
type CameraStatus int

const (
	CameraUninitialized CameraStatus = iota
	CameraRequesting
	CameraGranted
	CameraDenied
)

func (s CameraStatus) String() string {
	switch s {
	case CameraUninitialized:
		return "uninitialized"
	case CameraRequesting:
		return "requesting"
	case CameraGranted:
		return "granted"
	case CameraDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// State is a read-only snapshot of a capture session.
type State struct {
	Camera       CameraStatus
	ModelReady   bool
	FaceDetected bool
	Recording    bool
}

// Loading reports whether the camera or the model is still pending.
func (s State) Loading() bool {
	return !s.ModelReady || s.Camera == CameraUninitialized || s.Camera == CameraRequesting
}

var errIllegalTransition = errors.New("illegal state transition")

// machine owns every state change. Each transition checks its source state, so a
// combination such as recording with a denied camera cannot be reached.
type machine struct {
	s State
}

func (m *machine) request() bool {
	if m.s.Camera != CameraUninitialized {
		return false
	}
	m.s.Camera = CameraRequesting
	return true
}

func (m *machine) grant() error {
	if m.s.Camera != CameraRequesting {
		return errIllegalTransition
	}
	m.s.Camera = CameraGranted
	return nil
}

func (m *machine) deny() {
	m.s.Camera = CameraDenied
	m.s.FaceDetected = false
	m.s.Recording = false
}

func (m *machine) modelLoaded() {
	m.s.ModelReady = true
}

// detecting reports whether a detection cycle may run.
func (m *machine) detecting() bool {
	return m.s.Camera == CameraGranted && m.s.ModelReady
}

func (m *machine) face(found bool) {
	if !m.detecting() {
		m.s.FaceDetected = false
		return
	}
	m.s.FaceDetected = found
}

func (m *machine) beginRecording() error {
	if !m.detecting() || m.s.Recording {
		return errIllegalTransition
	}
	m.s.Recording = true
	return nil
}

func (m *machine) endRecording() {
	m.s.Recording = false
}
