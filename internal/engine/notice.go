package engine

// Level classifies a Notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

// Notice is a user-visible advisory message. Persistent notices describe a lasting
// condition; the rest are transient.
type Notice struct {
	Level      Level
	Title      string
	Message    string
	Persistent bool
	Err        error
}

// Notifier receives notices.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type discard struct{}

func (discard) Notify(Notice) {}

var (
	noticeUnsupported = Notice{
		Level:      LevelError,
		Title:      "Unsupported Platform",
		Message:    "This system does not provide camera capture.",
		Persistent: true,
	}
	noticeDenied = Notice{
		Level:      LevelError,
		Title:      "Camera Access Denied",
		Message:    "Please allow camera access to use this feature. Restart visage after granting permission.",
		Persistent: true,
	}
	noticeModelFailed = Notice{
		Level:   LevelError,
		Title:   "Error",
		Message: "Failed to load face detection models.",
	}
	noticeNotReady = Notice{
		Level:   LevelError,
		Title:   "Models not ready",
		Message: "Please wait for the models to load before recording.",
	}
	noticeSaved = Notice{
		Level:   LevelSuccess,
		Title:   "Recording Saved",
		Message: "Your video has been saved locally.",
	}
	noticeFailed = Notice{
		Level:   LevelError,
		Title:   "Recording Failed",
		Message: "The recording stopped unexpectedly and was discarded.",
	}
)
