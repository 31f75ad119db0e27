package types

import (
	"image"
	"time"
)

const (
	// IDLayout formats clip ids: UTC, millisecond precision.
	IDLayout = "2006-01-02T15:04:05.000Z"
	// RecordedAtLayout formats the human-readable recording time.
	RecordedAtLayout = "1/2/2006, 3:04:05 PM"
)

// RecordedVideo is a finished clip as stored in the session list.
type RecordedVideo struct {
	ID         string `json:"id"`
	Locator    string `json:"locator"`    // file:// URI of the clip
	RecordedAt string `json:"recordedAt"` // human-readable, local time
}

// BoundingBox locates a face within a frame, in pixels.
type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Detection is the single best face match returned by a detector.
// SourceWidth/SourceHeight describe the frame the box coordinates refer to.
type Detection struct {
	Box          BoundingBox
	Score        float64
	SourceWidth  int
	SourceHeight int
}

// Frame is one decoded picture from a live stream.
type Frame struct {
	Seq        uint64
	Image      *image.RGBA
	CapturedAt time.Time
}
