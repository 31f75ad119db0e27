package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (ffmpeg / Python logs)
// This ensures we don't lose critical crash information if a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps child-process logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	FprintError(os.Stderr, context, err, s)
}

// FprintError writes the error box to w.
func FprintError(w io.Writer, context string, err error, s *SafeCommand) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 VISAGE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(w, "\nPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// Die is ShowError followed by exit(1). Only used before any resources are held.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Video Engine (Shared by Capture & Record) ---

// CaptureSpec describes a camera input for ffmpeg.
type CaptureSpec struct {
	Format string // v4l2, avfoundation, dshow, lavfi
	Device string
	Width  int
	Height int
	FPS    int
}

// NewFFmpegCaptureCmd creates a camera decoder pipe.
// It configures FFmpeg to output raw RGBA frames of exactly Width x Height to Stdout.
func NewFFmpegCaptureCmd(ctx context.Context, spec CaptureSpec) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", spec.Format}
	if spec.Format != "lavfi" {
		// Ask the device for its native mode; lavfi sources take options inline.
		if spec.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(spec.FPS))
		}
		if spec.Width > 0 && spec.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", spec.Width, spec.Height))
		}
	}
	args = append(args,
		"-i", spec.Device,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-",
	)
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// EncodeSpec describes a recording output for ffmpeg.
type EncodeSpec struct {
	Width       int
	Height      int
	FPS         int
	AudioFormat string // empty when the stream carries no audio
	AudioDevice string
}

// NewFFmpegRecordCmd creates an encoder that reads raw RGBA frames on Stdin and writes
// a WebM stream to Stdout.
func NewFFmpegRecordCmd(ctx context.Context, spec EncodeSpec) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-r", strconv.Itoa(spec.FPS),
		"-i", "-",
	}
	if spec.AudioFormat != "" && spec.AudioDevice != "" {
		// A live audio input never ends on its own; the clip ends with the video input.
		args = append(args, "-f", spec.AudioFormat, "-i", spec.AudioDevice, "-c:a", "libopus", "-shortest")
	}
	args = append(args,
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "2M",
		"-f", "webm",
		"-",
	)
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// --- 3. Locators ---

// FileLocator turns a filesystem path into a file:// locator.
func FileLocator(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// LocatorPath resolves a locator back to a filesystem path. Bare paths pass through.
func LocatorPath(locator string) (string, error) {
	if !strings.Contains(locator, "://") {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported locator scheme %q", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}
