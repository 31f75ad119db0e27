// Package shell is the interactive terminal front end of a recording session.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/visage/internal/engine"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Controller is the part of the engine the shell drives.
type Controller interface {
	State() engine.State
	ToggleRecording(ctx context.Context) (*types.RecordedVideo, error)
}

// Videos is the session list as seen by the shell.
type Videos interface {
	Loaded() bool
	Videos() []types.RecordedVideo
	Get(id string) (types.RecordedVideo, bool)
	Remove(ctx context.Context, id string) bool
}

// Discarder deletes a stored clip.
type Discarder interface {
	Discard(locator string) error
}

// Options configures a Shell.
type Options struct {
	In      io.Reader
	Out     io.Writer
	Err     io.Writer
	Engine  Controller
	Library Videos
	Player  Player
	Clips   Discarder
	Logger  *zap.Logger

	// Spinner renders a live status line on Err. Without it, status changes are
	// printed as plain lines.
	Spinner bool
	Refresh time.Duration
}

// Shell reads one command per line and renders engine status and the clip list.
type Shell struct {
	opts Options
	log  *zap.Logger

	mu  sync.Mutex // serializes terminal output
	bar *progressbar.ProgressBar

	lines <-chan string
	done  chan struct{}
}

// New creates a shell.
func New(opts Options) *Shell {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Refresh <= 0 {
		opts.Refresh = 150 * time.Millisecond
	}
	if opts.Player == nil {
		opts.Player = FFplay{}
	}
	return &Shell{opts: opts, log: opts.Logger.Named("shell")}
}

// StatusLine renders the engine state in one line.
func StatusLine(st engine.State) string {
	if st.Camera == engine.CameraDenied {
		return "🚫 Camera unavailable"
	}
	if st.Loading() {
		return "⏳ Initializing camera & models..."
	}
	face := "🔍 Searching for face..."
	if st.FaceDetected {
		face = "👤 Face Detected"
	}
	if st.Recording {
		return "🔴 REC | " + face
	}
	return face
}

const help = `Commands:
  r          start / stop recording
  l          list recorded videos
  p <id>     play a video (id prefix is enough)
  d <id>     delete a video
  h          show this help
  q          quit`

// Run processes commands until q, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	s.done = make(chan struct{})
	defer close(s.done)
	s.lines = s.readLines()

	statusCtx, stopStatus := context.WithCancel(ctx)
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		s.status(statusCtx)
	}()
	defer func() {
		stopStatus()
		<-statusDone
	}()

	s.println(help)
	if s.opts.Library.Loaded() {
		s.list()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-s.lines:
			if !ok {
				return nil
			}
			if quit := s.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

func (s *Shell) readLines() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(s.opts.In)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-s.done:
				return
			}
		}
	}()
	return out
}

// Exec runs one command line. It reports whether the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch strings.ToLower(fields[0]) {
	case "r", "record":
		s.toggle(ctx)
	case "l", "ls", "list":
		s.list()
	case "p", "play":
		s.play(ctx, arg)
	case "d", "del", "delete":
		s.delete(ctx, arg)
	case "h", "help", "?":
		s.println(help)
	case "q", "quit", "exit":
		return true
	default:
		s.printf("Unknown command %q. Type h for help.\n", fields[0])
	}
	return false
}

func (s *Shell) toggle(ctx context.Context) {
	video, err := s.opts.Engine.ToggleRecording(ctx)
	if err != nil {
		// The engine has already raised a notice.
		s.log.Debug("toggle recording failed", zap.Error(err))
		return
	}
	if video == nil {
		s.println("🎬 Recording started. Press r to stop.")
		return
	}
	s.printf("💾 %s saved (%s)\n", Label(video.ID), video.Locator)
}

func (s *Shell) list() {
	if !s.opts.Library.Loaded() {
		s.println("⏳ Loading videos...")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearBar()
	RenderList(s.opts.Out, s.opts.Library.Videos())
}

func (s *Shell) lookup(id string) (types.RecordedVideo, bool) {
	if id == "" {
		s.println("Usage: <command> <id>")
		return types.RecordedVideo{}, false
	}
	video, ok := s.opts.Library.Get(id)
	if !ok {
		s.printf("No video matches %q.\n", id)
	}
	return video, ok
}

func (s *Shell) play(ctx context.Context, id string) {
	video, ok := s.lookup(id)
	if !ok {
		return
	}
	s.printf("▶️  Playback: %s\n", Label(video.ID))
	if err := s.opts.Player.Play(ctx, video.Locator); err != nil {
		var pe *PlaybackError
		var cmd *utils.SafeCommand
		if errors.As(err, &pe) {
			cmd = pe.Cmd
		}
		s.mu.Lock()
		s.clearBar()
		utils.FprintError(s.opts.Err, "Playback failed for "+Label(video.ID), err, cmd)
		s.mu.Unlock()
	}
}

func (s *Shell) delete(ctx context.Context, id string) {
	video, ok := s.lookup(id)
	if !ok {
		return
	}
	if !s.confirm(ctx, DeletePrompt(video.ID)) {
		s.println("Cancelled.")
		return
	}
	if !s.opts.Library.Remove(ctx, video.ID) {
		s.printf("No video matches %q.\n", id)
		return
	}
	if s.opts.Clips != nil {
		if err := s.opts.Clips.Discard(video.Locator); err != nil {
			s.log.Warn("could not remove clip file", zap.String("locator", video.Locator), zap.Error(err))
		}
	}
	s.printf("🗑️  Deleted %s\n", Label(video.ID))
}

// confirm asks on the command stream, so answers arrive in order with commands.
func (s *Shell) confirm(ctx context.Context, prompt string) bool {
	s.printf("%s [y/N]: ", prompt)
	select {
	case <-ctx.Done():
		return false
	case answer, ok := <-s.lines:
		return ok && isYes(answer)
	}
}

// Notify renders engine notices. Errors use the boxed error report.
func (s *Shell) Notify(n engine.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearBar()
	switch n.Level {
	case engine.LevelError:
		utils.FprintError(s.opts.Err, n.Title+": "+n.Message, n.Err, nil)
	case engine.LevelSuccess:
		fmt.Fprintf(s.opts.Err, "✅ %s: %s\n", n.Title, n.Message)
	default:
		fmt.Fprintf(s.opts.Err, "ℹ️  %s: %s\n", n.Title, n.Message)
	}
}

// status keeps the status line current until ctx is done.
func (s *Shell) status(ctx context.Context) {
	if s.opts.Spinner {
		s.mu.Lock()
		s.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(s.opts.Err),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetDescription(StatusLine(s.opts.Engine.State())),
			progressbar.OptionClearOnFinish(),
		)
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.bar.Finish()
			s.bar = nil
			s.mu.Unlock()
		}()
	}

	ticker := time.NewTicker(s.opts.Refresh)
	defer ticker.Stop()
	last := ""
	for {
		line := StatusLine(s.opts.Engine.State())
		s.mu.Lock()
		if s.bar != nil {
			s.bar.Describe(line)
			s.bar.Add(1)
		} else if line != last {
			fmt.Fprintln(s.opts.Err, line)
		}
		s.mu.Unlock()
		last = line

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// clearBar wipes the spinner line so regular output starts on a clean line.
// Callers hold s.mu.
func (s *Shell) clearBar() {
	if s.bar != nil {
		s.bar.Clear()
	}
}

func (s *Shell) println(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearBar()
	fmt.Fprintln(s.opts.Out, msg)
}

func (s *Shell) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearBar()
	fmt.Fprintf(s.opts.Out, format, args...)
}
