package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/visage/internal/utils"
)

// Player shows a stored clip.
type Player interface {
	Play(ctx context.Context, locator string) error
}

// FFplay plays clips with ffplay and returns when playback ends.
type FFplay struct {
	Binary string
}

// Play implements Player.
func (p FFplay) Play(ctx context.Context, locator string) error {
	path, err := utils.LocatorPath(locator)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("clip is no longer available: %w", err)
	}

	bin := p.Binary
	if bin == "" {
		bin = "ffplay"
	}
	cmd := utils.NewSafeCommand(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-autoexit",
		"-window_title", "Playback: "+filepath.Base(path),
		path,
	)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PlaybackError{Err: err, Cmd: cmd}
	}
	return nil
}

// PlaybackError carries the player's captured stderr.
type PlaybackError struct {
	Err error
	Cmd *utils.SafeCommand
}

func (e *PlaybackError) Error() string { return "playback failed: " + e.Err.Error() }
func (e *PlaybackError) Unwrap() error { return e.Err }
