package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/visage/internal/camera"
	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/engine"
	"github.com/andresmejia3/visage/internal/recorder"
	"github.com/andresmejia3/visage/internal/schedule"
	"github.com/andresmejia3/visage/internal/shell"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/worker"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var recordOpts struct {
	Synthetic bool
	Device    string
	NoSpinner bool
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Open the camera, track your face and record clips",
	RunE: func(cmd *cobra.Command, args []string) error {
		if recordOpts.Synthetic {
			Cfg.Camera.Source = "synthetic"
		}
		if recordOpts.Device != "" {
			Cfg.Camera.Device = recordOpts.Device
		}
		return runRecord(cmd.Context(), Cfg)
	},
}

func init() {
	recordCmd.Flags().BoolVar(&recordOpts.Synthetic, "synthetic", false, "Use a generated test picture instead of a camera")
	recordCmd.Flags().StringVarP(&recordOpts.Device, "device", "d", "", "Capture device (overrides camera.device)")
	recordCmd.Flags().BoolVar(&recordOpts.NoSpinner, "no-spinner", false, "Print status changes as plain lines")
	rootCmd.AddCommand(recordCmd)
}

func newCamera(cfg config.CameraConfig, log *zap.Logger) engine.Camera {
	camCfg := camera.Config{
		Source:      cfg.Source,
		Format:      cfg.Format,
		Device:      cfg.Device,
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		AudioFormat: cfg.AudioFormat,
		AudioDevice: cfg.AudioDevice,
	}
	if cfg.Source == "synthetic" {
		return camera.NewSynthetic(camCfg, log)
	}
	return camera.NewFFmpeg(camCfg, log)
}

// saveTimeout bounds how long quitting waits for the encoder to flush.
const saveTimeout = 10 * time.Second

type recordingStopper interface {
	StopRecording(ctx context.Context) (types.RecordedVideo, error)
}

// saveActive stops the active recording. It gives up after timeout or on a new
// interrupt, since the root context has already been consumed by the session.
func saveActive(eng recordingStopper, timeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := eng.StopRecording(ctx)
	return err
}

// runRecord wires the engine and the shell together and runs them until the user quits.
func runRecord(ctx context.Context, cfg *config.Config) error {
	// 1. Session identity for log correlation
	sessionID := uuid.NewString()
	log := Log.With(zap.String("session", sessionID))
	fmt.Fprintf(os.Stderr, "🎥 Visage session %s\n", sessionID[:8])

	// 2. Collaborators
	clips := recorder.NewDir(cfg.Recorder.ClipDir)
	detector := worker.NewPythonDetector(worker.Config{
		Command:       cfg.Detector.Command,
		MinConfidence: cfg.Detector.MinConfidence,
		InputWidth:    cfg.Detector.InputWidth,
	})
	newest, _ := Videos.Newest()

	// 3. Engine and shell. Notices reach the shell once it exists; Mount runs after.
	var sh *shell.Shell
	eng := engine.New(engine.Options{
		Camera:     newCamera(cfg.Camera, log),
		Detector:   detector,
		Recorder:   recorder.NewFFmpeg(log),
		Clips:      clips,
		Clock:      schedule.NewInterval(time.Second / time.Duration(cfg.Detector.LoopFPS)),
		Notifier:   engine.NotifierFunc(func(n engine.Notice) { sh.Notify(n) }),
		Logger:     log,
		OnNewVideo: Videos.Append,
		LastID:     newest.ID,
		RecordFPS:  cfg.Recorder.FPS,
	})
	defer eng.Close()

	sh = shell.New(shell.Options{
		In:      os.Stdin,
		Out:     os.Stdout,
		Err:     os.Stderr,
		Engine:  eng,
		Library: Videos,
		Player:  shell.FFplay{Binary: cfg.Recorder.Player},
		Clips:   clips,
		Logger:  log,
		Spinner: !recordOpts.NoSpinner,
	})

	// 4. Run both until the shell exits or we are interrupted
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Mount(gctx); err != nil && gctx.Err() == nil {
			log.Warn("session running degraded", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return sh.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// 5. Quitting mid-recording keeps the clip
	if eng.State().Recording {
		fmt.Fprintln(os.Stderr, "💾 Saving the active recording...")
		if err := saveActive(eng, saveTimeout); err != nil {
			log.Error("could not save active recording", zap.Error(err))
		}
	}

	fmt.Fprintf(os.Stderr, "👋 %d video(s) in your library.\n", Videos.Len())
	return nil
}
