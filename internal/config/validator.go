package config

import "fmt"

// Validate checks the configuration and fills in defaults for optional fields.
func Validate(cfg *Config) error {
	// Camera
	switch cfg.Camera.Source {
	case "ffmpeg":
		if cfg.Camera.Format == "" || cfg.Camera.Device == "" {
			return fmt.Errorf("camera.format and camera.device are required for the ffmpeg source")
		}
	case "synthetic":
	default:
		return fmt.Errorf("camera.source must be ffmpeg or synthetic, got %q", cfg.Camera.Source)
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		return fmt.Errorf("camera.width and camera.height must be > 0")
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}
	if (cfg.Camera.AudioFormat == "") != (cfg.Camera.AudioDevice == "") {
		return fmt.Errorf("camera.audio_format and camera.audio_device must be set together")
	}

	// Detector
	if len(cfg.Detector.Command) == 0 {
		return fmt.Errorf("detector.command is required")
	}
	if cfg.Detector.MinConfidence < 0 || cfg.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.min_confidence must be between 0 and 1")
	}
	if cfg.Detector.InputWidth < 0 {
		return fmt.Errorf("detector.input_width must be >= 0")
	}
	if cfg.Detector.LoopFPS <= 0 {
		cfg.Detector.LoopFPS = 30
	}

	// Recorder
	if cfg.Recorder.FPS <= 0 {
		cfg.Recorder.FPS = 30
	}
	if cfg.Recorder.ClipDir == "" {
		return fmt.Errorf("recorder.clip_dir is required")
	}
	if cfg.Recorder.Player == "" {
		cfg.Recorder.Player = "ffplay"
	}

	// Storage
	switch cfg.Storage.Backend {
	case "file":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the file backend")
		}
	case "memory":
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be file, memory or postgres, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Key == "" {
		cfg.Storage.Key = "recorded-videos"
	}

	// Log
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json")
	}
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stderr"}
	}

	return nil
}
