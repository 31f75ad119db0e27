package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the complete visage configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Recorder RecorderConfig `yaml:"recorder"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	Source      string `yaml:"source"` // ffmpeg, synthetic
	Format      string `yaml:"format"` // ffmpeg input format: v4l2, avfoundation, dshow, lavfi
	Device      string `yaml:"device"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	AudioFormat string `yaml:"audio_format"` // empty disables audio
	AudioDevice string `yaml:"audio_device"`
}

// DetectorConfig launches the face detection worker.
type DetectorConfig struct {
	Command       []string `yaml:"command"`
	MinConfidence float64  `yaml:"min_confidence"`
	InputWidth    int      `yaml:"input_width"` // 0 sends full frames
	LoopFPS       int      `yaml:"loop_fps"`    // detect-and-draw cadence
}

// RecorderConfig controls clip encoding and playback.
type RecorderConfig struct {
	FPS     int    `yaml:"fps"`
	ClipDir string `yaml:"clip_dir"`
	Player  string `yaml:"player"`
}

// StorageConfig selects where the video list is persisted.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // file, memory, postgres
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
	Key         string `yaml:"key"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string   `yaml:"level"`  // debug, info, warn, error
	Format      string   `yaml:"format"` // console, json
	OutputPaths []string `yaml:"output_paths"`
}

// DataDir is where clips and the file-backed list live by default.
func DataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".visage")
	}
	return ".visage"
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	data := DataDir()
	return &Config{
		Camera: CameraConfig{
			Source: "ffmpeg",
			Format: "v4l2",
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Detector: DetectorConfig{
			Command:       []string{"python3", "-u", "python/detector.py"},
			MinConfidence: 0.5,
			InputWidth:    320,
			LoopFPS:       30,
		},
		Recorder: RecorderConfig{
			FPS:     30,
			ClipDir: filepath.Join(data, "clips"),
			Player:  "ffplay",
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    filepath.Join(data, "videos.json"),
			Key:     "recorded-videos",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
	}
}

// Load reads a YAML file over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, Validate(cfg)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
