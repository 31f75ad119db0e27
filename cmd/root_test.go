package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/visage/internal/camera"
	"github.com/andresmejia3/visage/internal/config"
	"github.com/andresmejia3/visage/internal/kv"
	"go.uber.org/zap"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, config.StorageConfig{Backend: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mem.(*kv.Memory); !ok {
		t.Errorf("Expected memory backend, got %T", mem)
	}

	path := filepath.Join(t.TempDir(), "videos.json")
	file, err := openStore(ctx, config.StorageConfig{Backend: "file", Path: path})
	if err != nil {
		t.Fatal(err)
	}
	f, ok := file.(*kv.File)
	if !ok {
		t.Fatalf("Expected file backend, got %T", file)
	}
	if f.Path() != path {
		t.Errorf("Expected path %s, got %s", path, f.Path())
	}
	if DB != nil {
		t.Error("DB must stay nil for non-postgres backends")
	}
}

func TestNewCamera(t *testing.T) {
	cfg := config.Default().Camera

	if _, ok := newCamera(cfg, zap.NewNop()).(*camera.FFmpeg); !ok {
		t.Error("Expected ffmpeg camera by default")
	}

	cfg.Source = "synthetic"
	if _, ok := newCamera(cfg, zap.NewNop()).(*camera.Synthetic); !ok {
		t.Error("Expected synthetic camera")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"record": false, "list": false, "delete": false, "play": false, "reset": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}
