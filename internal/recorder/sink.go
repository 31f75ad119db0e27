package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/visage/internal/utils"
)

// Dir stores finished clips as files in a directory.
type Dir struct {
	Path string
	Ext  string
}

// NewDir returns a clip directory. Ext defaults to "webm".
func NewDir(path string) *Dir {
	return &Dir{Path: path, Ext: "webm"}
}

// Finalize joins chunks into a single clip named after id and returns its locator.
func (d *Dir) Finalize(id string, chunks [][]byte) (string, error) {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	if size == 0 {
		return "", errors.New("recording produced no data")
	}
	if err := os.MkdirAll(d.Path, 0755); err != nil {
		return "", fmt.Errorf("failed to create clip directory: %w", err)
	}

	path := filepath.Join(d.Path, ClipName(id, d.Ext))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	for _, c := range chunks {
		if _, err := f.Write(c); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return utils.FileLocator(path), nil
}

// Discard deletes the clip a locator points at. A missing file is not an error.
func (d *Dir) Discard(locator string) error {
	path, err := utils.LocatorPath(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Purge removes every clip in the directory.
func (d *Dir) Purge() error {
	return os.RemoveAll(d.Path)
}

// ClipName builds a filesystem-safe file name from a clip id.
func ClipName(id, ext string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, id)
	if ext == "" {
		ext = "webm"
	}
	return fmt.Sprintf("recording-%s.%s", safe, ext)
}
