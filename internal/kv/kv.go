// Package kv defines the durable key-value port used to persist the session list,
// along with file-backed and in-memory implementations.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a string key-value store. Get reports ok=false for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// File keeps every key in a single JSON object on disk.
// Writes go to a temp file first and are renamed into place.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a File store at path. The file is created lazily on first Set.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file location.
func (f *File) Path() string { return f.path }

func (f *File) readAll() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt store file %s: %w", f.path, err)
	}
	return m, nil
}

// Get reads key from the file.
func (f *File) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.readAll()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set writes key to the file, preserving all other keys.
func (f *File) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.readAll()
	if err != nil {
		// A corrupt file must not block new writes; start over.
		m = map[string]string{}
	}
	m[key] = value

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".visage-kv-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Memory is an in-process Store. SetErr/GetErr force failures for tests and for
// exercising best-effort persistence.
type Memory struct {
	mu     sync.Mutex
	data   map[string]string
	GetErr error
	SetErr error
	Writes int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: map[string]string{}}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", false, m.GetErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.data[key] = value
	m.Writes++
	return nil
}
