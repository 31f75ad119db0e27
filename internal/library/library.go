// Package library holds the ordered list of recorded clips and keeps a durable copy
// of it in a kv.Store.
//
// Persistence is best-effort: every mutation is applied in memory first and then the
// whole list is written back. A failed write is logged and otherwise ignored, so the
// in-memory list stays authoritative for the lifetime of the process.
package library

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/andresmejia3/visage/internal/kv"
	"github.com/andresmejia3/visage/internal/types"
	"go.uber.org/zap"
)

// DefaultKey is the storage key holding the serialized list.
const DefaultKey = "recorded-videos"

// Library is the session list. Newest recordings come first.
type Library struct {
	store kv.Store
	key   string
	log   *zap.Logger

	mu     sync.Mutex
	videos []types.RecordedVideo
	loaded bool
}

// New creates an empty Library backed by store. Call Load to restore persisted state.
func New(store kv.Store, key string, log *zap.Logger) *Library {
	if key == "" {
		key = DefaultKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Library{store: store, key: key, log: log.Named("library")}
}

// Load restores the persisted list. Missing or malformed data yields an empty list.
func (l *Library) Load(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.videos = nil
	l.loaded = true

	raw, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		l.log.Warn("could not load videos from storage", zap.Error(err))
		return
	}
	if !ok || raw == "" {
		return
	}

	var videos []types.RecordedVideo
	if err := json.Unmarshal([]byte(raw), &videos); err != nil {
		l.log.Warn("discarding malformed video list", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	l.videos = videos
	l.log.Debug("videos restored", zap.Int("count", len(videos)))
}

// Loaded reports whether Load has run.
func (l *Library) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Append puts video at the head of the list and persists the result.
func (l *Library) Append(ctx context.Context, video types.RecordedVideo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]types.RecordedVideo, 0, len(l.videos)+1)
	next = append(next, video)
	next = append(next, l.videos...)
	l.videos = next
	l.persist(ctx, "could not save video to storage")
}

// Remove drops the video with the given id. It reports whether anything was removed;
// removing an unknown id leaves the list untouched and writes nothing.
func (l *Library) Remove(ctx context.Context, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]types.RecordedVideo, 0, len(l.videos))
	for _, v := range l.videos {
		if v.ID != id {
			next = append(next, v)
		}
	}
	if len(next) == len(l.videos) {
		return false
	}
	l.videos = next
	l.persist(ctx, "could not update storage")
	return true
}

// Clear removes every video.
func (l *Library) Clear(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.videos = nil
	l.persist(ctx, "could not update storage")
}

// Videos returns a copy of the list, newest first.
func (l *Library) Videos() []types.RecordedVideo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.RecordedVideo, len(l.videos))
	copy(out, l.videos)
	return out
}

// Len returns the number of stored videos.
func (l *Library) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.videos)
}

// Get looks a video up by id. A unique id prefix (as shown in listings) also matches.
func (l *Library) Get(id string) (types.RecordedVideo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var match types.RecordedVideo
	found := 0
	for _, v := range l.videos {
		if v.ID == id {
			return v, true
		}
		if len(id) > 0 && len(v.ID) > len(id) && v.ID[:len(id)] == id {
			match = v
			found++
		}
	}
	return match, found == 1
}

// Newest returns the head of the list.
func (l *Library) Newest() (types.RecordedVideo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.videos) == 0 {
		return types.RecordedVideo{}, false
	}
	return l.videos[0], true
}

// persist writes the whole list. Caller holds l.mu.
func (l *Library) persist(ctx context.Context, msg string) {
	list := l.videos
	if list == nil {
		list = []types.RecordedVideo{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		l.log.Error(msg, zap.Error(err))
		return
	}
	if err := l.store.Set(ctx, l.key, string(data)); err != nil {
		l.log.Error(msg, zap.Error(err), zap.Int("count", len(list)))
	}
}
