package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/genome-tiles/server/internal/track"
)

// ErrDuplicateTrack is returned when a track id is registered twice.
var ErrDuplicateTrack = errors.New("duplicate track id")

// TrackInfo describes a track for the API response.
type TrackInfo struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Type       string       `json:"type"`
	Mode       string       `json:"mode"`
	Status     track.Status `json:"status"`
	RowLimited bool         `json:"row_limited"`
}

// Registry holds the configured tracks in config order.
type Registry struct {
	mu     sync.RWMutex
	tracks map[string]track.Track
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tracks: make(map[string]track.Track)}
}

// Register adds a track.
func (r *Registry) Register(tr track.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracks[tr.ID()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTrack, tr.ID())
	}
	r.tracks[tr.ID()] = tr
	r.order = append(r.order, tr.ID())
	return nil
}

// Get returns the track with the given id.
func (r *Registry) Get(id string) (track.Track, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tr, ok := r.tracks[id]
	return tr, ok
}

// IDs returns all track ids in config order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Tracks returns track info for all registered tracks.
func (r *Registry) Tracks() []TrackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]TrackInfo, 0, len(r.order))
	for _, id := range r.order {
		tr := r.tracks[id]
		_, rows := tr.(track.RowLimited)
		infos = append(infos, TrackInfo{
			ID:         id,
			Name:       tr.Name(),
			Type:       tr.Type(),
			Mode:       tr.Config().Mode(),
			Status:     tr.Status(),
			RowLimited: rows,
		})
	}
	return infos
}

// Close closes every track.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		r.tracks[id].Close()
	}
}
