package tracks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unisonfm/unison/internal/models"
)

// MemoryRepository keeps track metadata in process memory. Used when the
// server runs without Postgres and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	tracks map[uuid.UUID]models.Track
}

// NewMemoryRepository creates an empty in-memory track store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tracks: make(map[uuid.UUID]models.Track)}
}

func (r *MemoryRepository) CreateTrack(_ context.Context, req CreateTrackRequest) (*models.Track, error) {
	track := models.Track{
		ID:          uuid.New(),
		RoomID:      req.RoomID,
		Name:        req.Name,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		Ref:         req.Ref,
		Metadata:    req.Metadata,
		UploadedAt:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.tracks[track.ID] = track
	r.mu.Unlock()
	return &track, nil
}

func (r *MemoryRepository) ReplaceRoomTracks(ctx context.Context, req CreateTrackRequest) (*models.Track, error) {
	r.mu.Lock()
	for id, t := range r.tracks {
		if t.RoomID == req.RoomID {
			delete(r.tracks, id)
		}
	}
	r.mu.Unlock()
	return r.CreateTrack(ctx, req)
}

func (r *MemoryRepository) GetTrack(_ context.Context, id uuid.UUID) (*models.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	track, ok := r.tracks[id]
	if !ok {
		return nil, fmt.Errorf("track %s not found", id)
	}
	return &track, nil
}

func (r *MemoryRepository) ListRoomTracks(_ context.Context, roomID string) ([]models.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tracks []models.Track
	for _, t := range r.tracks {
		if t.RoomID == roomID {
			tracks = append(tracks, t)
		}
	}
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].UploadedAt.After(tracks[j].UploadedAt)
	})
	return tracks, nil
}
