package tracks

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/models"
)

// TracksRepository defines what the app layer needs from the repository
type TracksRepository interface {
	CreateTrack(ctx context.Context, req CreateTrackRequest) (*models.Track, error)
	ReplaceRoomTracks(ctx context.Context, req CreateTrackRequest) (*models.Track, error)
	GetTrack(ctx context.Context, id uuid.UUID) (*models.Track, error)
	ListRoomTracks(ctx context.Context, roomID string) ([]models.Track, error)
}

// App handles track upload business logic: file placement, ref minting and
// metadata bookkeeping.
type App struct {
	repo     TracksRepository
	mediaDir string
	refBase  string
	// keepHistory retains earlier uploads for a room instead of pruning
	// them when a new track arrives.
	keepHistory bool
}

// NewApp creates a tracks App storing files under mediaDir. refBase is the
// URL prefix the media file server is mounted at, e.g. "/media".
func NewApp(repo TracksRepository, mediaDir, refBase string, keepHistory bool) *App {
	return &App{repo: repo, mediaDir: mediaDir, refBase: refBase, keepHistory: keepHistory}
}

// SaveUpload streams one uploaded file to the media dir and records its
// metadata. The returned track's Ref is the opaque token rooms play by.
func (a *App) SaveUpload(ctx context.Context, roomID, filename, contentType string, body io.Reader) (*models.Track, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	stored := uuid.New().String() + ext
	path := filepath.Join(a.mediaDir, stored)

	if err := os.MkdirAll(a.mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create media file: %w", err)
	}
	size, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write media file: %w", err)
	}

	req := CreateTrackRequest{
		RoomID:      roomID,
		Name:        filename,
		ContentType: contentType,
		SizeBytes:   size,
		Ref:         a.refBase + "/" + stored,
	}

	var track *models.Track
	if a.keepHistory {
		track, err = a.repo.CreateTrack(ctx, req)
	} else {
		track, err = a.repo.ReplaceRoomTracks(ctx, req)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	log.Info().
		Str("room_id", roomID).
		Str("track_id", track.ID.String()).
		Str("ref", track.Ref).
		Int64("size_bytes", size).
		Msg("track uploaded")
	return track, nil
}

// ListRoomTracks lists the room's uploads, newest first.
func (a *App) ListRoomTracks(ctx context.Context, roomID string) ([]models.Track, error) {
	return a.repo.ListRoomTracks(ctx, roomID)
}

// MediaDir returns the directory uploads are stored in, for the file server.
func (a *App) MediaDir() string {
	return a.mediaDir
}
