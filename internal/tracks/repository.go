package tracks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/unisonfm/unison/internal/models"
	"github.com/unisonfm/unison/internal/sqlutil"
	"github.com/unisonfm/unison/internal/tracks/db"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	CreateTrack(ctx context.Context, arg db.CreateTrackParams) (db.Track, error)
	GetTrack(ctx context.Context, id uuid.UUID) (db.Track, error)
	ListTracksByRoom(ctx context.Context, roomID string) ([]db.Track, error)
	DeleteTracksByRoom(ctx context.Context, roomID string) error
}

// CreateTrackRequest carries the metadata recorded for an upload.
type CreateTrackRequest struct {
	RoomID      string          `json:"room_id"`
	Name        string          `json:"name"`
	ContentType string          `json:"content_type"`
	SizeBytes   int64           `json:"size_bytes"`
	Ref         string          `json:"ref"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Repository implements track metadata access against Postgres.
type Repository struct {
	queries Querier
	sqlDB   *sql.DB
}

// NewRepository creates a new tracks repository. sqlDB is needed for the
// transactional replace path and may be nil when only reads are used.
func NewRepository(querier Querier, sqlDB *sql.DB) *Repository {
	return &Repository{queries: querier, sqlDB: sqlDB}
}

// CreateTrack records one uploaded track.
func (r *Repository) CreateTrack(ctx context.Context, req CreateTrackRequest) (*models.Track, error) {
	dbTrack, err := r.queries.CreateTrack(ctx, createParams(req))
	if err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	return dbTrackToModel(dbTrack), nil
}

// ReplaceRoomTracks atomically removes the room's earlier uploads and records
// the new one, for deployments that keep a single track per room.
func (r *Repository) ReplaceRoomTracks(ctx context.Context, req CreateTrackRequest) (*models.Track, error) {
	var created db.Track
	err := sqlutil.Run(ctx, r.sqlDB,
		func(tx *sql.Tx) *db.Queries { return db.New(tx) },
		func(q *db.Queries) error {
			if err := q.DeleteTracksByRoom(ctx, req.RoomID); err != nil {
				return err
			}
			var err error
			created, err = q.CreateTrack(ctx, createParams(req))
			return err
		})
	if err != nil {
		return nil, fmt.Errorf("failed to replace room tracks: %w", err)
	}
	return dbTrackToModel(created), nil
}

// GetTrack retrieves a track by ID
func (r *Repository) GetTrack(ctx context.Context, id uuid.UUID) (*models.Track, error) {
	dbTrack, err := r.queries.GetTrack(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return dbTrackToModel(dbTrack), nil
}

// ListRoomTracks lists the room's uploads, newest first.
func (r *Repository) ListRoomTracks(ctx context.Context, roomID string) ([]models.Track, error) {
	dbTracks, err := r.queries.ListTracksByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list room tracks: %w", err)
	}
	tracks := make([]models.Track, 0, len(dbTracks))
	for _, t := range dbTracks {
		tracks = append(tracks, *dbTrackToModel(t))
	}
	return tracks, nil
}

func createParams(req CreateTrackRequest) db.CreateTrackParams {
	return db.CreateTrackParams{
		ID:          uuid.New(),
		RoomID:      req.RoomID,
		Name:        req.Name,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		Ref:         req.Ref,
		Metadata:    toNullRawMessage(req.Metadata),
		UploadedAt:  time.Now().UTC(),
	}
}

func dbTrackToModel(t db.Track) *models.Track {
	track := &models.Track{
		ID:          t.ID,
		RoomID:      t.RoomID,
		Name:        t.Name,
		ContentType: t.ContentType,
		SizeBytes:   t.SizeBytes,
		Ref:         t.Ref,
		UploadedAt:  t.UploadedAt,
	}
	if t.Metadata.Valid {
		track.Metadata = t.Metadata.RawMessage
	}
	return track
}

func toNullRawMessage(m json.RawMessage) pqtype.NullRawMessage {
	if len(m) == 0 {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: m, Valid: true}
}
