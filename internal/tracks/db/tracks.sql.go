package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const createTrack = `-- name: CreateTrack :one
INSERT INTO tracks (id, room_id, name, content_type, size_bytes, ref, metadata, uploaded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, room_id, name, content_type, size_bytes, ref, metadata, uploaded_at
`

type CreateTrackParams struct {
	ID          uuid.UUID
	RoomID      string
	Name        string
	ContentType string
	SizeBytes   int64
	Ref         string
	Metadata    pqtype.NullRawMessage
	UploadedAt  time.Time
}

func (q *Queries) CreateTrack(ctx context.Context, arg CreateTrackParams) (Track, error) {
	row := q.db.QueryRowContext(ctx, createTrack,
		arg.ID,
		arg.RoomID,
		arg.Name,
		arg.ContentType,
		arg.SizeBytes,
		arg.Ref,
		arg.Metadata,
		arg.UploadedAt,
	)
	var i Track
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.Name,
		&i.ContentType,
		&i.SizeBytes,
		&i.Ref,
		&i.Metadata,
		&i.UploadedAt,
	)
	return i, err
}

const getTrack = `-- name: GetTrack :one
SELECT id, room_id, name, content_type, size_bytes, ref, metadata, uploaded_at
FROM tracks
WHERE id = $1
`

func (q *Queries) GetTrack(ctx context.Context, id uuid.UUID) (Track, error) {
	row := q.db.QueryRowContext(ctx, getTrack, id)
	var i Track
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.Name,
		&i.ContentType,
		&i.SizeBytes,
		&i.Ref,
		&i.Metadata,
		&i.UploadedAt,
	)
	return i, err
}

const listTracksByRoom = `-- name: ListTracksByRoom :many
SELECT id, room_id, name, content_type, size_bytes, ref, metadata, uploaded_at
FROM tracks
WHERE room_id = $1
ORDER BY uploaded_at DESC
`

func (q *Queries) ListTracksByRoom(ctx context.Context, roomID string) ([]Track, error) {
	rows, err := q.db.QueryContext(ctx, listTracksByRoom, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Track
	for rows.Next() {
		var i Track
		if err := rows.Scan(
			&i.ID,
			&i.RoomID,
			&i.Name,
			&i.ContentType,
			&i.SizeBytes,
			&i.Ref,
			&i.Metadata,
			&i.UploadedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteTracksByRoom = `-- name: DeleteTracksByRoom :exec
DELETE FROM tracks
WHERE room_id = $1
`

func (q *Queries) DeleteTracksByRoom(ctx context.Context, roomID string) error {
	_, err := q.db.ExecContext(ctx, deleteTracksByRoom, roomID)
	return err
}
