package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Track struct {
	ID          uuid.UUID
	RoomID      string
	Name        string
	ContentType string
	SizeBytes   int64
	Ref         string
	Metadata    pqtype.NullRawMessage
	UploadedAt  time.Time
}
