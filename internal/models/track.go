package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Track is an uploaded audio resource. Ref is the opaque token the playback
// core passes around; everything else is bookkeeping for the library views.
type Track struct {
	ID          uuid.UUID       `json:"id"`
	RoomID      string          `json:"room_id"`
	Name        string          `json:"name"`
	ContentType string          `json:"content_type"`
	SizeBytes   int64           `json:"size_bytes"`
	Ref         string          `json:"ref"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	UploadedAt  time.Time       `json:"uploaded_at"`
}
