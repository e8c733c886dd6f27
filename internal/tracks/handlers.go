package tracks

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/unisonfm/unison/internal/room"
)

// maxUploadBytes bounds a single multipart upload.
const maxUploadBytes = 256 << 20

// SessionApplier defines what the upload handler needs from the coordinator:
// after a successful upload the new track is set on the room so every member
// learns of it in one step.
type SessionApplier interface {
	Apply(ctx context.Context, roomID string, cmd room.Command) (room.Session, error)
}

// Handlers exposes the track upload and listing HTTP endpoints.
type Handlers struct {
	app      *App
	sessions SessionApplier
}

// NewHandlers creates the tracks HTTP handlers. sessions may be nil, in
// which case uploads do not touch room state.
func NewHandlers(app *App, sessions SessionApplier) *Handlers {
	return &Handlers{app: app, sessions: sessions}
}

// RegisterRoutes registers the track endpoints with an HTTP mux
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms/{room}/tracks", h.handleUpload)
	mux.HandleFunc("GET /api/rooms/{room}/tracks", h.handleList)
}

func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	track, err := h.app.SaveUpload(r.Context(), roomID, header.Filename, contentType, file)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("upload failed")
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	if h.sessions != nil {
		cmd := room.Command{Type: room.CommandSetTrack, TrackRef: track.Ref}
		if _, err := h.sessions.Apply(r.Context(), roomID, cmd); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to set uploaded track on room")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(track); err != nil {
		log.Error().Err(err).Msg("failed to write upload response")
	}
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	tracks, err := h.app.ListRoomTracks(r.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to list tracks")
		http.Error(w, "failed to list tracks", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tracks); err != nil {
		log.Error().Err(err).Msg("failed to write track list")
	}
}
