package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"snowfight/internal/room"
	"snowfight/internal/roomservice"
	"snowfight/internal/world"

	"github.com/go-chi/chi/v5"
)

// snapshotTimeout bounds how long a request waits on a busy room goroutine
const snapshotTimeout = time.Second

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"rooms":       len(h.rooms.List()),
		"connections": h.hub.ClientCount(),
		"maps":        world.OptionKeys(),
		"limits": map[string]any{
			"http":      h.rateLimiter.GetStats(),
			"websocket": h.hub.wsLimiter.GetStats(),
		},
	}
	if h.journal != nil {
		body["journal"] = h.journal.Stats()
	}
	writeJSON(w, body)
}

// handleListRooms returns a summary of every live room. Rooms that close
// while being listed are skipped.
func (h *routerHandlers) handleListRooms(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	rooms := make([]room.Snapshot, 0)
	for _, rm := range h.rooms.List() {
		s, err := rm.Snapshot(ctx)
		if err != nil {
			continue
		}
		rooms = append(rooms, s)
	}

	writeJSON(w, map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// handleGetRoom returns one room's scoreboard
func (h *routerHandlers) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rm, ok := h.rooms.Get(id)
	if !ok {
		writeError(w, "room not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	s, err := rm.Snapshot(ctx)
	switch {
	case errors.Is(err, room.ErrRoomClosed):
		writeError(w, "room not found", http.StatusNotFound)
	case err != nil:
		writeError(w, "room busy", http.StatusServiceUnavailable)
	default:
		writeJSON(w, s)
	}
}

// handleLobby lists provisioned rooms, active by default
func (h *routerHandlers) handleLobby(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = roomservice.StatusActive
	}

	infos, err := h.lobby.ListRooms(r.Context(), status)
	if err != nil {
		writeError(w, "lobby unavailable", http.StatusServiceUnavailable)
		return
	}
	if infos == nil {
		infos = []roomservice.RoomInfo{}
	}

	writeJSON(w, map[string]any{
		"rooms": infos,
		"count": len(infos),
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
