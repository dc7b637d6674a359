package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ernie/fortcore/internal/domain"
	"github.com/ernie/fortcore/internal/storage"
	"github.com/google/uuid"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseUUID parses a player UUID from the URL path
func parseUUID(req *http.Request) (uuid.UUID, error) {
	return uuid.Parse(req.PathValue("uuid"))
}

// parseLimit reads a "limit" query parameter with a default and a cap
func parseLimit(req *http.Request, def, max int) int {
	limit := def
	if s := req.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// StatusResponse is the live view of the whole instance
type StatusResponse struct {
	Players []domain.PlayerStatus `json:"players"`
	Slots   []domain.SlotStatus   `json:"slots"`
	Online  int                   `json:"online"`
}

// handleGetStatus returns all live sessions and slot occupancy
func (r *Router) handleGetStatus(w http.ResponseWriter, req *http.Request) {
	players := r.core.Statuses()

	online := 0
	for _, p := range players {
		if p.Online {
			online++
		}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Players: players,
		Slots:   r.core.Slots(),
		Online:  online,
	})
}

// handleGetSlots returns occupancy for every map/kit slot
func (r *Router) handleGetSlots(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.core.Slots())
}

// handleGetPlayers returns all known players
func (r *Router) handleGetPlayers(w http.ResponseWriter, req *http.Request) {
	players, err := r.store.GetPlayers(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if players == nil {
		players = []domain.Player{}
	}
	writeJSON(w, http.StatusOK, players)
}

// handleGetPlayer returns a single player
func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	id, err := parseUUID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player uuid")
		return
	}

	player, err := r.store.GetPlayer(req.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// handleGetPlayerMatches returns one player's match history
func (r *Router) handleGetPlayerMatches(w http.ResponseWriter, req *http.Request) {
	id, err := parseUUID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player uuid")
		return
	}

	limit := parseLimit(req, 20, 100)
	matches, err := r.store.GetPlayerMatches(req.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		matches = []domain.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleGetMatches returns recent matches across all players
func (r *Router) handleGetMatches(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 50, 200)
	matches, err := r.store.GetRecentMatches(req.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		matches = []domain.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleFlush forces an immediate flush of every buffered action log
func (r *Router) handleFlush(w http.ResponseWriter, req *http.Request) {
	r.core.FlushAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// handleHealth is a simple liveness check
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"ws_clients": r.wsHub.ClientCount(),
	})
}
