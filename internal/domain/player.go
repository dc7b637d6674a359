package domain

import (
	"time"

	"github.com/google/uuid"
)

// Player is a known player as stored in the database
type Player struct {
	UUID          uuid.UUID `json:"uuid"`
	Name          string    `json:"name"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	MatchesPlayed int64     `json:"matches_played"`
}

// PlayerStatus is a live view of a connected player's session for the API
type PlayerStatus struct {
	UUID     uuid.UUID `json:"uuid"`
	Name     string    `json:"name"`
	State    GameState `json:"state"`
	KitIndex *int      `json:"kit_index,omitempty"`
	Online   bool      `json:"online"`
	JoinedAt time.Time `json:"joined_at"`
	Buffered int       `json:"buffered_actions"`
}
