package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types for bus publication and WebSocket broadcast
const (
	EventPlayerJoin       = "player_join"
	EventPlayerLeave      = "player_leave"
	EventStateChange      = "state_change"
	EventMatchStart       = "match_start"
	EventMatchEnd         = "match_end"
	EventRollbackStart    = "rollback_start"
	EventRollbackComplete = "rollback_complete"
)

// Event is a real-time lifecycle event
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// StateChangeEvent is sent on every accepted state machine transition
type StateChangeEvent struct {
	PlayerUUID uuid.UUID `json:"player_uuid"`
	From       GameState `json:"from"`
	To         GameState `json:"to"`
	Trigger    Trigger   `json:"trigger"`
}

// MatchStartEvent is sent when a player enters MATCH
type MatchStartEvent struct {
	PlayerUUID uuid.UUID `json:"player_uuid"`
	MapName    string    `json:"map_name"`
	KitName    string    `json:"kit_name"`
	KitIndex   int       `json:"kit_index"`
}

// MatchEndEvent is sent when a player leaves MATCH (rollback begins)
type MatchEndEvent struct {
	PlayerUUID uuid.UUID `json:"player_uuid"`
	Reason     string    `json:"reason"`
}

// RollbackStartEvent is sent when a rollback run begins draining
type RollbackStartEvent struct {
	PlayerUUID uuid.UUID `json:"player_uuid"`
	Actions    int       `json:"actions"`
}

// RollbackCompleteEvent is sent when a rollback run has fully drained
type RollbackCompleteEvent struct {
	PlayerUUID uuid.UUID `json:"player_uuid"`
	Reverted   int       `json:"reverted"`
}

// PlayerJoinEvent is sent when a player connects
type PlayerJoinEvent struct {
	PlayerUUID uuid.UUID `json:"player_uuid"`
	Name       string    `json:"name"`
}

// PlayerLeaveEvent is sent when a player disconnects
type PlayerLeaveEvent struct {
	PlayerUUID uuid.UUID `json:"player_uuid"`
}
