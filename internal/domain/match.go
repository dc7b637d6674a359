package domain

import (
	"time"

	"github.com/google/uuid"
)

// MatchRecord is a finished (or in-progress) match session for one player
type MatchRecord struct {
	ID              int64      `json:"id"`
	PlayerUUID      uuid.UUID  `json:"player_uuid"`
	PlayerName      string     `json:"player_name,omitempty"`
	MapName         string     `json:"map_name"`
	KitName         string     `json:"kit_name"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndReason       string     `json:"end_reason,omitempty"`
	ActionsRecorded int64      `json:"actions_recorded"`
	ActionsReverted int64      `json:"actions_reverted"`
}

// End reasons for a match record
const (
	EndReasonDeath      = "death"
	EndReasonDisconnect = "disconnect"
	EndReasonOut        = "out"
	EndReasonResume     = "resume" // rollback resumed after a restart
)

// SlotStatus is a live view of one map/kit slot for the API
type SlotStatus struct {
	KitIndex  int    `json:"kit_index"`
	MapName   string `json:"map_name"`
	KitName   string `json:"kit_name"`
	Occupants int    `json:"occupants"`
	Capacity  int    `json:"capacity"`
}
