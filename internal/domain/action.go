package domain

import "time"

// ActionKind distinguishes the two recorded block mutations
type ActionKind string

const (
	ActionBreak ActionKind = "break"
	ActionPlace ActionKind = "place"
)

// Position is an integer block coordinate
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Action is one recorded block mutation performed by a player in a match.
// Actions are immutable once created; insertion order is chronological order
// and must be preserved end-to-end through buffer, log, and replay.
type Action struct {
	Timestamp time.Time  `json:"timestamp"`
	Kind      ActionKind `json:"kind"`
	Pos       Position   `json:"pos"`
	World     string     `json:"world"`
	BlockType string     `json:"block_type"`
}

const (
	// BlockAir is written when reverting a recorded place.
	BlockAir = "minecraft:air"
)
