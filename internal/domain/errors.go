package domain

import "errors"

var (
	// ErrInvalidTransition is returned when a trigger is not valid for the
	// player's current state. The transition has no side effects.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrMatchFull is returned when a match slot is at capacity.
	ErrMatchFull = errors.New("match is full")

	// ErrStillCooling is returned when the per-kit teleport cooldown has
	// not elapsed. The requesting player stays in QUEUE and may retry.
	ErrStillCooling = errors.New("teleport cooldown active")

	// ErrConfigMismatch is returned at load time when the maps and kits
	// collections disagree. No matches are offered in that case.
	ErrConfigMismatch = errors.New("maps and kits configuration mismatch")

	// ErrUnknownPlayer is returned for triggers against a player that has
	// no active session.
	ErrUnknownPlayer = errors.New("unknown player")
)
