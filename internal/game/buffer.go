package game

import (
	"sync"

	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
)

// ActionBuffer stages recorded block mutations in memory per player until
// they are flushed to the action log store. Appends never touch storage.
type ActionBuffer struct {
	mu      sync.Mutex
	actions map[uuid.UUID][]domain.Action
}

// NewActionBuffer creates an empty buffer
func NewActionBuffer() *ActionBuffer {
	return &ActionBuffer{actions: make(map[uuid.UUID][]domain.Action)}
}

// Record appends one action to the player's buffered sequence. O(1), no I/O.
func (b *ActionBuffer) Record(player uuid.UUID, action domain.Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions[player] = append(b.actions[player], action)
}

// Take removes and returns the player's buffered sequence in append order.
// Returns nil when nothing is buffered.
func (b *ActionBuffer) Take(player uuid.UUID) []domain.Action {
	b.mu.Lock()
	defer b.mu.Unlock()

	actions := b.actions[player]
	if len(actions) == 0 {
		return nil
	}
	delete(b.actions, player)
	return actions
}

// Restore puts a taken sequence back at the front of the player's buffer.
// Used when a flush fails so the data is retried on the next cycle. Anything
// recorded since Take is newer, so prepending preserves chronological order.
func (b *ActionBuffer) Restore(player uuid.UUID, actions []domain.Action) {
	if len(actions) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions[player] = append(actions, b.actions[player]...)
}

// Len returns the number of buffered actions for the player
func (b *ActionBuffer) Len(player uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.actions[player])
}

// Players returns every player that currently has buffered actions
func (b *ActionBuffer) Players() []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()

	players := make([]uuid.UUID, 0, len(b.actions))
	for p := range b.actions {
		players = append(players, p)
	}
	return players
}

// Drop discards the player's buffered sequence without persisting it
func (b *ActionBuffer) Drop(player uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.actions, player)
}
