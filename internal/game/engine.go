package game

import (
	"github.com/ernie/fortcore/internal/config"
	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
)

// Engine is the game engine collaborator. The core drives all world and
// player mutations through it and never touches the engine's internals;
// block events, deaths, joins and quits flow back in through the Handle*
// methods on Core.
type Engine interface {
	// ResetPlayer performs the full lobby reset: survival gamemode, clear
	// effects and inventory, teleport to spawn, grant the menu compass,
	// apply the lobby weakness effect.
	ResetPlayer(player uuid.UUID, spawn config.Spawn) error

	// TeleportPlayer moves the player to a map spawn with a cleared
	// inventory, ready for a match.
	TeleportPlayer(player uuid.UUID, spawn config.Spawn) error

	// SetBlock writes a single block, used to revert recorded mutations.
	SetBlock(world string, pos domain.Position, blockType string) error

	// ClearInventory empties the player's inventory (death cleanup).
	ClearInventory(player uuid.UUID) error

	// StrikeLightning plays the death feedback at the player's location.
	StrikeLightning(player uuid.UUID)

	// SendMessage delivers a chat message to the player if online.
	SendMessage(player uuid.UUID, message string)
}
