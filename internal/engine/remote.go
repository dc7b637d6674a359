// Package engine bridges the game core to the actual block-game server.
// The server side runs a thin plugin that executes world commands and
// reports world events; both directions travel over the embedded NATS bus
// so the core stays engine-agnostic.
package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ernie/fortcore/internal/bus"
	"github.com/ernie/fortcore/internal/config"
	"github.com/ernie/fortcore/internal/domain"
	"github.com/ernie/fortcore/internal/game"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Bridge subjects
const (
	SubjectCommands = "fortcore.engine.cmd"    // core -> plugin, fire and forget
	SubjectBlocks   = "fortcore.engine.block"  // core -> plugin, request/reply
	SubjectEvents   = "fortcore.engine.events" // plugin -> core
)

// blockTimeout bounds how long a block revert waits for the plugin ack.
// The rollback engine retries unacknowledged reverts on its next cycle.
const blockTimeout = 2 * time.Second

// Command is one world operation for the plugin to execute
type Command struct {
	Op        string           `json:"op"`
	Player    uuid.UUID        `json:"player,omitempty"`
	World     string           `json:"world,omitempty"`
	Spawn     *config.Spawn    `json:"spawn,omitempty"`
	Pos       *domain.Position `json:"pos,omitempty"`
	BlockType string           `json:"block_type,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// BlockReply is the plugin's acknowledgement of a block command
type BlockReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WorldEvent is one inbound event reported by the plugin
type WorldEvent struct {
	Op        string          `json:"op"`
	Player    uuid.UUID       `json:"player"`
	Name      string          `json:"name,omitempty"`
	KitIndex  int             `json:"kit_index,omitempty"`
	World     string          `json:"world,omitempty"`
	Pos       domain.Position `json:"pos,omitempty"`
	BlockType string          `json:"block_type,omitempty"`
}

// World event ops
const (
	OpJoin       = "join"
	OpQuit       = "quit"
	OpDeath      = "death"
	OpOut        = "out"
	OpKitSelect  = "kit_select"
	OpBlockBreak = "block_break"
	OpBlockPlace = "block_place"
)

// Remote implements game.Engine by publishing commands on the bus
type Remote struct {
	conn *nats.Conn
}

// NewRemote creates an engine bridge over the given bus
func NewRemote(b *bus.Bus) *Remote {
	return &Remote{conn: b.Conn()}
}

// send publishes a fire-and-forget command
func (r *Remote) send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshaling %s command: %w", cmd.Op, err)
	}
	if err := r.conn.Publish(SubjectCommands, data); err != nil {
		return fmt.Errorf("publishing %s command: %w", cmd.Op, err)
	}
	return nil
}

func (r *Remote) ResetPlayer(player uuid.UUID, spawn config.Spawn) error {
	return r.send(Command{Op: "reset", Player: player, Spawn: &spawn})
}

func (r *Remote) TeleportPlayer(player uuid.UUID, spawn config.Spawn) error {
	return r.send(Command{Op: "teleport", Player: player, Spawn: &spawn})
}

// SetBlock waits for the plugin to acknowledge the change. A missing or
// negative ack turns into an error so the caller can retry.
func (r *Remote) SetBlock(world string, pos domain.Position, blockType string) error {
	cmd := Command{Op: "set_block", World: world, Pos: &pos, BlockType: blockType}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshaling set_block command: %w", err)
	}

	msg, err := r.conn.Request(SubjectBlocks, data, blockTimeout)
	if err != nil {
		return fmt.Errorf("set_block at (%d,%d,%d): %w", pos.X, pos.Y, pos.Z, err)
	}

	var reply BlockReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decoding set_block reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("set_block at (%d,%d,%d): %s", pos.X, pos.Y, pos.Z, reply.Error)
	}
	return nil
}

func (r *Remote) ClearInventory(player uuid.UUID) error {
	return r.send(Command{Op: "clear_inventory", Player: player})
}

func (r *Remote) StrikeLightning(player uuid.UUID) {
	if err := r.send(Command{Op: "lightning", Player: player}); err != nil {
		log.Printf("engine: %v", err)
	}
}

func (r *Remote) SendMessage(player uuid.UUID, message string) {
	if err := r.send(Command{Op: "message", Player: player, Message: message}); err != nil {
		log.Printf("engine: %v", err)
	}
}

// Listen subscribes to plugin events and feeds them into the core.
// Per-player errors are already recovered inside the core; anything that
// still comes back is logged and dropped.
func Listen(b *bus.Bus, core *game.Core) (*nats.Subscription, error) {
	return b.Conn().Subscribe(SubjectEvents, func(msg *nats.Msg) {
		var ev WorldEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("engine: dropping malformed event: %v", err)
			return
		}
		if err := dispatch(core, ev); err != nil {
			log.Printf("engine: %s for %s: %v", ev.Op, ev.Player, err)
		}
	})
}

func dispatch(core *game.Core, ev WorldEvent) error {
	switch ev.Op {
	case OpJoin:
		return core.HandleJoin(ev.Player, ev.Name)
	case OpQuit:
		return core.HandleQuit(ev.Player)
	case OpDeath:
		return core.HandleDeath(ev.Player)
	case OpOut:
		return core.HandleOutCommand(ev.Player)
	case OpKitSelect:
		return core.HandleKitSelect(ev.Player, ev.KitIndex)
	case OpBlockBreak:
		core.HandleBlockBreak(ev.Player, ev.Pos, ev.World, ev.BlockType)
		return nil
	case OpBlockPlace:
		core.HandleBlockPlace(ev.Player, ev.Pos, ev.World, ev.BlockType)
		return nil
	default:
		return fmt.Errorf("unknown event op %q", ev.Op)
	}
}
