package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ernie/fortcore/internal/actionlog"
	"github.com/ernie/fortcore/internal/bus"
	"github.com/ernie/fortcore/internal/config"
	"github.com/ernie/fortcore/internal/domain"
	"github.com/ernie/fortcore/internal/game"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b, err := bus.New(-1)
	if err != nil {
		t.Fatalf("bus.New: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestSetBlockAcknowledged(t *testing.T) {
	b := newTestBus(t)
	remote := NewRemote(b)

	// Fake plugin: ack every block command
	var got Command
	sub, err := b.Conn().Subscribe(SubjectBlocks, func(msg *nats.Msg) {
		json.Unmarshal(msg.Data, &got)
		reply, _ := json.Marshal(BlockReply{OK: true})
		msg.Respond(reply)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	pos := domain.Position{X: 1, Y: 64, Z: -3}
	if err := remote.SetBlock("world", pos, "minecraft:stone"); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	if got.Op != "set_block" || *got.Pos != pos || got.BlockType != "minecraft:stone" {
		t.Errorf("plugin received %+v", got)
	}
}

func TestSetBlockRejectedByPlugin(t *testing.T) {
	b := newTestBus(t)
	remote := NewRemote(b)

	sub, err := b.Conn().Subscribe(SubjectBlocks, func(msg *nats.Msg) {
		reply, _ := json.Marshal(BlockReply{OK: false, Error: "chunk not loaded"})
		msg.Respond(reply)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := remote.SetBlock("world", domain.Position{Y: 64}, "minecraft:air"); err == nil {
		t.Fatal("SetBlock succeeded, want error from plugin nak")
	}
}

func TestListenDispatchesJoin(t *testing.T) {
	b := newTestBus(t)

	cfg := &config.Config{
		LobbySpawn: config.Spawn{World: "world", Y: 100},
		Maps: []config.MapConfig{
			{Name: "Diamond Arena", Creator: "Admin", World: "world"},
		},
		Kits: []config.KitConfig{
			{Name: "Diamond SMP", Creator: "Admin", MaxPlayers: 2},
		},
		Rollback: config.RollbackConfig{
			LogDir:           t.TempDir(),
			FlushInterval:    time.Hour,
			BatchSize:        2,
			TeleportCooldown: time.Nanosecond,
		},
	}
	logs, err := actionlog.New(cfg.Rollback.LogDir, "")
	if err != nil {
		t.Fatalf("actionlog.New: %v", err)
	}
	core, err := game.NewCore(cfg, NewRemote(b), logs, nil)
	if err != nil {
		t.Fatalf("game.NewCore: %v", err)
	}

	sub, err := Listen(b, core)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer sub.Unsubscribe()

	player := uuid.New()
	data, _ := json.Marshal(WorldEvent{Op: OpJoin, Player: player, Name: "steve"})
	if err := b.Conn().Publish(SubjectEvents, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := core.State(player); ok {
			if state != domain.StateLobby {
				t.Fatalf("state = %s, want LOBBY", state)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("join event never reached the core")
}
