package game

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ernie/fortcore/internal/actionlog"
	"github.com/ernie/fortcore/internal/config"
	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
)

// fakeEngine simulates the game engine collaborator and a single world
type fakeEngine struct {
	mu        sync.Mutex
	world     map[domain.Position]string
	setCalls  int
	resets    int
	teleports int
	lightning int
	failSets  int // fail the next N SetBlock calls
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{world: make(map[domain.Position]string)}
}

func (e *fakeEngine) ResetPlayer(player uuid.UUID, spawn config.Spawn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
	return nil
}

func (e *fakeEngine) TeleportPlayer(player uuid.UUID, spawn config.Spawn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teleports++
	return nil
}

func (e *fakeEngine) SetBlock(world string, pos domain.Position, blockType string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failSets > 0 {
		e.failSets--
		return fmt.Errorf("chunk not loaded")
	}
	e.setCalls++
	e.world[pos] = blockType
	return nil
}

func (e *fakeEngine) ClearInventory(player uuid.UUID) error { return nil }

func (e *fakeEngine) StrikeLightning(player uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lightning++
}

func (e *fakeEngine) SendMessage(player uuid.UUID, message string) {}

func (e *fakeEngine) blockAt(pos domain.Position) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world[pos]
}

func (e *fakeEngine) setBlockCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setCalls
}

func testConfig(t *testing.T, capacity int) *config.Config {
	t.Helper()
	return &config.Config{
		LobbySpawn: config.Spawn{World: "world", Y: 100},
		Maps: []config.MapConfig{
			{Name: "Diamond Arena", Creator: "Admin", World: "world", Spawn: config.Spawn{X: 100, Y: 64, Z: 100}},
			{Name: "Netherite Arena", Creator: "Admin", World: "world", Spawn: config.Spawn{X: -100, Y: 64, Z: -100}},
		},
		Kits: []config.KitConfig{
			{Name: "Diamond SMP", Creator: "Admin", MaxPlayers: capacity},
			{Name: "Netherite SMP", Creator: "Admin", MaxPlayers: capacity},
		},
		Rollback: config.RollbackConfig{
			LogDir:           t.TempDir(),
			FlushInterval:    time.Hour,
			CycleInterval:    0, // rollback driven manually via RollbackStep
			BatchSize:        2,
			TeleportCooldown: time.Nanosecond,
		},
	}
}

func newTestCore(t *testing.T, cfg *config.Config) (*Core, *fakeEngine) {
	t.Helper()
	engine := newFakeEngine()
	logs, err := actionlog.New(cfg.Rollback.LogDir, cfg.Rollback.ArchiveDir)
	if err != nil {
		t.Fatalf("actionlog.New: %v", err)
	}
	core, err := NewCore(cfg, engine, logs, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	core.TeleportDelay = 0 // synchronous teleports in tests
	return core, engine
}

// enterMatch walks a player through join, kit selection and teleport
func enterMatch(t *testing.T, c *Core, player uuid.UUID, kit int) {
	t.Helper()
	if err := c.HandleJoin(player, "player-"+player.String()[:8]); err != nil {
		t.Fatalf("HandleJoin: %v", err)
	}
	if err := c.HandleKitSelect(player, kit); err != nil {
		t.Fatalf("HandleKitSelect: %v", err)
	}
	if state, _ := c.State(player); state != domain.StateMatch {
		t.Fatalf("state after kit select = %s, want MATCH", state)
	}
}

func activeRollback(c *Core, player uuid.UUID) *Rollback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks[player]
}

func drainRollback(t *testing.T, c *Core, run *Rollback) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if c.RollbackStep(run) {
			return
		}
	}
	t.Fatal("rollback did not drain")
}

func TestJoinStartsInLobby(t *testing.T) {
	c, engine := newTestCore(t, testConfig(t, 8))
	player := uuid.New()

	if err := c.HandleJoin(player, "steve"); err != nil {
		t.Fatalf("HandleJoin: %v", err)
	}
	if state, ok := c.State(player); !ok || state != domain.StateLobby {
		t.Fatalf("state = %s, want LOBBY", state)
	}
	if engine.resets != 1 {
		t.Fatalf("resets = %d, want 1 (full reset on join)", engine.resets)
	}
}

func TestDeathOutsideMatchRejectedWithoutSideEffects(t *testing.T) {
	c, engine := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	c.HandleJoin(player, "steve")

	err := c.HandleDeath(player)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	if state, _ := c.State(player); state != domain.StateLobby {
		t.Fatalf("state changed to %s on rejected trigger", state)
	}
	if engine.lightning != 0 {
		t.Fatal("lightning struck on rejected death")
	}
}

// Scenario A: break then place on the same coordinate; rollback restores the
// original pre-break block, not the placed one and not air.
func TestRollbackRestoresOverlappingEdits(t *testing.T) {
	c, engine := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	pos := domain.Position{X: 10, Y: 64, Z: 10}
	engine.world[pos] = "minecraft:air" // world state after the player's edits

	c.HandleBlockBreak(player, pos, "world", "minecraft:grass_block")
	c.HandleBlockPlace(player, pos, "world", "minecraft:stone")
	engine.world[pos] = "minecraft:stone"

	if err := c.HandleOutCommand(player); err != nil {
		t.Fatalf("HandleOutCommand: %v", err)
	}
	run := activeRollback(c, player)
	if run == nil {
		t.Fatal("no rollback run started")
	}
	drainRollback(t, c, run)

	if got := engine.blockAt(pos); got != "minecraft:grass_block" {
		t.Fatalf("block after rollback = %q, want the pre-break grass block", got)
	}
	if state, _ := c.State(player); state != domain.StateLobby {
		t.Fatalf("state after rollback = %s, want LOBBY", state)
	}
}

// Scenario B: two players race for a kit with capacity 1
func TestSecondJoinReceivesFullAndStaysQueued(t *testing.T) {
	c, _ := newTestCore(t, testConfig(t, 1))
	p1, p2 := uuid.New(), uuid.New()

	enterMatch(t, c, p1, 0)

	c.HandleJoin(p2, "alex")
	err := c.HandleKitSelect(p2, 0)
	if !errors.Is(err, domain.ErrMatchFull) {
		t.Fatalf("error = %v, want ErrMatchFull", err)
	}
	if state, _ := c.State(p2); state != domain.StateQueue {
		t.Fatalf("state = %s, want QUEUE", state)
	}
	if got := c.Slots()[0].Occupants; got != 1 {
		t.Fatalf("occupants = %d, want 1", got)
	}
}

// Scenario C: disconnect mid-match with unflushed actions; all are reverted
func TestDisconnectRevertsUnflushedActions(t *testing.T) {
	c, engine := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	for i := 0; i < 5; i++ {
		c.HandleBlockBreak(player, domain.Position{X: i, Y: 64, Z: 0}, "world", "minecraft:dirt")
	}
	if err := c.HandleQuit(player); err != nil {
		t.Fatalf("HandleQuit: %v", err)
	}

	run := activeRollback(c, player)
	if run == nil {
		t.Fatal("no rollback run started on disconnect")
	}
	drainRollback(t, c, run)

	if got := engine.setBlockCalls(); got != 5 {
		t.Fatalf("%d reversals applied, want 5", got)
	}
	// Offline player's session is destroyed once rollback completes
	if _, ok := c.State(player); ok {
		t.Fatal("session still exists after offline rollback completed")
	}
}

// Scenario D: a flush cycle with an empty buffer writes nothing
func TestEmptyFlushIsNoOp(t *testing.T) {
	c, _ := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	logPath := filepath.Join(c.cfg.Rollback.LogDir, "rollback_"+player.String()+".csv")
	before, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}

	c.FlushAll()

	after, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if after.Size() != before.Size() {
		t.Fatalf("log grew from %d to %d bytes on empty flush", before.Size(), after.Size())
	}
}

// Starting rollback twice produces exactly one reversal run
func TestRollbackIdempotent(t *testing.T) {
	c, engine := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	for i := 0; i < 3; i++ {
		c.HandleBlockPlace(player, domain.Position{X: i, Y: 64, Z: 0}, "world", "minecraft:stone")
	}

	if err := c.HandleDeath(player); err != nil {
		t.Fatalf("HandleDeath: %v", err)
	}
	first := activeRollback(c, player)

	// Death followed immediately by disconnect must not start a second run
	if err := c.HandleQuit(player); err != nil {
		t.Fatalf("HandleQuit: %v", err)
	}
	if second := activeRollback(c, player); second != first {
		t.Fatal("duplicate trigger started a second rollback run")
	}

	drainRollback(t, c, first)
	if got := engine.setBlockCalls(); got != 3 {
		t.Fatalf("%d reversals applied, want exactly 3", got)
	}
}

// The engine applies no more than BatchSize reversals per cycle
func TestRollbackBatchBound(t *testing.T) {
	c, _ := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	for i := 0; i < 5; i++ {
		c.HandleBlockBreak(player, domain.Position{X: i, Y: 64, Z: 0}, "world", "minecraft:dirt")
	}
	c.HandleDeath(player)
	run := activeRollback(c, player)

	steps := 0
	for !c.RollbackStep(run) {
		steps++
		if steps > 10 {
			t.Fatal("rollback did not converge")
		}
	}
	steps++
	// 5 actions at batch size 2 need exactly 3 cycles
	if steps != 3 {
		t.Fatalf("rollback drained in %d cycles, want 3", steps)
	}
}

// A failed reversal stays at the front and is retried on the next cycle
func TestRollbackRetriesFailedReversal(t *testing.T) {
	c, engine := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	c.HandleBlockBreak(player, domain.Position{X: 1, Y: 64, Z: 1}, "world", "minecraft:dirt")
	c.HandleDeath(player)
	run := activeRollback(c, player)

	engine.mu.Lock()
	engine.failSets = 1
	engine.mu.Unlock()

	if c.RollbackStep(run) {
		t.Fatal("run finished despite failed reversal")
	}
	if !c.RollbackStep(run) {
		t.Fatal("run did not finish on retry")
	}
	if got := engine.blockAt(domain.Position{X: 1, Y: 64, Z: 1}); got != "minecraft:dirt" {
		t.Fatalf("block = %q, want restored dirt", got)
	}
}

// The log file is deleted only after the full reversed sequence has drained
func TestLogDeletedOnlyAfterDrain(t *testing.T) {
	c, _ := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	for i := 0; i < 4; i++ {
		c.HandleBlockBreak(player, domain.Position{X: i, Y: 64, Z: 0}, "world", "minecraft:dirt")
	}
	c.HandleDeath(player)
	run := activeRollback(c, player)

	logPath := filepath.Join(c.cfg.Rollback.LogDir, "rollback_"+player.String()+".csv")
	if c.RollbackStep(run) {
		t.Fatal("run finished early")
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Fatal("log deleted before rollback drained")
	}
	drainRollback(t, c, run)
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatal("log still exists after rollback drained")
	}
}

// Flushed and buffered actions merge into one complete history
func TestRollbackMergesFlushedAndBuffered(t *testing.T) {
	c, engine := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	c.HandleBlockBreak(player, domain.Position{X: 0, Y: 64, Z: 0}, "world", "minecraft:dirt")
	c.HandleBlockBreak(player, domain.Position{X: 1, Y: 64, Z: 0}, "world", "minecraft:dirt")
	if err := c.FlushPlayer(player); err != nil {
		t.Fatalf("FlushPlayer: %v", err)
	}
	c.HandleBlockBreak(player, domain.Position{X: 2, Y: 64, Z: 0}, "world", "minecraft:dirt")

	c.HandleDeath(player)
	run := activeRollback(c, player)
	drainRollback(t, c, run)

	if got := engine.setBlockCalls(); got != 3 {
		t.Fatalf("%d reversals applied, want 3 (no gaps, no duplicates)", got)
	}
}

func TestCooldownKeepsSecondPlayerQueued(t *testing.T) {
	cfg := testConfig(t, 8)
	cfg.Rollback.TeleportCooldown = 5 * time.Second
	c, _ := newTestCore(t, cfg)

	p1, p2 := uuid.New(), uuid.New()
	enterMatch(t, c, p1, 0)

	c.HandleJoin(p2, "alex")
	err := c.HandleKitSelect(p2, 0)
	if !errors.Is(err, domain.ErrStillCooling) {
		t.Fatalf("error = %v, want ErrStillCooling", err)
	}
	if state, _ := c.State(p2); state != domain.StateQueue {
		t.Fatalf("state = %s, want QUEUE", state)
	}
	// The rejected attempt must not have consumed a slot
	if got := c.Slots()[0].Occupants; got != 1 {
		t.Fatalf("occupants = %d, want 1", got)
	}

	// A different kit is not delayed
	if err := c.HandleKitSelect(p2, 1); err != nil {
		t.Fatalf("teleport into independent kit: %v", err)
	}
	if state, _ := c.State(p2); state != domain.StateMatch {
		t.Fatalf("state = %s, want MATCH", state)
	}
}

func TestReconnectDuringRollbackStaysBound(t *testing.T) {
	c, _ := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	enterMatch(t, c, player, 0)

	c.HandleBlockBreak(player, domain.Position{X: 0, Y: 64, Z: 0}, "world", "minecraft:dirt")
	c.HandleQuit(player)
	run := activeRollback(c, player)
	if run == nil {
		t.Fatal("no rollback run after quit")
	}

	// Player reconnects while the rollback is still draining
	c.HandleJoin(player, "steve")
	if state, _ := c.State(player); state != domain.StateRollback {
		t.Fatalf("state on reconnect = %s, want ROLLBACK", state)
	}
	if err := c.HandleKitSelect(player, 0); err == nil {
		t.Fatal("kit select accepted while rollback-bound")
	}

	drainRollback(t, c, run)
	if state, _ := c.State(player); state != domain.StateLobby {
		t.Fatalf("state after drain = %s, want LOBBY", state)
	}
}

func TestResumeRollbacksFromLeftoverLogs(t *testing.T) {
	cfg := testConfig(t, 8)
	c, _ := newTestCore(t, cfg)
	player := uuid.New()
	enterMatch(t, c, player, 0)

	c.HandleBlockBreak(player, domain.Position{X: 7, Y: 64, Z: 7}, "world", "minecraft:dirt")
	if err := c.FlushPlayer(player); err != nil {
		t.Fatalf("FlushPlayer: %v", err)
	}

	// Simulate a restart: a fresh core over the same log dir
	c2, engine2 := newTestCore(t, cfg)
	if err := c2.resumeRollbacks(); err != nil {
		t.Fatalf("resumeRollbacks: %v", err)
	}
	run := activeRollback(c2, player)
	if run == nil {
		t.Fatal("leftover log did not resume a rollback")
	}
	drainRollback(t, c2, run)

	if got := engine2.blockAt(domain.Position{X: 7, Y: 64, Z: 7}); got != "minecraft:dirt" {
		t.Fatalf("block = %q, want restored dirt", got)
	}
	players, err := c2.logs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(players) != 0 {
		t.Fatalf("%d log files remain after resume", len(players))
	}
}

func TestOutCommandOutsideMatch(t *testing.T) {
	c, _ := newTestCore(t, testConfig(t, 8))
	player := uuid.New()
	c.HandleJoin(player, "steve")

	if err := c.HandleOutCommand(player); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	if state, _ := c.State(player); state != domain.StateLobby {
		t.Fatalf("state = %s, want LOBBY unchanged", state)
	}
}

// A failed flush keeps that player's actions buffered for retry and never
// stops the sweep for other players
func TestFlushFaultIsolation(t *testing.T) {
	c, _ := newTestCore(t, testConfig(t, 8))
	p1, p2 := uuid.New(), uuid.New()
	enterMatch(t, c, p1, 0)
	enterMatch(t, c, p2, 1)

	c.HandleBlockBreak(p1, domain.Position{X: 1, Y: 64, Z: 1}, "world", "minecraft:dirt")
	c.HandleBlockBreak(p2, domain.Position{X: 2, Y: 64, Z: 2}, "world", "minecraft:dirt")

	// Break p1's log so the append fails
	p1Log := filepath.Join(c.cfg.Rollback.LogDir, "rollback_"+p1.String()+".csv")
	if err := os.Remove(p1Log); err != nil {
		t.Fatalf("removing log: %v", err)
	}

	c.FlushAll()

	if got := c.buffer.Len(p1); got != 1 {
		t.Fatalf("failed flush left %d buffered actions, want 1 kept for retry", got)
	}
	if got := c.buffer.Len(p2); got != 0 {
		t.Fatalf("other player's flush did not proceed, %d still buffered", got)
	}
	flushed, err := c.logs.ReadReversed(p2)
	if err != nil {
		t.Fatalf("ReadReversed: %v", err)
	}
	if len(flushed) != 1 {
		t.Fatalf("%d actions on disk for the healthy player, want 1", len(flushed))
	}

	// Once the log is writable again the next cycle drains the retained data
	if err := c.logs.Create(p1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	c.FlushAll()
	if got := c.buffer.Len(p1); got != 0 {
		t.Fatalf("retry cycle left %d actions buffered", got)
	}
}

// slowEngine blocks SetBlock until released, simulating an unresponsive
// plugin on the other side of the bridge
type slowEngine struct {
	*fakeEngine
	entered chan struct{}
	release chan struct{}
}

func (e *slowEngine) SetBlock(world string, pos domain.Position, blockType string) error {
	e.entered <- struct{}{}
	<-e.release
	return e.fakeEngine.SetBlock(world, pos, blockType)
}

// An in-flight reversal must not hold the core lock: event handling and
// state queries stay responsive while the engine call is pending
func TestReversalDoesNotBlockEventHandling(t *testing.T) {
	cfg := testConfig(t, 8)
	engine := &slowEngine{
		fakeEngine: newFakeEngine(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	logs, err := actionlog.New(cfg.Rollback.LogDir, "")
	if err != nil {
		t.Fatalf("actionlog.New: %v", err)
	}
	c, err := NewCore(cfg, engine, logs, nil)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	c.TeleportDelay = 0

	player := uuid.New()
	enterMatch(t, c, player, 0)
	c.HandleBlockBreak(player, domain.Position{X: 3, Y: 64, Z: 3}, "world", "minecraft:dirt")
	c.HandleDeath(player)
	run := activeRollback(c, player)

	stepDone := make(chan bool)
	go func() { stepDone <- c.RollbackStep(run) }()
	<-engine.entered // reversal is now waiting on the engine

	queried := make(chan struct{})
	go func() {
		c.State(player)
		close(queried)
	}()
	select {
	case <-queried:
	case <-time.After(2 * time.Second):
		t.Fatal("state query blocked behind an in-flight reversal")
	}

	close(engine.release)
	if !<-stepDone {
		t.Fatal("single-action rollback did not finish")
	}
}

// A join over a stale MATCH session (lost quit event) must not leak the
// reserved slot or the on-disk log
func TestJoinOverStaleMatchSession(t *testing.T) {
	c, _ := newTestCore(t, testConfig(t, 1))
	player := uuid.New()
	enterMatch(t, c, player, 0)
	c.HandleBlockBreak(player, domain.Position{X: 4, Y: 64, Z: 4}, "world", "minecraft:dirt")

	// Rejoin without a quit ever arriving
	if err := c.HandleJoin(player, "steve"); err != nil {
		t.Fatalf("HandleJoin: %v", err)
	}

	if got := c.Slots()[0].Occupants; got != 0 {
		t.Fatalf("occupants = %d, want 0 after stale session teardown", got)
	}
	if state, _ := c.State(player); state != domain.StateRollback {
		t.Fatalf("state = %s, want ROLLBACK until the old match is reverted", state)
	}

	run := activeRollback(c, player)
	if run == nil {
		t.Fatal("stale match session did not start a rollback")
	}
	drainRollback(t, c, run)

	if state, _ := c.State(player); state != domain.StateLobby {
		t.Fatalf("state after drain = %s, want LOBBY", state)
	}
	if c.logs.Exists(player) {
		t.Fatal("stale session's log still on disk")
	}
	if err := c.HandleKitSelect(player, 0); err != nil {
		t.Fatalf("slot unusable after stale teardown: %v", err)
	}
}

func TestQuitDuringTeleportReleasesSlot(t *testing.T) {
	cfg := testConfig(t, 1)
	c, _ := newTestCore(t, cfg)
	c.TeleportDelay = time.Hour // hold the player in TELEPORTING

	player := uuid.New()
	c.HandleJoin(player, "steve")
	if err := c.HandleKitSelect(player, 0); err != nil {
		t.Fatalf("HandleKitSelect: %v", err)
	}
	if state, _ := c.State(player); state != domain.StateTeleporting {
		t.Fatalf("state = %s, want TELEPORTING", state)
	}

	c.HandleQuit(player)
	if got := c.Slots()[0].Occupants; got != 0 {
		t.Fatalf("occupants = %d, want 0 after mid-teleport quit", got)
	}
}
