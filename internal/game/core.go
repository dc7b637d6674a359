package game

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ernie/fortcore/internal/actionlog"
	"github.com/ernie/fortcore/internal/config"
	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
)

// MatchRecorder persists match history. Implemented by storage.Store.
type MatchRecorder interface {
	UpsertPlayer(ctx context.Context, id uuid.UUID, name string, seen time.Time) error
	StartMatch(ctx context.Context, rec *domain.MatchRecord) error
	EndMatch(ctx context.Context, matchID int64, endedAt time.Time, reason string, recorded, reverted int64) error
}

// session is the per-player state owned exclusively by the core
type session struct {
	id         uuid.UUID
	name       string
	state      domain.GameState
	kitIndex   int // -1 when no slot is assigned
	joinedAt   time.Time
	online     bool
	matchID    int64
	matchStart time.Time
	recorded   int64 // actions recorded during the current match
	endReason  string
}

// Core orchestrates the match lifecycle: it owns the player state machine
// and drives the registry, cooldown gate, action buffer, rollback engine and
// persistence. Engine events enter through the Handle* methods; every method
// recovers per-player errors at this boundary so one player's failure never
// corrupts another's flow.
type Core struct {
	cfg      *config.Config
	engine   Engine
	logs     *actionlog.Store
	store    MatchRecorder
	registry *Registry
	cooldown *CooldownGate
	buffer   *ActionBuffer
	events   chan domain.Event

	// TeleportDelay is the pause between reserving a slot and the actual
	// teleport, mirroring the engine's one-tick scheduling. Zero makes
	// the teleport synchronous (used by tests).
	TeleportDelay time.Duration

	mu        sync.Mutex
	sessions  map[uuid.UUID]*session
	rollbacks map[uuid.UUID]*Rollback

	done chan struct{}
	wg   sync.WaitGroup
}

// NewCore wires the core from configuration and collaborators. The registry
// construction surfaces map/kit mismatches before any match is offered.
func NewCore(cfg *config.Config, engine Engine, logs *actionlog.Store, store MatchRecorder) (*Core, error) {
	registry, err := NewRegistry(cfg.Maps, cfg.Kits)
	if err != nil {
		return nil, err
	}
	return &Core{
		cfg:           cfg,
		engine:        engine,
		logs:          logs,
		store:         store,
		registry:      registry,
		cooldown:      NewCooldownGate(cfg.Rollback.TeleportCooldown),
		buffer:        NewActionBuffer(),
		events:        make(chan domain.Event, 100),
		TeleportDelay: 50 * time.Millisecond,
		sessions:      make(map[uuid.UUID]*session),
		rollbacks:     make(map[uuid.UUID]*Rollback),
		done:          make(chan struct{}),
	}, nil
}

// Events returns the channel of lifecycle events for bus publication
func (c *Core) Events() <-chan domain.Event {
	return c.events
}

// Start launches the periodic flush task and resumes any rollbacks left
// incomplete by a previous run.
func (c *Core) Start(ctx context.Context) error {
	if err := c.resumeRollbacks(); err != nil {
		return err
	}
	c.wg.Add(1)
	go c.flushLoop()
	return nil
}

// Stop flushes all buffers and waits for background tasks to finish.
// In-progress rollbacks are interrupted; their logs stay on disk and are
// resumed on the next start.
func (c *Core) Stop() {
	log.Println("game core: stopping...")
	close(c.done)
	c.FlushAll()
	c.wg.Wait()
	log.Println("game core: shutdown complete")
}

// publish sends an event without ever blocking the serving path
func (c *Core) publish(eventType string, data interface{}) {
	ev := domain.Event{Type: eventType, Timestamp: time.Now(), Data: data}
	select {
	case c.events <- ev:
	default:
		log.Printf("event channel full, dropping %s", eventType)
	}
}

// transitionLocked applies a trigger to the session's state. On an invalid
// pair it returns ErrInvalidTransition and changes nothing.
func (c *Core) transitionLocked(s *session, trigger domain.Trigger) error {
	next, err := domain.Next(s.state, trigger)
	if err != nil {
		return fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, trigger, s.state)
	}
	from := s.state
	s.state = next
	c.publish(domain.EventStateChange, domain.StateChangeEvent{
		PlayerUUID: s.id,
		From:       from,
		To:         next,
		Trigger:    trigger,
	})
	return nil
}

// HandleJoin registers a connecting player. The player gets a full reset and
// starts in LOBBY, unless a rollback from their previous session is still
// draining, in which case they stay ROLLBACK-bound until it completes.
func (c *Core) HandleJoin(player uuid.UUID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A session left over in a non-ROLLBACK state means the previous
	// connection's quit event was lost. Tear it down through the normal
	// quit path so its slot and log are not leaked by the overwrite.
	if s, ok := c.sessions[player]; ok && s.state != domain.StateRollback {
		log.Printf("join for %s over a stale %s session, cleaning up", player, s.state)
		c.quitLocked(s)
	}

	if s, ok := c.sessions[player]; ok && s.state == domain.StateRollback {
		s.online = true
		s.name = name
		c.engine.SendMessage(player, "Your previous match is still being restored, hold on...")
		c.publish(domain.EventPlayerJoin, domain.PlayerJoinEvent{PlayerUUID: player, Name: name})
		return nil
	}

	s := &session{
		id:       player,
		name:     name,
		state:    domain.StateLobby,
		kitIndex: -1,
		joinedAt: time.Now(),
		online:   true,
	}
	c.sessions[player] = s

	if err := c.engine.ResetPlayer(player, c.cfg.LobbySpawn); err != nil {
		log.Printf("resetting %s on join: %v", player, err)
	}
	if c.store != nil {
		if err := c.store.UpsertPlayer(context.Background(), player, name, s.joinedAt); err != nil {
			log.Printf("recording player %s: %v", player, err)
		}
	}
	c.engine.SendMessage(player, "=== FortCore ===")
	c.engine.SendMessage(player, "Right-click the compass to join a match!")
	c.publish(domain.EventPlayerJoin, domain.PlayerJoinEvent{PlayerUUID: player, Name: name})
	return nil
}

// HandleQuit processes a disconnect. Valid from every state except LOBBY in
// the state machine sense, but a quit in LOBBY simply ends the session. A
// quit during MATCH starts the rollback; a quit during ROLLBACK detaches the
// player while the rollback keeps draining (idempotent for repeats).
func (c *Core) HandleQuit(player uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[player]
	if !ok {
		return nil
	}
	c.quitLocked(s)
	return nil
}

func (c *Core) quitLocked(s *session) {
	c.publish(domain.EventPlayerLeave, domain.PlayerLeaveEvent{PlayerUUID: s.id})

	switch s.state {
	case domain.StateMatch:
		s.online = false
		c.leaveMatchLocked(s, domain.TriggerDisconnect, domain.EndReasonDisconnect)
	case domain.StateRollback:
		s.online = false
	case domain.StateTeleporting:
		c.registry.Release(s.kitIndex)
		c.transitionLocked(s, domain.TriggerDisconnect)
		delete(c.sessions, s.id)
	default:
		delete(c.sessions, s.id)
	}
}

// HandleDeath processes a player death. Outside MATCH it is rejected with no
// side effects; inside MATCH it plays the death feedback and starts rollback.
func (c *Core) HandleDeath(player uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[player]
	if !ok {
		return domain.ErrUnknownPlayer
	}
	if _, err := domain.Next(s.state, domain.TriggerDeath); err != nil {
		return err
	}

	c.engine.StrikeLightning(player)
	if err := c.engine.ClearInventory(player); err != nil {
		log.Printf("clearing inventory for %s: %v", player, err)
	}
	c.leaveMatchLocked(s, domain.TriggerDeath, domain.EndReasonDeath)
	return nil
}

// HandleOutCommand processes the /out command. Only valid during MATCH;
// any other state yields a message and no state change.
func (c *Core) HandleOutCommand(player uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[player]
	if !ok {
		return domain.ErrUnknownPlayer
	}
	if s.state != domain.StateMatch {
		c.engine.SendMessage(player, "You are not in a match!")
		return domain.ErrInvalidTransition
	}

	c.engine.SendMessage(player, "Leaving match...")
	c.leaveMatchLocked(s, domain.TriggerOut, domain.EndReasonOut)
	return nil
}

// HandleBlockBreak records a broken block while the player is in MATCH.
// previousBlockType is what stood at the position, needed for reversal.
func (c *Core) HandleBlockBreak(player uuid.UUID, pos domain.Position, world, previousBlockType string) {
	c.recordAction(player, domain.ActionBreak, pos, world, previousBlockType)
}

// HandleBlockPlace records a placed block while the player is in MATCH
func (c *Core) HandleBlockPlace(player uuid.UUID, pos domain.Position, world, newBlockType string) {
	c.recordAction(player, domain.ActionPlace, pos, world, newBlockType)
}

func (c *Core) recordAction(player uuid.UUID, kind domain.ActionKind, pos domain.Position, world, blockType string) {
	c.mu.Lock()
	s, ok := c.sessions[player]
	if !ok || s.state != domain.StateMatch {
		c.mu.Unlock()
		return
	}
	s.recorded++
	c.mu.Unlock()

	c.buffer.Record(player, domain.Action{
		Timestamp: time.Now(),
		Kind:      kind,
		Pos:       pos,
		World:     world,
		BlockType: blockType,
	})
}

// HandleKitSelect processes a menu selection. LOBBY players enter QUEUE;
// QUEUE players (including retries after Full or StillCooling) attempt the
// capacity and cooldown guards and, when both pass, move to TELEPORTING.
func (c *Core) HandleKitSelect(player uuid.UUID, kitIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[player]
	if !ok {
		return domain.ErrUnknownPlayer
	}
	if kitIndex < 0 || kitIndex >= c.registry.Len() {
		c.engine.SendMessage(player, "Invalid selection!")
		return fmt.Errorf("kit index %d out of range", kitIndex)
	}

	if s.state == domain.StateLobby {
		if err := c.transitionLocked(s, domain.TriggerSelectKit); err != nil {
			return err
		}
	}
	if s.state != domain.StateQueue {
		c.engine.SendMessage(player, "You are already in a match!")
		return fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, domain.TriggerCapacityOK, s.state)
	}

	// Capacity and cooldown guards. Reservation is atomic; a cooldown
	// failure returns the reserved place so occupancy stays exact.
	if err := c.registry.TryReserve(kitIndex); err != nil {
		c.engine.SendMessage(player, "This match is full!")
		return err
	}
	if err := c.cooldown.TryStartTeleport(kitIndex, time.Now()); err != nil {
		c.registry.Release(kitIndex)
		c.engine.SendMessage(player, "Someone just teleported! Wait a moment...")
		return err
	}

	if err := c.transitionLocked(s, domain.TriggerCapacityOK); err != nil {
		c.registry.Release(kitIndex)
		return err
	}
	s.kitIndex = kitIndex

	if c.TeleportDelay <= 0 {
		c.completeTeleportLocked(s)
		return nil
	}
	id := s.id
	time.AfterFunc(c.TeleportDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.sessions[id]; ok && s.state == domain.StateTeleporting {
			c.completeTeleportLocked(s)
		}
	})
	return nil
}

// completeTeleportLocked finishes TELEPORTING→MATCH: teleport the player,
// start their action buffer and on-disk log, record the match row.
func (c *Core) completeTeleportLocked(s *session) {
	m := c.cfg.Maps[s.kitIndex]
	kit := c.cfg.Kits[s.kitIndex]

	if err := c.engine.TeleportPlayer(s.id, m.Spawn); err != nil {
		log.Printf("teleporting %s to %s: %v", s.id, m.Name, err)
		c.registry.Release(s.kitIndex)
		s.kitIndex = -1
		c.resetToLobbyLocked(s)
		return
	}

	if err := c.transitionLocked(s, domain.TriggerTeleportDone); err != nil {
		c.registry.Release(s.kitIndex)
		return
	}

	c.buffer.Drop(s.id)
	s.recorded = 0
	s.matchStart = time.Now()
	if err := c.logs.Create(s.id); err != nil {
		log.Printf("creating rollback log for %s: %v", s.id, err)
	}

	if c.store != nil {
		rec := &domain.MatchRecord{
			PlayerUUID: s.id,
			MapName:    m.Name,
			KitName:    kit.Name,
			StartedAt:  s.matchStart,
		}
		if err := c.store.StartMatch(context.Background(), rec); err != nil {
			log.Printf("recording match for %s: %v", s.id, err)
		} else {
			s.matchID = rec.ID
		}
	}

	c.engine.SendMessage(s.id, "=== FortCore ===")
	c.engine.SendMessage(s.id, fmt.Sprintf("%s — By: %s", m.Name, m.Creator))
	c.engine.SendMessage(s.id, fmt.Sprintf("%s — By: %s", kit.Name, kit.Creator))
	c.publish(domain.EventMatchStart, domain.MatchStartEvent{
		PlayerUUID: s.id,
		MapName:    m.Name,
		KitName:    kit.Name,
		KitIndex:   s.kitIndex,
	})
}

// resetToLobbyLocked reinitializes a session to LOBBY outside the normal
// transition table (join and teleport-failure paths).
func (c *Core) resetToLobbyLocked(s *session) {
	if s.online {
		if err := c.engine.ResetPlayer(s.id, c.cfg.LobbySpawn); err != nil {
			log.Printf("resetting %s: %v", s.id, err)
		}
	}
	s.state = domain.StateLobby
}

// flushLoop periodically flushes every buffered player. It runs off the
// serving path; a failed flush is reported and retried next cycle without
// stalling other players.
func (c *Core) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Rollback.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.FlushAll()
		}
	}
}

// FlushAll flushes every player that has buffered actions. Errors are
// isolated per player.
func (c *Core) FlushAll() {
	for _, player := range c.buffer.Players() {
		if err := c.FlushPlayer(player); err != nil {
			log.Printf("flushing buffer for %s: %v", player, err)
		}
	}
}

// FlushPlayer moves the player's buffered actions to the on-disk log in
// order. An empty buffer is a no-op. On failure the actions return to the
// buffer for retry on the next cycle.
func (c *Core) FlushPlayer(player uuid.UUID) error {
	actions := c.buffer.Take(player)
	if len(actions) == 0 {
		return nil
	}
	if err := c.logs.Append(player, actions); err != nil {
		c.buffer.Restore(player, actions)
		return fmt.Errorf("persisting %d actions: %w", len(actions), err)
	}
	return nil
}

// Statuses returns a live view of every active session, sorted by join time
func (c *Core) Statuses() []domain.PlayerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]domain.PlayerStatus, 0, len(c.sessions))
	for _, s := range c.sessions {
		st := domain.PlayerStatus{
			UUID:     s.id,
			Name:     s.name,
			State:    s.state,
			Online:   s.online,
			JoinedAt: s.joinedAt,
			Buffered: c.buffer.Len(s.id),
		}
		if s.kitIndex >= 0 {
			kit := s.kitIndex
			st.KitIndex = &kit
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].JoinedAt.Before(statuses[j].JoinedAt)
	})
	return statuses
}

// Slots returns the current occupancy of every map/kit slot
func (c *Core) Slots() []domain.SlotStatus {
	return c.registry.Snapshot()
}

// State returns the current state of a player's session
func (c *Core) State(player uuid.UUID) (domain.GameState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[player]
	if !ok {
		return "", false
	}
	return s.state, true
}
