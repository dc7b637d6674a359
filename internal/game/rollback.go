package game

import (
	"context"
	"log"
	"time"

	"github.com/ernie/fortcore/internal/domain"
	"github.com/google/uuid"
)

// Rollback is a handle to one player's in-progress reversal run. Each run
// owns its own reversed action list and cursor; runs for different players
// are fully independent. There is no external cancel: a run always drains.
type Rollback struct {
	player   uuid.UUID
	pending  []domain.Action // newest first; mutated only under Core.mu
	reverted int
	stepping bool // a batch is in flight outside the lock
	done     chan struct{}
}

// Done is closed when the run has fully drained and the player was reset
func (r *Rollback) Done() <-chan struct{} {
	return r.done
}

// leaveMatchLocked ends the MATCH phase for a session: applies the exit
// trigger, frees the slot, records the end reason, and begins the rollback.
// With a run already in progress the session is past MATCH, so this falls
// straight through to the idempotent start below.
func (c *Core) leaveMatchLocked(s *session, trigger domain.Trigger, reason string) *Rollback {
	if s.state == domain.StateMatch {
		if err := c.transitionLocked(s, trigger); err != nil {
			return nil
		}
		c.registry.Release(s.kitIndex)
		s.kitIndex = -1
		s.endReason = reason
		c.publish(domain.EventMatchEnd, domain.MatchEndEvent{PlayerUUID: s.id, Reason: reason})
	}
	return c.startRollbackLocked(s, reason)
}

// startRollbackLocked begins the rollback for a ROLLBACK-bound session.
// Calling it again while a run for the same player is in progress is a no-op
// that returns the existing handle, so duplicate triggers (death then
// disconnect) cause exactly one reversal run.
func (c *Core) startRollbackLocked(s *session, reason string) *Rollback {
	if run, ok := c.rollbacks[s.id]; ok {
		return run
	}
	if s.endReason == "" {
		s.endReason = reason
	}

	// Force-flush so the on-disk log is complete before replay. If the
	// flush fails the remaining buffer is merged in memory instead, so
	// unpersisted actions are still reverted.
	if err := c.FlushPlayer(s.id); err != nil {
		log.Printf("force flush for %s: %v", s.id, err)
	}
	unflushed := c.buffer.Take(s.id)

	pending, err := c.logs.ReadReversed(s.id)
	if err != nil {
		log.Printf("reading rollback log for %s: %v", s.id, err)
	}
	if len(unflushed) > 0 {
		// Buffered actions are newer than anything on disk; reversed
		// they go in front of the reversed disk history.
		merged := make([]domain.Action, 0, len(unflushed)+len(pending))
		for i := len(unflushed) - 1; i >= 0; i-- {
			merged = append(merged, unflushed[i])
		}
		pending = append(merged, pending...)
	}

	run := &Rollback{
		player:  s.id,
		pending: pending,
		done:    make(chan struct{}),
	}
	c.rollbacks[s.id] = run
	c.publish(domain.EventRollbackStart, domain.RollbackStartEvent{PlayerUUID: s.id, Actions: len(pending)})

	if len(run.pending) == 0 {
		c.finishRollbackLocked(run)
		return run
	}
	if c.cfg.Rollback.CycleInterval > 0 {
		c.wg.Add(1)
		go c.runRollback(run)
	}
	return run
}

// runRollback drives one player's staggered replay on its own timer
func (c *Core) runRollback(r *Rollback) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Rollback.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.RollbackStep(r) {
				return
			}
		}
	}
}

// RollbackStep reverts at most the configured batch size from the front of
// the reversed list and reports whether the run finished. A failed reversal
// stays at the front and is retried on the next cycle. The engine calls
// themselves happen outside the core lock: SetBlock can be a synchronous
// round trip to the plugin and must not stall event handling.
func (c *Core) RollbackStep(r *Rollback) bool {
	c.mu.Lock()
	if r.stepping {
		c.mu.Unlock()
		return false
	}
	r.stepping = true
	n := c.cfg.Rollback.BatchSize
	if n > len(r.pending) {
		n = len(r.pending)
	}
	batch := make([]domain.Action, n)
	copy(batch, r.pending[:n])
	c.mu.Unlock()

	reverted := 0
	for _, a := range batch {
		if err := c.revertAction(a); err != nil {
			log.Printf("reverting action for %s: %v (retrying next cycle)", r.player, err)
			break
		}
		reverted++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	r.stepping = false
	r.pending = r.pending[reverted:]
	r.reverted += reverted
	if len(r.pending) > 0 || reverted < n {
		return false
	}
	c.finishRollbackLocked(r)
	return true
}

// revertAction applies the inverse of one recorded mutation: a recorded
// place is cleared to air, a recorded break restores the previous block.
func (c *Core) revertAction(a domain.Action) error {
	world := a.World
	if world == "" {
		world = c.cfg.LobbySpawn.World
	}
	switch a.Kind {
	case domain.ActionPlace:
		return c.engine.SetBlock(world, a.Pos, domain.BlockAir)
	case domain.ActionBreak:
		return c.engine.SetBlock(world, a.Pos, a.BlockType)
	default:
		log.Printf("skipping unknown action kind %q at (%d,%d,%d)", a.Kind, a.Pos.X, a.Pos.Y, a.Pos.Z)
		return nil
	}
}

// finishRollbackLocked deletes the drained log, records the match outcome,
// and moves the player ROLLBACK→END→LOBBY with a full reset. An offline
// player's session is destroyed instead.
func (c *Core) finishRollbackLocked(run *Rollback) {
	if err := c.logs.Remove(run.player); err != nil {
		log.Printf("removing rollback log for %s: %v", run.player, err)
	}
	delete(c.rollbacks, run.player)

	s, ok := c.sessions[run.player]
	if ok {
		c.transitionLocked(s, domain.TriggerRollbackDone)
		if s.matchID != 0 && c.store != nil {
			err := c.store.EndMatch(context.Background(), s.matchID, time.Now(), s.endReason, s.recorded, int64(run.reverted))
			if err != nil {
				log.Printf("recording match end for %s: %v", run.player, err)
			}
		}
		s.matchID = 0
		s.recorded = 0
		s.endReason = ""

		if s.online {
			c.transitionLocked(s, domain.TriggerReset)
			if err := c.engine.ResetPlayer(s.id, c.cfg.LobbySpawn); err != nil {
				log.Printf("resetting %s after rollback: %v", s.id, err)
			}
			c.engine.SendMessage(s.id, "Map restored!")
		} else {
			delete(c.sessions, run.player)
		}
	}

	c.publish(domain.EventRollbackComplete, domain.RollbackCompleteEvent{
		PlayerUUID: run.player,
		Reverted:   run.reverted,
	})
	close(run.done)
}

// resumeRollbacks scans the log directory for files left behind by a
// restart and resumes their reversal. The affected players get detached
// ROLLBACK-bound sessions until their runs drain.
func (c *Core) resumeRollbacks() error {
	players, err := c.logs.List()
	if err != nil {
		return err
	}
	if len(players) == 0 {
		return nil
	}
	log.Printf("found %d incomplete rollback(s) from a previous run", len(players))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, player := range players {
		if _, ok := c.sessions[player]; ok {
			continue
		}
		s := &session{
			id:        player,
			state:     domain.StateRollback,
			kitIndex:  -1,
			joinedAt:  time.Now(),
			online:    false,
			endReason: domain.EndReasonResume,
		}
		c.sessions[player] = s
		c.startRollbackLocked(s, domain.EndReasonResume)
	}
	return nil
}
