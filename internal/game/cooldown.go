package game

import (
	"sync"
	"time"

	"github.com/ernie/fortcore/internal/domain"
)

// CooldownGate enforces a minimum interval between successive teleports into
// the same kit. Kits cool down independently; a teleport into one kit never
// delays teleports into another.
type CooldownGate struct {
	mu           sync.Mutex
	interval     time.Duration
	earliestNext map[int]time.Time
}

// NewCooldownGate creates a gate with the given per-kit interval
func NewCooldownGate(interval time.Duration) *CooldownGate {
	return &CooldownGate{
		interval:     interval,
		earliestNext: make(map[int]time.Time),
	}
}

// TryStartTeleport checks and arms the kit's cooldown in one atomic step.
// On success the next teleport into this kit is allowed at now + interval.
// Before that deadline it fails with ErrStillCooling and changes nothing.
func (g *CooldownGate) TryStartTeleport(kitIndex int, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if deadline, ok := g.earliestNext[kitIndex]; ok && now.Before(deadline) {
		return domain.ErrStillCooling
	}
	g.earliestNext[kitIndex] = now.Add(g.interval)
	return nil
}
