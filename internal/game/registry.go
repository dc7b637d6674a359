package game

import (
	"fmt"
	"sync"

	"github.com/ernie/fortcore/internal/config"
	"github.com/ernie/fortcore/internal/domain"
)

// slot pairs one map with one kit by shared index and tracks occupancy
type slot struct {
	mapName   string
	kitName   string
	capacity  int
	occupants int
}

// Registry tracks map/kit slots and their occupancy. Reservation is a single
// atomic check-and-increment so two join attempts queued within the same tick
// can never both observe free space.
type Registry struct {
	mu    sync.Mutex
	slots []slot
}

// NewRegistry builds the registry from paired map and kit configuration.
// A count mismatch is a configuration error, never a runtime one.
func NewRegistry(maps []config.MapConfig, kits []config.KitConfig) (*Registry, error) {
	if len(maps) != len(kits) {
		return nil, fmt.Errorf("%w: %d maps, %d kits", domain.ErrConfigMismatch, len(maps), len(kits))
	}
	r := &Registry{slots: make([]slot, len(kits))}
	for i := range kits {
		if kits[i].MaxPlayers < 1 {
			return nil, fmt.Errorf("%w: kit %q has capacity %d", domain.ErrConfigMismatch, kits[i].Name, kits[i].MaxPlayers)
		}
		r.slots[i] = slot{
			mapName:  maps[i].Name,
			kitName:  kits[i].Name,
			capacity: kits[i].MaxPlayers,
		}
	}
	return r, nil
}

// TryReserve atomically claims one place in the slot for kitIndex. It fails
// with ErrMatchFull at capacity and leaves occupancy unchanged.
func (r *Registry) TryReserve(kitIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kitIndex < 0 || kitIndex >= len(r.slots) {
		return fmt.Errorf("kit index %d out of range", kitIndex)
	}
	s := &r.slots[kitIndex]
	if s.occupants >= s.capacity {
		return domain.ErrMatchFull
	}
	s.occupants++
	return nil
}

// Release returns one place to the slot. Releasing an empty slot is a no-op.
func (r *Registry) Release(kitIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kitIndex < 0 || kitIndex >= len(r.slots) {
		return
	}
	if r.slots[kitIndex].occupants > 0 {
		r.slots[kitIndex].occupants--
	}
}

// Len returns the number of configured slots
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Snapshot returns the current occupancy of every slot
func (r *Registry) Snapshot() []domain.SlotStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]domain.SlotStatus, len(r.slots))
	for i, s := range r.slots {
		statuses[i] = domain.SlotStatus{
			KitIndex:  i,
			MapName:   s.mapName,
			KitName:   s.kitName,
			Occupants: s.occupants,
			Capacity:  s.capacity,
		}
	}
	return statuses
}
