package domain

// GameState is the lifecycle state of a connected player
type GameState string

const (
	StateLobby       GameState = "LOBBY"
	StateQueue       GameState = "QUEUE"
	StateTeleporting GameState = "TELEPORTING"
	StateMatch       GameState = "MATCH"
	StateRollback    GameState = "ROLLBACK"
	StateEnd         GameState = "END"
)

// Trigger is an input to the player state machine
type Trigger string

const (
	TriggerSelectKit    Trigger = "select_kit"
	TriggerCapacityOK   Trigger = "capacity_ok"
	TriggerTeleportDone Trigger = "teleport_done"
	TriggerDeath        Trigger = "death"
	TriggerDisconnect   Trigger = "disconnect"
	TriggerOut          Trigger = "out"
	TriggerRollbackDone Trigger = "rollback_done"
	TriggerReset        Trigger = "reset"
)

// transitions maps (state, trigger) pairs to the next state.
// Pairs absent from the table are invalid and rejected by Next.
var transitions = map[GameState]map[Trigger]GameState{
	StateLobby: {
		TriggerSelectKit: StateQueue,
	},
	StateQueue: {
		TriggerCapacityOK: StateTeleporting,
		TriggerDisconnect: StateLobby,
	},
	StateTeleporting: {
		TriggerTeleportDone: StateMatch,
		TriggerDisconnect:   StateLobby,
	},
	StateMatch: {
		TriggerDeath:      StateRollback,
		TriggerDisconnect: StateRollback,
		TriggerOut:        StateRollback,
	},
	StateRollback: {
		TriggerRollbackDone: StateEnd,
		// Disconnect during rollback detaches the player but the
		// rollback keeps draining; the state does not change.
		TriggerDisconnect: StateRollback,
	},
	StateEnd: {
		TriggerReset:      StateLobby,
		TriggerDisconnect: StateLobby,
	},
}

// Next returns the state reached from current on trigger. It is a pure
// function: an undefined pair yields ErrInvalidTransition and callers must
// leave all player state untouched.
func Next(current GameState, trigger Trigger) (GameState, error) {
	if next, ok := transitions[current][trigger]; ok {
		return next, nil
	}
	return current, ErrInvalidTransition
}
