package handoff

import "errors"

// State is the coordinator's position in the handoff lifecycle. HandedOff is
// the only state in which the external consumer is assumed to own the live
// store; every other state is under this process's control.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateHandedOff
	StateAwaitingReturn
	StateReclaimed
)

var ErrInvalidTransition = errors.New("invalid handoff state transition")

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateHandedOff:
		return "handed_off"
	case StateAwaitingReturn:
		return "awaiting_return"
	case StateReclaimed:
		return "reclaimed"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of String, for callers persisting coordinator
// state across process invocations.
func ParseState(s string) (State, error) {
	switch s {
	case "idle":
		return StateIdle, nil
	case "preparing":
		return StatePreparing, nil
	case "handed_off":
		return StateHandedOff, nil
	case "awaiting_return":
		return StateAwaitingReturn, nil
	case "reclaimed":
		return StateReclaimed, nil
	default:
		return StateIdle, errors.New("unknown handoff state: " + s)
	}
}

// transitionRules encodes the one legal path through a session. There is no
// edge back into HandedOff except through Idle, so re-entrant handoffs
// within one session are impossible by construction.
func transitionRules() map[State][]State {
	return map[State][]State{
		StateIdle:           {StatePreparing},
		StatePreparing:      {StateHandedOff, StateIdle},
		StateHandedOff:      {StateAwaitingReturn},
		StateAwaitingReturn: {StateReclaimed},
		StateReclaimed:      {StateIdle},
	}
}

// CanTransitionTo reports whether moving to target is legal.
func (s State) CanTransitionTo(target State) bool {
	for _, allowed := range transitionRules()[s] {
		if allowed == target {
			return true
		}
	}
	return false
}
