package gosasshost

// supervisorState is the Supervisor's explicit state, encoded as a sum
// type rather than boolean flags so transitions are auditable (spec §9).
type supervisorState int

const (
	stateIdle supervisorState = iota
	stateActive
	stateActiveInCallback
	stateBroken
	stateClosed
)

func (s supervisorState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	case stateActiveInCallback:
		return "active-in-callback"
	case stateBroken:
		return "broken"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
