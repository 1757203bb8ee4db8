package component

// State is a component lifecycle state. Values are distinct bits so sets
// of states can be tested with a mask.
type State int32

// Component states.
const (
	StateDisabled State = 1 << iota
	StateUnsatisfied
	StateActivating
	StateActive
	StateRegistered
	StateFactory
	StateDestroying
	StateDestroyed
)

// acceptsEvents are the states in which dependency changes are acted upon.
const acceptsEvents = StateUnsatisfied | StateActivating | StateActive | StateRegistered | StateFactory

// satisfied are the states in which the component is published or running.
const satisfied = StateActive | StateRegistered | StateFactory

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateUnsatisfied:
		return "unsatisfied"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRegistered:
		return "registered"
	case StateFactory:
		return "factory"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Satisfied reports whether s is active, registered or factory.
func (s State) Satisfied() bool { return s&satisfied != 0 }
