package remotefs

import (
	"time"
)

// Phase is a step of the connection lifecycle.
type Phase int

// Lifecycle phases. Error and Closed are terminal.
const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseBootstrapping
	PhaseReady
	PhaseError
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave p.
func (p Phase) Terminal() bool {
	return p == PhaseError || p == PhaseClosed
}

// State is an immutable snapshot of a connection's lifecycle.
type State struct {
	Phase Phase
	Since time.Time

	// Err is the failure that ended the connection, set in terminal phases.
	Err error
}

// State returns the current lifecycle snapshot.
func (c *Connection) State() State {
	return *c.state.Load()
}

// advance moves from one live phase to the next. It fails once the
// connection has reached a terminal phase.
func (c *Connection) advance(from, to Phase) bool {
	cur := c.state.Load()
	if cur.Phase != from {
		return false
	}

	return c.state.CompareAndSwap(cur, &State{Phase: to, Since: time.Now()})
}

// finish moves into a terminal phase. Only the first caller succeeds.
func (c *Connection) finish(to Phase, err error) bool {
	for {
		cur := c.state.Load()
		if cur.Phase.Terminal() {
			return false
		}

		if c.state.CompareAndSwap(cur, &State{Phase: to, Since: time.Now(), Err: err}) {
			return true
		}
	}
}
