// Package tunnel models one reverse-tunnel unit per hub endpoint: the three
// reverse port bindings, the wrapped SSH client process argv, and the unit's
// lifecycle state machine.
package tunnel

// State represents the observed state of a tunnel unit.
type State int

const (
	// StateStopped is the initial state, and the state after an explicit
	// disable. A stopped unit is never restarted by the watchdog.
	StateStopped State = iota

	// StateStarting indicates the service supervisor has launched the
	// wrapped SSH process but it has not yet survived a keep-alive interval.
	StateStarting

	// StateConnected indicates the process is alive and probes succeed.
	StateConnected

	// StateDegraded indicates the process is alive but keep-alive probes
	// are being missed (transient network loss).
	StateDegraded

	// StateFailed indicates the wrapped process exited: key not registered,
	// hub unreachable, forward failure, or killed.
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Up reports whether the hub is reachable through this unit. A node's
// overall reachability is the OR of Up across all of its units; that is the
// redundancy property the multi-hub design exists to provide.
func (s State) Up() bool {
	return s == StateConnected || s == StateDegraded
}

// Event is an observation fed into the state machine, derived by the
// watchdog from the supervisor's process-table view and the hub probe.
type Event int

const (
	// EventStart is a supervised launch (initial start or restart).
	EventStart Event = iota
	// EventAliveInterval fires when the process has stayed alive past one
	// keep-alive interval with no forward-failure exit.
	EventAliveInterval
	// EventProbeMissed fires when the process is alive but the hub probe
	// failed.
	EventProbeMissed
	// EventProbeOK fires when hub probes succeed again.
	EventProbeOK
	// EventProcessExit fires when the supervisor reports the process gone.
	EventProcessExit
	// EventDisable is an explicit stop; valid from every state.
	EventDisable
)

// String returns a human-readable representation of the event.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventAliveInterval:
		return "alive-interval"
	case EventProbeMissed:
		return "probe-missed"
	case EventProbeOK:
		return "probe-ok"
	case EventProcessExit:
		return "process-exit"
	case EventDisable:
		return "disable"
	default:
		return "unknown"
	}
}

// Next returns the state after applying event e in state s. Observations
// that are not meaningful in the current state leave it unchanged.
func (s State) Next(e Event) State {
	if e == EventDisable {
		return StateStopped
	}

	switch s {
	case StateStopped:
		if e == EventStart {
			return StateStarting
		}
	case StateStarting:
		switch e {
		case EventAliveInterval:
			return StateConnected
		case EventProcessExit:
			return StateFailed
		}
	case StateConnected:
		switch e {
		case EventProbeMissed:
			return StateDegraded
		case EventProcessExit:
			return StateFailed
		}
	case StateDegraded:
		switch e {
		case EventProbeOK:
			return StateConnected
		case EventProcessExit:
			return StateFailed
		}
	case StateFailed:
		if e == EventStart {
			return StateStarting
		}
	}
	return s
}
