package container

import "github.com/cuemby/portod/pkg/registry"

// State is one node of the container lifecycle state machine
// (spec.md §4.2).
type State int

const (
	Stopped State = iota
	Starting
	Running
	Paused
	Meta
	Dead
)

func (s State) String() string {
	switch s {
	case Stopped:
		return registry.StateStopped
	case Starting:
		return registry.StateStarting
	case Running:
		return registry.StateRunning
	case Paused:
		return registry.StatePaused
	case Meta:
		return registry.StateMeta
	case Dead:
		return registry.StateDead
	default:
		return "Unknown"
	}
}

// legalTransitions encodes the DAG from spec.md §4.2's table: Stopped
// -> Starting -> {Running, Dead}; Running <-> Paused; Running -> Dead;
// any -> Stopped.
var legalTransitions = map[State]map[State]bool{
	Stopped:  {Starting: true},
	Starting: {Running: true, Dead: true, Meta: true, Stopped: true},
	Running:  {Paused: true, Dead: true, Stopped: true},
	Paused:   {Running: true, Stopped: true},
	Meta:     {Stopped: true, Dead: true},
	Dead:     {Starting: true, Stopped: true},
}

func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	return legalTransitions[from][to]
}

// ExitStatus is the observable result of a container's last run.
type ExitStatus struct {
	ExitCode int
	Signal   int
	Error    error // set when Start fails (before or after fork) or the supervisor's wait on the child fails
}
