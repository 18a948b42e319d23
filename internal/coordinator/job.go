package coordinator

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// ErrInvalidTransition is returned when an operation is called in a job
// state that does not allow it, e.g. SplitInput without a prior Setup.
var ErrInvalidTransition = errors.New("invalid job state transition")

// State is a step of the job lifecycle.
type State string

const (
	StateIdle        State = "idle"        // Store reset, nothing published
	StateSplitting   State = "splitting"   // Publishing chunks
	StateDispatched  State = "dispatched"  // Chunks published, waiting for workers
	StateAggregating State = "aggregating" // Every chunk completed, reducing
	StateDone        State = "done"        // Result produced, termination flag set
	StateTimedOut    State = "timed_out"   // Workers did not finish in time
	StateFailed      State = "failed"      // Store or input failure
)

// transitions lists the states reachable from each state. Failed is
// reachable from anywhere and Setup returns any state to Idle, so neither
// is listed.
var transitions = map[State][]State{
	StateIdle:        {StateSplitting},
	StateSplitting:   {StateDispatched, StateDone},
	StateDispatched:  {StateAggregating, StateTimedOut},
	StateAggregating: {StateDone},
}

// Terminal reports whether no further transition is possible without Setup.
func (s State) Terminal() bool {
	return s == StateDone || s == StateTimedOut || s == StateFailed
}

// Job is the coordinator's view of one word-count run.
type Job struct {
	ID         string
	State      State
	Chunks     int // Published chunk count, valid from Dispatched on
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error // Set when State is Failed or TimedOut
}

// transition moves the job to next, enforcing the lifecycle.
func (j *Job) transition(next State, now time.Time) error {
	if next != StateFailed && !slices.Contains(transitions[j.State], next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, next)
	}
	if j.State == StateIdle {
		j.StartedAt = now
	}
	j.State = next
	if next.Terminal() {
		j.FinishedAt = now
	}
	return nil
}
