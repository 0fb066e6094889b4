package router

import "fmt"

// Phase mirrors the per-JobId state machine from the dispatch algorithm:
// PROBING and QUEUED both precede DISPATCHED, which resolves to either DONE
// or ABANDONED. This is tracked purely for invariant checking and logging —
// the actual dispatch decisions are made from the presence/absence of a
// JobId in the outstanding/probe/queue maps, not from this phase field, but
// keeping an explicit FSM alongside them (the same pattern used for ride
// lifecycles) catches a router bug long before an invariant test would.
type Phase string

const (
	PhaseProbing    Phase = "probing"
	PhaseQueued     Phase = "queued"
	PhaseDispatched Phase = "dispatched"
	PhaseDone       Phase = "done"
	PhaseAbandoned  Phase = "abandoned"
)

var validTransitions = map[Phase][]Phase{
	PhaseProbing:    {PhaseDispatched, PhaseQueued},
	PhaseQueued:     {PhaseProbing, PhaseDispatched},
	PhaseDispatched: {PhaseDone, PhaseAbandoned},
	PhaseDone:       {},
	PhaseAbandoned:  {},
}

// JobState is the observable phase of one JobId, keyed by jobID in the
// Router.
type JobState struct {
	Phase Phase
}

func newJobState(p Phase) *JobState {
	return &JobState{Phase: p}
}

func (j *JobState) CanTransitionTo(next Phase) bool {
	for _, allowed := range validTransitions[j.Phase] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (j *JobState) TransitionTo(next Phase) error {
	if !j.CanTransitionTo(next) {
		return fmt.Errorf("router: invalid job phase transition %s -> %s", j.Phase, next)
	}
	j.Phase = next
	return nil
}
