package router

import "testing"

func TestJobStateValidTransitions(t *testing.T) {
	js := newJobState(PhaseProbing)
	if !js.CanTransitionTo(PhaseQueued) {
		t.Fatal("expected Probing -> Queued to be valid")
	}
	if err := js.TransitionTo(PhaseQueued); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if js.Phase != PhaseQueued {
		t.Fatalf("expected phase Queued, got %s", js.Phase)
	}
}

func TestJobStateInvalidTransition(t *testing.T) {
	js := newJobState(PhaseDone)
	if js.CanTransitionTo(PhaseProbing) {
		t.Fatal("Done must be terminal")
	}
	if err := js.TransitionTo(PhaseProbing); err == nil {
		t.Fatal("expected an error transitioning out of a terminal phase")
	}
	if js.Phase != PhaseDone {
		t.Fatalf("a rejected transition must not mutate phase, got %s", js.Phase)
	}
}

func TestJobStateDispatchedResolvesEitherWay(t *testing.T) {
	for _, next := range []Phase{PhaseDone, PhaseAbandoned} {
		js := newJobState(PhaseDispatched)
		if err := js.TransitionTo(next); err != nil {
			t.Fatalf("Dispatched -> %s should be valid: %v", next, err)
		}
	}
}
