// Package lifecycle derives the state of a run analysis from its persisted
// fields and applies operator and evaluator events to it.
//
// State is never stored. Watching analyses are pending until first
// evaluated; unwatched analyses are approved or rejected when signed off and
// archived otherwise.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/runqc/internal/domain"
)

type State string

const (
	StatePending          State = "pending"
	StateAutoEvaluated    State = "auto_evaluated"
	StateManuallyApproved State = "manually_approved"
	StateManuallyRejected State = "manually_rejected"
	StateArchived         State = "archived"
)

func (s State) Valid() bool {
	switch s {
	case StatePending, StateAutoEvaluated, StateManuallyApproved, StateManuallyRejected, StateArchived:
		return true
	default:
		return false
	}
}

// Decided reports whether an operator has closed the analysis.
func (s State) Decided() bool {
	return s == StateManuallyApproved || s == StateManuallyRejected || s == StateArchived
}

type Event string

const (
	EventEvaluate Event = "evaluate"
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventArchive  Event = "archive"
	EventReset    Event = "reset"
)

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

var transitions = map[Event][]State{
	EventEvaluate: {StatePending, StateAutoEvaluated},
	EventApprove:  {StatePending, StateAutoEvaluated},
	EventReject:   {StatePending, StateAutoEvaluated},
	EventArchive:  {StatePending, StateAutoEvaluated},
	EventReset:    {StateManuallyApproved, StateManuallyRejected, StateArchived},
}

// CanApply returns true when event is allowed from state.
func CanApply(from State, event Event) bool {
	for _, candidate := range transitions[event] {
		if candidate == from {
			return true
		}
	}
	return false
}

func Derive(a domain.RunAnalysis) State {
	if a.Watching {
		if a.EvaluatedAt != nil {
			return StateAutoEvaluated
		}
		return StatePending
	}
	if strings.TrimSpace(a.SignoffUser) != "" {
		if a.ManualApproval {
			return StateManuallyApproved
		}
		return StateManuallyRejected
	}
	return StateArchived
}

// Action carries who applied an event and when.
type Action struct {
	Actor   string
	Comment string
	At      time.Time
}

// Apply validates event against the current state of a and mutates a's
// lifecycle fields. Evaluate only stamps EvaluatedAt; the caller writes the
// flags and verdict.
func Apply(a *domain.RunAnalysis, event Event, act Action) (State, error) {
	from := Derive(*a)
	if _, ok := transitions[event]; !ok {
		return from, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	if !CanApply(from, event) {
		return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, from)
	}
	at := act.At.UTC()
	if act.At.IsZero() {
		at = time.Now().UTC()
	}

	switch event {
	case EventEvaluate:
		a.EvaluatedAt = &at
	case EventApprove, EventReject:
		if strings.TrimSpace(act.Actor) == "" {
			return from, errors.New("signoff requires an actor")
		}
		a.Watching = false
		a.ManualApproval = event == EventApprove
		a.SignoffUser = act.Actor
		a.SignoffAt = &at
		if strings.TrimSpace(act.Comment) != "" {
			a.Comment = act.Comment
		}
	case EventArchive:
		a.Watching = false
		if strings.TrimSpace(act.Comment) != "" {
			a.Comment = act.Comment
		}
	case EventReset:
		// The comment survives a reset; the verdict is recomputed on the next pass.
		a.Watching = true
		a.ManualApproval = false
		a.SignoffUser = ""
		a.SignoffAt = nil
		a.EvaluatedAt = nil
		a.Verdict = nil
	}
	return Derive(*a), nil
}
