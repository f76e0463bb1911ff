package item

import (
	"strings"

	"github.com/wreckit-dev/wreckit/internal/werr"
)

// Phase is one agent-driven step of the pipeline.
type Phase string

const (
	PhaseResearch  Phase = "research"
	PhasePlan      Phase = "plan"
	PhaseImplement Phase = "implement"
	PhasePR        Phase = "pr"
	PhaseComplete  Phase = "complete"
)

// Phases lists the pipeline phases in execution order.
var Phases = []Phase{PhaseResearch, PhasePlan, PhaseImplement, PhasePR, PhaseComplete}

// ValidPhase reports whether p names a pipeline phase.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseResearch, PhasePlan, PhaseImplement, PhasePR, PhaseComplete:
		return true
	}
	return false
}

// State is an item's position in the pipeline.
type State string

const (
	StateIdea         State = "idea"
	StateResearching  State = "researching"
	StateResearched   State = "researched"
	StatePlanning     State = "planning"
	StatePlanned      State = "planned"
	StateImplementing State = "implementing"
	StateImplemented  State = "implemented"
	StateInPR         State = "in_pr"
	StateMerged       State = "merged"
	StateComplete     State = "complete"
)

// failedPrefix marks the error fork: failed:<origin_state>.
const failedPrefix = "failed:"

var pipelineStates = map[State]bool{
	StateIdea:         true,
	StateResearching:  true,
	StateResearched:   true,
	StatePlanning:     true,
	StatePlanned:      true,
	StateImplementing: true,
	StateImplemented:  true,
	StateInPR:         true,
	StateMerged:       true,
	StateComplete:     true,
}

// ValidState reports whether s is a pipeline state or an error-fork state
// derived from one.
func ValidState(s State) bool {
	if origin, ok := s.FailureOrigin(); ok {
		return pipelineStates[origin]
	}
	return pipelineStates[s]
}

// FailedState returns the error-fork state for an origin "-ing" state.
func FailedState(origin State) State {
	return State(failedPrefix + string(origin))
}

// IsFailed reports whether s is in the error fork.
func (s State) IsFailed() bool {
	return strings.HasPrefix(string(s), failedPrefix)
}

// FailureOrigin returns the "-ing" state a failed state originated from.
func (s State) FailureOrigin() (State, bool) {
	if !s.IsFailed() {
		return "", false
	}
	return State(strings.TrimPrefix(string(s), failedPrefix)), true
}

// EventKind discriminates state machine events.
type EventKind string

const (
	EventStartPhase       EventKind = "start_phase"
	EventPhaseSucceeded   EventKind = "phase_succeeded"
	EventPhaseFailed      EventKind = "phase_failed"
	EventUserReset        EventKind = "user_reset"
	EventCritiqueRejected EventKind = "critique_rejected"
	EventPRMerged         EventKind = "pr_merged"
	EventCompleteAcked    EventKind = "complete_acknowledged"
)

// Event is a state machine input. Phase is set for the phase-scoped kinds
// and empty otherwise.
type Event struct {
	Kind  EventKind
	Phase Phase
}

// transKey identifies one row of the transition table.
type transKey struct {
	From  State
	Kind  EventKind
	Phase Phase
}

// transitions is the single table every state change is validated against.
// Rows absent from the table are illegal transitions.
var transitions = map[transKey]State{
	// start_phase: enter (or re-enter, for resumption after interrupt) the
	// "-ing" state. pr and complete have no "-ing" state; starting them is
	// legal from their precondition states and leaves the state unchanged.
	{StateIdea, EventStartPhase, PhaseResearch}:         StateResearching,
	{StateResearching, EventStartPhase, PhaseResearch}:  StateResearching,
	{StateResearched, EventStartPhase, PhasePlan}:       StatePlanning,
	{StatePlanning, EventStartPhase, PhasePlan}:         StatePlanning,
	{StatePlanned, EventStartPhase, PhaseImplement}:     StateImplementing,
	{StateImplementing, EventStartPhase, PhaseImplement}: StateImplementing,
	{StateImplemented, EventStartPhase, PhasePR}:        StateImplemented,
	{StateInPR, EventStartPhase, PhaseComplete}:         StateInPR,
	{StateMerged, EventStartPhase, PhaseComplete}:       StateMerged,

	// phase_succeeded: advance to the "-ed" successor.
	{StateResearching, EventPhaseSucceeded, PhaseResearch}:   StateResearched,
	{StatePlanning, EventPhaseSucceeded, PhasePlan}:          StatePlanned,
	{StateImplementing, EventPhaseSucceeded, PhaseImplement}: StateImplemented,
	{StateImplemented, EventPhaseSucceeded, PhasePR}:         StateInPR,
	{StateMerged, EventPhaseSucceeded, PhaseComplete}:        StateComplete,

	// phase_failed: "-ing" states fork to failed:<origin>; phases without an
	// "-ing" state revert in place.
	{StateResearching, EventPhaseFailed, PhaseResearch}:   FailedState(StateResearching),
	{StatePlanning, EventPhaseFailed, PhasePlan}:          FailedState(StatePlanning),
	{StateImplementing, EventPhaseFailed, PhaseImplement}: FailedState(StateImplementing),
	{StateImplemented, EventPhaseFailed, PhasePR}:         StateImplemented,
	{StateInPR, EventPhaseFailed, PhaseComplete}:          StateInPR,
	{StateMerged, EventPhaseFailed, PhaseComplete}:        StateMerged,

	// user_reset: recover to the matching "-ed" predecessor (idea for
	// research). Recovery is legal both from the error fork and from an
	// "-ing" state left behind by a cancellation.
	{FailedState(StateResearching), EventUserReset, ""}:  StateIdea,
	{FailedState(StatePlanning), EventUserReset, ""}:     StateResearched,
	{FailedState(StateImplementing), EventUserReset, ""}: StatePlanned,
	{StateResearching, EventUserReset, ""}:               StateIdea,
	{StatePlanning, EventUserReset, ""}:                  StateResearched,
	{StateImplementing, EventUserReset, ""}:              StatePlanned,

	// critique_rejected: step back by exactly one state.
	{StateResearched, EventCritiqueRejected, PhaseResearch}:   StateIdea,
	{StatePlanned, EventCritiqueRejected, PhasePlan}:          StateResearched,
	{StateImplemented, EventCritiqueRejected, PhaseImplement}: StatePlanned,

	// PR merge detection and final acknowledgement.
	{StateInPR, EventPRMerged, ""}:          StateMerged,
	{StateMerged, EventCompleteAcked, ""}:   StateComplete,
}

// rollbackEvents increment the item retry counter when applied.
var rollbackEvents = map[EventKind]bool{
	EventUserReset:        true,
	EventCritiqueRejected: true,
}

// Next returns the state reached from `from` by ev, or a StateViolation
// error when the transition is not in the table.
func Next(from State, ev Event) (State, error) {
	to, ok := transitions[transKey{from, ev.Kind, ev.Phase}]
	if !ok {
		return "", werr.Newf(werr.KindState,
			"no transition from %q on %s(%s)", from, ev.Kind, ev.Phase)
	}
	return to, nil
}

// Apply validates ev against the table and the item's guard predicates, then
// mutates the item in place: state, retry counter, and last_error.
//
// Guards: entering planned requires at least one story; entering implemented
// requires every story done. Callers supply the current story list.
func Apply(it *Item, ev Event, stories []Story) error {
	to, err := Next(it.State, ev)
	if err != nil {
		return err
	}

	if ev.Kind == EventPhaseSucceeded {
		switch to {
		case StatePlanned:
			if len(stories) == 0 {
				return werr.New(werr.KindState, "cannot enter planned: plan produced no stories")
			}
		case StateImplemented:
			if !AllStoriesDone(stories) {
				return werr.New(werr.KindState, "cannot enter implemented: not all stories are done")
			}
		}
	}

	if rollbackEvents[ev.Kind] {
		it.Retries++
	}
	if ev.Kind == EventPhaseSucceeded || ev.Kind == EventUserReset {
		it.LastError = ""
	}
	it.State = to
	return nil
}

// NextPhase derives the phase that advances the item, or false for terminal
// states. Failed states map to the phase that must be retried after
// recovery; "-ing" states map to their own phase so interrupted work is
// resumed first.
func NextPhase(s State) (Phase, bool) {
	if origin, ok := s.FailureOrigin(); ok {
		s = origin
	}
	switch s {
	case StateIdea, StateResearching:
		return PhaseResearch, true
	case StateResearched, StatePlanning:
		return PhasePlan, true
	case StatePlanned, StateImplementing:
		return PhaseImplement, true
	case StateImplemented:
		return PhasePR, true
	case StateInPR, StateMerged:
		return PhaseComplete, true
	default:
		return "", false
	}
}

// SuccessState returns the state an item lands in when phase p succeeds.
func SuccessState(p Phase) State {
	switch p {
	case PhaseResearch:
		return StateResearched
	case PhasePlan:
		return StatePlanned
	case PhaseImplement:
		return StateImplemented
	case PhasePR:
		return StateInPR
	case PhaseComplete:
		return StateComplete
	default:
		return ""
	}
}

// Recover applies the user_reset transition for items stranded in an "-ing"
// or failed state, returning true when a reset was applied.
func Recover(it *Item) bool {
	if err := Apply(it, Event{Kind: EventUserReset}, nil); err != nil {
		return false
	}
	return true
}
