package domain

import (
	"errors"
	"fmt"
)

// Transition errors shared by every lifecycle.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrGuardFailed       = errors.New("transition guard failed")
)

// GuardError reports a transition that is allowed by the table but blocked
// by a precondition. It matches ErrGuardFailed with errors.Is.
type GuardError struct {
	Reason string
}

func (e *GuardError) Error() string {
	return e.Reason
}

// Is makes errors.Is(err, ErrGuardFailed) true for guard errors.
func (e *GuardError) Is(target error) bool {
	return target == ErrGuardFailed
}

// NewGuardError creates a guard error with a human-readable reason.
func NewGuardError(format string, args ...any) error {
	return &GuardError{Reason: fmt.Sprintf(format, args...)}
}

// TransitionError describes a rejected from -> to pair.
func TransitionError[S ~string](entity string, from, to S) error {
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, entity, from, to)
}

// transitionTable is an immutable adjacency table for one state machine.
type transitionTable[S ~string] struct {
	edges map[S]map[S]struct{}
}

func newTransitionTable[S ~string](states []S, adjacency map[S][]S) transitionTable[S] {
	known := make(map[S]struct{}, len(states))
	for _, s := range states {
		known[s] = struct{}{}
	}

	edges := make(map[S]map[S]struct{}, len(adjacency))
	for from, targets := range adjacency {
		if _, ok := known[from]; !ok {
			panic(fmt.Sprintf("transition table: unknown source state %q", from))
		}
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			if _, ok := known[to]; !ok {
				panic(fmt.Sprintf("transition table: unknown target state %q", to))
			}
			set[to] = struct{}{}
		}
		edges[from] = set
	}
	return transitionTable[S]{edges: edges}
}

func (t transitionTable[S]) allowed(from, to S) bool {
	_, ok := t.edges[from][to]
	return ok
}

func (t transitionTable[S]) terminal(s S) bool {
	return len(t.edges[s]) == 0
}
