package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested episode, step or sub-work doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a record for the same key already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is returned when a status change is not permitted.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrPreconditionNotMet is returned when a step is completed while its predicate is false.
	ErrPreconditionNotMet = errors.New("precondition not met")

	// ErrDanglingReference marks a QC item whose owning sub-work was never created.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = errors.New("invalid argument")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	Subject string // e.g. "editor sub-work", "checklist item bts_video"
	From    string
	To      string
	Allowed []string
	Reason  string
}

func (e *TransitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: cannot transition %s from %s to %s", ErrInvalidTransition, e.Subject, e.From, e.To)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if len(e.Allowed) == 0 {
		fmt.Fprintf(&b, " (no transitions allowed from %s)", e.From)
	} else {
		fmt.Fprintf(&b, " (allowed from %s: %s)", e.From, strings.Join(e.Allowed, ", "))
	}
	return b.String()
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Requirement is one discipline/status condition of a step predicate.
type Requirement struct {
	Discipline Discipline      `json:"discipline"`
	Accepted   []SubWorkStatus `json:"accepted"`
	Actual     SubWorkStatus   `json:"actual,omitempty"`
	Missing    bool            `json:"missing,omitempty"`
}

func (r Requirement) String() string {
	accepted := make([]string, len(r.Accepted))
	for i, s := range r.Accepted {
		accepted[i] = string(s)
	}
	want := strings.Join(accepted, "|")
	if r.Missing {
		return fmt.Sprintf("%s must exist with status %s (missing)", r.Discipline, want)
	}
	return fmt.Sprintf("%s must have status %s (is %s)", r.Discipline, want, r.Actual)
}

// PreconditionError lists what still blocks a step from completing.
type PreconditionError struct {
	Step      int
	Key       string
	BlockedBy int // earlier step that is not completed, 0 if the gate is open
	Unmet     []Requirement
}

// Reasons returns one human-readable line per unmet condition.
func (e *PreconditionError) Reasons() []string {
	var out []string
	if e.BlockedBy > 0 {
		out = append(out, fmt.Sprintf("step %d must be completed first", e.BlockedBy))
	}
	for _, r := range e.Unmet {
		out = append(out, r.String())
	}
	return out
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: step %d (%s) cannot complete: %s",
		ErrPreconditionNotMet, e.Step, e.Key, strings.Join(e.Reasons(), "; "))
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionNotMet }
