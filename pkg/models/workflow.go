package models

import (
	"time"
)

// StepStatus is the ledger status of one workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

func (s StepStatus) rank() int {
	switch s {
	case StepPending:
		return 1
	case StepInProgress:
		return 2
	case StepCompleted:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool { return s.rank() > 0 }

// ValidStepTransition checks if a ledger transition is allowed.
// Steps only move forward: pending -> in_progress -> completed.
func ValidStepTransition(from, to StepStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.rank() > from.rank()
}

// WorkflowStepProgress records the state of one (episode, step) pair.
type WorkflowStepProgress struct {
	EpisodeID   string     `json:"episode_id"`
	Step        int        `json:"step"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a copy of the step progress.
func (p *WorkflowStepProgress) Clone() *WorkflowStepProgress {
	if p == nil {
		return nil
	}
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
