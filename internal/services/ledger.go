package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"broadcast-ops/backend/internal/repository"
	"broadcast-ops/backend/internal/workflow"
	"broadcast-ops/backend/pkg/models"
)

// ledger is the only writer of workflow step rows.
type ledger struct {
	def *workflow.Definition
	now func() time.Time
}

// initialize creates one pending row per defined step.
func (l *ledger) initialize(ctx context.Context, tx repository.Tx) error {
	existing, err := tx.ListSteps(ctx)
	if err != nil {
		return fmt.Errorf("failed to list steps: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: workflow of episode %s is already initialized", models.ErrAlreadyExists, tx.Episode().ID)
	}

	now := l.now()
	rows := make([]*models.WorkflowStepProgress, 0, len(l.def.Steps))
	for _, step := range l.def.Steps {
		rows = append(rows, &models.WorkflowStepProgress{
			EpisodeID: tx.Episode().ID,
			Step:      step.Number,
			Key:       step.Key,
			Name:      step.Name,
			Status:    models.StepPending,
			UpdatedAt: now,
		})
	}
	if err := tx.InsertSteps(ctx, rows); err != nil {
		return fmt.Errorf("failed to insert steps: %w", err)
	}
	return nil
}

// advance moves one step forward. Completion is re-verified against the
// gate and the predicate so that no caller can complete a step out of band.
// Advancing to the current status is a no-op and returns the row unchanged.
func (l *ledger) advance(ctx context.Context, tx repository.Tx, works workflow.Works, number int, to models.StepStatus, notes string) (*models.WorkflowStepProgress, bool, error) {
	step, err := l.def.Step(number)
	if err != nil {
		return nil, false, err
	}
	row, err := tx.GetStep(ctx, number)
	if err != nil {
		return nil, false, err
	}
	if row.Status == to {
		return row, false, nil
	}
	if !models.ValidStepTransition(row.Status, to) {
		return nil, false, &models.TransitionError{
			Subject: fmt.Sprintf("step %d (%s)", step.Number, step.Key),
			From:    string(row.Status),
			To:      string(to),
			Allowed: stepTransitionsFrom(row.Status),
			Reason:  "steps only move forward",
		}
	}

	if number > 1 {
		prev, err := tx.GetStep(ctx, number-1)
		if err != nil {
			return nil, false, err
		}
		if prev.Status != models.StepCompleted {
			perr := &models.PreconditionError{Step: step.Number, Key: step.Key, BlockedBy: number - 1}
			if to == models.StepCompleted {
				_, perr.Unmet = step.Check(works)
			}
			return nil, false, perr
		}
	}
	if to == models.StepCompleted {
		if ok, unmet := step.Check(works); !ok {
			return nil, false, &models.PreconditionError{Step: step.Number, Key: step.Key, Unmet: unmet}
		}
	}

	now := l.now()
	row.Status = to
	row.UpdatedAt = now
	if to == models.StepCompleted {
		row.CompletedAt = &now
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		if row.Notes == "" {
			row.Notes = notes
		} else {
			row.Notes += "\n" + notes
		}
	}
	if err := tx.SaveStep(ctx, row); err != nil {
		return nil, false, fmt.Errorf("failed to save step %d: %w", number, err)
	}
	return row, true, nil
}

func stepTransitionsFrom(from models.StepStatus) []string {
	var out []string
	for _, to := range []models.StepStatus{models.StepPending, models.StepInProgress, models.StepCompleted} {
		if models.ValidStepTransition(from, to) {
			out = append(out, string(to))
		}
	}
	return out
}
