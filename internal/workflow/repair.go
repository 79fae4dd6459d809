package workflow

import (
	"fmt"

	"broadcast-ops/backend/pkg/models"
)

// Diagnostic kinds reported by the repair pass.
const (
	DiagnosticDanglingReference = "dangling-reference"
	DiagnosticUnclassifiedKey   = "unclassified-key"
)

// Diagnostic is a non-fatal anomaly found while repairing.
type Diagnostic struct {
	Kind       string            `json:"kind"`
	EpisodeID  string            `json:"episode_id"`
	ItemKey    string            `json:"item_key"`
	Discipline models.Discipline `json:"discipline,omitempty"`
	Message    string            `json:"message"`
	Err        error             `json:"-"`
}

// RepairChange records what the repair pass did to one downstream sub-work
// for one checklist item.
type RepairChange struct {
	SubWorkID      string               `json:"sub_work_id"`
	Discipline     models.Discipline    `json:"discipline"`
	ItemKey        string               `json:"item_key"`
	PreviousStatus models.SubWorkStatus `json:"previous_status"`
	StatusChanged  bool                 `json:"status_changed"`
	NoteAdded      bool                 `json:"note_added"`
}

// RepairPlan is the outcome of planning a repair pass.
type RepairPlan struct {
	// Updates holds modified copies of the sub-works that must be written.
	Updates     []*models.SubWork
	Changes     []RepairChange
	Diagnostics []Diagnostic
}

// PlanRepair compares a QC checklist with the sub-works that own its items.
// Every item in revision forces its owner into the revision status with a
// deduplicated note. Items that are revised or approved are left alone.
// The input sub-works are not modified.
func (d *Definition) PlanRepair(qc *models.SubWork, works Works) *RepairPlan {
	plan := &RepairPlan{}
	if qc == nil {
		return plan
	}

	updated := make(map[models.Discipline]*models.SubWork)
	var order []models.Discipline

	for _, key := range qc.RevisionKeys() {
		item := qc.Checklist[key]
		owner, ok := d.Owner(key)
		if !ok {
			plan.Diagnostics = append(plan.Diagnostics, Diagnostic{
				Kind:      DiagnosticUnclassifiedKey,
				EpisodeID: qc.EpisodeID,
				ItemKey:   key,
				Message:   fmt.Sprintf("checklist key %q has no owning discipline", key),
				Err:       models.ErrInvalidArgument,
			})
			continue
		}

		target, seen := updated[owner]
		if !seen {
			current := works[owner]
			if current == nil {
				plan.Diagnostics = append(plan.Diagnostics, Diagnostic{
					Kind:       DiagnosticDanglingReference,
					EpisodeID:  qc.EpisodeID,
					ItemKey:    key,
					Discipline: owner,
					Message:    fmt.Sprintf("checklist key %q points at %s which does not exist", key, owner),
					Err:        models.ErrDanglingReference,
				})
				continue
			}
			target = current.Clone()
		}

		change := RepairChange{
			SubWorkID:      target.ID,
			Discipline:     owner,
			ItemKey:        key,
			PreviousStatus: target.Status,
		}
		if target.Status != d.RevisionStatus {
			target.Status = d.RevisionStatus
			change.StatusChanged = true
		}
		change.NoteAdded = target.AppendNoteOnce(models.QCRevisionNote(key, item.Note))

		if !change.StatusChanged && !change.NoteAdded {
			continue
		}
		plan.Changes = append(plan.Changes, change)
		if !seen {
			updated[owner] = target
			order = append(order, owner)
		}
	}

	sortDisciplines(order)
	for _, disc := range order {
		plan.Updates = append(plan.Updates, updated[disc])
	}
	return plan
}
