package workflow

import (
	"broadcast-ops/backend/pkg/models"
)

// Works indexes an episode's sub-works by discipline.
type Works map[models.Discipline]*models.SubWork

// IndexWorks builds a Works index from a list.
func IndexWorks(list []*models.SubWork) Works {
	works := make(Works, len(list))
	for _, w := range list {
		works[w.Discipline] = w
	}
	return works
}

// Check evaluates the completion predicate of a step: every required
// discipline exists and has a status in the step's terminal set.
func (s *StepDef) Check(works Works) (bool, []models.Requirement) {
	var unmet []models.Requirement
	for _, disc := range s.required {
		req := models.Requirement{Discipline: disc, Accepted: s.Requires[disc]}
		w, ok := works[disc]
		if !ok || w == nil {
			req.Missing = true
			unmet = append(unmet, req)
			continue
		}
		if !s.Accepts(disc, w.Status) {
			req.Actual = w.Status
			unmet = append(unmet, req)
		}
	}
	return len(unmet) == 0, unmet
}

// Started reports whether any discipline the step requires exists.
func (s *StepDef) Started(works Works) bool {
	for _, disc := range s.required {
		if works[disc] != nil {
			return true
		}
	}
	return false
}

// StepChange is a ledger transition the evaluator wants applied.
type StepChange struct {
	Step int               `json:"step"`
	Key  string            `json:"key"`
	From models.StepStatus `json:"from"`
	To   models.StepStatus `json:"to"`
}

// Plan is the outcome of evaluating one episode.
type Plan struct {
	// Provision holds new sub-works to create, in dependency order.
	Provision []*models.SubWork
	// Changes holds ledger transitions in ascending step order.
	Changes []StepChange
	// EpisodeStatus and CurrentStep are the derived episode fields after the changes.
	EpisodeStatus models.EpisodeStatus
	CurrentStep   int
}

// Empty reports whether the plan writes nothing besides episode fields.
func (p *Plan) Empty() bool {
	return len(p.Provision) == 0 && len(p.Changes) == 0
}

// Input is the current state of one episode.
type Input struct {
	EpisodeID string
	Ledger    []*models.WorkflowStepProgress
	Works     Works
	// NewID supplies ids for provisioned sub-works.
	NewID func() string
	// Actor is recorded as created_by on provisioned sub-works.
	Actor string
}

// Evaluate walks the steps in ascending order and derives the ledger state.
//
// Step k is considered only when step k-1 is completed in the ledger (after
// earlier changes of this pass are applied). Completed steps never revert.
// When the gate of a step opens, the disciplines it provisions are created
// in their initial status if they do not exist yet.
func (d *Definition) Evaluate(in Input) *Plan {
	status := make(map[int]models.StepStatus, len(in.Ledger))
	for _, row := range in.Ledger {
		status[row.Step] = row.Status
	}
	works := make(Works, len(in.Works))
	for k, v := range in.Works {
		works[k] = v
	}

	plan := &Plan{}
	for _, step := range d.Steps {
		if step.Number > 1 && status[step.Number-1] != models.StepCompleted {
			break
		}

		for _, disc := range step.Provision {
			if works[disc] != nil {
				continue
			}
			w := d.provision(in.EpisodeID, disc, works, in.NewID(), in.Actor)
			works[disc] = w
			plan.Provision = append(plan.Provision, w)
		}

		from, ok := status[step.Number]
		if !ok {
			from = models.StepPending
		}
		if from == models.StepCompleted {
			continue
		}

		var to models.StepStatus
		if satisfied, _ := step.Check(works); satisfied {
			to = models.StepCompleted
		} else if step.Started(works) {
			to = models.StepInProgress
		} else {
			to = from
		}
		if to != from && models.ValidStepTransition(from, to) {
			plan.Changes = append(plan.Changes, StepChange{Step: step.Number, Key: step.Key, From: from, To: to})
			status[step.Number] = to
		}
	}

	plan.EpisodeStatus, plan.CurrentStep = d.episodeState(status, works)
	return plan
}

func (d *Definition) provision(episodeID string, disc models.Discipline, works Works, id, createdBy string) *models.SubWork {
	def := d.Disciplines[disc]
	w := models.NewSubWork(id, episodeID, disc, def.Initial)
	w.CreatedBy = createdBy
	for _, pred := range def.Predecessors {
		if p := works[pred]; p != nil {
			w.Predecessors[pred] = p.ID
		}
	}
	for field, src := range def.CopyFields {
		if p := works[src]; p != nil {
			if v, ok := p.Fields[field]; ok && v != "" {
				w.Fields[field] = v
			}
		}
	}
	return w
}

func (d *Definition) episodeState(status map[int]models.StepStatus, works Works) (models.EpisodeStatus, int) {
	current := 0
	allPending := true
	for _, step := range d.Steps {
		s := status[step.Number]
		if s != models.StepPending && s != "" {
			allPending = false
		}
		if current == 0 && s != models.StepCompleted {
			current = step.Number
		}
	}
	switch {
	case current == 0:
		return models.EpisodeStatusCompleted, 0
	case allPending && len(works) == 0:
		return models.EpisodeStatusNotStarted, current
	default:
		return models.EpisodeStatusInProgress, current
	}
}
