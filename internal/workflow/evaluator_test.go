package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-ops/backend/pkg/models"
)

func ids() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func pendingLedger(def *Definition) []*models.WorkflowStepProgress {
	rows := make([]*models.WorkflowStepProgress, len(def.Steps))
	for i, s := range def.Steps {
		rows[i] = &models.WorkflowStepProgress{Step: s.Number, Key: s.Key, Status: models.StepPending}
	}
	return rows
}

// apply writes a plan back into the ledger and works the way the service does.
func apply(ledger []*models.WorkflowStepProgress, works Works, plan *Plan) {
	for _, w := range plan.Provision {
		works[w.Discipline] = w
	}
	for _, c := range plan.Changes {
		ledger[c.Step-1].Status = c.To
	}
}

func work(disc models.Discipline, status models.SubWorkStatus) *models.SubWork {
	return models.NewSubWork("w-"+string(disc), "ep", disc, status)
}

func TestCheck(t *testing.T) {
	def := MustDefault()
	step, _ := def.Step(5)

	ok, unmet := step.Check(Works{})
	assert.False(t, ok)
	require.Len(t, unmet, 3)
	assert.True(t, unmet[0].Missing)

	works := Works{
		models.DisciplineEditor:        work(models.DisciplineEditor, models.StatusPendingQC),
		models.DisciplineEditorPromosi: work(models.DisciplineEditorPromosi, models.StatusCompleted),
		models.DisciplineDesignGrafis:  work(models.DisciplineDesignGrafis, models.StatusInProgress),
	}
	ok, unmet = step.Check(works)
	assert.False(t, ok)
	require.Len(t, unmet, 1)
	assert.Equal(t, models.DisciplineDesignGrafis, unmet[0].Discipline)
	assert.Equal(t, models.StatusInProgress, unmet[0].Actual)

	works[models.DisciplineDesignGrafis].Status = models.StatusPendingQC
	ok, unmet = step.Check(works)
	assert.True(t, ok)
	assert.Empty(t, unmet)

	// Distribution needs completed, pending_qc is not enough.
	dist, _ := def.Step(7)
	works[models.DisciplineQualityControl] = work(models.DisciplineQualityControl, models.StatusCompleted)
	ok, _ = dist.Check(works)
	assert.False(t, ok)
}

// Every status of every discipline is accepted by a step exactly when it is
// in the step's terminal set.
func TestCheckExhaustive(t *testing.T) {
	def := MustDefault()
	for _, step := range def.Steps {
		for _, disc := range step.RequiredDisciplines() {
			dd, _ := def.Discipline(disc)
			for _, status := range dd.Statuses {
				works := Works{}
				for _, other := range step.RequiredDisciplines() {
					works[other] = work(other, step.Requires[other][0])
				}
				works[disc] = work(disc, status)

				ok, _ := step.Check(works)
				assert.Equal(t, step.Accepts(disc, status), ok, "step %d %s=%s", step.Number, disc, status)
			}
		}
	}
}

func TestEvaluateProvisioning(t *testing.T) {
	def := MustDefault()
	ledger := pendingLedger(def)
	works := Works{}
	newID := ids()

	plan := def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: newID, Actor: "system"})
	assert.True(t, plan.Empty())
	assert.Equal(t, models.EpisodeStatusNotStarted, plan.EpisodeStatus)
	assert.Equal(t, 1, plan.CurrentStep)

	creative := work(models.DisciplineCreative, models.StatusCompleted)
	creative.Fields["shooting_date"] = "2026-11-02"
	creative.Fields["location"] = "Studio 2"
	works[models.DisciplineCreative] = creative

	plan = def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: newID, Actor: "system"})
	require.Len(t, plan.Provision, 2)
	production, promotion := plan.Provision[0], plan.Provision[1]
	assert.Equal(t, models.DisciplineProduction, production.Discipline)
	assert.Equal(t, models.StatusPlanning, production.Status)
	assert.Equal(t, "system", production.CreatedBy)
	assert.Equal(t, "2026-11-02", production.Fields["shooting_date"])
	assert.Equal(t, "Studio 2", production.Fields["location"])
	assert.Equal(t, creative.ID, production.Predecessors[models.DisciplineCreative])
	assert.Equal(t, models.DisciplinePromotion, promotion.Discipline)
	assert.NotContains(t, promotion.Fields, "location")

	assert.Equal(t, []StepChange{
		{Step: 1, Key: "concept", From: models.StepPending, To: models.StepCompleted},
		{Step: 2, Key: "creative_approval", From: models.StepPending, To: models.StepCompleted},
		{Step: 3, Key: "production_shoot", From: models.StepPending, To: models.StepInProgress},
	}, plan.Changes)
	assert.Equal(t, models.EpisodeStatusInProgress, plan.EpisodeStatus)
	assert.Equal(t, 3, plan.CurrentStep)

	apply(ledger, works, plan)
	again := def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: newID})
	assert.True(t, again.Empty(), "second pass must be a no-op")
}

func TestEvaluateGateBlocksLaterSteps(t *testing.T) {
	def := MustDefault()
	ledger := pendingLedger(def)
	works := Works{
		models.DisciplineCreative: work(models.DisciplineCreative, models.StatusInProgress),
		// Present out of band, must not complete step 3 before its gate opens.
		models.DisciplineProduction: work(models.DisciplineProduction, models.StatusCompleted),
	}

	plan := def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: ids()})
	assert.Equal(t, []StepChange{
		{Step: 1, Key: "concept", From: models.StepPending, To: models.StepInProgress},
	}, plan.Changes)
	assert.Empty(t, plan.Provision)
	assert.Equal(t, 1, plan.CurrentStep)
}

func TestEvaluateNeverReverts(t *testing.T) {
	def := MustDefault()
	ledger := pendingLedger(def)
	ledger[0].Status = models.StepCompleted
	ledger[1].Status = models.StepCompleted
	works := Works{
		// Creative fell back to needs_revision after approval.
		models.DisciplineCreative:   work(models.DisciplineCreative, models.StatusNeedsRevision),
		models.DisciplineProduction: work(models.DisciplineProduction, models.StatusPlanning),
		models.DisciplinePromotion:  work(models.DisciplinePromotion, models.StatusPlanning),
	}

	plan := def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: ids()})
	for _, c := range plan.Changes {
		assert.NotEqual(t, 1, c.Step)
		assert.NotEqual(t, 2, c.Step)
		assert.True(t, models.ValidStepTransition(c.From, c.To))
	}
	assert.Equal(t, 3, plan.CurrentStep)
}

func TestEvaluateDraftNeverCompletesPostProduction(t *testing.T) {
	def := MustDefault()
	ledger := pendingLedger(def)
	for i := 0; i < 4; i++ {
		ledger[i].Status = models.StepCompleted
	}
	works := Works{
		models.DisciplineCreative:      work(models.DisciplineCreative, models.StatusCompleted),
		models.DisciplineProduction:    work(models.DisciplineProduction, models.StatusCompleted),
		models.DisciplinePromotion:     work(models.DisciplinePromotion, models.StatusCompleted),
		models.DisciplineEditor:        work(models.DisciplineEditor, models.StatusPendingQC),
		models.DisciplineEditorPromosi: work(models.DisciplineEditorPromosi, models.StatusPendingQC),
		models.DisciplineDesignGrafis:  work(models.DisciplineDesignGrafis, models.StatusDraft),
	}

	plan := def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: ids()})
	assert.Empty(t, plan.Provision)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, models.StepInProgress, plan.Changes[0].To)
	assert.Equal(t, 5, plan.CurrentStep)

	works[models.DisciplineDesignGrafis].Status = models.StatusPendingQC
	plan = def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: ids()})
	require.Len(t, plan.Provision, 1)
	qc := plan.Provision[0]
	assert.Equal(t, models.DisciplineQualityControl, qc.Discipline)
	assert.Equal(t, models.StatusPending, qc.Status)
	assert.Len(t, qc.Predecessors, 3)
	assert.Equal(t, 6, plan.CurrentStep)
}

func TestEvaluateCompletedEpisode(t *testing.T) {
	def := MustDefault()
	ledger := pendingLedger(def)
	for i := 0; i < 6; i++ {
		ledger[i].Status = models.StepCompleted
	}
	works := Works{}
	for _, disc := range models.Disciplines() {
		works[disc] = work(disc, models.StatusCompleted)
	}

	plan := def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: ids()})
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, 7, plan.Changes[0].Step)
	assert.Equal(t, models.EpisodeStatusCompleted, plan.EpisodeStatus)
	assert.Equal(t, 0, plan.CurrentStep)
}

// Applying evaluation passes in any order never moves a row backwards.
func TestEvaluateMonotonic(t *testing.T) {
	def := MustDefault()
	ledger := pendingLedger(def)
	works := Works{}
	newID := ids()

	sequence := []struct {
		disc   models.Discipline
		status models.SubWorkStatus
	}{
		{models.DisciplineCreative, models.StatusDraft},
		{models.DisciplineCreative, models.StatusSubmitted},
		{models.DisciplineCreative, models.StatusCompleted},
		{models.DisciplineProduction, models.StatusCompleted},
		{models.DisciplineCreative, models.StatusNeedsRevision},
		{models.DisciplinePromotion, models.StatusCompleted},
		{models.DisciplineEditor, models.StatusPendingQC},
		{models.DisciplineProduction, models.StatusNeedsRevision},
	}

	previous := make([]models.StepStatus, len(ledger))
	for i := range previous {
		previous[i] = models.StepPending
	}
	for _, ev := range sequence {
		if w := works[ev.disc]; w != nil {
			w.Status = ev.status
		} else {
			works[ev.disc] = work(ev.disc, ev.status)
		}
		plan := def.Evaluate(Input{EpisodeID: "ep", Ledger: ledger, Works: works, NewID: newID})
		apply(ledger, works, plan)

		for i, row := range ledger {
			if row.Status != previous[i] {
				assert.True(t, models.ValidStepTransition(previous[i], row.Status),
					"step %d moved %s -> %s", row.Step, previous[i], row.Status)
			}
			previous[i] = row.Status
		}
	}
	assert.Equal(t, models.StepCompleted, ledger[3].Status)
}
