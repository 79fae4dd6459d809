package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"broadcast-ops/backend/internal/logging"
	"broadcast-ops/backend/internal/notifications"
	"broadcast-ops/backend/internal/observability"
	"broadcast-ops/backend/internal/repository"
	"broadcast-ops/backend/internal/workflow"
	"broadcast-ops/backend/pkg/models"
)

// CreateEpisodeRequest is the input of CreateEpisode.
type CreateEpisodeRequest struct {
	ProgramID     string `json:"program_id"`
	EpisodeNumber int    `json:"episode_number"`
	Title         string `json:"title"`
}

// CreateSubWorkRequest is the input of CreateSubWork.
type CreateSubWorkRequest struct {
	EpisodeID  string            `json:"episode_id"`
	Discipline models.Discipline `json:"discipline"`
	AssignedTo string            `json:"assigned_to,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// UpdateSubWorkRequest changes non-status attributes of a sub-work.
// Notes are appended. A field with an empty value is removed.
type UpdateSubWorkRequest struct {
	AssignedTo *string           `json:"assigned_to,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// ChecklistUpdate sets the status of one QC checklist item. An empty note
// keeps the existing one.
type ChecklistUpdate struct {
	Status models.ChecklistStatus `json:"status"`
	Note   string                 `json:"note,omitempty"`
}

// ChangeReport describes everything one locked operation wrote.
type ChangeReport struct {
	EpisodeID   string                  `json:"episode_id"`
	Steps       []workflow.StepChange   `json:"steps,omitempty"`
	Provisioned []*models.SubWork       `json:"provisioned,omitempty"`
	Repairs     []workflow.RepairChange `json:"repairs,omitempty"`
	Diagnostics []workflow.Diagnostic   `json:"diagnostics,omitempty"`
	Episode     *models.Episode         `json:"episode,omitempty"`

	repairWrites int
	events       []pendingEvent
}

// Changed reports whether the operation changed derived workflow state.
func (r *ChangeReport) Changed() bool {
	return len(r.Steps) > 0 || len(r.Provisioned) > 0 || len(r.Repairs) > 0
}

type pendingEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

// EpisodeState is the full read model of one episode.
type EpisodeState struct {
	Episode  *models.Episode                `json:"episode"`
	Steps    []*models.WorkflowStepProgress `json:"steps"`
	SubWorks []*models.SubWork              `json:"sub_works"`
	// Blocked lists what keeps the current step from completing.
	Blocked []string `json:"blocked,omitempty"`
}

var _ Workflow = (*WorkflowService)(nil)

// WorkflowService runs the episode workflow: sub-work writes, ledger
// evaluation, QC repair and notifications.
type WorkflowService struct {
	repo    repository.Repository
	def     *workflow.Definition
	ledger  *ledger
	sink    notifications.Sink
	logger  *logging.Logger
	metrics *observability.Metrics
	actor   ActorAccessor
	newID   func() string
	now     func() time.Time
}

// Option configures a WorkflowService.
type Option func(*WorkflowService)

// WithNotifier sets the notification sink.
func WithNotifier(sink notifications.Sink) Option {
	return func(s *WorkflowService) { s.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *WorkflowService) { s.logger = logger }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *WorkflowService) { s.metrics = m }
}

// WithActorAccessor sets how the acting user is resolved.
func WithActorAccessor(fn ActorAccessor) Option {
	return func(s *WorkflowService) { s.actor = fn }
}

// WithIDGenerator sets the id source for new records.
func WithIDGenerator(fn func() string) Option {
	return func(s *WorkflowService) { s.newID = fn }
}

// WithClock sets the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *WorkflowService) { s.now = fn }
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(repo repository.Repository, def *workflow.Definition, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		repo:   repo,
		def:    def,
		sink:   notifications.NoopSink{},
		logger: logging.NewNop(),
		actor:  ActorFromContext,
		newID:  uuid.NewString,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Component("workflow")
	s.ledger = &ledger{def: def, now: s.now}
	return s
}

// Definition returns the workflow table the service runs.
func (s *WorkflowService) Definition() *workflow.Definition {
	return s.def
}

// Ping checks the repository.
func (s *WorkflowService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// CreateEpisode stores a new episode and its ledger in one transaction.
func (s *WorkflowService) CreateEpisode(ctx context.Context, req CreateEpisodeRequest) (*models.Episode, error) {
	req.ProgramID = strings.TrimSpace(req.ProgramID)
	if req.ProgramID == "" {
		return nil, fmt.Errorf("%w: program_id is required", models.ErrInvalidArgument)
	}
	if req.EpisodeNumber <= 0 {
		return nil, fmt.Errorf("%w: episode_number must be positive", models.ErrInvalidArgument)
	}

	episode := models.NewEpisode(s.newID(), req.ProgramID, req.EpisodeNumber, strings.TrimSpace(req.Title))
	episode.CreatedBy = s.actor(ctx)
	err := s.repo.CreateEpisode(ctx, episode, func(tx repository.Tx) error {
		return s.ledger.initialize(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create episode: %w", err)
	}
	s.logger.Info("episode created", logging.FieldEpisodeID, episode.ID, "program_id", episode.ProgramID, "episode_number", episode.EpisodeNumber)
	return episode, nil
}

// InitializeWorkflow creates the ledger rows of an episode, all pending.
func (s *WorkflowService) InitializeWorkflow(ctx context.Context, episodeID string) error {
	return s.repo.Update(ctx, episodeID, func(tx repository.Tx) error {
		return s.ledger.initialize(ctx, tx)
	})
}

// GetEpisode retrieves an episode by its ID.
func (s *WorkflowService) GetEpisode(ctx context.Context, episodeID string) (*models.Episode, error) {
	return s.repo.GetEpisode(ctx, episodeID)
}

// ListEpisodes returns every episode.
func (s *WorkflowService) ListEpisodes(ctx context.Context) ([]*models.Episode, error) {
	return s.repo.ListEpisodes(ctx)
}

// GetWorkflowSnapshot returns the ledger of an episode ordered by step.
func (s *WorkflowService) GetWorkflowSnapshot(ctx context.Context, episodeID string) ([]*models.WorkflowStepProgress, error) {
	var steps []*models.WorkflowStepProgress
	err := s.repo.View(ctx, episodeID, func(tx repository.Tx) error {
		var err error
		steps, err = tx.ListSteps(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// GetEpisodeState returns the episode with its ledger, sub-works and the
// requirements blocking the current step.
func (s *WorkflowService) GetEpisodeState(ctx context.Context, episodeID string) (*EpisodeState, error) {
	state := &EpisodeState{}
	err := s.repo.View(ctx, episodeID, func(tx repository.Tx) error {
		state.Episode = tx.Episode()
		var err error
		if state.Steps, err = tx.ListSteps(ctx); err != nil {
			return err
		}
		state.SubWorks, err = tx.ListSubWorks(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if state.Episode.CurrentStep > 0 {
		step, err := s.def.Step(state.Episode.CurrentStep)
		if err == nil {
			if _, unmet := step.Check(workflow.IndexWorks(state.SubWorks)); len(unmet) > 0 {
				state.Blocked = (&models.PreconditionError{Step: step.Number, Key: step.Key, Unmet: unmet}).Reasons()
			}
		}
	}
	return state, nil
}

// OnSubWorkChanged re-evaluates the ledger of an episode, and runs the QC
// repair pass when the changed discipline is quality control.
func (s *WorkflowService) OnSubWorkChanged(ctx context.Context, episodeID string, discipline models.Discipline) (*ChangeReport, error) {
	if _, err := s.def.Discipline(discipline); err != nil {
		return nil, err
	}
	return s.mutate(ctx, episodeID, func(tx repository.Tx, report *ChangeReport) error {
		return s.reconcile(ctx, tx, report, discipline == models.DisciplineQualityControl)
	})
}

// GetSubWork returns the sub-work of a discipline.
func (s *WorkflowService) GetSubWork(ctx context.Context, episodeID string, discipline models.Discipline) (*models.SubWork, error) {
	var work *models.SubWork
	err := s.repo.View(ctx, episodeID, func(tx repository.Tx) error {
		var err error
		work, err = tx.GetSubWork(ctx, discipline)
		return err
	})
	if err != nil {
		return nil, err
	}
	return work, nil
}

// CreateSubWork creates a sub-work of a user-created discipline. Pipeline
// disciplines are provisioned by the workflow instead.
func (s *WorkflowService) CreateSubWork(ctx context.Context, req CreateSubWorkRequest) (*models.SubWork, *ChangeReport, error) {
	def, err := s.def.Discipline(req.Discipline)
	if err != nil {
		return nil, nil, err
	}
	if !def.UserCreated {
		return nil, nil, fmt.Errorf("%w: %s sub-works are created by the workflow", models.ErrInvalidArgument, req.Discipline)
	}

	var created *models.SubWork
	report, err := s.mutate(ctx, req.EpisodeID, func(tx repository.Tx, report *ChangeReport) error {
		if _, err := tx.GetSubWork(ctx, req.Discipline); err == nil {
			return fmt.Errorf("%w: %s sub-work of episode %s", models.ErrAlreadyExists, req.Discipline, req.EpisodeID)
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		work := models.NewSubWork(s.newID(), req.EpisodeID, req.Discipline, def.Initial)
		work.AssignedTo = strings.TrimSpace(req.AssignedTo)
		work.Notes = strings.TrimSpace(req.Notes)
		work.CreatedBy = s.actor(ctx)
		for k, v := range req.Fields {
			work.Fields[k] = v
		}
		work.CreatedAt = s.now()
		work.UpdatedAt = work.CreatedAt
		if err := tx.CreateSubWork(ctx, work); err != nil {
			return fmt.Errorf("failed to create sub-work: %w", err)
		}
		created = work
		return s.reconcile(ctx, tx, report, false)
	})
	if err != nil {
		return nil, nil, err
	}
	return created, report, nil
}

// UpdateSubWorkStatus moves a sub-work through its discipline's transition
// table and re-evaluates the episode.
func (s *WorkflowService) UpdateSubWorkStatus(ctx context.Context, subWorkID string, status models.SubWorkStatus, notes string) (*models.SubWork, *ChangeReport, error) {
	found, err := s.repo.FindSubWork(ctx, subWorkID)
	if err != nil {
		return nil, nil, err
	}

	var updated *models.SubWork
	report, err := s.mutate(ctx, found.EpisodeID, func(tx repository.Tx, report *ChangeReport) error {
		work, err := lockedSubWork(ctx, tx, found)
		if err != nil {
			return err
		}
		def, err := s.def.Discipline(work.Discipline)
		if err != nil {
			return err
		}
		if err := def.ValidateTransition(work.Status, status); err != nil {
			return err
		}
		if work.Discipline == models.DisciplineQualityControl && status == models.StatusCompleted {
			if keys := work.RevisionKeys(); len(keys) > 0 {
				return &models.TransitionError{
					Subject: fmt.Sprintf("%s sub-work", work.Discipline),
					From:    string(work.Status),
					To:      string(status),
					Allowed: def.TransitionsFrom(work.Status),
					Reason:  "checklist items still in revision: " + strings.Join(keys, ", "),
				}
			}
		}

		work.Status = status
		work.AppendNote(notes)
		work.UpdatedAt = s.now()
		if err := tx.SaveSubWork(ctx, work); err != nil {
			return fmt.Errorf("failed to save sub-work: %w", err)
		}
		if status == s.def.RevisionStatus {
			report.events = append(report.events, pendingEvent{
				event: notifications.EventSubWorkNeedsRevision,
				payload: notifications.Payload{
					notifications.KeyDiscipline: string(work.Discipline),
					notifications.KeySubWorkID:  work.ID,
					notifications.KeySource:     notifications.SourceStatusUpdate,
				},
			})
		}
		updated = work
		return s.reconcile(ctx, tx, report, work.Discipline == models.DisciplineQualityControl)
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, report, nil
}

// UpdateSubWork changes the assignee, fields or notes of a sub-work.
func (s *WorkflowService) UpdateSubWork(ctx context.Context, subWorkID string, req UpdateSubWorkRequest) (*models.SubWork, *ChangeReport, error) {
	if req.AssignedTo == nil && strings.TrimSpace(req.Notes) == "" && len(req.Fields) == 0 {
		return nil, nil, fmt.Errorf("%w: nothing to update", models.ErrInvalidArgument)
	}
	found, err := s.repo.FindSubWork(ctx, subWorkID)
	if err != nil {
		return nil, nil, err
	}

	var updated *models.SubWork
	report, err := s.mutate(ctx, found.EpisodeID, func(tx repository.Tx, report *ChangeReport) error {
		work, err := lockedSubWork(ctx, tx, found)
		if err != nil {
			return err
		}
		if req.AssignedTo != nil {
			work.AssignedTo = strings.TrimSpace(*req.AssignedTo)
		}
		for k, v := range req.Fields {
			if v == "" {
				delete(work.Fields, k)
			} else {
				work.Fields[k] = v
			}
		}
		work.AppendNote(req.Notes)
		work.UpdatedAt = s.now()
		if err := tx.SaveSubWork(ctx, work); err != nil {
			return fmt.Errorf("failed to save sub-work: %w", err)
		}
		updated = work
		return s.reconcile(ctx, tx, report, work.Discipline == models.DisciplineQualityControl)
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, report, nil
}

// UpdateChecklist applies checklist item changes to a QC sub-work and runs
// the repair pass. Every key must be classified in the ownership table.
// Sending an item of a completed QC back to revision reopens the QC.
func (s *WorkflowService) UpdateChecklist(ctx context.Context, qcID string, updates map[string]ChecklistUpdate) (*models.SubWork, *ChangeReport, error) {
	if len(updates) == 0 {
		return nil, nil, fmt.Errorf("%w: no checklist items given", models.ErrInvalidArgument)
	}
	found, err := s.repo.FindSubWork(ctx, qcID)
	if err != nil {
		return nil, nil, err
	}
	if found.Discipline != models.DisciplineQualityControl {
		return nil, nil, fmt.Errorf("%w: sub-work %s is %s, not quality_control", models.ErrInvalidArgument, qcID, found.Discipline)
	}

	keys := make([]string, 0, len(updates))
	for key := range updates {
		if _, ok := s.def.Owner(key); !ok {
			return nil, nil, fmt.Errorf("%w: checklist key %q is not classified", models.ErrInvalidArgument, key)
		}
		if !updates[key].Status.Valid() {
			return nil, nil, fmt.Errorf("%w: checklist status %q of %s", models.ErrInvalidArgument, updates[key].Status, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var updated *models.SubWork
	report, err := s.mutate(ctx, found.EpisodeID, func(tx repository.Tx, report *ChangeReport) error {
		qc, err := lockedSubWork(ctx, tx, found)
		if err != nil {
			return err
		}
		if qc.Checklist == nil {
			qc.Checklist = make(map[string]models.ChecklistItem)
		}
		now := s.now()
		actor := s.actor(ctx)
		for _, key := range keys {
			u := updates[key]
			item, ok := qc.Checklist[key]
			if !ok {
				item = models.ChecklistItem{Status: models.ChecklistPending}
			}
			if u.Status != item.Status && !models.ValidChecklistTransition(item.Status, u.Status) {
				return &models.TransitionError{
					Subject: "checklist item " + key,
					From:    string(item.Status),
					To:      string(u.Status),
					Allowed: models.ChecklistTransitionsFrom(item.Status),
				}
			}
			item.Status = u.Status
			if note := strings.TrimSpace(u.Note); note != "" {
				item.Note = note
			}
			item.UpdatedBy = actor
			item.UpdatedAt = now
			qc.Checklist[key] = item
		}
		if qc.Status == models.StatusCompleted && len(qc.RevisionKeys()) > 0 {
			qc.Status = s.def.RevisionStatus
			report.events = append(report.events, pendingEvent{
				event: notifications.EventSubWorkNeedsRevision,
				payload: notifications.Payload{
					notifications.KeyDiscipline: string(qc.Discipline),
					notifications.KeySubWorkID:  qc.ID,
					notifications.KeySource:     notifications.SourceChecklist,
					notifications.KeyItemKey:    strings.Join(qc.RevisionKeys(), ","),
				},
			})
		}
		qc.UpdatedAt = now
		if err := tx.SaveSubWork(ctx, qc); err != nil {
			return fmt.Errorf("failed to save checklist: %w", err)
		}
		updated = qc
		return s.reconcile(ctx, tx, report, true)
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, report, nil
}

// CompleteStep is the administrative path to complete a step. It succeeds
// only when the gate is open and the predicate holds.
func (s *WorkflowService) CompleteStep(ctx context.Context, episodeID string, step int, notes string) (*models.WorkflowStepProgress, *ChangeReport, error) {
	def, err := s.def.Step(step)
	if err != nil {
		return nil, nil, err
	}

	var row *models.WorkflowStepProgress
	report, err := s.mutate(ctx, episodeID, func(tx repository.Tx, report *ChangeReport) error {
		list, err := tx.ListSubWorks(ctx)
		if err != nil {
			return err
		}
		before, err := tx.GetStep(ctx, step)
		if err != nil {
			return err
		}
		advanced, changed, err := s.ledger.advance(ctx, tx, workflow.IndexWorks(list), step, models.StepCompleted, notes)
		if err != nil {
			return err
		}
		if changed {
			report.Steps = append(report.Steps, workflow.StepChange{Step: step, Key: def.Key, From: before.Status, To: models.StepCompleted})
			report.events = append(report.events, stepCompletedEvent(advanced))
		}
		if err := s.reconcile(ctx, tx, report, false); err != nil {
			return err
		}
		row, err = tx.GetStep(ctx, step)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return row, report, nil
}

// RepairEpisode runs the evaluator and the QC repair pass on one episode.
func (s *WorkflowService) RepairEpisode(ctx context.Context, episodeID string) (*ChangeReport, error) {
	return s.mutate(ctx, episodeID, func(tx repository.Tx, report *ChangeReport) error {
		return s.reconcile(ctx, tx, report, true)
	})
}

// RepairAll repairs every episode. A failing episode does not stop the others;
// the failures are joined in the returned error.
func (s *WorkflowService) RepairAll(ctx context.Context) ([]*ChangeReport, error) {
	episodes, err := s.repo.ListEpisodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	var (
		reports []*ChangeReport
		errs    []error
	)
	for _, ep := range episodes {
		report, err := s.RepairEpisode(ctx, ep.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("episode %s: %w", ep.ID, err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// mutate runs fn under the episode lock and, once committed, records
// metrics and publishes the collected events.
func (s *WorkflowService) mutate(ctx context.Context, episodeID string, fn func(tx repository.Tx, report *ChangeReport) error) (*ChangeReport, error) {
	report := &ChangeReport{EpisodeID: episodeID}
	err := s.repo.Update(ctx, episodeID, func(tx repository.Tx) error {
		return fn(tx, report)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, report)
	return report, nil
}

// reconcile evaluates the ledger, provisions sub-works whose gate opened,
// and optionally runs the repair pass.
func (s *WorkflowService) reconcile(ctx context.Context, tx repository.Tx, report *ChangeReport, repair bool) error {
	episodeID := tx.Episode().ID
	rows, err := tx.ListSteps(ctx)
	if err != nil {
		return fmt.Errorf("failed to list steps: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: workflow of episode %s is not initialized", models.ErrNotFound, episodeID)
	}
	list, err := tx.ListSubWorks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sub-works: %w", err)
	}
	works := workflow.IndexWorks(list)

	plan := s.def.Evaluate(workflow.Input{
		EpisodeID: episodeID,
		Ledger:    rows,
		Works:     works,
		NewID:     s.newID,
		Actor:     s.actor(ctx),
	})
	for _, w := range plan.Provision {
		if err := tx.CreateSubWork(ctx, w); err != nil {
			return fmt.Errorf("failed to provision %s sub-work: %w", w.Discipline, err)
		}
		works[w.Discipline] = w
		report.Provisioned = append(report.Provisioned, w)
	}
	for _, change := range plan.Changes {
		row, changed, err := s.ledger.advance(ctx, tx, works, change.Step, change.To, "")
		if err != nil {
			return fmt.Errorf("failed to advance step %d: %w", change.Step, err)
		}
		if !changed {
			continue
		}
		report.Steps = append(report.Steps, change)
		if change.To == models.StepCompleted {
			report.events = append(report.events, stepCompletedEvent(row))
		}
	}

	if repair {
		if err := s.repair(ctx, tx, works, report); err != nil {
			return err
		}
	}

	episode := tx.Episode()
	if episode.Status != plan.EpisodeStatus || episode.CurrentStep != plan.CurrentStep {
		episode.Status = plan.EpisodeStatus
		episode.CurrentStep = plan.CurrentStep
		episode.UpdatedAt = s.now()
		if err := tx.SaveEpisode(ctx, episode); err != nil {
			return fmt.Errorf("failed to save episode: %w", err)
		}
	}
	report.Episode = episode
	return nil
}

func (s *WorkflowService) repair(ctx context.Context, tx repository.Tx, works workflow.Works, report *ChangeReport) error {
	plan := s.def.PlanRepair(works[models.DisciplineQualityControl], works)
	for _, w := range plan.Updates {
		w.UpdatedAt = s.now()
		if err := tx.SaveSubWork(ctx, w); err != nil {
			return fmt.Errorf("failed to repair %s sub-work: %w", w.Discipline, err)
		}
		works[w.Discipline] = w
	}
	report.repairWrites += len(plan.Updates)
	report.Repairs = append(report.Repairs, plan.Changes...)
	report.Diagnostics = append(report.Diagnostics, plan.Diagnostics...)

	for _, change := range plan.Changes {
		if !change.StatusChanged {
			continue
		}
		report.events = append(report.events, pendingEvent{
			event: notifications.EventSubWorkNeedsRevision,
			payload: notifications.Payload{
				notifications.KeyDiscipline: string(change.Discipline),
				notifications.KeySubWorkID:  change.SubWorkID,
				notifications.KeySource:     notifications.SourceQCRepair,
				notifications.KeyItemKey:    change.ItemKey,
			},
		})
	}
	return nil
}

func (s *WorkflowService) afterCommit(ctx context.Context, report *ChangeReport) {
	for _, change := range report.Steps {
		s.metrics.StepAdvanced(ctx, change.Step, string(change.To))
		s.logger.Info("step advanced",
			logging.FieldEpisodeID, report.EpisodeID,
			logging.FieldStep, change.Step,
			"from", string(change.From),
			"to", string(change.To))
	}
	for _, w := range report.Provisioned {
		s.metrics.SubWorkProvisioned(ctx, string(w.Discipline))
		s.logger.Info("sub-work provisioned",
			logging.FieldEpisodeID, report.EpisodeID,
			logging.FieldDiscipline, string(w.Discipline),
			logging.FieldSubWorkID, w.ID)
	}
	s.metrics.RepairWrites(ctx, report.repairWrites)
	for _, d := range report.Diagnostics {
		s.metrics.RepairDiagnostic(ctx, d.Kind)
		s.logger.Warn("repair skipped checklist item",
			"kind", d.Kind,
			logging.FieldEpisodeID, d.EpisodeID,
			logging.FieldDiscipline, string(d.Discipline),
			logging.FieldItemKey, d.ItemKey,
			"detail", d.Message)
	}
	for _, e := range report.events {
		if err := s.sink.Publish(ctx, report.EpisodeID, e.event, e.payload); err != nil {
			s.metrics.NotificationFailed(ctx, string(e.event))
			s.logger.Warn("notification failed",
				logging.FieldEpisodeID, report.EpisodeID,
				logging.FieldEvent, string(e.event),
				"error", err)
		}
	}
}

func stepCompletedEvent(row *models.WorkflowStepProgress) pendingEvent {
	payload := notifications.Payload{
		notifications.KeyStep:     row.Step,
		notifications.KeyStepKey:  row.Key,
		notifications.KeyStepName: row.Name,
	}
	if row.CompletedAt != nil {
		payload[notifications.KeyCompletedAt] = row.CompletedAt.Format(time.RFC3339)
	}
	return pendingEvent{event: notifications.EventStepCompleted, payload: payload}
}

// lockedSubWork re-reads a sub-work inside the locked section.
func lockedSubWork(ctx context.Context, tx repository.Tx, found *models.SubWork) (*models.SubWork, error) {
	work, err := tx.GetSubWork(ctx, found.Discipline)
	if err != nil {
		return nil, err
	}
	if work.ID != found.ID {
		return nil, fmt.Errorf("%w: sub-work %s", models.ErrNotFound, found.ID)
	}
	return work, nil
}
