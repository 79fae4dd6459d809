package services

import (
	"context"

	"broadcast-ops/backend/internal/workflow"
	"broadcast-ops/backend/pkg/models"
)

// Workflow is the service surface consumed by the HTTP, MCP and CLI layers.
type Workflow interface {
	CreateEpisode(ctx context.Context, req CreateEpisodeRequest) (*models.Episode, error)
	InitializeWorkflow(ctx context.Context, episodeID string) error
	GetEpisode(ctx context.Context, episodeID string) (*models.Episode, error)
	ListEpisodes(ctx context.Context) ([]*models.Episode, error)
	GetWorkflowSnapshot(ctx context.Context, episodeID string) ([]*models.WorkflowStepProgress, error)
	GetEpisodeState(ctx context.Context, episodeID string) (*EpisodeState, error)
	OnSubWorkChanged(ctx context.Context, episodeID string, discipline models.Discipline) (*ChangeReport, error)

	GetSubWork(ctx context.Context, episodeID string, discipline models.Discipline) (*models.SubWork, error)
	CreateSubWork(ctx context.Context, req CreateSubWorkRequest) (*models.SubWork, *ChangeReport, error)
	UpdateSubWorkStatus(ctx context.Context, subWorkID string, status models.SubWorkStatus, notes string) (*models.SubWork, *ChangeReport, error)
	UpdateSubWork(ctx context.Context, subWorkID string, req UpdateSubWorkRequest) (*models.SubWork, *ChangeReport, error)
	UpdateChecklist(ctx context.Context, qcID string, updates map[string]ChecklistUpdate) (*models.SubWork, *ChangeReport, error)

	CompleteStep(ctx context.Context, episodeID string, step int, notes string) (*models.WorkflowStepProgress, *ChangeReport, error)
	RepairEpisode(ctx context.Context, episodeID string) (*ChangeReport, error)
	RepairAll(ctx context.Context) ([]*ChangeReport, error)

	Definition() *workflow.Definition
	Ping(ctx context.Context) error
}

// ActorAccessor resolves the identity recorded in created_by and updated_by
// fields. Identity validation happens upstream.
type ActorAccessor func(ctx context.Context) string

type actorKey struct{}

// WithActor returns a context carrying the acting user.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor, or "system".
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
