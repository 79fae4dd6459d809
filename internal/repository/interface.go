package repository

import (
	"context"

	"broadcast-ops/backend/pkg/models"
)

// Repository is the storage contract for episodes and their workflow state.
type Repository interface {
	// CreateEpisode stores a new episode and runs fn, which may be nil, in the
	// same transaction. It fails with ErrAlreadyExists when the ID or the
	// (program, episode number) pair is taken.
	CreateEpisode(ctx context.Context, episode *models.Episode, fn func(tx Tx) error) error
	// GetEpisode retrieves an episode by its ID.
	GetEpisode(ctx context.Context, id string) (*models.Episode, error)
	// ListEpisodes returns every episode ordered by creation time.
	ListEpisodes(ctx context.Context) ([]*models.Episode, error)
	// FindSubWork looks a sub-work up by ID without locking its episode.
	FindSubWork(ctx context.Context, id string) (*models.SubWork, error)

	// View runs fn with read access to one episode.
	View(ctx context.Context, episodeID string, fn func(tx Tx) error) error
	// Update runs fn while holding the episode's lock. Writes made through tx
	// are committed only when fn returns nil; the lock is released on every path.
	Update(ctx context.Context, episodeID string, fn func(tx Tx) error) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// Tx is scoped to a single episode. Records returned by Tx are copies;
// changes take effect only through the Save/Create methods.
type Tx interface {
	// Episode returns the episode the transaction is scoped to.
	Episode() *models.Episode
	// SaveEpisode writes the derived episode fields.
	SaveEpisode(ctx context.Context, episode *models.Episode) error

	// InsertSteps creates ledger rows. It fails with ErrAlreadyExists if any row exists.
	InsertSteps(ctx context.Context, steps []*models.WorkflowStepProgress) error
	// ListSteps returns ledger rows ordered by step number.
	ListSteps(ctx context.Context) ([]*models.WorkflowStepProgress, error)
	// GetStep returns one ledger row.
	GetStep(ctx context.Context, step int) (*models.WorkflowStepProgress, error)
	// SaveStep updates an existing ledger row.
	SaveStep(ctx context.Context, step *models.WorkflowStepProgress) error

	// ListSubWorks returns every sub-work of the episode.
	ListSubWorks(ctx context.Context) ([]*models.SubWork, error)
	// GetSubWork returns the sub-work of a discipline.
	GetSubWork(ctx context.Context, discipline models.Discipline) (*models.SubWork, error)
	// CreateSubWork inserts a sub-work. It fails with ErrAlreadyExists when
	// the episode already has one for the discipline.
	CreateSubWork(ctx context.Context, work *models.SubWork) error
	// SaveSubWork updates an existing sub-work.
	SaveSubWork(ctx context.Context, work *models.SubWork) error
}
