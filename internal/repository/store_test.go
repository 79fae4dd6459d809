package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-ops/backend/pkg/models"
)

var errAbort = errors.New("abort")

func newEpisode(t *testing.T, ctx context.Context, repo Repository, number int) *models.Episode {
	t.Helper()
	ep := models.NewEpisode(uuid.NewString(), "store-test", number, fmt.Sprintf("Episode %d", number))
	ep.CreatedAt = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	ep.UpdatedAt = ep.CreatedAt
	require.NoError(t, repo.CreateEpisode(ctx, ep, nil))
	return ep
}

func ledgerRows(episodeID string, n int) []*models.WorkflowStepProgress {
	rows := make([]*models.WorkflowStepProgress, n)
	for i := range rows {
		rows[i] = &models.WorkflowStepProgress{
			EpisodeID: episodeID,
			Step:      i + 1,
			Key:       fmt.Sprintf("step_%d", i+1),
			Name:      fmt.Sprintf("Step %d", i+1),
			Status:    models.StepPending,
			UpdatedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
		}
	}
	return rows
}

// runStoreSuite checks the Repository contract shared by every backend.
func runStoreSuite(t *testing.T, repo Repository) {
	ctx := context.Background()
	number := 0
	next := func() int { number++; return number }

	t.Run("episode round trip", func(t *testing.T) {
		ep := newEpisode(t, ctx, repo, next())

		got, err := repo.GetEpisode(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, ep.ProgramID, got.ProgramID)
		assert.Equal(t, ep.EpisodeNumber, got.EpisodeNumber)
		assert.Equal(t, models.EpisodeStatusNotStarted, got.Status)
		assert.True(t, ep.CreatedAt.Equal(got.CreatedAt))

		_, err = repo.GetEpisode(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.ErrorIs(t, repo.CreateEpisode(ctx, ep, nil), models.ErrAlreadyExists)

		list, err := repo.ListEpisodes(ctx)
		require.NoError(t, err)
		ids := make([]string, len(list))
		for i, e := range list {
			ids[i] = e.ID
		}
		assert.Contains(t, ids, ep.ID)
	})

	t.Run("program and episode number are unique", func(t *testing.T) {
		ep := newEpisode(t, ctx, repo, next())

		dup := models.NewEpisode(uuid.NewString(), ep.ProgramID, ep.EpisodeNumber, "Again")
		dup.CreatedAt = ep.CreatedAt
		dup.UpdatedAt = ep.UpdatedAt
		assert.ErrorIs(t, repo.CreateEpisode(ctx, dup, nil), models.ErrAlreadyExists)

		_, err := repo.GetEpisode(ctx, dup.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("create runs fn in the same transaction", func(t *testing.T) {
		ep := models.NewEpisode(uuid.NewString(), "store-test", next(), "With ledger")
		ep.CreatedAt = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
		ep.UpdatedAt = ep.CreatedAt
		require.NoError(t, repo.CreateEpisode(ctx, ep, func(tx Tx) error {
			assert.Equal(t, ep.ID, tx.Episode().ID)
			return tx.InsertSteps(ctx, ledgerRows(ep.ID, 2))
		}))
		require.NoError(t, repo.View(ctx, ep.ID, func(tx Tx) error {
			rows, err := tx.ListSteps(ctx)
			require.NoError(t, err)
			assert.Len(t, rows, 2)
			return nil
		}))

		failed := models.NewEpisode(uuid.NewString(), "store-test", next(), "Rolled back")
		failed.CreatedAt = ep.CreatedAt
		failed.UpdatedAt = ep.UpdatedAt
		err := repo.CreateEpisode(ctx, failed, func(tx Tx) error {
			require.NoError(t, tx.InsertSteps(ctx, ledgerRows(failed.ID, 2)))
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)
		_, err = repo.GetEpisode(ctx, failed.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("ledger insert is all or nothing", func(t *testing.T) {
		ep := newEpisode(t, ctx, repo, next())

		require.NoError(t, repo.Update(ctx, ep.ID, func(tx Tx) error {
			return tx.InsertSteps(ctx, ledgerRows(ep.ID, 3))
		}))
		err := repo.Update(ctx, ep.ID, func(tx Tx) error {
			return tx.InsertSteps(ctx, ledgerRows(ep.ID, 3))
		})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)

		require.NoError(t, repo.View(ctx, ep.ID, func(tx Tx) error {
			rows, err := tx.ListSteps(ctx)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			for i, row := range rows {
				assert.Equal(t, i+1, row.Step)
			}
			_, err = tx.GetStep(ctx, 9)
			assert.ErrorIs(t, err, models.ErrNotFound)
			return nil
		}))
	})

	t.Run("failed update rolls back", func(t *testing.T) {
		ep := newEpisode(t, ctx, repo, next())
		require.NoError(t, repo.Update(ctx, ep.ID, func(tx Tx) error {
			return tx.InsertSteps(ctx, ledgerRows(ep.ID, 2))
		}))

		err := repo.Update(ctx, ep.ID, func(tx Tx) error {
			row, err := tx.GetStep(ctx, 1)
			require.NoError(t, err)
			row.Status = models.StepCompleted
			require.NoError(t, tx.SaveStep(ctx, row))

			work := models.NewSubWork(uuid.NewString(), ep.ID, models.DisciplineCreative, models.StatusDraft)
			require.NoError(t, tx.CreateSubWork(ctx, work))

			updated := tx.Episode()
			updated.Status = models.EpisodeStatusInProgress
			require.NoError(t, tx.SaveEpisode(ctx, updated))
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		require.NoError(t, repo.View(ctx, ep.ID, func(tx Tx) error {
			assert.Equal(t, models.EpisodeStatusNotStarted, tx.Episode().Status)
			row, err := tx.GetStep(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, models.StepPending, row.Status)
			works, err := tx.ListSubWorks(ctx)
			require.NoError(t, err)
			assert.Empty(t, works)
			return nil
		}))
	})

	t.Run("sub-work round trip", func(t *testing.T) {
		ep := newEpisode(t, ctx, repo, next())

		work := models.NewSubWork(uuid.NewString(), ep.ID, models.DisciplineQualityControl, models.StatusPending)
		work.Fields = map[string]string{"shooting_date": "2026-11-02"}
		work.Predecessors = map[models.Discipline]string{models.DisciplineEditor: "editor-1"}
		work.Checklist = map[string]models.ChecklistItem{
			"bts_video": {Status: models.ChecklistRevision, Note: "audio clipped"},
		}
		work.CreatedAt = time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
		work.UpdatedAt = work.CreatedAt

		require.NoError(t, repo.Update(ctx, ep.ID, func(tx Tx) error {
			return tx.CreateSubWork(ctx, work)
		}))

		dup := models.NewSubWork(uuid.NewString(), ep.ID, models.DisciplineQualityControl, models.StatusPending)
		err := repo.Update(ctx, ep.ID, func(tx Tx) error {
			return tx.CreateSubWork(ctx, dup)
		})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)

		found, err := repo.FindSubWork(ctx, work.ID)
		require.NoError(t, err)
		assert.Equal(t, ep.ID, found.EpisodeID)
		assert.Equal(t, work.Fields, found.Fields)
		assert.Equal(t, work.Predecessors, found.Predecessors)
		assert.Equal(t, models.ChecklistRevision, found.Checklist["bts_video"].Status)
		assert.Equal(t, "audio clipped", found.Checklist["bts_video"].Note)

		_, err = repo.FindSubWork(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)

		require.NoError(t, repo.Update(ctx, ep.ID, func(tx Tx) error {
			w, err := tx.GetSubWork(ctx, models.DisciplineQualityControl)
			require.NoError(t, err)
			w.Status = models.StatusInProgress
			w.Notes = "started"
			return tx.SaveSubWork(ctx, w)
		}))

		require.NoError(t, repo.View(ctx, ep.ID, func(tx Tx) error {
			w, err := tx.GetSubWork(ctx, models.DisciplineQualityControl)
			require.NoError(t, err)
			assert.Equal(t, models.StatusInProgress, w.Status)
			assert.Equal(t, "started", w.Notes)
			_, err = tx.GetSubWork(ctx, models.DisciplineCreative)
			assert.ErrorIs(t, err, models.ErrNotFound)
			return nil
		}))
	})

	t.Run("returned records are copies", func(t *testing.T) {
		ep := newEpisode(t, ctx, repo, next())
		work := models.NewSubWork(uuid.NewString(), ep.ID, models.DisciplineCreative, models.StatusDraft)
		require.NoError(t, repo.Update(ctx, ep.ID, func(tx Tx) error {
			return tx.CreateSubWork(ctx, work)
		}))

		require.NoError(t, repo.Update(ctx, ep.ID, func(tx Tx) error {
			w, err := tx.GetSubWork(ctx, models.DisciplineCreative)
			require.NoError(t, err)
			w.Status = models.StatusSubmitted
			return nil
		}))

		found, err := repo.FindSubWork(ctx, work.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDraft, found.Status)
	})

	t.Run("view is read-only", func(t *testing.T) {
		ep := newEpisode(t, ctx, repo, next())
		err := repo.View(ctx, ep.ID, func(tx Tx) error {
			return tx.SaveEpisode(ctx, tx.Episode())
		})
		assert.Error(t, err)
	})

	t.Run("unknown episode", func(t *testing.T) {
		called := false
		err := repo.Update(ctx, "missing", func(tx Tx) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.False(t, called)
	})

	require.NoError(t, repo.Ping(ctx))
}
