package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-ops/backend/pkg/models"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, openMemory(t))
}

func TestSQLiteStoreFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "workflow.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	ep := newEpisode(t, ctx, store, 1)
	require.NoError(t, store.Close())

	// Reopening applies the schema again without touching the data.
	store, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.Title, got.Title)
}

func TestSQLiteStoreWrites(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	ep := newEpisode(t, ctx, store, 1)
	assert.EqualValues(t, 1, store.Writes())

	require.NoError(t, store.Update(ctx, ep.ID, func(tx Tx) error {
		return tx.InsertSteps(ctx, ledgerRows(ep.ID, 7))
	}))
	assert.EqualValues(t, 8, store.Writes())

	// Reads and rolled-back writes are not counted.
	require.NoError(t, store.Update(ctx, ep.ID, func(tx Tx) error {
		_, err := tx.ListSteps(ctx)
		return err
	}))
	_ = store.Update(ctx, ep.ID, func(tx Tx) error {
		require.NoError(t, tx.SaveEpisode(ctx, tx.Episode()))
		return errAbort
	})
	assert.EqualValues(t, 8, store.Writes())

	err := store.View(ctx, ep.ID, func(tx Tx) error {
		return tx.SaveEpisode(ctx, tx.Episode())
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestSQLiteStoreSerializesUpdates(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	ep := newEpisode(t, ctx, store, 1)
	require.NoError(t, store.Update(ctx, ep.ID, func(tx Tx) error {
		return tx.InsertSteps(ctx, ledgerRows(ep.ID, 1))
	}))

	// Each update appends to the notes of step 1. Lost updates would drop marks.
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Update(ctx, ep.ID, func(tx Tx) error {
				row, err := tx.GetStep(ctx, 1)
				if err != nil {
					return err
				}
				row.Notes += "x"
				return tx.SaveStep(ctx, row)
			}))
		}()
	}
	wg.Wait()

	require.NoError(t, store.View(ctx, ep.ID, func(tx Tx) error {
		row, err := tx.GetStep(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, row.Notes, n)
		return nil
	}))
}

func TestSQLiteStoreCanceledContext(t *testing.T) {
	store := openMemory(t)
	ep := newEpisode(t, context.Background(), store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Update(ctx, ep.ID, func(tx Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.FindSubWork(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSQLiteStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := openMemory(t)
	b := openMemory(t)
	ep := newEpisode(t, ctx, a, 1)

	_, err := b.GetEpisode(ctx, ep.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
