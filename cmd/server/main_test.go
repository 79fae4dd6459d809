package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-ops/backend/internal/repository"
	"broadcast-ops/backend/internal/services"
	"broadcast-ops/backend/internal/workflow"
	"broadcast-ops/backend/pkg/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("BROADCAST_STORAGE_DRIVER", "memory")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDefinitionCommands(t *testing.T) {
	out, err := execute(t, "definition", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "7 steps")

	out, err = execute(t, "definition", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "post_production")
	assert.Contains(t, out, "creative=submitted|completed")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("steps: []\n"), 0o600))
	_, err = execute(t, "definition", "validate", bad)
	assert.Error(t, err)
}

func TestMigrateWithMemoryDriver(t *testing.T) {
	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "needs no migrations")
}

func TestMigrateWithSQLiteDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.db")
	t.Setenv("BROADCAST_STORAGE_PATH", path)
	t.Setenv("BROADCAST_STORAGE_DRIVER", "sqlite")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"migrate"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Migrations applied")
	assert.FileExists(t, path)
}

func TestRepairCommandEmptyStore(t *testing.T) {
	out, err := execute(t, "repair")
	require.NoError(t, err)
	assert.Contains(t, out, "Episode")
}

func TestSnapshotUnknownEpisode(t *testing.T) {
	_, err := execute(t, "snapshot", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRenderSnapshot(t *testing.T) {
	ctx := context.Background()
	store, err := repository.OpenMemory()
	require.NoError(t, err)
	defer store.Close()
	svc := services.NewWorkflowService(store, workflow.MustDefault())
	ep, err := svc.CreateEpisode(ctx, services.CreateEpisodeRequest{ProgramID: "news", EpisodeNumber: 3, Title: "Harvest"})
	require.NoError(t, err)

	state, err := svc.GetEpisodeState(ctx, ep.ID)
	require.NoError(t, err)

	out := renderSnapshot(state)
	assert.Contains(t, out, "news #3 Harvest")
	assert.Contains(t, out, "*1")
	assert.Contains(t, out, "blocked: creative")
}
