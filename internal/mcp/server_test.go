package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcast-ops/backend/internal/repository"
	"broadcast-ops/backend/internal/services"
	"broadcast-ops/backend/internal/workflow"
	"broadcast-ops/backend/pkg/models"
)

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestTools(t *testing.T) {
	ctx := context.Background()
	store, err := repository.OpenMemory()
	require.NoError(t, err)
	defer store.Close()
	svc := services.NewWorkflowService(store, workflow.MustDefault())
	s := NewServer(svc)
	require.NotNil(t, s.GetMCPServer())

	ep, err := svc.CreateEpisode(ctx, services.CreateEpisodeRequest{ProgramID: "talk", EpisodeNumber: 1})
	require.NoError(t, err)
	creative, _, err := svc.CreateSubWork(ctx, services.CreateSubWorkRequest{EpisodeID: ep.ID, Discipline: models.DisciplineCreative})
	require.NoError(t, err)

	t.Run("snapshot", func(t *testing.T) {
		res, err := s.handleSnapshot(ctx, call(map[string]interface{}{"episode_id": ep.ID}))
		require.NoError(t, err)
		require.False(t, res.IsError)

		var steps []models.WorkflowStepProgress
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &steps))
		require.Len(t, steps, 7)
		assert.Equal(t, models.StepInProgress, steps[0].Status)
	})

	t.Run("missing parameter", func(t *testing.T) {
		res, err := s.handleSnapshot(ctx, call(map[string]interface{}{}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "episode_id")
	})

	t.Run("status update", func(t *testing.T) {
		res, err := s.handleUpdateStatus(ctx, call(map[string]interface{}{
			"sub_work_id": creative.ID,
			"status":      "submitted",
		}))
		require.NoError(t, err)
		require.False(t, res.IsError, resultText(t, res))

		res, err = s.handleEpisodeState(ctx, call(map[string]interface{}{"episode_id": ep.ID}))
		require.NoError(t, err)
		var state services.EpisodeState
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &state))
		assert.Equal(t, 2, state.Episode.CurrentStep)
	})

	t.Run("illegal transition is a tool error", func(t *testing.T) {
		res, err := s.handleUpdateStatus(ctx, call(map[string]interface{}{
			"sub_work_id": creative.ID,
			"status":      "draft",
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "allowed from submitted")
	})

	t.Run("evaluate and repair", func(t *testing.T) {
		res, err := s.handleEvaluate(ctx, call(map[string]interface{}{"episode_id": ep.ID, "discipline": "creative"}))
		require.NoError(t, err)
		assert.False(t, res.IsError)

		res, err = s.handleRepair(ctx, call(map[string]interface{}{"episode_id": ep.ID}))
		require.NoError(t, err)
		assert.False(t, res.IsError)
	})

	t.Run("complete step", func(t *testing.T) {
		res, err := s.handleCompleteStep(ctx, call(map[string]interface{}{"episode_id": ep.ID, "step": float64(2)}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(t, res), "creative must have status completed")

		res, err = s.handleCompleteStep(ctx, call(map[string]interface{}{"episode_id": ep.ID}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("checklist on a non-qc sub-work", func(t *testing.T) {
		res, err := s.handleUpdateChecklist(ctx, call(map[string]interface{}{
			"qc_id":    creative.ID,
			"item_key": "poster",
			"status":   "approved",
		}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})
}
