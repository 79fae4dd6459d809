package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"broadcast-ops/backend/internal/services"
	"broadcast-ops/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	workflow  services.Workflow
}

func NewServer(wf services.Workflow) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Episode Workflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		workflow: wf,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_snapshot",
			mcp.WithDescription("Return the ordered workflow steps of an episode"),
			mcp.WithString("episode_id", mcp.Required(), mcp.Description("The ID of the episode")),
		),
		s.handleSnapshot,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_episode_state",
			mcp.WithDescription("Return an episode with its steps, sub-works and what blocks the current step"),
			mcp.WithString("episode_id", mcp.Required(), mcp.Description("The ID of the episode")),
		),
		s.handleEpisodeState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"evaluate_episode",
			mcp.WithDescription("Re-evaluate the workflow after a sub-work changed"),
			mcp.WithString("episode_id", mcp.Required(), mcp.Description("The ID of the episode")),
			mcp.WithString("discipline", mcp.Required(), mcp.Description("The discipline whose sub-work changed")),
		),
		s.handleEvaluate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"repair_episode",
			mcp.WithDescription("Propagate open QC revision requests to the owning sub-works"),
			mcp.WithString("episode_id", mcp.Required(), mcp.Description("The ID of the episode")),
		),
		s.handleRepair,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"update_subwork_status",
			mcp.WithDescription("Move a sub-work to a new status"),
			mcp.WithString("sub_work_id", mcp.Required(), mcp.Description("The ID of the sub-work")),
			mcp.WithString("status", mcp.Required(), mcp.Description("The target status")),
			mcp.WithString("notes", mcp.Description("Notes appended to the sub-work")),
		),
		s.handleUpdateStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"update_checklist_item",
			mcp.WithDescription("Set the status of one QC checklist item"),
			mcp.WithString("qc_id", mcp.Required(), mcp.Description("The ID of the quality control sub-work")),
			mcp.WithString("item_key", mcp.Required(), mcp.Description("The checklist item key, e.g. bts_video")),
			mcp.WithString("status", mcp.Required(), mcp.Description("pending, approved, revision or revised")),
			mcp.WithString("note", mcp.Description("Reviewer note")),
		),
		s.handleUpdateChecklist,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_step",
			mcp.WithDescription("Complete a workflow step whose requirements are met"),
			mcp.WithString("episode_id", mcp.Required(), mcp.Description("The ID of the episode")),
			mcp.WithNumber("step", mcp.Required(), mcp.Description("The step number, starting at 1")),
			mcp.WithString("notes", mcp.Description("Notes recorded on the step")),
		),
		s.handleCompleteStep,
	)
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, mcp.NewToolResultError("Invalid arguments type")
	}
	return args, nil
}

func requiredString(args map[string]interface{}, name string) (string, *mcp.CallToolResult) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return v, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	episodeID, res := requiredString(args, "episode_id")
	if res != nil {
		return res, nil
	}

	steps, err := s.workflow.GetWorkflowSnapshot(ctx, episodeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load workflow: %v", err)), nil
	}
	return jsonResult(steps)
}

func (s *Server) handleEpisodeState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	episodeID, res := requiredString(args, "episode_id")
	if res != nil {
		return res, nil
	}

	state, err := s.workflow.GetEpisodeState(ctx, episodeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load episode: %v", err)), nil
	}
	return jsonResult(state)
}

func (s *Server) handleEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	episodeID, res := requiredString(args, "episode_id")
	if res != nil {
		return res, nil
	}
	discipline, res := requiredString(args, "discipline")
	if res != nil {
		return res, nil
	}

	report, err := s.workflow.OnSubWorkChanged(ctx, episodeID, models.Discipline(discipline))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate: %v", err)), nil
	}
	return jsonResult(report)
}

func (s *Server) handleRepair(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	episodeID, res := requiredString(args, "episode_id")
	if res != nil {
		return res, nil
	}

	report, err := s.workflow.RepairEpisode(ctx, episodeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to repair: %v", err)), nil
	}
	return jsonResult(report)
}

func (s *Server) handleUpdateStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	id, res := requiredString(args, "sub_work_id")
	if res != nil {
		return res, nil
	}
	status, res := requiredString(args, "status")
	if res != nil {
		return res, nil
	}
	notes, _ := args["notes"].(string)

	work, report, err := s.workflow.UpdateSubWorkStatus(ctx, id, models.SubWorkStatus(status), notes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update status: %v", err)), nil
	}
	return jsonResult(map[string]any{"sub_work": work, "report": report})
}

func (s *Server) handleUpdateChecklist(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	qcID, res := requiredString(args, "qc_id")
	if res != nil {
		return res, nil
	}
	key, res := requiredString(args, "item_key")
	if res != nil {
		return res, nil
	}
	status, res := requiredString(args, "status")
	if res != nil {
		return res, nil
	}
	note, _ := args["note"].(string)

	work, report, err := s.workflow.UpdateChecklist(ctx, qcID, map[string]services.ChecklistUpdate{
		key: {Status: models.ChecklistStatus(status), Note: note},
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update checklist: %v", err)), nil
	}
	return jsonResult(map[string]any{"sub_work": work, "report": report})
}

func (s *Server) handleCompleteStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	episodeID, res := requiredString(args, "episode_id")
	if res != nil {
		return res, nil
	}
	step, ok := args["step"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: step"), nil
	}
	notes, _ := args["notes"].(string)

	row, report, err := s.workflow.CompleteStep(ctx, episodeID, int(step), notes)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to complete step: %v", err)), nil
	}
	return jsonResult(map[string]any{"step": row, "report": report})
}

// MountHTTPHandlers serves the MCP SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
