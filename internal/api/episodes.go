// Package api contains the HTTP handlers for the episode workflow service
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"broadcast-ops/backend/internal/services"
	"broadcast-ops/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Workflow services.Workflow
}

// NewServer creates a new Server.
func NewServer(wf services.Workflow) *Server {
	return &Server{Workflow: wf}
}

// RegisterRoutes mounts the REST API on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/api/v1", ActorMiddleware())

	v1.GET("/definition", s.GetDefinition)
	v1.POST("/repair", s.RepairAll)

	v1.GET("/episodes", s.ListEpisodes)
	v1.POST("/episodes", s.CreateEpisode)
	v1.GET("/episodes/:id", s.GetEpisode)
	v1.GET("/episodes/:id/workflow", s.GetWorkflow)
	v1.POST("/episodes/:id/workflow/steps/:step/complete", s.CompleteStep)
	v1.POST("/episodes/:id/evaluate", s.Evaluate)
	v1.POST("/episodes/:id/repair", s.RepairEpisode)
	v1.POST("/episodes/:id/subworks", s.CreateSubWork)
	v1.GET("/episodes/:id/subworks/:discipline", s.GetSubWork)

	v1.PATCH("/subworks/:id", s.UpdateSubWork)
	v1.PUT("/subworks/:id/status", s.UpdateSubWorkStatus)
	v1.PUT("/subworks/:id/checklist", s.UpdateChecklist)
}

// SubWorkResponse is returned by sub-work mutations.
type SubWorkResponse struct {
	SubWork *models.SubWork        `json:"sub_work"`
	Report  *services.ChangeReport `json:"report"`
}

// StatusRequest is the body of PUT /subworks/:id/status.
type StatusRequest struct {
	Status models.SubWorkStatus `json:"status"`
	Notes  string               `json:"notes"`
}

// ChecklistRequest is the body of PUT /subworks/:id/checklist.
type ChecklistRequest struct {
	Items map[string]services.ChecklistUpdate `json:"items"`
}

// CompleteStepRequest is the body of POST .../steps/:step/complete.
type CompleteStepRequest struct {
	Notes string `json:"notes"`
}

func badRequest(msg string, err error) error {
	if err != nil {
		msg += ": " + err.Error()
	}
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// GetDefinition returns the step table
// (GET /api/v1/definition)
func (s *Server) GetDefinition(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Workflow.Definition())
}

// ListEpisodes returns a list of all episodes
// (GET /api/v1/episodes)
func (s *Server) ListEpisodes(c echo.Context) error {
	episodes, err := s.Workflow.ListEpisodes(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, episodes)
}

// CreateEpisode creates an episode and its step ledger
// (POST /api/v1/episodes)
func (s *Server) CreateEpisode(c echo.Context) error {
	var req services.CreateEpisodeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body", err)
	}
	episode, err := s.Workflow.CreateEpisode(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, episode)
}

// GetEpisode returns the episode with its ledger and sub-works
// (GET /api/v1/episodes/:id)
func (s *Server) GetEpisode(c echo.Context) error {
	state, err := s.Workflow.GetEpisodeState(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

// GetWorkflow returns the ordered step ledger
// (GET /api/v1/episodes/:id/workflow)
func (s *Server) GetWorkflow(c echo.Context) error {
	steps, err := s.Workflow.GetWorkflowSnapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, steps)
}

// CompleteStep is the administrative step completion
// (POST /api/v1/episodes/:id/workflow/steps/:step/complete)
func (s *Server) CompleteStep(c echo.Context) error {
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil {
		return badRequest("Invalid step number", err)
	}
	var req CompleteStepRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body", err)
	}
	row, report, err := s.Workflow.CompleteStep(c.Request().Context(), c.Param("id"), step, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"step": row, "report": report})
}

// Evaluate re-runs the evaluator after an external sub-work write
// (POST /api/v1/episodes/:id/evaluate?discipline=editor)
func (s *Server) Evaluate(c echo.Context) error {
	discipline := models.Discipline(c.QueryParam("discipline"))
	if discipline == "" {
		return badRequest("discipline query parameter is required", nil)
	}
	report, err := s.Workflow.OnSubWorkChanged(c.Request().Context(), c.Param("id"), discipline)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// RepairEpisode runs the QC consistency pass on one episode
// (POST /api/v1/episodes/:id/repair)
func (s *Server) RepairEpisode(c echo.Context) error {
	report, err := s.Workflow.RepairEpisode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// RepairAll runs the QC consistency pass on every episode
// (POST /api/v1/repair)
func (s *Server) RepairAll(c echo.Context) error {
	reports, err := s.Workflow.RepairAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reports)
}

// CreateSubWork creates a user-created sub-work
// (POST /api/v1/episodes/:id/subworks)
func (s *Server) CreateSubWork(c echo.Context) error {
	var req services.CreateSubWorkRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body", err)
	}
	req.EpisodeID = c.Param("id")
	work, report, err := s.Workflow.CreateSubWork(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, SubWorkResponse{SubWork: work, Report: report})
}

// GetSubWork returns the sub-work of one discipline
// (GET /api/v1/episodes/:id/subworks/:discipline)
func (s *Server) GetSubWork(c echo.Context) error {
	work, err := s.Workflow.GetSubWork(c.Request().Context(), c.Param("id"), models.Discipline(c.Param("discipline")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, work)
}

// UpdateSubWork changes assignee, fields or notes
// (PATCH /api/v1/subworks/:id)
func (s *Server) UpdateSubWork(c echo.Context) error {
	var req services.UpdateSubWorkRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body", err)
	}
	work, report, err := s.Workflow.UpdateSubWork(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SubWorkResponse{SubWork: work, Report: report})
}

// UpdateSubWorkStatus moves a sub-work to a new status
// (PUT /api/v1/subworks/:id/status)
func (s *Server) UpdateSubWorkStatus(c echo.Context) error {
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body", err)
	}
	if req.Status == "" {
		return badRequest("status is required", nil)
	}
	work, report, err := s.Workflow.UpdateSubWorkStatus(c.Request().Context(), c.Param("id"), req.Status, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SubWorkResponse{SubWork: work, Report: report})
}

// UpdateChecklist updates QC checklist items
// (PUT /api/v1/subworks/:id/checklist)
func (s *Server) UpdateChecklist(c echo.Context) error {
	var req ChecklistRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body", err)
	}
	work, report, err := s.Workflow.UpdateChecklist(c.Request().Context(), c.Param("id"), req.Items)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SubWorkResponse{SubWork: work, Report: report})
}
