package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"broadcast-ops/backend/internal/logging"
	"broadcast-ops/backend/internal/services"
	"broadcast-ops/backend/pkg/models"
)

const (
	serviceName    = "broadcast-ops-workflow"
	serviceVersion = "1.0.0"

	// ActorHeader carries the identity of the calling user. It is set by the
	// authenticating proxy in front of this service.
	ActorHeader = "X-Actor"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the health endpoints.
type Handler struct {
	pinger Pinger
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(pinger Pinger) *Handler {
	return &Handler{pinger: pinger}
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Service:   serviceName,
		Version:   serviceVersion,
		Timestamp: time.Now().UTC(),
	})
}

// HandleReady reports whether the store is reachable.
func (h *Handler) HandleReady(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Service:   serviceName,
		Version:   serviceVersion,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"store": "ok"},
	}
	if err := h.pinger.Ping(c.Request().Context()); err != nil {
		status.Status = "unavailable"
		status.Checks["store"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ActorMiddleware copies the actor header into the request context.
func ActorMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if actor := c.Request().Header.Get(ActorHeader); actor != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(services.WithActor(req.Context(), actor)))
			}
			return next(c)
		}
	}
}

// problemFor maps an error to an RFC 7807 problem.
func problemFor(err error) models.ProblemDetails {
	problem := models.ProblemDetails{Type: "about:blank", Detail: err.Error()}

	var (
		httpErr *echo.HTTPError
		terr    *models.TransitionError
		perr    *models.PreconditionError
	)
	switch {
	case errors.As(err, &httpErr):
		problem.Status = httpErr.Code
		problem.Title = http.StatusText(httpErr.Code)
		if msg, ok := httpErr.Message.(string); ok {
			problem.Detail = msg
		}
	case errors.As(err, &terr):
		problem.Status = http.StatusConflict
		problem.Title = "Invalid Transition"
		problem.Allowed = terr.Allowed
	case errors.As(err, &perr):
		problem.Status = http.StatusUnprocessableEntity
		problem.Title = "Precondition Not Met"
		problem.Unmet = perr.Reasons()
	case errors.Is(err, models.ErrNotFound):
		problem.Status = http.StatusNotFound
		problem.Title = "Not Found"
	case errors.Is(err, models.ErrAlreadyExists):
		problem.Status = http.StatusConflict
		problem.Title = "Already Exists"
	case errors.Is(err, models.ErrInvalidArgument):
		problem.Status = http.StatusBadRequest
		problem.Title = "Bad Request"
	default:
		problem.Status = http.StatusInternalServerError
		problem.Title = "Internal Server Error"
	}
	return problem
}

// ErrorHandler renders every handler error as application/problem+json.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		problem := problemFor(err)
		problem.Instance = c.Request().URL.Path
		if problem.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "path", problem.Instance, "error", err)
			problem.Detail = "internal error"
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if err := c.JSON(problem.Status, problem); err != nil {
			logger.Error("failed to write problem response", "error", err)
		}
	}
}
