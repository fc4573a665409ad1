package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/approval-workflow/internal/domain/workflow"
)

const dateLayout = "2006-01-02"

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
	now    func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Store     string `json:"store"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().Format(time.RFC3339),
		Store:     "ok",
	}

	if h.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Store.Ping(ctx); err != nil {
			h.logger.Error("Store ping failed", "error", err)
			resp.Status = "unhealthy"
			resp.Store = err.Error()
			c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: resp, Error: "store unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

func (h *Handlers) ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// fail maps an application error onto a status code and writes it
func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status := statusFor(err)
	resp := Response{Success: false, Error: err.Error()}

	var te *domainwf.TransitionError
	var ce *entity.ConfigurationError
	switch {
	case errors.As(err, &te):
		resp.Details = te.Details()
	case errors.As(err, &ce):
		resp.Details = map[string]interface{}{
			"rule_id": ce.RuleID,
			"field":   ce.Field,
			"reason":  ce.Reason,
		}
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", op, "error", err)
		resp.Error = "internal error"
	}
	c.JSON(status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, entity.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domainwf.ErrApproverNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseTime accepts RFC 3339 timestamps and plain dates. Dates are midnight UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateLayout, s)
}

func parseRange(from, to string) (entity.DateRange, error) {
	var rng entity.DateRange
	var err error
	if rng.From, err = parseTime(from); err != nil {
		return rng, err
	}
	if rng.To, err = parseTime(to); err != nil {
		return rng, err
	}
	return rng, nil
}
