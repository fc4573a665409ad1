package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// ListStepsRequest represents query parameters for listing steps
type ListStepsRequest struct {
	InstanceID string `form:"instance_id"`
	ApproverID string `form:"approver_id"`
	Status     string `form:"status"`
	RuleType   string `form:"rule_type"`
	Sort       string `form:"sort"`
	Desc       bool   `form:"desc"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

// OverdueRequest represents query parameters for the overdue listing
type OverdueRequest struct {
	AsOf       string `form:"as_of"`
	ApproverID string `form:"approver_id"`
}

// RangeRequest is a [from, to) window given as dates or RFC 3339 timestamps
type RangeRequest struct {
	From string `form:"from" json:"from"`
	To   string `form:"to" json:"to"`
}

// ExportRequest selects the approvers and window of a statistics report
type ExportRequest struct {
	RangeRequest
	ApproverIDs []string `json:"approver_ids" binding:"required,min=1"`
}

// ExportResponse points at the written report
type ExportResponse struct {
	Path string `json:"path"`
}

// ListSteps handles GET /api/steps
func (h *Handlers) ListSteps(c *gin.Context) {
	var req ListStepsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	filter := entity.StepFilter{
		InstanceID: req.InstanceID,
		ApproverID: req.ApproverID,
		Status:     entity.StepStatus(req.Status),
		RuleType:   req.RuleType,
	}
	sort := entity.StepSort{Field: entity.StepSortField(req.Sort), Desc: req.Desc}
	page := entity.PageRequest{Limit: req.Limit, Offset: req.Offset}

	result, err := h.deps.Audit.ListSteps(c.Request.Context(), filter, sort, page)
	if err != nil {
		h.fail(c, "list steps", err)
		return
	}
	h.ok(c, http.StatusOK, result)
}

// GetStep handles GET /api/steps/:id
func (h *Handlers) GetStep(c *gin.Context) {
	step, err := h.deps.Audit.GetStep(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get step", err)
		return
	}
	h.ok(c, http.StatusOK, step)
}

// GetInstance handles GET /api/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	detail, err := h.deps.Audit.GetInstanceDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get instance", err)
		return
	}
	h.ok(c, http.StatusOK, detail)
}

// ListOverdue handles GET /api/overdue. as_of defaults to now.
func (h *Handlers) ListOverdue(c *gin.Context) {
	var req OverdueRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	asOf, err := parseTime(req.AsOf)
	if err != nil {
		h.badRequest(c, "invalid as_of", err)
		return
	}
	if asOf.IsZero() {
		asOf = h.now()
	}

	steps, err := h.deps.Overdue.Overdue(c.Request.Context(), asOf, req.ApproverID)
	if err != nil {
		h.fail(c, "list overdue", err)
		return
	}
	if steps == nil {
		steps = []*entity.StepRecord{}
	}
	h.ok(c, http.StatusOK, steps)
}

// ApproverStats handles GET /api/approvers/:id/stats
func (h *Handlers) ApproverStats(c *gin.Context) {
	var req RangeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}
	rng, err := parseRange(req.From, req.To)
	if err != nil {
		h.badRequest(c, "invalid range", err)
		return
	}

	stats, err := h.deps.Audit.StatisticsFor(c.Request.Context(), c.Param("id"), rng)
	if err != nil {
		h.fail(c, "approver stats", err)
		return
	}
	h.ok(c, http.StatusOK, stats)
}

// ExportStats handles POST /api/stats/export
func (h *Handlers) ExportStats(c *gin.Context) {
	if h.deps.Export == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "export is not configured"})
		return
	}

	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid export body", err)
		return
	}
	rng, err := parseRange(req.From, req.To)
	if err != nil {
		h.badRequest(c, "invalid range", err)
		return
	}

	path, err := h.deps.Export.ExportStatistics(c.Request.Context(), req.ApproverIDs, rng)
	if err != nil {
		h.fail(c, "export stats", err)
		return
	}
	h.logger.Info("Statistics exported", "path", path, "approvers", len(req.ApproverIDs))
	h.ok(c, http.StatusCreated, ExportResponse{Path: path})
}
