package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// EvaluateRequest is a business event submitted for gating. When both
// original_value and proposed_value are given, deviation is their percentage drop.
type EvaluateRequest struct {
	entity.BusinessEvent
	OriginalValue *float64 `json:"original_value,omitempty"`
	ProposedValue *float64 `json:"proposed_value,omitempty"`
}

// EvaluateResponse tells the caller whether the mutation is held for approval
type EvaluateResponse struct {
	Gated    bool                     `json:"gated"`
	Instance *entity.WorkflowInstance `json:"instance,omitempty"`
}

// DecisionRequest carries an approver's verdict
type DecisionRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Comment    string `json:"comment"`
}

// ClaimRequest names the approver taking a step
type ClaimRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`
}

// CancelRequest withdraws an instance
type CancelRequest struct {
	Reason string `json:"reason"`
}

// EvaluateEvent handles POST /api/events
func (h *Handlers) EvaluateEvent(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid event body", err)
		return
	}
	if req.RuleType == "" {
		h.badRequest(c, "rule_type is required", nil)
		return
	}

	evt := req.BusinessEvent
	if req.OriginalValue != nil && req.ProposedValue != nil {
		evt.Deviation = entity.PercentageDrop(*req.OriginalValue, *req.ProposedValue)
	}

	inst, err := h.deps.Engine.EvaluateAndMaybeStart(c.Request.Context(), evt)
	if err != nil {
		h.fail(c, "evaluate event", err)
		return
	}
	if inst == nil {
		h.ok(c, http.StatusOK, EvaluateResponse{Gated: false})
		return
	}
	h.ok(c, http.StatusCreated, EvaluateResponse{Gated: true, Instance: inst})
}

// ApproveStep handles POST /api/steps/:id/approve
func (h *Handlers) ApproveStep(c *gin.Context) {
	h.decide(c, entity.DecisionApproved)
}

// RejectStep handles POST /api/steps/:id/reject
func (h *Handlers) RejectStep(c *gin.Context) {
	h.decide(c, entity.DecisionRejected)
}

func (h *Handlers) decide(c *gin.Context, decision entity.Decision) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid decision body", err)
		return
	}

	stepID := c.Param("id")
	inst, err := h.deps.Audit.UpdateOutcome(c.Request.Context(), stepID, decision, req.ApproverID, req.Comment)
	if err != nil {
		h.fail(c, "decide step", err)
		return
	}

	h.logger.Info("Step decided",
		"step_id", stepID,
		"decision", string(decision),
		"approver_id", req.ApproverID,
		"instance_status", string(inst.OverallStatus))
	h.ok(c, http.StatusOK, inst)
}

// ClaimStep handles POST /api/steps/:id/claim
func (h *Handlers) ClaimStep(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid claim body", err)
		return
	}

	step, err := h.deps.Engine.Claim(c.Request.Context(), c.Param("id"), req.ApproverID)
	if err != nil {
		h.fail(c, "claim step", err)
		return
	}
	h.ok(c, http.StatusOK, step)
}

// CancelInstance handles POST /api/instances/:id/cancel. The body is optional.
func (h *Handlers) CancelInstance(c *gin.Context) {
	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid cancel body", err)
			return
		}
	}

	inst, err := h.deps.Engine.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, "cancel instance", err)
		return
	}
	h.ok(c, http.StatusOK, inst)
}
