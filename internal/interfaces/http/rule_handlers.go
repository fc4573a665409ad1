package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// ListRulesRequest represents query parameters for listing rules
type ListRulesRequest struct {
	RuleType        string `form:"rule_type"`
	IncludeDisabled bool   `form:"include_disabled"`
}

// SetEnabledRequest toggles a rule
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ListRules handles GET /api/rules
func (h *Handlers) ListRules(c *gin.Context) {
	var req ListRulesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	rules, err := h.deps.Rules.ListRules(c.Request.Context(), port.RuleFilter{
		RuleType:        req.RuleType,
		IncludeDisabled: req.IncludeDisabled,
	})
	if err != nil {
		h.fail(c, "list rules", err)
		return
	}
	h.ok(c, http.StatusOK, rules)
}

// GetRule handles GET /api/rules/:id
func (h *Handlers) GetRule(c *gin.Context) {
	rule, err := h.deps.Rules.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get rule", err)
		return
	}
	h.ok(c, http.StatusOK, rule)
}

// CreateRule handles POST /api/rules
func (h *Handlers) CreateRule(c *gin.Context) {
	var rule entity.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		h.badRequest(c, "invalid rule body", err)
		return
	}

	created, err := h.deps.Rules.CreateRule(c.Request.Context(), &rule)
	if err != nil {
		h.fail(c, "create rule", err)
		return
	}
	h.ok(c, http.StatusCreated, created)
}

// UpdateRule handles PUT /api/rules/:id. The body's version must match the stored one.
func (h *Handlers) UpdateRule(c *gin.Context) {
	var rule entity.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		h.badRequest(c, "invalid rule body", err)
		return
	}
	rule.ID = c.Param("id")

	updated, err := h.deps.Rules.UpdateRule(c.Request.Context(), &rule)
	if err != nil {
		h.fail(c, "update rule", err)
		return
	}
	h.ok(c, http.StatusOK, updated)
}

// SetRuleEnabled handles PATCH /api/rules/:id/enabled
func (h *Handlers) SetRuleEnabled(c *gin.Context) {
	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	rule, err := h.deps.Rules.SetEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		h.fail(c, "set rule enabled", err)
		return
	}
	h.ok(c, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/rules/:id
func (h *Handlers) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Rules.DeleteRule(c.Request.Context(), id); err != nil {
		h.fail(c, "delete rule", err)
		return
	}
	h.logger.Info("Rule deleted", "rule_id", id)
	h.ok(c, http.StatusOK, gin.H{"id": id})
}

// ImportRules handles POST /api/rules/import with a JSON array of rules
func (h *Handlers) ImportRules(c *gin.Context) {
	var rules []*entity.Rule
	if err := c.ShouldBindJSON(&rules); err != nil {
		h.badRequest(c, "invalid rule list", err)
		return
	}

	result, err := h.deps.Rules.ImportRules(c.Request.Context(), rules)
	if err != nil {
		h.fail(c, "import rules", err)
		return
	}
	h.ok(c, http.StatusOK, result)
}
