package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"expedify/internal/models"
	"expedify/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler exposes the collections engine: rule management, manual
// and scheduled trigger invocation, the execution log, and approvals.
type AutomationHandler struct {
	engine   *services.CollectionsEngine
	rules    *services.RuleService
	approval *services.ApprovalService
}

func NewAutomationHandler(engine *services.CollectionsEngine, rules *services.RuleService, approval *services.ApprovalService) *AutomationHandler {
	return &AutomationHandler{engine: engine, rules: rules, approval: approval}
}

// RunRequest selects the tenant scope of a manual engine invocation.
// company_id omitted (or 0) processes all tenants, mirroring cron mode.
type RunRequest struct {
	CompanyID uint `json:"company_id"`
}

// Run triggers one engine pass.
func (h *AutomationHandler) Run(c *gin.Context) {
	// An empty body means cron mode: all tenants.
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	summary, err := h.engine.Run(c.Request.Context(), req.CompanyID)
	if err != nil {
		c.JSON(statusFromError(err), ErrorResponse{Error: "Engine run failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListRules returns rules in evaluation order, optionally per company.
func (h *AutomationHandler) ListRules(c *gin.Context) {
	companyID, _ := strconv.ParseUint(c.Query("company_id"), 10, 32)
	rules, err := h.rules.ListRules(c.Request.Context(), uint(companyID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule stores a new automation rule.
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.rules.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule replaces a rule's configuration.
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}

	var req services.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.rules.UpdateRule(c.Request.Context(), uint(id), &req)
	if err != nil {
		c.JSON(statusFromError(err), ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule removes a rule; its audit log entries remain.
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}

	if err := h.rules.DeleteRule(c.Request.Context(), uint(id)); err != nil {
		c.JSON(statusFromError(err), ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListLog serves the execution log with filters and pagination.
func (h *AutomationHandler) ListLog(c *gin.Context) {
	var req services.LogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	entries, total, err := h.approval.ListLog(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list log", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{Data: entries, Total: total, Page: req.Page, PageSize: req.PageSize})
}

// Stats aggregates log results for the dashboard.
func (h *AutomationHandler) Stats(c *gin.Context) {
	companyID, _ := strconv.ParseUint(c.Query("company_id"), 10, 32)
	stats, err := h.approval.Stats(c.Request.Context(), uint(companyID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get stats", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ApproveEntry approves a drafted reminder for sending.
func (h *AutomationHandler) ApproveEntry(c *gin.Context) {
	h.decide(c, h.approval.Approve)
}

// RejectEntry declines a drafted reminder; terminal.
func (h *AutomationHandler) RejectEntry(c *gin.Context) {
	h.decide(c, h.approval.Reject)
}

func (h *AutomationHandler) decide(c *gin.Context, action func(context.Context, uint) (*models.AutomationLogEntry, error)) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}

	entry, err := action(c.Request.Context(), uint(id))
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, services.ErrLogEntryNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Approval action failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// RegisterAutomationRoutes wires the engine endpoints. Approval mutations
// sit behind the auth middleware supplied by the caller.
func RegisterAutomationRoutes(r *gin.RouterGroup, h *AutomationHandler, auth gin.HandlerFunc) {
	auto := r.Group("/automation")
	{
		auto.POST("/run", h.Run)
		auto.GET("/rules", h.ListRules)
		auto.POST("/rules", h.CreateRule)
		auto.PUT("/rules/:id", h.UpdateRule)
		auto.DELETE("/rules/:id", h.DeleteRule)
		auto.GET("/log", h.ListLog)
		auto.GET("/stats", h.Stats)
		auto.POST("/log/:id/approve", auth, h.ApproveEntry)
		auto.POST("/log/:id/reject", auth, h.RejectEntry)
	}
}
