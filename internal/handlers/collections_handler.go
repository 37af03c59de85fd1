package handlers

import (
	"net/http"
	"strconv"

	"expedify/internal/services"

	"github.com/gin-gonic/gin"
)

// CollectionsHandler exposes note extraction plus promise and task
// management.
type CollectionsHandler struct {
	extraction *services.ExtractionService
	promises   *services.PromiseService
}

func NewCollectionsHandler(extraction *services.ExtractionService, promises *services.PromiseService) *CollectionsHandler {
	return &CollectionsHandler{extraction: extraction, promises: promises}
}

// Extract runs the promise & task extractor over a collection note. The
// endpoint never fails because of AI unavailability; it degrades to an
// empty result instead.
func (h *CollectionsHandler) Extract(c *gin.Context) {
	var req services.ExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	result, err := h.extraction.ExtractFromNote(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFromError(err), ErrorResponse{Error: "Extraction failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreatePromise records a manually captured payment commitment.
func (h *CollectionsHandler) CreatePromise(c *gin.Context) {
	var req services.PromiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	promise, err := h.promises.CreatePromise(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFromError(err), ErrorResponse{Error: "Failed to create promise", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, promise)
}

// StatusUpdateRequest is the body for promise/task status transitions.
type StatusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdatePromiseStatus marks a promise kept, broken, or rescheduled.
func (h *CollectionsHandler) UpdatePromiseStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	promise, err := h.promises.UpdatePromiseStatus(c.Request.Context(), uint(id), req.Status)
	if err != nil {
		status := statusFromError(err)
		if status == http.StatusInternalServerError {
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update promise", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, promise)
}

// ListPromises returns promises by invoice and/or status.
func (h *CollectionsHandler) ListPromises(c *gin.Context) {
	invoiceID, _ := strconv.ParseUint(c.Query("invoice_id"), 10, 32)
	promises, err := h.promises.ListPromises(c.Request.Context(), uint(invoiceID), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list promises", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, promises)
}

// ListTasks returns collection tasks by invoice and/or status.
func (h *CollectionsHandler) ListTasks(c *gin.Context) {
	invoiceID, _ := strconv.ParseUint(c.Query("invoice_id"), 10, 32)
	tasks, err := h.promises.ListTasks(c.Request.Context(), uint(invoiceID), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list tasks", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// UpdateTaskStatus moves a collection task through its lifecycle.
func (h *CollectionsHandler) UpdateTaskStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	task, err := h.promises.UpdateTaskStatus(c.Request.Context(), uint(id), req.Status)
	if err != nil {
		status := statusFromError(err)
		if status == http.StatusInternalServerError {
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update task", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// RegisterCollectionsRoutes wires the extraction and promise/task routes.
// Extraction requires auth: it is invoked from the note-taking UI on behalf
// of a signed-in user.
func RegisterCollectionsRoutes(r *gin.RouterGroup, h *CollectionsHandler, auth gin.HandlerFunc) {
	col := r.Group("/collections")
	{
		col.POST("/extract", auth, h.Extract)
		col.POST("/promises", auth, h.CreatePromise)
		col.PUT("/promises/:id/status", auth, h.UpdatePromiseStatus)
		col.GET("/promises", h.ListPromises)
		col.GET("/tasks", h.ListTasks)
		col.PUT("/tasks/:id/status", auth, h.UpdateTaskStatus)
	}
}
