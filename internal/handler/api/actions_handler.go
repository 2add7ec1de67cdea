package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"failedjobs/internal/dispatcher"
	"failedjobs/internal/models"
	"failedjobs/internal/repository"
)

// ActionsHandler exposes the action spool: queueing new actions and
// inspecting or requeuing existing records.
type ActionsHandler struct {
	dispatcher *dispatcher.Dispatcher
	actions    *repository.ActionRepository
	logger     *zap.Logger
}

func NewActionsHandler(d *dispatcher.Dispatcher, actions *repository.ActionRepository, logger *zap.Logger) *ActionsHandler {
	return &ActionsHandler{dispatcher: d, actions: actions, logger: logger}
}

type dispatchRequest struct {
	Project string          `json:"project"`
	Action  string          `json:"action"`
	Jobs    []models.JobRef `json:"jobs"`
	Queue   string          `json:"queue"`
	Hours   int             `json:"hours"`
}

// Dispatch queues one action. The caller only learns that the action was
// queued; eventual success or failure is visible through the spool records.
func (h *ActionsHandler) Dispatch(c echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}

	action, err := h.dispatcher.Dispatch(req.Project, req.Action, models.ActionPayload{
		Jobs:  req.Jobs,
		Queue: req.Queue,
		Hours: req.Hours,
	})
	switch {
	case errors.Is(err, dispatcher.ErrUnknownProject):
		return errorResponse(c, http.StatusUnprocessableEntity, "Unknown project: "+req.Project)
	case errors.Is(err, dispatcher.ErrInvalidAction):
		return errorResponse(c, http.StatusUnprocessableEntity, "Invalid action: "+req.Action)
	case err != nil:
		h.logger.Error("Dispatch failed", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to queue action")
	}

	return successResponse(c, "Action queued", action)
}

// List returns spool records filtered by status and project.
func (h *ActionsHandler) List(c echo.Context) error {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 50)

	actions, total, err := h.actions.List(c.QueryParam("status"), c.QueryParam("project"), page, limit)
	if err != nil {
		h.logger.Error("Failed to list actions", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to list actions")
	}
	return successResponse(c, "", paginatedResponse(actions, total, page, limit))
}

// Show returns one spool record.
func (h *ActionsHandler) Show(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid action id")
	}

	action, err := h.actions.FindByID(uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, http.StatusNotFound, "Action not found")
	}
	if err != nil {
		h.logger.Error("Failed to load action", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to load action")
	}
	return successResponse(c, "", action)
}

// Requeue resets a failed record to pending for another run.
func (h *ActionsHandler) Requeue(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid action id")
	}

	requeued, err := h.actions.Requeue(uint(id))
	if err != nil {
		h.logger.Error("Failed to requeue action", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to requeue action")
	}
	if !requeued {
		return errorResponse(c, http.StatusConflict, "Only failed actions can be requeued")
	}
	return successResponse(c, "Action requeued", nil)
}

// Stats returns spool record counts per status.
func (h *ActionsHandler) Stats(c echo.Context) error {
	counts, err := h.actions.CountByStatus()
	if err != nil {
		h.logger.Error("Failed to count actions", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Failed to count actions")
	}
	return successResponse(c, "", counts)
}
