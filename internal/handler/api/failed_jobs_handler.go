package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"failedjobs/internal/aggregator"
	"failedjobs/internal/dispatcher"
	"failedjobs/internal/models"
	"failedjobs/internal/registry"
)

// FailedJobsHandler is the read surface over the aggregated failed jobs of
// all projects, plus the bulk retry/delete entry points that feed the spool.
type FailedJobsHandler struct {
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger
}

func NewFailedJobsHandler(reg *registry.Registry, d *dispatcher.Dispatcher, logger *zap.Logger) *FailedJobsHandler {
	return &FailedJobsHandler{registry: reg, dispatcher: d, logger: logger}
}

// aggregatorFor builds a request-scoped aggregator; its record cache dies
// with the request.
func (h *FailedJobsHandler) aggregatorFor() *aggregator.Aggregator {
	return aggregator.New(h.registry, h.logger)
}

// List returns one filtered, sorted page of the aggregate.
func (h *FailedJobsHandler) List(c echo.Context) error {
	query := aggregator.Query{
		Project:    c.QueryParam("project"),
		Connection: c.QueryParam("connection"),
		Queue:      c.QueryParam("queue"),
		Job:        c.QueryParam("job"),
		Search:     c.QueryParam("search"),
		SortColumn: c.QueryParam("sort"),
		SortDesc:   c.QueryParam("direction") == "desc",
		Page:       queryInt(c, "page", 1),
		PerPage:    queryInt(c, "per_page", 50),
	}
	if raw := c.QueryParam("failed_after"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, "Invalid failed_after date, expected YYYY-MM-DD")
		}
		query.FailedAfter = t
	}

	page := h.aggregatorFor().Paginate(c.Request().Context(), query)
	return successResponse(c, "", page)
}

// Options returns distinct filter values across the aggregate.
func (h *FailedJobsHandler) Options(c echo.Context) error {
	options := h.aggregatorFor().FilterOptions(c.Request().Context())
	return successResponse(c, "", options)
}

// Show returns one record by its composite key (?key=project::uuid).
func (h *FailedJobsHandler) Show(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return errorResponse(c, http.StatusBadRequest, "Missing record key")
	}

	records := h.aggregatorFor().Resolve(c.Request().Context(), []string{key})
	if len(records) == 0 {
		return errorResponse(c, http.StatusNotFound, "Failed job not found")
	}
	return successResponse(c, "", records[0])
}

type bulkRequest struct {
	Keys []string `json:"keys"`
}

// Retry queues retry actions for the selected records, one action per
// owning project.
func (h *FailedJobsHandler) Retry(c echo.Context) error {
	return h.bulkDispatch(c, models.ActionRetryJobs)
}

// Delete queues delete actions for the selected records, one action per
// owning project.
func (h *FailedJobsHandler) Delete(c echo.Context) error {
	return h.bulkDispatch(c, models.ActionDeleteJobs)
}

func (h *FailedJobsHandler) bulkDispatch(c echo.Context, actionType string) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	if len(req.Keys) == 0 {
		return errorResponse(c, http.StatusBadRequest, "No records selected")
	}

	records := h.aggregatorFor().Resolve(c.Request().Context(), req.Keys)
	if len(records) == 0 {
		return errorResponse(c, http.StatusNotFound, "No matching failed jobs")
	}

	// Group the selection by owning project; each project gets its own
	// spool record so its runtime only sees its own jobs.
	byProject := make(map[string][]models.JobRef)
	for _, record := range records {
		byProject[record.ProjectKey] = append(byProject[record.ProjectKey], models.JobRef{
			ID:   strconv.FormatInt(record.ID, 10),
			UUID: record.UUID,
		})
	}

	queued := 0
	for projectKey, jobs := range byProject {
		_, err := h.dispatcher.Dispatch(projectKey, actionType, models.ActionPayload{Jobs: jobs})
		if errors.Is(err, dispatcher.ErrUnknownProject) {
			// Registry changed between read and dispatch; skip this slice.
			h.logger.Warn("Project disappeared during bulk dispatch", zap.String("project", projectKey))
			continue
		}
		if err != nil {
			h.logger.Error("Bulk dispatch failed", zap.String("project", projectKey), zap.Error(err))
			return errorResponse(c, http.StatusInternalServerError, "Failed to queue action")
		}
		queued++
	}

	return successResponse(c, "Queued "+strconv.Itoa(queued)+" action(s)", nil)
}
