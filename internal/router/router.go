package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"failedjobs/internal/dispatcher"
	"failedjobs/internal/handler/api"
	"failedjobs/internal/middleware"
	"failedjobs/internal/registry"
	"failedjobs/internal/repository"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	reg *registry.Registry,
	d *dispatcher.Dispatcher,
	actions *repository.ActionRepository,
	logger *zap.Logger,
	apiKey string,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	actionsHandler := api.NewActionsHandler(d, actions, logger)
	failedJobsHandler := api.NewFailedJobsHandler(reg, d, logger)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))

	// Aggregated failed jobs (read path + bulk entry points)
	apiGroup.GET("/failed-jobs", failedJobsHandler.List)
	apiGroup.GET("/failed-jobs/options", failedJobsHandler.Options)
	apiGroup.GET("/failed-jobs/show", failedJobsHandler.Show)
	apiGroup.POST("/failed-jobs/retry", failedJobsHandler.Retry)
	apiGroup.POST("/failed-jobs/delete", failedJobsHandler.Delete)

	// Action spool
	apiGroup.POST("/actions", actionsHandler.Dispatch)
	apiGroup.GET("/actions", actionsHandler.List)
	apiGroup.GET("/actions/stats", actionsHandler.Stats)
	apiGroup.GET("/actions/:id", actionsHandler.Show)
	apiGroup.POST("/actions/:id/requeue", actionsHandler.Requeue)
}
