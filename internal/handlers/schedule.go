package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/schedule"
)

type ScheduleHandler struct {
	service *schedule.Service
	logger  *slog.Logger
}

// JobsResponse lists the registered maintenance jobs.
type JobsResponse struct {
	Items []schedule.Job `json:"items"`
}

func NewScheduleHandler(log *slog.Logger, service *schedule.Service) *ScheduleHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ScheduleHandler{
		service: service,
		logger:  log.With(slog.String("handler", "schedule")),
	}
}

func (h *ScheduleHandler) Register(e *echo.Echo) {
	group := e.Group("/jobs")
	group.GET("", h.List)
	group.POST("/:name/run", h.Run)
}

// List godoc
// @Summary List maintenance jobs
// @Tags jobs
// @Success 200 {object} JobsResponse
// @Router /jobs [get]
func (h *ScheduleHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, JobsResponse{Items: h.service.Jobs()})
}

// Run godoc
// @Summary Run a job now
// @Description Runs the job outside its schedule and returns its updated state
// @Tags jobs
// @Param name path string true "Job name"
// @Success 200 {object} schedule.Job
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{name}/run [post]
func (h *ScheduleHandler) Run(c echo.Context) error {
	name := strings.TrimSpace(c.Param("name"))
	err := h.service.Trigger(c.Request().Context(), name)
	if errors.Is(err, schedule.ErrJobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		h.logger.Warn("job run failed", slog.String("job", name), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for _, job := range h.service.Jobs() {
		if job.Name == name {
			return c.JSON(http.StatusOK, job)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "job removed")
}
