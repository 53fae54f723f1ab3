package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/univ-scheduler-api/internal/dto"
	"github.com/noah-isme/univ-scheduler-api/internal/middleware"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
	"github.com/noah-isme/univ-scheduler-api/pkg/response"
)

type scheduleEntryService interface {
	List(ctx context.Context, query dto.ScheduleEntryQuery) (*dto.ScheduleEntryListResponse, bool, error)
}

// ScheduleEntryHandler serves committed timetable entries.
type ScheduleEntryHandler struct {
	service scheduleEntryService
}

// NewScheduleEntryHandler constructs the handler.
func NewScheduleEntryHandler(svc scheduleEntryService) *ScheduleEntryHandler {
	return &ScheduleEntryHandler{service: svc}
}

// List godoc
// @Summary List schedule entries
// @Description Entries in a date frame, optionally narrowed to a group, teacher or classroom
// @Tags ScheduleEntries
// @Produce json
// @Security BearerAuth
// @Param from query string true "First date (YYYY-MM-DD)"
// @Param to query string true "Last date (YYYY-MM-DD)"
// @Param targetType query string false "none, group, teacher or classroom"
// @Param targetId query string false "Target identifier"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedule-entries [get]
func (h *ScheduleEntryHandler) List(c *gin.Context) {
	var query dto.ScheduleEntryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}

	res, hit, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	pagination := &models.Pagination{Page: res.Page, PageSize: res.PageSize, TotalCount: res.TotalCount}
	response.JSON(c, http.StatusOK, res.Items, pagination, middleware.ExtractMeta(c))
}
