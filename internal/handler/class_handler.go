package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classreg-api/internal/models"
	"github.com/noah-isme/classreg-api/internal/service"
	"github.com/noah-isme/classreg-api/pkg/response"
)

// ClassHandler exposes class endpoints.
type ClassHandler struct {
	classes     *service.ClassService
	enrollments *service.EnrollmentService
	conflicts   *service.ScheduleConflictService
}

// NewClassHandler constructs ClassHandler.
func NewClassHandler(classes *service.ClassService, enrollments *service.EnrollmentService, conflicts *service.ScheduleConflictService) *ClassHandler {
	return &ClassHandler{classes: classes, enrollments: enrollments, conflicts: conflicts}
}

// List godoc
// @Summary List classes with live availability
// @Tags Classes
// @Produce json
// @Param teacherId query string false "Filter by teacher"
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	var filter models.ClassFilter
	filter.TeacherID = c.Query("teacherId")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortOrder = c.Query("order")

	classes, total, err := h.classes.ListAvailability(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get a class
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, err := h.classes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// Waitlist godoc
// @Summary Get a class's waitlist in promotion order
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/waitlist [get]
func (h *ClassHandler) Waitlist(c *gin.Context) {
	entries, err := h.enrollments.Waitlist(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ResolveConflicts godoc
// @Summary Remove a teacher's overlapping class offerings
// @Tags Classes
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param dryRun query bool false "Report without deleting"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/schedule/conflicts [post]
func (h *ClassHandler) ResolveConflicts(c *gin.Context) {
	dryRun := c.Query("dryRun") == "true"
	report, err := h.conflicts.Resolve(c.Request.Context(), c.Param("teacherId"), dryRun)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !dryRun && len(report.Removed) > 0 {
		h.classes.InvalidateAvailability(c.Request.Context())
	}
	response.JSON(c, http.StatusOK, report, nil)
}
