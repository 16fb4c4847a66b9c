package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lessonloop/lessonloop-api/internal/service"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
	"github.com/lessonloop/lessonloop-api/pkg/response"
)

// ScheduleHandler exposes the weekly scheduling workflow.
type ScheduleHandler struct {
	schedule *service.ScheduleService
}

// NewScheduleHandler constructs ScheduleHandler.
func NewScheduleHandler(schedule *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{schedule: schedule}
}

// ListWeeks godoc
// @Summary List weeks of a subscription
// @Tags Scheduling
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} response.Envelope
// @Router /subscriptions/{id}/weeks [get]
func (h *ScheduleHandler) ListWeeks(c *gin.Context) {
	weeks, err := h.schedule.ListWeeks(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, weeks, nil)
}

// GetWeek godoc
// @Summary Open a week, creating it on first access
// @Tags Scheduling
// @Produce json
// @Param id path string true "Subscription ID"
// @Param index path int true "Week index (1-based)"
// @Success 200 {object} response.Envelope
// @Router /subscriptions/{id}/weeks/{index} [get]
func (h *ScheduleHandler) GetWeek(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "week index must be an integer"))
		return
	}
	week, err := h.schedule.GetWeek(c.Request.Context(), c.Param("id"), index, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, week, nil)
}

// AddSlot godoc
// @Summary Book an availability window into a draft week
// @Tags Scheduling
// @Accept json
// @Produce json
// @Param id path string true "Week ID"
// @Param payload body service.AddSlotRequest true "Slot payload"
// @Success 201 {object} response.Envelope
// @Router /weeks/{id}/slots [post]
func (h *ScheduleHandler) AddSlot(c *gin.Context) {
	var req service.AddSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.schedule.AddSlot(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// RemoveSlot godoc
// @Summary Remove a slot from a draft week
// @Tags Scheduling
// @Produce json
// @Param id path string true "Slot ID"
// @Success 204 {object} response.Envelope
// @Router /slots/{id} [delete]
func (h *ScheduleHandler) RemoveSlot(c *gin.Context) {
	if err := h.schedule.RemoveSlot(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SubmitWeek godoc
// @Summary Submit a fully booked week for review
// @Tags Scheduling
// @Produce json
// @Param id path string true "Week ID"
// @Success 200 {object} response.Envelope
// @Router /weeks/{id}/submit [post]
func (h *ScheduleHandler) SubmitWeek(c *gin.Context) {
	week, err := h.schedule.SubmitWeek(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, week, nil)
}

// ApproveWeek godoc
// @Summary Approve a submitted week
// @Tags Scheduling
// @Produce json
// @Param id path string true "Week ID"
// @Success 200 {object} response.Envelope
// @Router /weeks/{id}/approve [post]
func (h *ScheduleHandler) ApproveWeek(c *gin.Context) {
	week, err := h.schedule.ReviewWeek(c.Request.Context(), c.Param("id"), true, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, week, nil)
}

// RejectWeek godoc
// @Summary Reject a submitted week
// @Tags Scheduling
// @Produce json
// @Param id path string true "Week ID"
// @Success 200 {object} response.Envelope
// @Router /weeks/{id}/reject [post]
func (h *ScheduleHandler) RejectWeek(c *gin.Context) {
	week, err := h.schedule.ReviewWeek(c.Request.Context(), c.Param("id"), false, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, week, nil)
}

// MaterializeWeek godoc
// @Summary Re-enqueue an approved week for session materialization
// @Tags Scheduling
// @Produce json
// @Param id path string true "Week ID"
// @Success 202 {object} response.Envelope
// @Router /admin/weeks/{id}/materialize [post]
func (h *ScheduleHandler) MaterializeWeek(c *gin.Context) {
	if err := h.schedule.Rematerialize(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"enqueued": true}, nil)
}
