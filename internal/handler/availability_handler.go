package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lessonloop/lessonloop-api/internal/service"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
	"github.com/lessonloop/lessonloop-api/pkg/response"
)

// AvailabilityHandler exposes teacher availability rule endpoints.
type AvailabilityHandler struct {
	availability *service.AvailabilityService
}

// NewAvailabilityHandler constructs AvailabilityHandler.
func NewAvailabilityHandler(availability *service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability}
}

// ListRules godoc
// @Summary List availability rules of a teacher
// @Tags Availability
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/availability [get]
func (h *AvailabilityHandler) ListRules(c *gin.Context) {
	rules, err := h.availability.ListRules(c.Request.Context(), c.Param("teacherId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}

// CreateRule godoc
// @Summary Declare an availability rule
// @Tags Availability
// @Accept json
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param payload body service.CreateAvailabilityRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Router /teachers/{teacherId}/availability [post]
func (h *AvailabilityHandler) CreateRule(c *gin.Context) {
	var req service.CreateAvailabilityRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.availability.CreateRule(c.Request.Context(), c.Param("teacherId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// UpdateRule godoc
// @Summary Update an availability rule
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body service.CreateAvailabilityRuleRequest true "Rule payload"
// @Success 200 {object} response.Envelope
// @Router /availability/{id} [put]
func (h *AvailabilityHandler) UpdateRule(c *gin.Context) {
	var req service.CreateAvailabilityRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rule, err := h.availability.UpdateRule(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// DeleteRule godoc
// @Summary Delete an availability rule
// @Tags Availability
// @Produce json
// @Param id path string true "Rule ID"
// @Success 204 {object} response.Envelope
// @Router /availability/{id} [delete]
func (h *AvailabilityHandler) DeleteRule(c *gin.Context) {
	if err := h.availability.DeleteRule(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CandidateWindows godoc
// @Summary List bookable windows for a subscription on a date
// @Tags Availability
// @Produce json
// @Param id path string true "Subscription ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /subscriptions/{id}/availability [get]
func (h *AvailabilityHandler) CandidateWindows(c *gin.Context) {
	windows, err := h.availability.CandidateWindows(c.Request.Context(), c.Param("id"), c.Query("date"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows, nil)
}
