package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lessonloop/lessonloop-api/internal/models"
	"github.com/lessonloop/lessonloop-api/internal/service"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
	"github.com/lessonloop/lessonloop-api/pkg/response"
)

// SessionHandler exposes session lifecycle endpoints.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// ListBySubscription godoc
// @Summary List sessions of a subscription
// @Tags Sessions
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} response.Envelope
// @Router /subscriptions/{id}/sessions [get]
func (h *SessionHandler) ListBySubscription(c *gin.Context) {
	sessions, err := h.sessions.ListBySubscription(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Get godoc
// @Summary Get a session with its join flag
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Start godoc
// @Summary Mark a session in progress
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	session, err := h.sessions.Start(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Complete godoc
// @Summary Complete a session and consume one credit
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/complete [post]
func (h *SessionHandler) Complete(c *gin.Context) {
	session, err := h.sessions.Complete(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Cancel godoc
// @Summary Cancel a scheduled session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/cancel [post]
func (h *SessionHandler) Cancel(c *gin.Context) {
	session, err := h.sessions.Cancel(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// MarkNoShow godoc
// @Summary Record a no-show against one party
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body map[string]string true "Party (student or teacher)"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/no-show [post]
func (h *SessionHandler) MarkNoShow(c *gin.Context) {
	var payload struct {
		Party string `json:"party" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	var to models.SessionStatus
	switch strings.ToLower(payload.Party) {
	case "student":
		to = models.SessionStatusStudentNoShow
	case "teacher":
		to = models.SessionStatusTeacherNoShow
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, `party must be "student" or "teacher"`))
		return
	}
	session, err := h.sessions.MarkNoShow(c.Request.Context(), c.Param("id"), to, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// RequestPostpone godoc
// @Summary Request postponing a scheduled session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body map[string]string true "Reason"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/postpone [post]
func (h *SessionHandler) RequestPostpone(c *gin.Context) {
	var payload struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "postpone reason required"))
		return
	}
	session, err := h.sessions.RequestPostpone(c.Request.Context(), c.Param("id"), payload.Reason, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// ApprovePostpone godoc
// @Summary Approve a postpone request and consume one postpone credit
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/postpone/approve [post]
func (h *SessionHandler) ApprovePostpone(c *gin.Context) {
	session, err := h.sessions.ApprovePostpone(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// UpdateLinks godoc
// @Summary Replace the conferencing links on a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/links [patch]
func (h *SessionHandler) UpdateLinks(c *gin.Context) {
	var payload struct {
		JoinURL  string `json:"join_url" binding:"required"`
		StartURL string `json:"start_url"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "join_url required"))
		return
	}
	session, err := h.sessions.UpdateMeetingLinks(c.Request.Context(), c.Param("id"), payload.JoinURL, payload.StartURL, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Sweep godoc
// @Summary Complete all sessions whose scheduled end has passed
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /maintenance/sync-expired-sessions [post]
func (h *SessionHandler) Sweep(c *gin.Context) {
	result, err := h.sessions.SyncExpired(c.Request.Context(), time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
