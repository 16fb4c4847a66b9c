package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestScheduleHandlerGetWeekRejectsNonIntegerIndex(t *testing.T) {
	handler := NewScheduleHandler(nil)

	c, w := newTestContext(t, http.MethodGet, "/subscriptions/sub-1/weeks/two", "")
	c.Params = gin.Params{{Key: "id", Value: "sub-1"}, {Key: "index", Value: "two"}}

	handler.GetWeek(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "integer")
}

func TestScheduleHandlerAddSlotRejectsMalformedBody(t *testing.T) {
	handler := NewScheduleHandler(nil)

	c, w := newTestContext(t, http.MethodPost, "/weeks/w1/slots", `{"date":"2026-09-07"`)
	c.Params = gin.Params{{Key: "id", Value: "w1"}}

	handler.AddSlot(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
