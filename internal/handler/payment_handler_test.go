package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	"github.com/lessonloop/lessonloop-api/internal/service"
)

type webhookSubscriptionRepo struct {
	subscription models.Subscription
	transitions  int
}

func (m *webhookSubscriptionRepo) Create(ctx context.Context, subscription *models.Subscription) error {
	return nil
}

func (m *webhookSubscriptionRepo) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	sub := m.subscription
	return &sub, nil
}

func (m *webhookSubscriptionRepo) FindDetailByID(ctx context.Context, id string) (*models.SubscriptionDetail, error) {
	return &models.SubscriptionDetail{Subscription: m.subscription}, nil
}

func (m *webhookSubscriptionRepo) List(ctx context.Context, filter models.SubscriptionFilter) ([]models.SubscriptionDetail, int, error) {
	return nil, 0, nil
}

func (m *webhookSubscriptionRepo) TransitionStatus(ctx context.Context, id string, from, to models.SubscriptionStatus) (bool, error) {
	if m.subscription.Status != from {
		return false, nil
	}
	m.subscription.Status = to
	m.transitions++
	return true, nil
}

func (m *webhookSubscriptionRepo) AssignTeacher(ctx context.Context, id, teacherID string) (bool, error) {
	return false, nil
}

func (m *webhookSubscriptionRepo) Cancel(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func newWebhookHandler(repo *webhookSubscriptionRepo, secret string) *PaymentHandler {
	subscriptions := service.NewSubscriptionService(repo, nil, nil, nil, zap.NewNop())
	return NewPaymentHandler(subscriptions, secret, zap.NewNop())
}

func TestPaymentWebhookRejectsWrongSecret(t *testing.T) {
	handler := newWebhookHandler(&webhookSubscriptionRepo{}, "topsecret")

	c, w := newTestContext(t, http.MethodPost, "/payments/webhook", `{"subscription_id":"sub-1","status":"paid"}`)
	c.Request.Header.Set("X-Webhook-Secret", "wrong")

	handler.Webhook(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentWebhookRejectsWhenSecretUnconfigured(t *testing.T) {
	// An empty configured secret must never let anything through.
	handler := newWebhookHandler(&webhookSubscriptionRepo{}, "")

	c, w := newTestContext(t, http.MethodPost, "/payments/webhook", `{"subscription_id":"sub-1","status":"paid"}`)
	c.Request.Header.Set("X-Webhook-Secret", "")

	handler.Webhook(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentWebhookAcknowledgesNonSettlement(t *testing.T) {
	repo := &webhookSubscriptionRepo{subscription: models.Subscription{
		ID: "sub-1", Status: models.SubscriptionStatusPendingPayment,
	}}
	handler := newWebhookHandler(repo, "topsecret")

	c, w := newTestContext(t, http.MethodPost, "/payments/webhook", `{"subscription_id":"sub-1","status":"failed"}`)
	c.Request.Header.Set("X-Webhook-Secret", "topsecret")

	handler.Webhook(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "acknowledged")
	assert.Equal(t, 0, repo.transitions)
}

func TestPaymentWebhookRecordsPayment(t *testing.T) {
	repo := &webhookSubscriptionRepo{subscription: models.Subscription{
		ID: "sub-1", Status: models.SubscriptionStatusPendingPayment,
	}}
	handler := newWebhookHandler(repo, "topsecret")

	c, w := newTestContext(t, http.MethodPost, "/payments/webhook", `{"subscription_id":"sub-1","status":"paid","provider_ref":"ch_123"}`)
	c.Request.Header.Set("X-Webhook-Secret", "topsecret")

	handler.Webhook(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, repo.transitions)
	assert.Equal(t, models.SubscriptionStatusPaymentReceived, repo.subscription.Status)
}

func TestPaymentWebhookReplayIsNoOp(t *testing.T) {
	repo := &webhookSubscriptionRepo{subscription: models.Subscription{
		ID: "sub-1", Status: models.SubscriptionStatusPaymentReceived,
	}}
	handler := newWebhookHandler(repo, "topsecret")

	c, w := newTestContext(t, http.MethodPost, "/payments/webhook", `{"subscription_id":"sub-1","status":"paid"}`)
	c.Request.Header.Set("X-Webhook-Secret", "topsecret")

	handler.Webhook(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, repo.transitions)
}
