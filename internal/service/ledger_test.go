package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

func TestApplySessionCompletionDecrements(t *testing.T) {
	sub := models.Subscription{Status: models.SubscriptionStatusActive, SessionsTotal: 8, SessionsRemaining: 5}

	out, completed := ApplySessionCompletion(sub)
	assert.Equal(t, 4, out.SessionsRemaining)
	assert.False(t, completed)
	assert.Equal(t, models.SubscriptionStatusActive, out.Status)
}

func TestApplySessionCompletionFlipsOnLastCredit(t *testing.T) {
	sub := models.Subscription{Status: models.SubscriptionStatusActive, SessionsTotal: 8, SessionsRemaining: 1}

	out, completed := ApplySessionCompletion(sub)
	assert.Equal(t, 0, out.SessionsRemaining)
	assert.True(t, completed)
	assert.Equal(t, models.SubscriptionStatusCompleted, out.Status)
}

func TestApplySessionCompletionClampsAtZero(t *testing.T) {
	sub := models.Subscription{Status: models.SubscriptionStatusActive, SessionsTotal: 8, SessionsRemaining: 0}

	out, completed := ApplySessionCompletion(sub)
	assert.Equal(t, 0, out.SessionsRemaining)
	assert.False(t, completed)
}

func TestApplySessionCompletionKeepsCancelledStatus(t *testing.T) {
	sub := models.Subscription{Status: models.SubscriptionStatusCancelled, SessionsTotal: 8, SessionsRemaining: 1}

	out, completed := ApplySessionCompletion(sub)
	assert.Equal(t, 0, out.SessionsRemaining)
	assert.False(t, completed)
	assert.Equal(t, models.SubscriptionStatusCancelled, out.Status)
}

func TestApplyPostponeApproval(t *testing.T) {
	sub := models.Subscription{PostponeTotal: 2, PostponeRemaining: 2}

	out, err := ApplyPostponeApproval(sub)
	require.NoError(t, err)
	assert.Equal(t, 1, out.PostponeRemaining)
}

func TestApplyPostponeApprovalWithoutCredit(t *testing.T) {
	sub := models.Subscription{PostponeTotal: 2, PostponeRemaining: 0}

	_, err := ApplyPostponeApproval(sub)
	assert.True(t, appErrors.Is(err, appErrors.ErrInsufficientCredit))
}

func TestSessionsCompletedAndProgress(t *testing.T) {
	sub := models.Subscription{SessionsTotal: 8, SessionsRemaining: 6}
	assert.Equal(t, 2, SessionsCompleted(sub))
	assert.InDelta(t, 0.25, Progress(sub), 1e-9)

	assert.Equal(t, 0, SessionsCompleted(models.Subscription{SessionsTotal: 0, SessionsRemaining: 0}))
	assert.Zero(t, Progress(models.Subscription{}))
}

func TestValidateCredits(t *testing.T) {
	ok := models.Subscription{SessionsTotal: 8, SessionsRemaining: 8, PostponeTotal: 2, PostponeRemaining: 2}
	require.NoError(t, ValidateCredits(ok))

	overdrawn := models.Subscription{SessionsTotal: 8, SessionsRemaining: -1}
	assert.Error(t, ValidateCredits(overdrawn))

	inflated := models.Subscription{SessionsTotal: 8, SessionsRemaining: 9}
	assert.Error(t, ValidateCredits(inflated))
}
