package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

type mockExportSubscriptions struct {
	subscription *models.Subscription
	detail       *models.SubscriptionDetail
}

func (m *mockExportSubscriptions) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	if m.subscription == nil {
		return nil, sql.ErrNoRows
	}
	return m.subscription, nil
}

func (m *mockExportSubscriptions) FindDetailByID(ctx context.Context, id string) (*models.SubscriptionDetail, error) {
	return m.detail, nil
}

type mockExportSessions struct {
	sessions []models.Session
}

func (m *mockExportSessions) ListBySubscription(ctx context.Context, subscriptionID string) ([]models.Session, error) {
	return m.sessions, nil
}

func exportFixture() *ExportService {
	subscription := &models.Subscription{ID: "sub-1", StudentID: "s1", Status: models.SubscriptionStatusActive}
	detail := &models.SubscriptionDetail{
		Subscription: *subscription,
		StudentName:  "Ada Lovelace",
		CourseLabel:  "English B2",
	}
	startAt := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	completedAt := startAt.Add(time.Hour)
	sessions := []models.Session{
		{
			ID: "sess-1", SubscriptionID: "sub-1", Status: models.SessionStatusCompleted,
			StartAt: startAt, EndAt: startAt.Add(time.Hour), CompletedAt: &completedAt,
		},
		{
			ID: "sess-2", SubscriptionID: "sub-1", Status: models.SessionStatusScheduled,
			StartAt: startAt.AddDate(0, 0, 7), EndAt: startAt.AddDate(0, 0, 7).Add(time.Hour),
		},
	}
	return NewExportService(
		&mockExportSubscriptions{subscription: subscription, detail: detail},
		&mockExportSessions{sessions: sessions},
		zap.NewNop(),
	)
}

func TestExportScheduleCSV(t *testing.T) {
	svc := exportFixture()

	result, err := svc.ExportSchedule(context.Background(), "sub-1", ExportFormatCSV, studentClaims("s1"))
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "schedule-sub-1.csv", result.Filename)

	body := string(result.Content)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Date")
	assert.Contains(t, body, "2026-09-07")
	assert.Contains(t, body, "COMPLETED")
	assert.Contains(t, body, "2026-09-14")
}

func TestExportSchedulePDF(t *testing.T) {
	svc := exportFixture()

	result, err := svc.ExportSchedule(context.Background(), "sub-1", ExportFormatPDF, adminClaims())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.Equal(t, "schedule-sub-1.pdf", result.Filename)
	assert.True(t, strings.HasPrefix(string(result.Content), "%PDF"))
}

func TestExportScheduleUnknownFormat(t *testing.T) {
	svc := exportFixture()

	_, err := svc.ExportSchedule(context.Background(), "sub-1", ExportFormat("xlsx"), adminClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestExportScheduleForbidsForeignStudent(t *testing.T) {
	svc := exportFixture()

	_, err := svc.ExportSchedule(context.Background(), "sub-1", ExportFormatCSV, studentClaims("someone-else"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
