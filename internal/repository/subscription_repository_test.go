package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lessonloop/lessonloop-api/internal/models"
)

func newSubscriptionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func subscriptionRows(id string, status models.SubscriptionStatus, remaining int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "student_id", "teacher_id", "course_id", "package_id", "status",
		"weeks_total", "sessions_total", "sessions_remaining", "postpone_total", "postpone_remaining",
		"cycle_start_at", "cycle_end_at", "created_at", "updated_at",
	}).AddRow(id, "stu-1", nil, "course-1", "pkg-1", status, 4, 8, remaining, 2, 2, nil, nil, now, now)
}

func TestSubscriptionRepositoryTransitionStatus(t *testing.T) {
	db, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs("sub-1", models.SubscriptionStatusDraft, models.SubscriptionStatusPendingPayment, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.TransitionStatus(context.Background(), "sub-1",
		models.SubscriptionStatusDraft, models.SubscriptionStatusPendingPayment)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryTransitionStatusLosesRace(t *testing.T) {
	db, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs("sub-1", models.SubscriptionStatusPendingPayment, models.SubscriptionStatusPaymentReceived, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionStatus(context.Background(), "sub-1",
		models.SubscriptionStatusPendingPayment, models.SubscriptionStatusPaymentReceived)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryDecrementSessions(t *testing.T) {
	db, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE subscriptions SET sessions_remaining = sessions_remaining - 1")).
		WithArgs("sub-1", models.SubscriptionStatusCancelled, models.SubscriptionStatusCompleted, sqlmock.AnyArg()).
		WillReturnRows(subscriptionRows("sub-1", models.SubscriptionStatusActive, 4))

	subscription, err := repo.DecrementSessions(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, 4, subscription.SessionsRemaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryDecrementSessionsClampsAtZero(t *testing.T) {
	db, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	// No row matches sessions_remaining > 0; the current row is returned
	// untouched instead of going negative.
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE subscriptions SET sessions_remaining = sessions_remaining - 1")).
		WithArgs("sub-1", models.SubscriptionStatusCancelled, models.SubscriptionStatusCompleted, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, teacher_id, course_id, package_id, status, weeks_total, sessions_total, sessions_remaining")).
		WithArgs("sub-1").
		WillReturnRows(subscriptionRows("sub-1", models.SubscriptionStatusCompleted, 0))

	subscription, err := repo.DecrementSessions(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, 0, subscription.SessionsRemaining)
	require.Equal(t, models.SubscriptionStatusCompleted, subscription.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryAssignTeacher(t *testing.T) {
	db, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET teacher_id = $2, status = $4, updated_at = $5 WHERE id = $1 AND status = $3")).
		WithArgs("sub-1", "teach-1", models.SubscriptionStatusPaymentReceived, models.SubscriptionStatusTeacherAssigned, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.AssignTeacher(context.Background(), "sub-1", "teach-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryActivateOnlyOnce(t *testing.T) {
	db, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	cycleStart := time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)
	cycleEnd := cycleStart.AddDate(0, 0, 28)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET status = $3, cycle_start_at = $4, cycle_end_at = $5, updated_at = $6")).
		WithArgs("sub-1", models.SubscriptionStatusTeacherAssigned, models.SubscriptionStatusActive, cycleStart, cycleEnd, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Activate(context.Background(), "sub-1", cycleStart, cycleEnd)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryDecrementPostpones(t *testing.T) {
	db, mock, cleanup := newSubscriptionRepoMock(t)
	defer cleanup()
	repo := NewSubscriptionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET postpone_remaining = postpone_remaining - 1, updated_at = $2 WHERE id = $1 AND postpone_remaining > 0")).
		WithArgs("sub-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DecrementPostpones(context.Background(), "sub-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
