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
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

func newSessionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSessionRepositoryCreateIfAbsentInserts(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	session := &models.Session{
		SubscriptionID: "sub-1",
		WeekID:         "w1",
		StartAt:        time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		EndAt:          time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
	}
	inserted, err := repo.CreateIfAbsent(context.Background(), session)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotEmpty(t, session.ID)
	require.Equal(t, models.SessionStatusScheduled, session.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCreateIfAbsentSkipsDuplicate(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	// ON CONFLICT DO NOTHING reports zero rows on replay.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.CreateIfAbsent(context.Background(), &models.Session{
		SubscriptionID: "sub-1",
		WeekID:         "w1",
		StartAt:        time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		EndAt:          time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCompleteWinsRace(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	completedAt := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status = $4, completed_at = $5, updated_at = $6 WHERE id = $1 AND status IN ($2, $3)")).
		WithArgs("sess-1", models.SessionStatusScheduled, models.SessionStatusInProgress,
			models.SessionStatusCompleted, completedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := repo.Complete(context.Background(), "sess-1", completedAt)
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCompleteLosesRace(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	completedAt := time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status = $4, completed_at = $5, updated_at = $6 WHERE id = $1 AND status IN ($2, $3)")).
		WithArgs("sess-1", models.SessionStatusScheduled, models.SessionStatusInProgress,
			models.SessionStatusCompleted, completedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.Complete(context.Background(), "sess-1", completedAt)
	require.NoError(t, err)
	require.False(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryListExpired(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	created := now.Add(-48 * time.Hour)
	rows := sqlmock.NewRows([]string{
		"id", "subscription_id", "week_id", "start_at", "end_at", "status", "zoom_join_url", "zoom_start_url",
		"postpone_reason", "postpone_requested_at", "postpone_approved_at", "completed_at", "created_at", "updated_at",
	}).AddRow("sess-1", "sub-1", "w1", now.Add(-3*time.Hour), now.Add(-2*time.Hour),
		models.SessionStatusScheduled, nil, nil, nil, nil, nil, nil, created, created)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE status IN ($1, $2) AND end_at < $3 ORDER BY end_at")).
		WithArgs(models.SessionStatusScheduled, models.SessionStatusInProgress, now).
		WillReturnRows(rows)

	sessions, err := repo.ListExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "sess-1", sessions[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryApprovePostponeCommitsBothUpdates(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status = $3, postpone_approved_at = $4, updated_at = $4")).
		WithArgs("sess-1", models.SessionStatusPostponeRequested, models.SessionStatusPostponeApproved, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET postpone_remaining = postpone_remaining - 1")).
		WithArgs("sess-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ApprovePostpone(context.Background(), "sess-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryApprovePostponeRollsBackWithoutCredit(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status = $3, postpone_approved_at = $4, updated_at = $4")).
		WithArgs("sess-1", models.SessionStatusPostponeRequested, models.SessionStatusPostponeApproved, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET postpone_remaining = postpone_remaining - 1")).
		WithArgs("sess-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApprovePostpone(context.Background(), "sess-1", now)
	require.True(t, appErrors.Is(err, appErrors.ErrInsufficientCredit))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryApprovePostponeNotPending(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status = $3, postpone_approved_at = $4, updated_at = $4")).
		WithArgs("sess-1", models.SessionStatusPostponeRequested, models.SessionStatusPostponeApproved, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApprovePostpone(context.Background(), "sess-1", now)
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositorySetMeetingLinksMissingSession(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET zoom_join_url = $2, zoom_start_url = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("sess-missing", "join", "start", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetMeetingLinks(context.Background(), "sess-missing", "join", "start")
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
