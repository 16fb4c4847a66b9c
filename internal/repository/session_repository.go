package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

// SessionRepository handles persistence of sessions. The transition out of a
// joinable status is always a conditional update, so an explicit completion
// and the expired-session sweep can race safely: exactly one caller observes
// rows-affected > 0 and owns the follow-up credit decrement.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, subscription_id, week_id, start_at, end_at, status, zoom_join_url, zoom_start_url,
        postpone_reason, postpone_requested_at, postpone_approved_at, completed_at, created_at, updated_at`

// CreateIfAbsent inserts a session unless one already exists for the same
// subscription and start time. Reports whether a row was inserted, which
// keeps week materialization idempotent under at-least-once delivery.
func (r *SessionRepository) CreateIfAbsent(ctx context.Context, session *models.Session) (bool, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	const query = `INSERT INTO sessions (id, subscription_id, week_id, start_at, end_at, status, zoom_join_url, zoom_start_url,
        postpone_reason, postpone_requested_at, postpone_approved_at, completed_at, created_at, updated_at)
        VALUES (:id, :subscription_id, :week_id, :start_at, :end_at, :status, :zoom_join_url, :zoom_start_url,
        :postpone_reason, :postpone_requested_at, :postpone_approved_at, :completed_at, :created_at, :updated_at)
        ON CONFLICT (subscription_id, start_at) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, session)
	if err != nil {
		return false, fmt.Errorf("create session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create session rows affected: %w", err)
	}
	return affected > 0, nil
}

// FindByID returns a session by its ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListBySubscription returns every session of a subscription ordered by start.
func (r *SessionRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE subscription_id = $1 ORDER BY start_at`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, subscriptionID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListExpired returns joinable sessions whose scheduled end has passed.
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE status IN ($1, $2) AND end_at < $3 ORDER BY end_at`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query,
		models.SessionStatusScheduled, models.SessionStatusInProgress, now); err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	return sessions, nil
}

// Start performs the SCHEDULED -> IN_PROGRESS compare-and-set.
func (r *SessionRepository) Start(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `UPDATE sessions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, models.SessionStatusScheduled, models.SessionStatusInProgress, now)
	if err != nil {
		return false, fmt.Errorf("start session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("start session rows affected: %w", err)
	}
	return affected > 0, nil
}

// Complete performs the {SCHEDULED, IN_PROGRESS} -> COMPLETED compare-and-set
// and stamps completed_at. The loser of a race observes false and must not
// touch the credit ledger.
func (r *SessionRepository) Complete(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	const query = `UPDATE sessions SET status = $4, completed_at = $5, updated_at = $6 WHERE id = $1 AND status IN ($2, $3)`
	result, err := r.db.ExecContext(ctx, query, id,
		models.SessionStatusScheduled, models.SessionStatusInProgress, models.SessionStatusCompleted, completedAt, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete session rows affected: %w", err)
	}
	return affected > 0, nil
}

// Cancel performs the SCHEDULED -> CANCELLED compare-and-set.
func (r *SessionRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `UPDATE sessions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, models.SessionStatusScheduled, models.SessionStatusCancelled, now)
	if err != nil {
		return false, fmt.Errorf("cancel session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel session rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkNoShow performs the SCHEDULED -> *_NO_SHOW compare-and-set.
func (r *SessionRepository) MarkNoShow(ctx context.Context, id string, to models.SessionStatus, now time.Time) (bool, error) {
	const query = `UPDATE sessions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, models.SessionStatusScheduled, to, now)
	if err != nil {
		return false, fmt.Errorf("mark no-show: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark no-show rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequestPostpone performs the SCHEDULED -> STUDENT_REQUESTED_POSTPONE
// compare-and-set and records the student's reason. No credit is consumed at
// request time.
func (r *SessionRepository) RequestPostpone(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	const query = `UPDATE sessions SET status = $3, postpone_reason = $4, postpone_requested_at = $5, updated_at = $5
        WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id,
		models.SessionStatusScheduled, models.SessionStatusPostponeRequested, reason, now)
	if err != nil {
		return false, fmt.Errorf("request postpone: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request postpone rows affected: %w", err)
	}
	return affected > 0, nil
}

// ApprovePostpone flips STUDENT_REQUESTED_POSTPONE to POSTPONE_APPROVED and
// consumes one postpone credit in a single transaction. Either both updates
// land or neither does: a lost status race yields ErrInvalidState, an empty
// credit balance yields ErrInsufficientCredit, and in both cases every change
// is rolled back.
func (r *SessionRepository) ApprovePostpone(ctx context.Context, id string, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve postpone: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const sessionQuery = `UPDATE sessions SET status = $3, postpone_approved_at = $4, updated_at = $4
        WHERE id = $1 AND status = $2`
	result, err := tx.ExecContext(ctx, sessionQuery, id,
		models.SessionStatusPostponeRequested, models.SessionStatusPostponeApproved, now)
	if err != nil {
		return fmt.Errorf("approve postpone: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve postpone rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrInvalidState, "session is not awaiting postpone approval")
	}

	const creditQuery = `UPDATE subscriptions SET postpone_remaining = postpone_remaining - 1, updated_at = $2
        WHERE id = (SELECT subscription_id FROM sessions WHERE id = $1) AND postpone_remaining > 0`
	result, err = tx.ExecContext(ctx, creditQuery, id, now)
	if err != nil {
		return fmt.Errorf("consume postpone credit: %w", err)
	}
	affected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postpone credit rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrInsufficientCredit
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve postpone: %w", err)
	}
	return nil
}

// SetMeetingLinks attaches conferencing links supplied by the external
// meeting collaborator.
func (r *SessionRepository) SetMeetingLinks(ctx context.Context, id, joinURL, startURL string) error {
	const query = `UPDATE sessions SET zoom_join_url = $2, zoom_start_url = $3, updated_at = $4 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, joinURL, startURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set meeting links: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set meeting links rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	return nil
}

// CountBySubscription returns how many sessions exist for a subscription.
func (r *SessionRepository) CountBySubscription(ctx context.Context, subscriptionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE subscription_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, subscriptionID); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}
