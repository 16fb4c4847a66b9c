package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lessonloop/lessonloop-api/internal/models"
)

// SubscriptionRepository handles persistence of subscriptions. Every status
// transition is a conditional update checked by rows-affected, so concurrent
// callers race on the database row and exactly one wins.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository constructs the repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, student_id, teacher_id, course_id, package_id, status, weeks_total, sessions_total, sessions_remaining,
        postpone_total, postpone_remaining, cycle_start_at, cycle_end_at, created_at, updated_at`

// Create persists a new subscription record.
func (r *SubscriptionRepository) Create(ctx context.Context, subscription *models.Subscription) error {
	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}
	subscription.UpdatedAt = now
	const query = `INSERT INTO subscriptions (id, student_id, teacher_id, course_id, package_id, status, weeks_total, sessions_total,
        sessions_remaining, postpone_total, postpone_remaining, cycle_start_at, cycle_end_at, created_at, updated_at)
        VALUES (:id, :student_id, :teacher_id, :course_id, :package_id, :status, :weeks_total, :sessions_total,
        :sessions_remaining, :postpone_total, :postpone_remaining, :cycle_start_at, :cycle_end_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subscription); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// FindByID returns a subscription by its ID.
func (r *SubscriptionRepository) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1`, subscriptionColumns)
	var subscription models.Subscription
	if err := r.db.GetContext(ctx, &subscription, query, id); err != nil {
		return nil, err
	}
	return &subscription, nil
}

// FindDetailByID returns a subscription with catalog and user labels.
func (r *SubscriptionRepository) FindDetailByID(ctx context.Context, id string) (*models.SubscriptionDetail, error) {
	const query = `SELECT sub.id, sub.student_id, sub.teacher_id, sub.course_id, sub.package_id, sub.status, sub.weeks_total,
        sub.sessions_total, sub.sessions_remaining, sub.postpone_total, sub.postpone_remaining, sub.cycle_start_at, sub.cycle_end_at,
        sub.created_at, sub.updated_at,
        s.full_name AS student_name, t.full_name AS teacher_name, c.label AS course_label, p.label AS package_label
        FROM subscriptions sub
        LEFT JOIN users s ON s.id = sub.student_id
        LEFT JOIN users t ON t.id = sub.teacher_id
        LEFT JOIN courses c ON c.id = sub.course_id
        LEFT JOIN packages p ON p.id = sub.package_id
        WHERE sub.id = $1`
	var detail models.SubscriptionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns subscriptions filtered by the provided criteria.
func (r *SubscriptionRepository) List(ctx context.Context, filter models.SubscriptionFilter) ([]models.SubscriptionDetail, int, error) {
	base := `FROM subscriptions sub
LEFT JOIN users s ON s.id = sub.student_id
LEFT JOIN users t ON t.id = sub.teacher_id
LEFT JOIN courses c ON c.id = sub.course_id
LEFT JOIN packages p ON p.id = sub.package_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("sub.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("sub.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("sub.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("sub.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "sub.created_at",
		"status":       "sub.status",
		"student_name": "s.full_name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "sub.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT sub.id, sub.student_id, sub.teacher_id, sub.course_id, sub.package_id, sub.status, sub.weeks_total,
        sub.sessions_total, sub.sessions_remaining, sub.postpone_total, sub.postpone_remaining, sub.cycle_start_at, sub.cycle_end_at,
        sub.created_at, sub.updated_at,
        s.full_name AS student_name, t.full_name AS teacher_name, c.label AS course_label, p.label AS package_label
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var subscriptions []models.SubscriptionDetail
	if err := r.db.SelectContext(ctx, &subscriptions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list subscriptions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return subscriptions, total, nil
}

// TransitionStatus performs a compare-and-set status update. It reports false
// when the subscription was not in the expected source status.
func (r *SubscriptionRepository) TransitionStatus(ctx context.Context, id string, from, to models.SubscriptionStatus) (bool, error) {
	const query = `UPDATE subscriptions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("transition subscription status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("subscription status rows affected: %w", err)
	}
	return affected > 0, nil
}

// AssignTeacher sets the teacher and advances the status in one atomic update.
func (r *SubscriptionRepository) AssignTeacher(ctx context.Context, id, teacherID string) (bool, error) {
	const query = `UPDATE subscriptions SET teacher_id = $2, status = $4, updated_at = $5 WHERE id = $1 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, id, teacherID,
		models.SubscriptionStatusPaymentReceived, models.SubscriptionStatusTeacherAssigned, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("assign teacher: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign teacher rows affected: %w", err)
	}
	return affected > 0, nil
}

// Activate flips TEACHER_ASSIGNED to ACTIVE and stamps the cycle window. The
// materializer calls this on first successful materialization; later calls
// find the row already ACTIVE and report false.
func (r *SubscriptionRepository) Activate(ctx context.Context, id string, cycleStart, cycleEnd time.Time) (bool, error) {
	const query = `UPDATE subscriptions SET status = $3, cycle_start_at = $4, cycle_end_at = $5, updated_at = $6
        WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id,
		models.SubscriptionStatusTeacherAssigned, models.SubscriptionStatusActive, cycleStart, cycleEnd, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("activate subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate rows affected: %w", err)
	}
	return affected > 0, nil
}

// Cancel moves any non-terminal subscription to CANCELLED.
func (r *SubscriptionRepository) Cancel(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE subscriptions SET status = $4, updated_at = $5 WHERE id = $1 AND status NOT IN ($2, $3)`
	result, err := r.db.ExecContext(ctx, query, id,
		models.SubscriptionStatusCompleted, models.SubscriptionStatusCancelled, models.SubscriptionStatusCancelled, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("cancel subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	return affected > 0, nil
}

// DecrementSessions consumes one session credit atomically, flipping the
// status to COMPLETED when the last credit is spent on a non-cancelled
// subscription. When the counter is already zero the call is a clamped no-op
// returning the current row, so a caller can never drive it negative.
func (r *SubscriptionRepository) DecrementSessions(ctx context.Context, id string) (*models.Subscription, error) {
	query := fmt.Sprintf(`UPDATE subscriptions
        SET sessions_remaining = sessions_remaining - 1,
            status = CASE WHEN sessions_remaining = 1 AND status <> $2 THEN $3 ELSE status END,
            updated_at = $4
        WHERE id = $1 AND sessions_remaining > 0
        RETURNING %s`, subscriptionColumns)
	var subscription models.Subscription
	err := r.db.GetContext(ctx, &subscription, query, id,
		models.SubscriptionStatusCancelled, models.SubscriptionStatusCompleted, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.FindByID(ctx, id)
		}
		return nil, fmt.Errorf("decrement sessions: %w", err)
	}
	return &subscription, nil
}

// DecrementPostpones consumes one postpone credit. It reports false when no
// credit remains; the counter never goes negative.
func (r *SubscriptionRepository) DecrementPostpones(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE subscriptions SET postpone_remaining = postpone_remaining - 1, updated_at = $2
        WHERE id = $1 AND postpone_remaining > 0`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("decrement postpones: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement postpones rows affected: %w", err)
	}
	return affected > 0, nil
}
