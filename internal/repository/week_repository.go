package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lessonloop/lessonloop-api/internal/models"
)

// WeekRepository handles persistence of weeks and their slots.
type WeekRepository struct {
	db *sqlx.DB
}

// NewWeekRepository constructs the repository.
func NewWeekRepository(db *sqlx.DB) *WeekRepository {
	return &WeekRepository{db: db}
}

// FindByID returns a week by its ID.
func (r *WeekRepository) FindByID(ctx context.Context, id string) (*models.Week, error) {
	const query = `SELECT id, subscription_id, week_index, status, submitted_at, reviewed_at, created_at, updated_at FROM weeks WHERE id = $1`
	var week models.Week
	if err := r.db.GetContext(ctx, &week, query, id); err != nil {
		return nil, err
	}
	return &week, nil
}

// FindByIndex returns the week at the given index of a subscription.
func (r *WeekRepository) FindByIndex(ctx context.Context, subscriptionID string, weekIndex int) (*models.Week, error) {
	const query = `SELECT id, subscription_id, week_index, status, submitted_at, reviewed_at, created_at, updated_at
        FROM weeks WHERE subscription_id = $1 AND week_index = $2`
	var week models.Week
	if err := r.db.GetContext(ctx, &week, query, subscriptionID, weekIndex); err != nil {
		return nil, err
	}
	return &week, nil
}

// Create inserts a week in DRAFT. The (subscription_id, week_index) unique
// constraint absorbs concurrent lazy creation; the caller re-reads after a
// conflict.
func (r *WeekRepository) Create(ctx context.Context, week *models.Week) error {
	if week.ID == "" {
		week.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if week.CreatedAt.IsZero() {
		week.CreatedAt = now
	}
	week.UpdatedAt = now
	if week.Status == "" {
		week.Status = models.WeekStatusDraft
	}
	const query = `INSERT INTO weeks (id, subscription_id, week_index, status, submitted_at, reviewed_at, created_at, updated_at)
        VALUES (:id, :subscription_id, :week_index, :status, :submitted_at, :reviewed_at, :created_at, :updated_at)
        ON CONFLICT (subscription_id, week_index) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, week); err != nil {
		return fmt.Errorf("create week: %w", err)
	}
	return nil
}

// ListBySubscription returns every week of a subscription ordered by index.
func (r *WeekRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]models.Week, error) {
	const query = `SELECT id, subscription_id, week_index, status, submitted_at, reviewed_at, created_at, updated_at
        FROM weeks WHERE subscription_id = $1 ORDER BY week_index`
	var weeks []models.Week
	if err := r.db.SelectContext(ctx, &weeks, query, subscriptionID); err != nil {
		return nil, fmt.Errorf("list weeks: %w", err)
	}
	return weeks, nil
}

// Submit performs the DRAFT -> SUBMITTED compare-and-set. Only one of two
// concurrent submissions can win.
func (r *WeekRepository) Submit(ctx context.Context, id string, submittedAt time.Time) (bool, error) {
	const query = `UPDATE weeks SET status = $3, submitted_at = $4, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, models.WeekStatusDraft, models.WeekStatusSubmitted, submittedAt)
	if err != nil {
		return false, fmt.Errorf("submit week: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit week rows affected: %w", err)
	}
	return affected > 0, nil
}

// Review performs the SUBMITTED -> APPROVED/REJECTED compare-and-set.
func (r *WeekRepository) Review(ctx context.Context, id string, to models.WeekStatus, reviewedAt time.Time) (bool, error) {
	const query = `UPDATE weeks SET status = $3, reviewed_at = $4, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, models.WeekStatusSubmitted, to, reviewedAt)
	if err != nil {
		return false, fmt.Errorf("review week: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review week rows affected: %w", err)
	}
	return affected > 0, nil
}

// CountSlots returns the number of slots currently held by a week.
func (r *WeekRepository) CountSlots(ctx context.Context, weekID string) (int, error) {
	const query = `SELECT COUNT(*) FROM slots WHERE week_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, weekID); err != nil {
		return 0, fmt.Errorf("count slots: %w", err)
	}
	return count, nil
}

// CreateSlot persists a new slot.
func (r *WeekRepository) CreateSlot(ctx context.Context, slot *models.Slot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO slots (id, week_id, start_at, end_at, note, created_at)
        VALUES (:id, :week_id, :start_at, :end_at, :note, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("create slot: %w", err)
	}
	return nil
}

// FindSlotByID returns a slot joined with its week's index and status.
func (r *WeekRepository) FindSlotByID(ctx context.Context, id string) (*models.SlotDetail, error) {
	const query = `SELECT sl.id, sl.week_id, sl.start_at, sl.end_at, sl.note, sl.created_at,
        w.week_index AS week_index, w.status AS week_status
        FROM slots sl
        JOIN weeks w ON w.id = sl.week_id
        WHERE sl.id = $1`
	var detail models.SlotDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListSlotsByWeek returns the slots of one week ordered by start time.
func (r *WeekRepository) ListSlotsByWeek(ctx context.Context, weekID string) ([]models.Slot, error) {
	const query = `SELECT id, week_id, start_at, end_at, note, created_at FROM slots WHERE week_id = $1 ORDER BY start_at`
	var slots []models.Slot
	if err := r.db.SelectContext(ctx, &slots, query, weekID); err != nil {
		return nil, fmt.Errorf("list week slots: %w", err)
	}
	return slots, nil
}

// ListSlotsBySubscription returns every slot across all weeks of a
// subscription, the set the duplicate-booking check scans.
func (r *WeekRepository) ListSlotsBySubscription(ctx context.Context, subscriptionID string) ([]models.SlotDetail, error) {
	const query = `SELECT sl.id, sl.week_id, sl.start_at, sl.end_at, sl.note, sl.created_at,
        w.week_index AS week_index, w.status AS week_status
        FROM slots sl
        JOIN weeks w ON w.id = sl.week_id
        WHERE w.subscription_id = $1
        ORDER BY sl.start_at`
	var slots []models.SlotDetail
	if err := r.db.SelectContext(ctx, &slots, query, subscriptionID); err != nil {
		return nil, fmt.Errorf("list subscription slots: %w", err)
	}
	return slots, nil
}

// DeleteSlot removes a slot. The service layer only permits this while the
// owning week is still DRAFT.
func (r *WeekRepository) DeleteSlot(ctx context.Context, id string) error {
	const query = `DELETE FROM slots WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete slot rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
