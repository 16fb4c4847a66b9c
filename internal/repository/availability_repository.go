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

// AvailabilityRepository handles persistence of teacher availability rules.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs the repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListByTeacher returns all rules declared by a teacher.
func (r *AvailabilityRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error) {
	const query = `SELECT id, teacher_id, weekday, start_time, end_time, is_active, created_at, updated_at
        FROM availability_rules WHERE teacher_id = $1 ORDER BY weekday, start_time`
	var rules []models.AvailabilityRule
	if err := r.db.SelectContext(ctx, &rules, query, teacherID); err != nil {
		return nil, fmt.Errorf("list availability rules: %w", err)
	}
	return rules, nil
}

// ListActiveByTeacher returns only active rules, the set the matcher consumes.
func (r *AvailabilityRepository) ListActiveByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error) {
	const query = `SELECT id, teacher_id, weekday, start_time, end_time, is_active, created_at, updated_at
        FROM availability_rules WHERE teacher_id = $1 AND is_active = TRUE ORDER BY weekday, start_time`
	var rules []models.AvailabilityRule
	if err := r.db.SelectContext(ctx, &rules, query, teacherID); err != nil {
		return nil, fmt.Errorf("list active availability rules: %w", err)
	}
	return rules, nil
}

// FindByID returns a rule by its ID.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityRule, error) {
	const query = `SELECT id, teacher_id, weekday, start_time, end_time, is_active, created_at, updated_at
        FROM availability_rules WHERE id = $1`
	var rule models.AvailabilityRule
	if err := r.db.GetContext(ctx, &rule, query, id); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Create persists a new rule.
func (r *AvailabilityRepository) Create(ctx context.Context, rule *models.AvailabilityRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	const query = `INSERT INTO availability_rules (id, teacher_id, weekday, start_time, end_time, is_active, created_at, updated_at)
        VALUES (:id, :teacher_id, :weekday, :start_time, :end_time, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return fmt.Errorf("create availability rule: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a rule.
func (r *AvailabilityRepository) Update(ctx context.Context, rule *models.AvailabilityRule) error {
	const query = `UPDATE availability_rules SET weekday = $2, start_time = $3, end_time = $4, is_active = $5, updated_at = $6 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, rule.ID, rule.Weekday, rule.StartTime, rule.EndTime, rule.IsActive, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update availability rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("availability rule rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a rule. Rules have an independent lifecycle and may be
// deleted freely; existing slots are unaffected.
func (r *AvailabilityRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM availability_rules WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete availability rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("availability rule rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
