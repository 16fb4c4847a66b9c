package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/lessonloop/lessonloop-api/internal/models"
)

// CatalogRepository reads the immutable course and package catalog.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListCourses returns active catalog courses.
func (r *CatalogRepository) ListCourses(ctx context.Context) ([]models.Course, error) {
	const query = `SELECT id, label, slug, active, created_at FROM courses WHERE active = TRUE ORDER BY label`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query); err != nil {
		return nil, err
	}
	return courses, nil
}

// FindCourse returns a course by its ID.
func (r *CatalogRepository) FindCourse(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, label, slug, active, created_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListPackages returns active catalog packages.
func (r *CatalogRepository) ListPackages(ctx context.Context) ([]models.Package, error) {
	const query = `SELECT id, label, sessions_per_week, weeks_per_cycle, session_duration_minutes, postpones_per_cycle, price_cents, currency, active, created_at
        FROM packages WHERE active = TRUE ORDER BY price_cents`
	var packages []models.Package
	if err := r.db.SelectContext(ctx, &packages, query); err != nil {
		return nil, err
	}
	return packages, nil
}

// FindPackage returns a package by its ID.
func (r *CatalogRepository) FindPackage(ctx context.Context, id string) (*models.Package, error) {
	const query = `SELECT id, label, sessions_per_week, weeks_per_cycle, session_duration_minutes, postpones_per_cycle, price_cents, currency, active, created_at
        FROM packages WHERE id = $1`
	var pkg models.Package
	if err := r.db.GetContext(ctx, &pkg, query, id); err != nil {
		return nil, err
	}
	return &pkg, nil
}
