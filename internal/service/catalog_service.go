package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

type catalogRepository interface {
	ListCourses(ctx context.Context, activeOnly bool) ([]models.Course, error)
	FindCourse(ctx context.Context, id string) (*models.Course, error)
	ListPackages(ctx context.Context, activeOnly bool) ([]models.Package, error)
	FindPackage(ctx context.Context, id string) (*models.Package, error)
}

// CatalogService serves the read-only course and package catalog. Admins see
// retired entries, everyone else only what is currently purchasable.
type CatalogService struct {
	catalog catalogRepository
	logger  *zap.Logger
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(catalog catalogRepository, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{catalog: catalog, logger: logger}
}

// ListCourses returns catalog courses.
func (s *CatalogService) ListCourses(ctx context.Context, actor *models.JWTClaims) ([]models.Course, error) {
	activeOnly := actor == nil || actor.Role != models.RoleAdmin
	courses, err := s.catalog.ListCourses(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// GetCourse returns one course.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.catalog.FindCourse(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// ListPackages returns catalog packages.
func (s *CatalogService) ListPackages(ctx context.Context, actor *models.JWTClaims) ([]models.Package, error) {
	activeOnly := actor == nil || actor.Role != models.RoleAdmin
	packages, err := s.catalog.ListPackages(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list packages")
	}
	return packages, nil
}

// GetPackage returns one package.
func (s *CatalogService) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	pkg, err := s.catalog.FindPackage(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "package not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load package")
	}
	return pkg, nil
}
