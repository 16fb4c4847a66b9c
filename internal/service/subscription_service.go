package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

type subscriptionRepository interface {
	Create(ctx context.Context, subscription *models.Subscription) error
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	FindDetailByID(ctx context.Context, id string) (*models.SubscriptionDetail, error)
	List(ctx context.Context, filter models.SubscriptionFilter) ([]models.SubscriptionDetail, int, error)
	TransitionStatus(ctx context.Context, id string, from, to models.SubscriptionStatus) (bool, error)
	AssignTeacher(ctx context.Context, id, teacherID string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

type catalogReader interface {
	FindCourse(ctx context.Context, id string) (*models.Course, error)
	FindPackage(ctx context.Context, id string) (*models.Package, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CreateSubscriptionRequest opens a draft purchase of a package.
type CreateSubscriptionRequest struct {
	CourseID  string `json:"course_id" validate:"required,uuid"`
	PackageID string `json:"package_id" validate:"required,uuid"`
}

// AssignTeacherRequest attaches a teacher to a paid subscription.
type AssignTeacherRequest struct {
	TeacherID string `json:"teacher_id" validate:"required,uuid"`
}

// SubscriptionService owns the subscription lifecycle up to activation.
// Credit totals are snapshotted from the package at draft creation; the
// package may change later without touching existing subscriptions.
type SubscriptionService struct {
	subscriptions subscriptionRepository
	catalog       catalogReader
	users         userReader
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewSubscriptionService constructs SubscriptionService.
func NewSubscriptionService(subscriptions subscriptionRepository, catalog catalogReader, users userReader, validate *validator.Validate, logger *zap.Logger) *SubscriptionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionService{subscriptions: subscriptions, catalog: catalog, users: users, validator: validate, logger: logger}
}

// CreateDraft opens a DRAFT subscription for the acting student, snapshotting
// the package's credit totals onto it.
func (s *SubscriptionService) CreateDraft(ctx context.Context, req CreateSubscriptionRequest, actor *models.JWTClaims) (*models.SubscriptionDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent && actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subscription payload")
	}

	course, err := s.catalog.FindCourse(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is no longer offered")
	}
	pkg, err := s.catalog.FindPackage(ctx, req.PackageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "package not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load package")
	}
	if !pkg.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "package is no longer offered")
	}

	sessionsTotal := pkg.SessionsPerWeek * pkg.WeeksPerCycle
	subscription := &models.Subscription{
		StudentID:         actor.UserID,
		CourseID:          course.ID,
		PackageID:         pkg.ID,
		Status:            models.SubscriptionStatusDraft,
		WeeksTotal:        pkg.WeeksPerCycle,
		SessionsTotal:     sessionsTotal,
		SessionsRemaining: sessionsTotal,
		PostponeTotal:     pkg.PostponesPerCycle,
		PostponeRemaining: pkg.PostponesPerCycle,
	}
	if err := s.subscriptions.Create(ctx, subscription); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subscription")
	}
	s.logger.Info("subscription drafted",
		zap.String("subscription_id", subscription.ID),
		zap.String("student_id", subscription.StudentID),
		zap.Int("sessions_total", sessionsTotal))
	return s.detail(ctx, subscription.ID)
}

// StartCheckout moves DRAFT to PENDING_PAYMENT, freezing the draft while the
// payment provider takes over.
func (s *SubscriptionService) StartCheckout(ctx context.Context, id string, actor *models.JWTClaims) (*models.SubscriptionDetail, error) {
	subscription, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canEditSchedule(subscription, actor); err != nil {
		return nil, err
	}
	return s.transition(ctx, subscription, models.SubscriptionStatusDraft, models.SubscriptionStatusPendingPayment)
}

// MarkPaymentReceived moves PENDING_PAYMENT to PAYMENT_RECEIVED. Called by
// the payment webhook after signature verification; there is no acting user.
// A replayed webhook finds the row already advanced and gets the current
// state back without error.
func (s *SubscriptionService) MarkPaymentReceived(ctx context.Context, id string) (*models.SubscriptionDetail, error) {
	subscription, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.subscriptions.TransitionStatus(ctx, id, models.SubscriptionStatusPendingPayment, models.SubscriptionStatusPaymentReceived)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	if !ok && subscription.Status == models.SubscriptionStatusPendingPayment {
		// Lost a race to a concurrent delivery of the same webhook.
		s.logger.Warn("duplicate payment notification", zap.String("subscription_id", id))
	}
	if !ok && !paymentAlreadyApplied(subscription.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("payment cannot be recorded from status %s", subscription.Status))
	}
	return s.detail(ctx, id)
}

// AssignTeacher attaches a teacher to a PAYMENT_RECEIVED subscription and
// advances it to TEACHER_ASSIGNED in one atomic update. Admin only.
func (s *SubscriptionService) AssignTeacher(ctx context.Context, id string, req AssignTeacherRequest, actor *models.JWTClaims) (*models.SubscriptionDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher assignment payload")
	}

	teacher, err := s.users.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned user is not a teacher")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned teacher is inactive")
	}

	subscription, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.subscriptions.AssignTeacher(ctx, id, teacher.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign teacher")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("teacher cannot be assigned from status %s", subscription.Status))
	}
	return s.detail(ctx, id)
}

// Cancel moves any non-terminal subscription to CANCELLED. Credits are
// forfeited, already-completed sessions stay completed.
func (s *SubscriptionService) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.SubscriptionDetail, error) {
	subscription, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canEditSchedule(subscription, actor); err != nil {
		return nil, err
	}
	ok, err := s.subscriptions.Cancel(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel subscription")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("subscription cannot be cancelled from status %s", subscription.Status))
	}
	return s.detail(ctx, id)
}

// Get returns a subscription with catalog labels, scoped to the actor.
func (s *SubscriptionService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.SubscriptionDetail, error) {
	subscription, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canViewSubscription(subscription, actor); err != nil {
		return nil, err
	}
	return s.detail(ctx, id)
}

// List returns subscriptions visible to the actor. Students and teachers are
// pinned to their own rows regardless of the requested filter.
func (s *SubscriptionService) List(ctx context.Context, filter models.SubscriptionFilter, actor *models.JWTClaims) ([]models.SubscriptionDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleTeacher:
		filter.TeacherID = actor.UserID
	case models.RoleAdmin:
	default:
		return nil, nil, appErrors.ErrForbidden
	}
	subscriptions, total, err := s.subscriptions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subscriptions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return subscriptions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *SubscriptionService) load(ctx context.Context, id string) (*models.Subscription, error) {
	subscription, err := s.subscriptions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	return subscription, nil
}

func (s *SubscriptionService) detail(ctx context.Context, id string) (*models.SubscriptionDetail, error) {
	detail, err := s.subscriptions.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription detail")
	}
	return detail, nil
}

func (s *SubscriptionService) transition(ctx context.Context, subscription *models.Subscription, from, to models.SubscriptionStatus) (*models.SubscriptionDetail, error) {
	ok, err := s.subscriptions.TransitionStatus(ctx, subscription.ID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update subscription status")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("subscription cannot move from %s to %s", subscription.Status, to))
	}
	return s.detail(ctx, subscription.ID)
}

// paymentAlreadyApplied reports whether the status proves a payment was
// recorded at some point, which makes a replayed webhook a no-op success.
func paymentAlreadyApplied(status models.SubscriptionStatus) bool {
	switch status {
	case models.SubscriptionStatusPaymentReceived,
		models.SubscriptionStatusTeacherAssigned,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusCompleted:
		return true
	}
	return false
}
