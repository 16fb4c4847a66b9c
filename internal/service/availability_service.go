package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type availabilityRuleRepository interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error)
	ListActiveByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error)
	FindByID(ctx context.Context, id string) (*models.AvailabilityRule, error)
	Create(ctx context.Context, rule *models.AvailabilityRule) error
	Update(ctx context.Context, rule *models.AvailabilityRule) error
	Delete(ctx context.Context, id string) error
}

type subscriptionSlotReader interface {
	ListSlotsBySubscription(ctx context.Context, subscriptionID string) ([]models.SlotDetail, error)
}

type availabilitySubscriptionReader interface {
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
}

type ruleCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateAvailabilityRuleRequest declares a recurring weekly open window.
type CreateAvailabilityRuleRequest struct {
	Weekday   int    `json:"weekday" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	IsActive  *bool  `json:"is_active"`
}

// AvailabilityService owns teacher availability rules and the matcher that
// turns them into concrete bookable windows.
//
// All times here are wall-clock values as stated by the teacher. The matcher
// compares slots by literal date + hour + minute and never normalises
// timezones: the same physical window must hash identically no matter which
// timezone a client rendered it in. Collisions across different students'
// subscriptions are deliberately not checked; only same-subscription
// duplicates are rejected.
type AvailabilityService struct {
	rules         availabilityRuleRepository
	slots         subscriptionSlotReader
	subscriptions availabilitySubscriptionReader
	cache         ruleCache
	cacheTTL      time.Duration
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewAvailabilityService constructs AvailabilityService.
func NewAvailabilityService(rules availabilityRuleRepository, slots subscriptionSlotReader, subscriptions availabilitySubscriptionReader, cache ruleCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{rules: rules, slots: slots, subscriptions: subscriptions, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// ListRules returns the rules of a teacher. Teachers see their own set,
// admins anyone's.
func (s *AvailabilityService) ListRules(ctx context.Context, teacherID string, actor *models.JWTClaims) ([]models.AvailabilityRule, error) {
	if err := canManageRules(teacherID, actor); err != nil {
		return nil, err
	}
	rules, err := s.rules.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability rules")
	}
	return rules, nil
}

// CreateRule declares a new recurring window for the acting teacher.
func (s *AvailabilityService) CreateRule(ctx context.Context, teacherID string, req CreateAvailabilityRuleRequest, actor *models.JWTClaims) (*models.AvailabilityRule, error) {
	if err := canManageRules(teacherID, actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability rule payload")
	}
	if err := validateTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule := &models.AvailabilityRule{
		TeacherID: teacherID,
		Weekday:   req.Weekday,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		IsActive:  active,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create availability rule")
	}
	s.invalidateRuleCache(ctx, teacherID)
	return rule, nil
}

// UpdateRule rewrites an existing rule.
func (s *AvailabilityService) UpdateRule(ctx context.Context, id string, req CreateAvailabilityRuleRequest, actor *models.JWTClaims) (*models.AvailabilityRule, error) {
	rule, err := s.rules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability rule")
	}
	if err := canManageRules(rule.TeacherID, actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability rule payload")
	}
	if err := validateTimeRange(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	rule.Weekday = req.Weekday
	rule.StartTime = req.StartTime
	rule.EndTime = req.EndTime
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability rule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update availability rule")
	}
	s.invalidateRuleCache(ctx, rule.TeacherID)
	return rule, nil
}

// DeleteRule removes a rule. Existing slots booked against it are unaffected.
func (s *AvailabilityService) DeleteRule(ctx context.Context, id string, actor *models.JWTClaims) error {
	rule, err := s.rules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability rule not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability rule")
	}
	if err := canManageRules(rule.TeacherID, actor); err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability rule not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete availability rule")
	}
	s.invalidateRuleCache(ctx, rule.TeacherID)
	return nil
}

// CandidateWindows returns the bookable windows of the subscription's teacher
// for one calendar date, each flagged when some week of the same subscription
// already holds it.
func (s *AvailabilityService) CandidateWindows(ctx context.Context, subscriptionID, date string, actor *models.JWTClaims) ([]models.CandidateWindow, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date must be formatted YYYY-MM-DD")
	}
	subscription, err := s.subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	if err := canViewSubscription(subscription, actor); err != nil {
		return nil, err
	}
	if subscription.TeacherID == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "subscription has no assigned teacher")
	}

	rules, err := s.activeRules(ctx, *subscription.TeacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability rules")
	}

	slots, err := s.slots.ListSlotsBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booked slots")
	}

	windows := CandidateWindows(rules, day)
	for i := range windows {
		if weekIndex := FindConflict(slots, windows[i].Date, windows[i].StartTime, windows[i].EndTime); weekIndex != nil {
			windows[i].Taken = true
			windows[i].TakenWeekIndex = weekIndex
		}
	}
	return windows, nil
}

func (s *AvailabilityService) activeRules(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error) {
	key := ruleCacheKey(teacherID)
	if s.cache != nil {
		var cached []models.AvailabilityRule
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}
	rules, err := s.rules.ListActiveByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, rules, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache availability rules", zap.String("teacher_id", teacherID), zap.Error(err))
		}
	}
	return rules, nil
}

func (s *AvailabilityService) invalidateRuleCache(ctx context.Context, teacherID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, ruleCacheKey(teacherID)); err != nil {
		s.logger.Warn("failed to invalidate availability cache", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}

func ruleCacheKey(teacherID string) string {
	return fmt.Sprintf("availability:rules:%s", teacherID)
}

// CandidateWindows filters rules to the active ones matching the date's
// weekday and returns their time ranges verbatim.
func CandidateWindows(rules []models.AvailabilityRule, date time.Time) []models.CandidateWindow {
	weekday := int(date.Weekday())
	windows := make([]models.CandidateWindow, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsActive || rule.Weekday != weekday {
			continue
		}
		windows = append(windows, models.CandidateWindow{
			Date:      date.Format(dateLayout),
			StartTime: rule.StartTime,
			EndTime:   rule.EndTime,
		})
	}
	return windows
}

// FindConflict scans every slot of a subscription for one with the same
// literal date and time range, returning the owning week's index when found.
func FindConflict(slots []models.SlotDetail, date, startTime, endTime string) *int {
	want := wallClockKey(date, startTime, endTime)
	for _, slot := range slots {
		if slotWallClockKey(slot.Slot) == want {
			weekIndex := slot.WeekIndex
			return &weekIndex
		}
	}
	return nil
}

func wallClockKey(date, startTime, endTime string) string {
	return date + " " + startTime + "-" + endTime
}

func slotWallClockKey(slot models.Slot) string {
	return wallClockKey(slot.StartAt.Format(dateLayout), slot.StartAt.Format(timeLayout), slot.EndAt.Format(timeLayout))
}

func validateTimeRange(startTime, endTime string) error {
	start, err := time.Parse(timeLayout, startTime)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "start_time must be formatted HH:MM")
	}
	end, err := time.Parse(timeLayout, endTime)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "end_time must be formatted HH:MM")
	}
	if !end.After(start) {
		return appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	return nil
}

func canManageRules(teacherID string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role == models.RoleTeacher && actor.UserID == teacherID {
		return nil
	}
	return appErrors.ErrForbidden
}

func canViewSubscription(subscription *models.Subscription, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if subscription.StudentID == actor.UserID {
			return nil
		}
	case models.RoleTeacher:
		if subscription.TeacherID != nil && *subscription.TeacherID == actor.UserID {
			return nil
		}
	}
	return appErrors.ErrForbidden
}
