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

type weekRepository interface {
	FindByID(ctx context.Context, id string) (*models.Week, error)
	FindByIndex(ctx context.Context, subscriptionID string, weekIndex int) (*models.Week, error)
	Create(ctx context.Context, week *models.Week) error
	ListBySubscription(ctx context.Context, subscriptionID string) ([]models.Week, error)
	Submit(ctx context.Context, id string, submittedAt time.Time) (bool, error)
	Review(ctx context.Context, id string, to models.WeekStatus, reviewedAt time.Time) (bool, error)
	CountSlots(ctx context.Context, weekID string) (int, error)
	CreateSlot(ctx context.Context, slot *models.Slot) error
	FindSlotByID(ctx context.Context, id string) (*models.SlotDetail, error)
	ListSlotsByWeek(ctx context.Context, weekID string) ([]models.Slot, error)
	ListSlotsBySubscription(ctx context.Context, subscriptionID string) ([]models.SlotDetail, error)
	DeleteSlot(ctx context.Context, id string) error
}

type schedulePackageReader interface {
	FindPackage(ctx context.Context, id string) (*models.Package, error)
}

type activeRuleReader interface {
	ListActiveByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error)
}

type weekMaterializer interface {
	EnqueueWeek(weekID string) error
}

// AddSlotRequest books one availability window into a week.
type AddSlotRequest struct {
	Date      string `json:"date" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Note      string `json:"note" validate:"max=500"`
}

// ScheduleService drives the weekly scheduling workflow: lazy week creation,
// slot booking against teacher availability, submission and teacher review.
// Weeks move DRAFT -> SUBMITTED -> APPROVED/REJECTED; slots are mutable only
// while the week is DRAFT.
type ScheduleService struct {
	weeks         weekRepository
	subscriptions availabilitySubscriptionReader
	packages      schedulePackageReader
	rules         activeRuleReader
	materializer  weekMaterializer
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewScheduleService constructs ScheduleService.
func NewScheduleService(weeks weekRepository, subscriptions availabilitySubscriptionReader, packages schedulePackageReader, rules activeRuleReader, materializer weekMaterializer, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		weeks:         weeks,
		subscriptions: subscriptions,
		packages:      packages,
		rules:         rules,
		materializer:  materializer,
		validator:     validate,
		logger:        logger,
	}
}

// GetWeek returns the week at the given index, creating it in DRAFT the first
// time it is opened. Indexes run 1..weeks_total; anything outside is rejected.
func (s *ScheduleService) GetWeek(ctx context.Context, subscriptionID string, weekIndex int, actor *models.JWTClaims) (*models.WeekDetail, error) {
	subscription, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := canViewSubscription(subscription, actor); err != nil {
		return nil, err
	}
	if weekIndex < 1 || weekIndex > subscription.WeeksTotal {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("week index must be between 1 and %d", subscription.WeeksTotal))
	}

	week, err := s.weeks.FindByIndex(ctx, subscriptionID, weekIndex)
	if errors.Is(err, sql.ErrNoRows) {
		if subscription.TeacherID == nil {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "subscription has no assigned teacher")
		}
		if models.IsTerminalSubscriptionStatus(subscription.Status) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "subscription is no longer schedulable")
		}
		created := &models.Week{SubscriptionID: subscriptionID, WeekIndex: weekIndex}
		if err := s.weeks.Create(ctx, created); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create week")
		}
		// Re-read so a concurrent creator's row wins over ours.
		week, err = s.weeks.FindByIndex(ctx, subscriptionID, weekIndex)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load week")
		}
	} else if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load week")
	}

	return s.weekDetail(ctx, week)
}

// ListWeeks returns every materialized week of a subscription with its slots.
func (s *ScheduleService) ListWeeks(ctx context.Context, subscriptionID string, actor *models.JWTClaims) ([]models.WeekDetail, error) {
	subscription, err := s.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := canViewSubscription(subscription, actor); err != nil {
		return nil, err
	}
	weeks, err := s.weeks.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list weeks")
	}
	slots, err := s.weeks.ListSlotsBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list slots")
	}
	byWeek := make(map[string][]models.Slot, len(weeks))
	for _, slot := range slots {
		byWeek[slot.WeekID] = append(byWeek[slot.WeekID], slot.Slot)
	}
	details := make([]models.WeekDetail, 0, len(weeks))
	for _, week := range weeks {
		details = append(details, models.WeekDetail{Week: week, Slots: byWeek[week.ID]})
	}
	return details, nil
}

// AddSlot books an availability window into a DRAFT week. The window must
// match one of the teacher's active rules, the week must be under its slot
// quota, and no other week of the same subscription may hold the same literal
// date and time range.
func (s *ScheduleService) AddSlot(ctx context.Context, weekID string, req AddSlotRequest, actor *models.JWTClaims) (*models.Slot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot payload")
	}
	startAt, endAt, err := buildSlotTimes(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	week, subscription, err := s.loadWeekAndSubscription(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if err := canEditSchedule(subscription, actor); err != nil {
		return nil, err
	}
	if week.Status != models.WeekStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "slots can only be added while the week is in draft")
	}
	if subscription.TeacherID == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "subscription has no assigned teacher")
	}

	pkg, err := s.packages.FindPackage(ctx, subscription.PackageID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load package")
	}
	count, err := s.weeks.CountSlots(ctx, weekID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count slots")
	}
	if count >= pkg.SessionsPerWeek {
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded,
			fmt.Sprintf("week already holds %d of %d slots", count, pkg.SessionsPerWeek))
	}

	rules, err := s.rules.ListActiveByTeacher(ctx, *subscription.TeacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability rules")
	}
	if !matchesAvailability(rules, startAt, req.StartTime, req.EndTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slot does not match any availability window of the teacher")
	}

	slots, err := s.weeks.ListSlotsBySubscription(ctx, subscription.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booked slots")
	}
	if weekIndex := FindConflict(slots, req.Date, req.StartTime, req.EndTime); weekIndex != nil {
		return nil, appErrors.Clone(appErrors.ErrSlotConflict,
			fmt.Sprintf("slot already booked in week %d of this subscription", *weekIndex))
	}

	slot := &models.Slot{WeekID: weekID, StartAt: startAt, EndAt: endAt, Note: req.Note}
	if err := s.weeks.CreateSlot(ctx, slot); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create slot")
	}
	return slot, nil
}

// RemoveSlot deletes a slot from a DRAFT week.
func (s *ScheduleService) RemoveSlot(ctx context.Context, slotID string, actor *models.JWTClaims) error {
	detail, err := s.weeks.FindSlotByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slot")
	}
	_, subscription, err := s.loadWeekAndSubscription(ctx, detail.WeekID)
	if err != nil {
		return err
	}
	if err := canEditSchedule(subscription, actor); err != nil {
		return err
	}
	if detail.WeekStatus != models.WeekStatusDraft {
		return appErrors.Clone(appErrors.ErrInvalidState, "slots can only be removed while the week is in draft")
	}
	if err := s.weeks.DeleteSlot(ctx, slotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "slot not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete slot")
	}
	return nil
}

// SubmitWeek moves a fully booked DRAFT week to SUBMITTED for teacher review.
func (s *ScheduleService) SubmitWeek(ctx context.Context, weekID string, actor *models.JWTClaims) (*models.WeekDetail, error) {
	week, subscription, err := s.loadWeekAndSubscription(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if err := canEditSchedule(subscription, actor); err != nil {
		return nil, err
	}
	pkg, err := s.packages.FindPackage(ctx, subscription.PackageID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load package")
	}
	count, err := s.weeks.CountSlots(ctx, weekID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count slots")
	}
	if count != pkg.SessionsPerWeek {
		return nil, appErrors.Clone(appErrors.ErrIncompleteWeek,
			fmt.Sprintf("week holds %d of %d required slots", count, pkg.SessionsPerWeek))
	}

	now := time.Now().UTC()
	ok, err := s.weeks.Submit(ctx, weekID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit week")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("week cannot be submitted from status %s", week.Status))
	}
	week.Status = models.WeekStatusSubmitted
	week.SubmittedAt = &now
	return s.weekDetail(ctx, week)
}

// ReviewWeek lets the assigned teacher approve or reject a SUBMITTED week.
// Approval enqueues session materialization; rejection reopens nothing, the
// student starts a fresh week draft by re-adding slots after the teacher
// explains out of band.
func (s *ScheduleService) ReviewWeek(ctx context.Context, weekID string, approve bool, actor *models.JWTClaims) (*models.WeekDetail, error) {
	week, subscription, err := s.loadWeekAndSubscription(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if err := canReviewSchedule(subscription, actor); err != nil {
		return nil, err
	}

	to := models.WeekStatusRejected
	if approve {
		to = models.WeekStatusApproved
	}
	now := time.Now().UTC()
	ok, err := s.weeks.Review(ctx, weekID, to, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to review week")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("week cannot be reviewed from status %s", week.Status))
	}
	week.Status = to
	week.ReviewedAt = &now

	if approve && s.materializer != nil {
		// Materialization is asynchronous and idempotent; an enqueue
		// failure is retried by re-approval tooling, never unwound here.
		if err := s.materializer.EnqueueWeek(weekID); err != nil {
			s.logger.Error("failed to enqueue week materialization",
				zap.String("week_id", weekID), zap.Error(err))
		}
	}
	return s.weekDetail(ctx, week)
}

// Rematerialize re-enqueues an approved week for session creation. The
// materializer skips slots that already carry sessions, so re-running
// after a partial failure only fills the gaps.
func (s *ScheduleService) Rematerialize(ctx context.Context, weekID string, actor *models.JWTClaims) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins can re-run materialization")
	}
	week, _, err := s.loadWeekAndSubscription(ctx, weekID)
	if err != nil {
		return err
	}
	if week.Status != models.WeekStatusApproved {
		return appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot materialize a week in status %s", week.Status))
	}
	if s.materializer == nil {
		return appErrors.Clone(appErrors.ErrInternal, "materializer is not configured")
	}
	if err := s.materializer.EnqueueWeek(weekID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue week materialization")
	}
	return nil
}

func (s *ScheduleService) loadSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	subscription, err := s.subscriptions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	return subscription, nil
}

func (s *ScheduleService) loadWeekAndSubscription(ctx context.Context, weekID string) (*models.Week, *models.Subscription, error) {
	week, err := s.weeks.FindByID(ctx, weekID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "week not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load week")
	}
	subscription, err := s.loadSubscription(ctx, week.SubscriptionID)
	if err != nil {
		return nil, nil, err
	}
	return week, subscription, nil
}

func (s *ScheduleService) weekDetail(ctx context.Context, week *models.Week) (*models.WeekDetail, error) {
	slots, err := s.weeks.ListSlotsByWeek(ctx, week.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list slots")
	}
	return &models.WeekDetail{Week: *week, Slots: slots}, nil
}

// buildSlotTimes composes the stored timestamps from the literal date and
// HH:MM strings, tagged UTC without any zone conversion.
func buildSlotTimes(date, startTime, endTime string) (time.Time, time.Time, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD")
	}
	if err := validateTimeRange(startTime, endTime); err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, _ := time.Parse(timeLayout, startTime)
	end, _ := time.Parse(timeLayout, endTime)
	startAt := time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), 0, 0, time.UTC)
	endAt := time.Date(day.Year(), day.Month(), day.Day(), end.Hour(), end.Minute(), 0, 0, time.UTC)
	return startAt, endAt, nil
}

func matchesAvailability(rules []models.AvailabilityRule, date time.Time, startTime, endTime string) bool {
	weekday := int(date.Weekday())
	for _, rule := range rules {
		if rule.IsActive && rule.Weekday == weekday && rule.StartTime == startTime && rule.EndTime == endTime {
			return true
		}
	}
	return false
}

func canEditSchedule(subscription *models.Subscription, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role == models.RoleStudent && subscription.StudentID == actor.UserID {
		return nil
	}
	return appErrors.ErrForbidden
}

func canReviewSchedule(subscription *models.Subscription, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role == models.RoleTeacher && subscription.TeacherID != nil && *subscription.TeacherID == actor.UserID {
		return nil
	}
	return appErrors.ErrForbidden
}
