package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

type mockWeekRepo struct {
	weeks      map[string]models.Week
	slots      map[string]models.SlotDetail
	nextWeekID int
	nextSlotID int
}

func newMockWeekRepo() *mockWeekRepo {
	return &mockWeekRepo{weeks: make(map[string]models.Week), slots: make(map[string]models.SlotDetail)}
}

func (m *mockWeekRepo) addWeek(week models.Week) {
	m.weeks[week.ID] = week
}

func (m *mockWeekRepo) addSlot(weekID string, weekIndex int, status models.WeekStatus, startAt, endAt time.Time) {
	m.nextSlotID++
	id := fmt.Sprintf("slot-%d", m.nextSlotID)
	m.slots[id] = models.SlotDetail{
		Slot:       models.Slot{ID: id, WeekID: weekID, StartAt: startAt, EndAt: endAt},
		WeekIndex:  weekIndex,
		WeekStatus: status,
	}
}

func (m *mockWeekRepo) FindByID(ctx context.Context, id string) (*models.Week, error) {
	if week, ok := m.weeks[id]; ok {
		return &week, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockWeekRepo) FindByIndex(ctx context.Context, subscriptionID string, weekIndex int) (*models.Week, error) {
	for _, week := range m.weeks {
		if week.SubscriptionID == subscriptionID && week.WeekIndex == weekIndex {
			return &week, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockWeekRepo) Create(ctx context.Context, week *models.Week) error {
	m.nextWeekID++
	week.ID = fmt.Sprintf("week-%d", m.nextWeekID)
	week.Status = models.WeekStatusDraft
	m.weeks[week.ID] = *week
	return nil
}

func (m *mockWeekRepo) ListBySubscription(ctx context.Context, subscriptionID string) ([]models.Week, error) {
	var out []models.Week
	for _, week := range m.weeks {
		if week.SubscriptionID == subscriptionID {
			out = append(out, week)
		}
	}
	return out, nil
}

func (m *mockWeekRepo) Submit(ctx context.Context, id string, submittedAt time.Time) (bool, error) {
	week, ok := m.weeks[id]
	if !ok || week.Status != models.WeekStatusDraft {
		return false, nil
	}
	week.Status = models.WeekStatusSubmitted
	week.SubmittedAt = &submittedAt
	m.weeks[id] = week
	return true, nil
}

func (m *mockWeekRepo) Review(ctx context.Context, id string, to models.WeekStatus, reviewedAt time.Time) (bool, error) {
	week, ok := m.weeks[id]
	if !ok || week.Status != models.WeekStatusSubmitted {
		return false, nil
	}
	week.Status = to
	week.ReviewedAt = &reviewedAt
	m.weeks[id] = week
	return true, nil
}

func (m *mockWeekRepo) CountSlots(ctx context.Context, weekID string) (int, error) {
	count := 0
	for _, slot := range m.slots {
		if slot.WeekID == weekID {
			count++
		}
	}
	return count, nil
}

func (m *mockWeekRepo) CreateSlot(ctx context.Context, slot *models.Slot) error {
	m.nextSlotID++
	slot.ID = fmt.Sprintf("slot-%d", m.nextSlotID)
	week := m.weeks[slot.WeekID]
	m.slots[slot.ID] = models.SlotDetail{Slot: *slot, WeekIndex: week.WeekIndex, WeekStatus: week.Status}
	return nil
}

func (m *mockWeekRepo) FindSlotByID(ctx context.Context, id string) (*models.SlotDetail, error) {
	if slot, ok := m.slots[id]; ok {
		return &slot, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockWeekRepo) ListSlotsByWeek(ctx context.Context, weekID string) ([]models.Slot, error) {
	var out []models.Slot
	for _, slot := range m.slots {
		if slot.WeekID == weekID {
			out = append(out, slot.Slot)
		}
	}
	return out, nil
}

func (m *mockWeekRepo) ListSlotsBySubscription(ctx context.Context, subscriptionID string) ([]models.SlotDetail, error) {
	var out []models.SlotDetail
	for _, slot := range m.slots {
		if week, ok := m.weeks[slot.WeekID]; ok && week.SubscriptionID == subscriptionID {
			out = append(out, slot)
		}
	}
	return out, nil
}

func (m *mockWeekRepo) DeleteSlot(ctx context.Context, id string) error {
	if _, ok := m.slots[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.slots, id)
	return nil
}

type mockPackageReader struct {
	pkg models.Package
}

func (m *mockPackageReader) FindPackage(ctx context.Context, id string) (*models.Package, error) {
	pkg := m.pkg
	return &pkg, nil
}

type mockRuleReader struct {
	rules []models.AvailabilityRule
}

func (m *mockRuleReader) ListActiveByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error) {
	return m.rules, nil
}

type mockMaterializer struct {
	enqueued []string
}

func (m *mockMaterializer) EnqueueWeek(weekID string) error {
	m.enqueued = append(m.enqueued, weekID)
	return nil
}

func scheduleFixture() (*ScheduleService, *mockWeekRepo, *mockMaterializer) {
	teacherID := "t1"
	subs := &mockSubscriptionReader{subscriptions: map[string]models.Subscription{
		"sub-1": {
			ID: "sub-1", StudentID: "s1", TeacherID: &teacherID, PackageID: "pkg-1",
			Status: models.SubscriptionStatusActive, WeeksTotal: 4,
		},
	}}
	weeks := newMockWeekRepo()
	packages := &mockPackageReader{pkg: models.Package{ID: "pkg-1", SessionsPerWeek: 2, WeeksPerCycle: 4}}
	rules := &mockRuleReader{rules: []models.AvailabilityRule{
		{TeacherID: "t1", Weekday: 1, StartTime: "09:00", EndTime: "10:00", IsActive: true},
		{TeacherID: "t1", Weekday: 1, StartTime: "10:00", EndTime: "11:00", IsActive: true},
		{TeacherID: "t1", Weekday: 3, StartTime: "09:00", EndTime: "10:00", IsActive: true},
	}}
	materializer := &mockMaterializer{}
	svc := NewScheduleService(weeks, subs, packages, rules, materializer, nil, zap.NewNop())
	return svc, weeks, materializer
}

func TestGetWeekCreatesDraftLazily(t *testing.T) {
	svc, weeks, _ := scheduleFixture()

	detail, err := svc.GetWeek(context.Background(), "sub-1", 2, studentClaims("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.WeekStatusDraft, detail.Status)
	assert.Equal(t, 2, detail.WeekIndex)
	assert.Len(t, weeks.weeks, 1)

	// Opening the same index again must return the existing row.
	again, err := svc.GetWeek(context.Background(), "sub-1", 2, studentClaims("s1"))
	require.NoError(t, err)
	assert.Equal(t, detail.ID, again.ID)
	assert.Len(t, weeks.weeks, 1)
}

func TestGetWeekRejectsOutOfRangeIndex(t *testing.T) {
	svc, _, _ := scheduleFixture()

	_, err := svc.GetWeek(context.Background(), "sub-1", 0, studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.GetWeek(context.Background(), "sub-1", 5, studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAddSlotBooksMatchingWindow(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusDraft})

	slot, err := svc.AddSlot(context.Background(), "w1", AddSlotRequest{
		Date: "2026-09-07", StartTime: "09:00", EndTime: "10:00",
	}, studentClaims("s1"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), slot.StartAt)
	assert.Equal(t, time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC), slot.EndAt)
}

func TestAddSlotRejectsUnmatchedWindow(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusDraft})

	// 2026-09-07 is a Monday; the teacher has no 13:00 window.
	_, err := svc.AddSlot(context.Background(), "w1", AddSlotRequest{
		Date: "2026-09-07", StartTime: "13:00", EndTime: "14:00",
	}, studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	// Right time range, wrong weekday.
	_, err = svc.AddSlot(context.Background(), "w1", AddSlotRequest{
		Date: "2026-09-08", StartTime: "09:00", EndTime: "10:00",
	}, studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAddSlotRejectsDuplicateAcrossWeeks(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusApproved})
	weeks.addWeek(models.Week{ID: "w2", SubscriptionID: "sub-1", WeekIndex: 2, Status: models.WeekStatusDraft})
	weeks.addSlot("w1", 1, models.WeekStatusApproved,
		time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC))

	_, err := svc.AddSlot(context.Background(), "w2", AddSlotRequest{
		Date: "2026-09-07", StartTime: "09:00", EndTime: "10:00",
	}, studentClaims("s1"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSlotConflict))
	assert.Contains(t, err.Error(), "week 1")
}

func TestAddSlotEnforcesWeeklyCapacity(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusDraft})
	weeks.addSlot("w1", 1, models.WeekStatusDraft,
		time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC))
	weeks.addSlot("w1", 1, models.WeekStatusDraft,
		time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC), time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC))

	_, err := svc.AddSlot(context.Background(), "w1", AddSlotRequest{
		Date: "2026-09-09", StartTime: "09:00", EndTime: "10:00",
	}, studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrCapacityExceeded))
}

func TestAddSlotRequiresDraftWeek(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusSubmitted})

	_, err := svc.AddSlot(context.Background(), "w1", AddSlotRequest{
		Date: "2026-09-07", StartTime: "09:00", EndTime: "10:00",
	}, studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestAddSlotForbidsTeacher(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusDraft})

	_, err := svc.AddSlot(context.Background(), "w1", AddSlotRequest{
		Date: "2026-09-07", StartTime: "09:00", EndTime: "10:00",
	}, teacherClaims("t1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestSubmitWeekRequiresFullQuota(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusDraft})
	weeks.addSlot("w1", 1, models.WeekStatusDraft,
		time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC))

	_, err := svc.SubmitWeek(context.Background(), "w1", studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrIncompleteWeek))
}

func TestSubmitWeekMovesToSubmitted(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusDraft})
	weeks.addSlot("w1", 1, models.WeekStatusDraft,
		time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC))
	weeks.addSlot("w1", 1, models.WeekStatusDraft,
		time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC), time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC))

	detail, err := svc.SubmitWeek(context.Background(), "w1", studentClaims("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.WeekStatusSubmitted, detail.Status)
	require.NotNil(t, detail.SubmittedAt)

	// A second submit loses the status guard.
	_, err = svc.SubmitWeek(context.Background(), "w1", studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestReviewWeekApproveEnqueuesMaterialization(t *testing.T) {
	svc, weeks, materializer := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusSubmitted})

	detail, err := svc.ReviewWeek(context.Background(), "w1", true, teacherClaims("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.WeekStatusApproved, detail.Status)
	require.NotNil(t, detail.ReviewedAt)
	assert.Equal(t, []string{"w1"}, materializer.enqueued)
}

func TestReviewWeekRejectSkipsMaterialization(t *testing.T) {
	svc, weeks, materializer := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusSubmitted})

	detail, err := svc.ReviewWeek(context.Background(), "w1", false, teacherClaims("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.WeekStatusRejected, detail.Status)
	assert.Empty(t, materializer.enqueued)
}

func TestReviewWeekRequiresSubmittedStatus(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusDraft})

	_, err := svc.ReviewWeek(context.Background(), "w1", true, teacherClaims("t1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestReviewWeekForbidsUnassignedTeacher(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusSubmitted})

	_, err := svc.ReviewWeek(context.Background(), "w1", true, teacherClaims("t-other"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestRemoveSlotRequiresDraftWeek(t *testing.T) {
	svc, weeks, _ := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusApproved})
	weeks.addSlot("w1", 1, models.WeekStatusApproved,
		time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC))

	err := svc.RemoveSlot(context.Background(), "slot-1", studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestRematerializeReEnqueuesApprovedWeek(t *testing.T) {
	svc, weeks, materializer := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusApproved})

	err := svc.Rematerialize(context.Background(), "w1", studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, svc.Rematerialize(context.Background(), "w1", adminClaims()))
	assert.Equal(t, []string{"w1"}, materializer.enqueued)
}

func TestRematerializeRejectsUnapprovedWeek(t *testing.T) {
	svc, weeks, materializer := scheduleFixture()
	weeks.addWeek(models.Week{ID: "w1", SubscriptionID: "sub-1", WeekIndex: 1, Status: models.WeekStatusDraft})

	err := svc.Rematerialize(context.Background(), "w1", adminClaims())
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	assert.Empty(t, materializer.enqueued)
}
