package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

type mockRuleRepo struct {
	rules   map[string]models.AvailabilityRule
	created *models.AvailabilityRule
	deleted []string
}

func (m *mockRuleRepo) ListByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error) {
	var out []models.AvailabilityRule
	for _, rule := range m.rules {
		if rule.TeacherID == teacherID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) ListActiveByTeacher(ctx context.Context, teacherID string) ([]models.AvailabilityRule, error) {
	var out []models.AvailabilityRule
	for _, rule := range m.rules {
		if rule.TeacherID == teacherID && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (m *mockRuleRepo) FindByID(ctx context.Context, id string) (*models.AvailabilityRule, error) {
	if rule, ok := m.rules[id]; ok {
		return &rule, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRuleRepo) Create(ctx context.Context, rule *models.AvailabilityRule) error {
	if m.rules == nil {
		m.rules = make(map[string]models.AvailabilityRule)
	}
	if rule.ID == "" {
		rule.ID = "rule-new"
	}
	m.rules[rule.ID] = *rule
	m.created = rule
	return nil
}

func (m *mockRuleRepo) Update(ctx context.Context, rule *models.AvailabilityRule) error {
	if _, ok := m.rules[rule.ID]; !ok {
		return sql.ErrNoRows
	}
	m.rules[rule.ID] = *rule
	return nil
}

func (m *mockRuleRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.rules[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rules, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockSlotReader struct {
	slots []models.SlotDetail
}

func (m *mockSlotReader) ListSlotsBySubscription(ctx context.Context, subscriptionID string) ([]models.SlotDetail, error) {
	return m.slots, nil
}

type mockSubscriptionReader struct {
	subscriptions map[string]models.Subscription
}

func (m *mockSubscriptionReader) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	if sub, ok := m.subscriptions[id]; ok {
		return &sub, nil
	}
	return nil, sql.ErrNoRows
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func TestCandidateWindowsFiltersWeekdayAndActive(t *testing.T) {
	rules := []models.AvailabilityRule{
		{TeacherID: "t1", Weekday: 1, StartTime: "09:00", EndTime: "10:00", IsActive: true},
		{TeacherID: "t1", Weekday: 1, StartTime: "14:00", EndTime: "15:00", IsActive: false},
		{TeacherID: "t1", Weekday: 3, StartTime: "09:00", EndTime: "10:00", IsActive: true},
	}
	// 2026-09-07 is a Monday.
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

	windows := CandidateWindows(rules, day)
	require.Len(t, windows, 1)
	assert.Equal(t, "2026-09-07", windows[0].Date)
	assert.Equal(t, "09:00", windows[0].StartTime)
	assert.False(t, windows[0].Taken)
}

func TestFindConflictMatchesLiteralWallClock(t *testing.T) {
	slots := []models.SlotDetail{
		{
			Slot:      models.Slot{StartAt: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), EndAt: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)},
			WeekIndex: 2,
		},
	}

	weekIndex := FindConflict(slots, "2026-09-07", "09:00", "10:00")
	require.NotNil(t, weekIndex)
	assert.Equal(t, 2, *weekIndex)

	assert.Nil(t, FindConflict(slots, "2026-09-07", "10:00", "11:00"))
	assert.Nil(t, FindConflict(slots, "2026-09-14", "09:00", "10:00"))
}

func TestCandidateWindowsMarksTakenWindows(t *testing.T) {
	teacherID := "t1"
	subs := &mockSubscriptionReader{subscriptions: map[string]models.Subscription{
		"sub-1": {ID: "sub-1", StudentID: "s1", TeacherID: &teacherID, Status: models.SubscriptionStatusActive},
	}}
	rules := &mockRuleRepo{rules: map[string]models.AvailabilityRule{
		"r1": {ID: "r1", TeacherID: "t1", Weekday: 1, StartTime: "09:00", EndTime: "10:00", IsActive: true},
		"r2": {ID: "r2", TeacherID: "t1", Weekday: 1, StartTime: "14:00", EndTime: "15:00", IsActive: true},
	}}
	slots := &mockSlotReader{slots: []models.SlotDetail{
		{
			Slot:      models.Slot{StartAt: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC), EndAt: time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC)},
			WeekIndex: 1,
		},
	}}

	svc := NewAvailabilityService(rules, slots, subs, nil, 0, nil, zap.NewNop())
	windows, err := svc.CandidateWindows(context.Background(), "sub-1", "2026-09-07", studentClaims("s1"))
	require.NoError(t, err)
	require.Len(t, windows, 2)

	byStart := map[string]models.CandidateWindow{}
	for _, w := range windows {
		byStart[w.StartTime] = w
	}
	require.True(t, byStart["09:00"].Taken)
	require.NotNil(t, byStart["09:00"].TakenWeekIndex)
	assert.Equal(t, 1, *byStart["09:00"].TakenWeekIndex)
	assert.False(t, byStart["14:00"].Taken)
}

func TestCandidateWindowsRequiresAssignedTeacher(t *testing.T) {
	subs := &mockSubscriptionReader{subscriptions: map[string]models.Subscription{
		"sub-1": {ID: "sub-1", StudentID: "s1", Status: models.SubscriptionStatusPaymentReceived},
	}}
	svc := NewAvailabilityService(&mockRuleRepo{}, &mockSlotReader{}, subs, nil, 0, nil, zap.NewNop())

	_, err := svc.CandidateWindows(context.Background(), "sub-1", "2026-09-07", studentClaims("s1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestCandidateWindowsRejectsForeignStudent(t *testing.T) {
	teacherID := "t1"
	subs := &mockSubscriptionReader{subscriptions: map[string]models.Subscription{
		"sub-1": {ID: "sub-1", StudentID: "s1", TeacherID: &teacherID},
	}}
	svc := NewAvailabilityService(&mockRuleRepo{}, &mockSlotReader{}, subs, nil, 0, nil, zap.NewNop())

	_, err := svc.CandidateWindows(context.Background(), "sub-1", "2026-09-07", studentClaims("someone-else"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestCreateRuleValidatesTimeRange(t *testing.T) {
	svc := NewAvailabilityService(&mockRuleRepo{}, &mockSlotReader{}, &mockSubscriptionReader{}, nil, 0, nil, zap.NewNop())

	_, err := svc.CreateRule(context.Background(), "t1", CreateAvailabilityRuleRequest{
		Weekday: 1, StartTime: "15:00", EndTime: "14:00",
	}, teacherClaims("t1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.CreateRule(context.Background(), "t1", CreateAvailabilityRuleRequest{
		Weekday: 1, StartTime: "9am", EndTime: "10am",
	}, teacherClaims("t1"))
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCreateRuleForbidsOtherTeachers(t *testing.T) {
	svc := NewAvailabilityService(&mockRuleRepo{}, &mockSlotReader{}, &mockSubscriptionReader{}, nil, 0, nil, zap.NewNop())

	_, err := svc.CreateRule(context.Background(), "t1", CreateAvailabilityRuleRequest{
		Weekday: 1, StartTime: "09:00", EndTime: "10:00",
	}, teacherClaims("t2"))
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestCreateAndDeleteRule(t *testing.T) {
	repo := &mockRuleRepo{}
	svc := NewAvailabilityService(repo, &mockSlotReader{}, &mockSubscriptionReader{}, nil, 0, nil, zap.NewNop())

	rule, err := svc.CreateRule(context.Background(), "t1", CreateAvailabilityRuleRequest{
		Weekday: 2, StartTime: "09:00", EndTime: "10:00",
	}, teacherClaims("t1"))
	require.NoError(t, err)
	assert.True(t, rule.IsActive)
	require.NotNil(t, repo.created)

	require.NoError(t, svc.DeleteRule(context.Background(), rule.ID, adminClaims()))
	assert.Contains(t, repo.deleted, rule.ID)
}
