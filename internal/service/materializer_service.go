package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	"github.com/lessonloop/lessonloop-api/pkg/jobs"
)

const jobTypeMaterializeWeek = "materialize_week"

type materializerWeekReader interface {
	FindByID(ctx context.Context, id string) (*models.Week, error)
	ListSlotsByWeek(ctx context.Context, weekID string) ([]models.Slot, error)
}

type materializerSubscriptionStore interface {
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	Activate(ctx context.Context, id string, cycleStart, cycleEnd time.Time) (bool, error)
}

type materializerSessionStore interface {
	CreateIfAbsent(ctx context.Context, session *models.Session) (bool, error)
	SetMeetingLinks(ctx context.Context, id, joinURL, startURL string) error
}

// MaterializerService turns approved weeks into concrete sessions on a
// background queue. Delivery is at-least-once: the handler tolerates replays
// because session insertion is keyed on (subscription, start time) and
// subscription activation is a conditional update. Running the same job twice
// changes nothing the second time.
type MaterializerService struct {
	weeks         materializerWeekReader
	subscriptions materializerSubscriptionStore
	sessions      materializerSessionStore
	meetings      MeetingProvider
	queue         *jobs.Queue
	metrics       *MetricsService
	logger        *zap.Logger
}

// SetMetrics attaches materialization instrumentation.
func (s *MaterializerService) SetMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// NewMaterializerService constructs MaterializerService and its queue.
func NewMaterializerService(weeks materializerWeekReader, subscriptions materializerSubscriptionStore, sessions materializerSessionStore, meetings MeetingProvider, workers, maxRetries int, logger *zap.Logger) *MaterializerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MaterializerService{
		weeks:         weeks,
		subscriptions: subscriptions,
		sessions:      sessions,
		meetings:      meetings,
		logger:        logger,
	}
	s.queue = jobs.NewQueue("materializer", s.handle, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: maxRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool.
func (s *MaterializerService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the worker pool.
func (s *MaterializerService) Stop() {
	s.queue.Stop()
}

// EnqueueWeek schedules materialization of an approved week.
func (s *MaterializerService) EnqueueWeek(weekID string) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeMaterializeWeek,
		Payload: weekID,
	})
}

func (s *MaterializerService) handle(ctx context.Context, job jobs.Job) error {
	weekID, ok := job.Payload.(string)
	if !ok {
		s.logger.Error("materializer received malformed payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.MaterializeWeek(ctx, weekID)
}

// MaterializeWeek creates one session per slot of an approved week and, on
// the subscription's first materialized week, activates it with its cycle
// window. Safe to call any number of times for the same week.
func (s *MaterializerService) MaterializeWeek(ctx context.Context, weekID string) error {
	week, err := s.weeks.FindByID(ctx, weekID)
	if err != nil {
		return fmt.Errorf("load week %s: %w", weekID, err)
	}
	if week.Status != models.WeekStatusApproved {
		// A stale or duplicate job; nothing to materialize.
		s.logger.Warn("skipping materialization of non-approved week",
			zap.String("week_id", weekID), zap.String("status", string(week.Status)))
		return nil
	}

	subscription, err := s.subscriptions.FindByID(ctx, week.SubscriptionID)
	if err != nil {
		return fmt.Errorf("load subscription %s: %w", week.SubscriptionID, err)
	}
	slots, err := s.weeks.ListSlotsByWeek(ctx, weekID)
	if err != nil {
		return fmt.Errorf("load slots of week %s: %w", weekID, err)
	}
	if len(slots) == 0 {
		s.logger.Warn("approved week has no slots", zap.String("week_id", weekID))
		return nil
	}

	created := 0
	for _, slot := range slots {
		session := &models.Session{
			SubscriptionID: subscription.ID,
			WeekID:         weekID,
			StartAt:        slot.StartAt,
			EndAt:          slot.EndAt,
			Status:         models.SessionStatusScheduled,
		}
		inserted, err := s.sessions.CreateIfAbsent(ctx, session)
		if err != nil {
			return fmt.Errorf("create session for slot %s: %w", slot.ID, err)
		}
		if !inserted {
			continue
		}
		created++
		if s.meetings != nil {
			joinURL, startURL := s.meetings.Links(session.ID)
			if err := s.sessions.SetMeetingLinks(ctx, session.ID, joinURL, startURL); err != nil {
				// The session exists and is sweepable; links can be
				// attached by a later replay.
				s.logger.Error("failed to attach meeting links",
					zap.String("session_id", session.ID), zap.Error(err))
			}
		}
	}

	if subscription.Status == models.SubscriptionStatusTeacherAssigned {
		cycleStart := earliestStart(slots)
		cycleEnd := cycleStart.AddDate(0, 0, 7*subscription.WeeksTotal)
		activated, err := s.subscriptions.Activate(ctx, subscription.ID, cycleStart, cycleEnd)
		if err != nil {
			return fmt.Errorf("activate subscription %s: %w", subscription.ID, err)
		}
		if activated {
			s.logger.Info("subscription activated",
				zap.String("subscription_id", subscription.ID),
				zap.Time("cycle_start", cycleStart),
				zap.Time("cycle_end", cycleEnd))
		}
	}

	s.metrics.RecordMaterialization(created)
	s.logger.Info("week materialized",
		zap.String("week_id", weekID),
		zap.String("subscription_id", subscription.ID),
		zap.Int("sessions_created", created),
		zap.Int("slots", len(slots)))
	return nil
}

func earliestStart(slots []models.Slot) time.Time {
	earliest := slots[0].StartAt
	for _, slot := range slots[1:] {
		if slot.StartAt.Before(earliest) {
			earliest = slot.StartAt
		}
	}
	return earliest
}
