package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
)

const sweepLockKey = "sessions:sweep:lock"

type sessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]models.Session, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.Session, error)
	Start(ctx context.Context, id string, now time.Time) (bool, error)
	Complete(ctx context.Context, id string, completedAt time.Time) (bool, error)
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)
	MarkNoShow(ctx context.Context, id string, to models.SessionStatus, now time.Time) (bool, error)
	RequestPostpone(ctx context.Context, id, reason string, now time.Time) (bool, error)
	ApprovePostpone(ctx context.Context, id string, now time.Time) error
	SetMeetingLinks(ctx context.Context, id, joinURL, startURL string) error
}

type sessionSubscriptionStore interface {
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	DecrementSessions(ctx context.Context, id string) (*models.Subscription, error)
}

type sweepLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string)
}

// SessionService drives the session lifecycle. Completion is the only
// transition that touches the credit ledger, and it is guarded by the
// repository's conditional update: whoever wins the status flip, explicit
// caller or expiry sweep, performs exactly one credit decrement.
type SessionService struct {
	sessions       sessionRepository
	subscriptions  sessionSubscriptionStore
	locker         sweepLocker
	joinWindowLead time.Duration
	sweepLockTTL   time.Duration
	metrics        *MetricsService
	logger         *zap.Logger
}

// SetMetrics attaches sweep instrumentation.
func (s *SessionService) SetMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// NewSessionService constructs SessionService.
func NewSessionService(sessions sessionRepository, subscriptions sessionSubscriptionStore, locker sweepLocker, joinWindowLead, sweepLockTTL time.Duration, logger *zap.Logger) *SessionService {
	if joinWindowLead <= 0 {
		joinWindowLead = 15 * time.Minute
	}
	if sweepLockTTL <= 0 {
		sweepLockTTL = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:       sessions,
		subscriptions:  subscriptions,
		locker:         locker,
		joinWindowLead: joinWindowLead,
		sweepLockTTL:   sweepLockTTL,
		logger:         logger,
	}
}

// Get returns a session decorated with the join-window predicate.
func (s *SessionService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.SessionView, error) {
	session, subscription, err := s.loadSessionAndSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canViewSubscription(subscription, actor); err != nil {
		return nil, err
	}
	view := models.SessionView{Session: *session, CanJoin: s.canJoin(session, time.Now().UTC())}
	return &view, nil
}

// ListBySubscription returns every session of a subscription with join flags.
func (s *SessionService) ListBySubscription(ctx context.Context, subscriptionID string, actor *models.JWTClaims) ([]models.SessionView, error) {
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
	sessions, err := s.sessions.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	now := time.Now().UTC()
	views := make([]models.SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, models.SessionView{Session: sessions[i], CanJoin: s.canJoin(&sessions[i], now)})
	}
	return views, nil
}

// Start marks a session IN_PROGRESS when the assigned teacher opens it.
func (s *SessionService) Start(ctx context.Context, id string, actor *models.JWTClaims) (*models.Session, error) {
	session, subscription, err := s.loadSessionAndSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canReviewSchedule(subscription, actor); err != nil {
		return nil, err
	}
	ok, err := s.sessions.Start(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start session")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("session cannot be started from status %s", session.Status))
	}
	return s.reload(ctx, id)
}

// Complete finishes a session and consumes one session credit. The status
// flip is a conditional update, so racing against the expiry sweep is safe:
// the loser sees ErrAlreadyCompleted and the ledger moves exactly once.
func (s *SessionService) Complete(ctx context.Context, id string, actor *models.JWTClaims) (*models.Session, error) {
	session, subscription, err := s.loadSessionAndSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canReviewSchedule(subscription, actor); err != nil {
		return nil, err
	}

	won, err := s.sessions.Complete(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete session")
	}
	if !won {
		current, err := s.reload(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == models.SessionStatusCompleted {
			return nil, appErrors.ErrAlreadyCompleted
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("session cannot be completed from status %s", current.Status))
	}

	if _, err := s.subscriptions.DecrementSessions(ctx, session.SubscriptionID); err != nil {
		// The session is already COMPLETED; surface the ledger failure
		// loudly instead of pretending the whole operation failed.
		s.logger.Error("failed to decrement session credit",
			zap.String("session_id", id),
			zap.String("subscription_id", session.SubscriptionID),
			zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "session completed but credit update failed")
	}
	return s.reload(ctx, id)
}

// Cancel voids a SCHEDULED session without consuming credit.
func (s *SessionService) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.Session, error) {
	session, subscription, err := s.loadSessionAndSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canReviewSchedule(subscription, actor); err != nil {
		return nil, err
	}
	ok, err := s.sessions.Cancel(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel session")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("session cannot be cancelled from status %s", session.Status))
	}
	return s.reload(ctx, id)
}

// MarkNoShow records a missed SCHEDULED session against one party. No credit
// moves either way.
func (s *SessionService) MarkNoShow(ctx context.Context, id string, to models.SessionStatus, actor *models.JWTClaims) (*models.Session, error) {
	if to != models.SessionStatusStudentNoShow && to != models.SessionStatusTeacherNoShow {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no-show status must name the missing party")
	}
	session, subscription, err := s.loadSessionAndSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canReviewSchedule(subscription, actor); err != nil {
		return nil, err
	}
	ok, err := s.sessions.MarkNoShow(ctx, id, to, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark no-show")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("session cannot be marked no-show from status %s", session.Status))
	}
	return s.reload(ctx, id)
}

// RequestPostpone lets the student ask to move a SCHEDULED session. Credit is
// only consumed if the teacher later approves.
func (s *SessionService) RequestPostpone(ctx context.Context, id, reason string, actor *models.JWTClaims) (*models.Session, error) {
	session, subscription, err := s.loadSessionAndSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canEditSchedule(subscription, actor); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "postpone reason is required")
	}
	ok, err := s.sessions.RequestPostpone(ctx, id, reason, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to request postpone")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("postpone cannot be requested from status %s", session.Status))
	}
	return s.reload(ctx, id)
}

// ApprovePostpone grants a pending postpone request and consumes one postpone
// credit, both inside a single repository transaction.
func (s *SessionService) ApprovePostpone(ctx context.Context, id string, actor *models.JWTClaims) (*models.Session, error) {
	_, subscription, err := s.loadSessionAndSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canReviewSchedule(subscription, actor); err != nil {
		return nil, err
	}
	if err := s.sessions.ApprovePostpone(ctx, id, time.Now().UTC()); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve postpone")
	}
	return s.reload(ctx, id)
}

// UpdateMeetingLinks replaces the conferencing links on a session, for
// when the provider invalidates a meeting and a new one is created by
// hand.
func (s *SessionService) UpdateMeetingLinks(ctx context.Context, id, joinURL, startURL string, actor *models.JWTClaims) (*models.Session, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can update meeting links")
	}
	if joinURL == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "join_url is required")
	}
	if _, _, err := s.loadSessionAndSubscription(ctx, id); err != nil {
		return nil, err
	}
	if err := s.sessions.SetMeetingLinks(ctx, id, joinURL, startURL); err != nil {
		if appErrors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update meeting links")
	}
	return s.reload(ctx, id)
}

// SyncExpired completes every joinable session whose scheduled end has
// passed, stamping completed_at with the scheduled end rather than the sweep
// time. Losing the conditional update to a concurrent explicit completion is
// not an error; those sessions simply do not count as updated. The sweep is
// idempotent: a second run over the same horizon finds nothing to do.
func (s *SessionService) SyncExpired(ctx context.Context, now time.Time) (*models.SweepResult, error) {
	expired, err := s.sessions.ListExpired(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expired sessions")
	}

	result := &models.SweepResult{Scanned: len(expired)}
	for _, session := range expired {
		won, err := s.sessions.Complete(ctx, session.ID, session.EndAt)
		if err != nil {
			result.Failures = append(result.Failures, models.SweepFailure{SessionID: session.ID, Reason: err.Error()})
			continue
		}
		if !won {
			continue
		}
		if _, err := s.subscriptions.DecrementSessions(ctx, session.SubscriptionID); err != nil {
			result.Failures = append(result.Failures, models.SweepFailure{
				SessionID: session.ID,
				Reason:    fmt.Sprintf("credit decrement failed: %v", err),
			})
			continue
		}
		result.Updated++
	}

	s.metrics.RecordSweep(result.Updated, len(result.Failures))
	if result.Updated > 0 || len(result.Failures) > 0 {
		s.logger.Info("expired session sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("updated", result.Updated),
			zap.Int("failures", len(result.Failures)))
	}
	return result, nil
}

// SweepWithLock runs SyncExpired under a best-effort distributed lock so that
// only one instance burns the work. The lock trims waste, it does not guard
// correctness; two sweepers racing still complete each session once.
func (s *SessionService) SweepWithLock(ctx context.Context, now time.Time) (*models.SweepResult, error) {
	if s.locker != nil {
		acquired, err := s.locker.TryLock(ctx, sweepLockKey, s.sweepLockTTL)
		if err != nil {
			s.logger.Warn("sweep lock unavailable, proceeding without it", zap.Error(err))
		} else if !acquired {
			return &models.SweepResult{}, nil
		} else {
			defer s.locker.Unlock(ctx, sweepLockKey)
		}
	}
	return s.SyncExpired(ctx, now)
}

// RunSweeper blocks, sweeping on every tick until the context ends.
func (s *SessionService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepWithLock(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("expired session sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *SessionService) canJoin(session *models.Session, now time.Time) bool {
	joinable := false
	for _, status := range models.JoinableStatuses {
		if session.Status == status {
			joinable = true
			break
		}
	}
	if !joinable || session.ZoomJoinURL == nil || *session.ZoomJoinURL == "" {
		return false
	}
	return !now.Before(session.StartAt.Add(-s.joinWindowLead))
}

func (s *SessionService) loadSessionAndSubscription(ctx context.Context, id string) (*models.Session, *models.Subscription, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	subscription, err := s.subscriptions.FindByID(ctx, session.SubscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	return session, subscription, nil
}

func (s *SessionService) reload(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload session")
	}
	return session, nil
}
