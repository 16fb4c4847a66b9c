package models

import "time"

// SessionStatus represents the lifecycle of a billable session.
type SessionStatus string

const (
	SessionStatusScheduled         SessionStatus = "SCHEDULED"
	SessionStatusInProgress        SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted         SessionStatus = "COMPLETED"
	SessionStatusCancelled         SessionStatus = "CANCELLED"
	SessionStatusStudentNoShow     SessionStatus = "STUDENT_NO_SHOW"
	SessionStatusTeacherNoShow     SessionStatus = "TEACHER_NO_SHOW"
	SessionStatusPostponeRequested SessionStatus = "STUDENT_REQUESTED_POSTPONE"
	SessionStatusPostponeApproved  SessionStatus = "POSTPONE_APPROVED"
)

type sessionTransition struct {
	From SessionStatus
	To   SessionStatus
}

var sessionTransitions = map[sessionTransition]bool{
	{SessionStatusScheduled, SessionStatusInProgress}:               true,
	{SessionStatusScheduled, SessionStatusCompleted}:                true,
	{SessionStatusInProgress, SessionStatusCompleted}:               true,
	{SessionStatusScheduled, SessionStatusCancelled}:                true,
	{SessionStatusScheduled, SessionStatusStudentNoShow}:            true,
	{SessionStatusScheduled, SessionStatusTeacherNoShow}:            true,
	{SessionStatusScheduled, SessionStatusPostponeRequested}:        true,
	{SessionStatusPostponeRequested, SessionStatusPostponeApproved}: true,
}

// CanTransitionSession reports whether the edge from -> to is permitted.
func CanTransitionSession(from, to SessionStatus) bool {
	return sessionTransitions[sessionTransition{from, to}]
}

// JoinableStatuses are the statuses from which the join action is meaningful
// and from which the completion transition may fire.
var JoinableStatuses = []SessionStatus{SessionStatusScheduled, SessionStatusInProgress}

// Session is a concrete billable appointment materialized from an approved
// slot. StartAt/EndAt follow the same wall-clock-as-UTC convention as Slot.
type Session struct {
	ID                  string        `db:"id" json:"id"`
	SubscriptionID      string        `db:"subscription_id" json:"subscription_id"`
	WeekID              string        `db:"week_id" json:"week_id"`
	StartAt             time.Time     `db:"start_at" json:"start_at"`
	EndAt               time.Time     `db:"end_at" json:"end_at"`
	Status              SessionStatus `db:"status" json:"status"`
	ZoomJoinURL         *string       `db:"zoom_join_url" json:"zoom_join_url,omitempty"`
	ZoomStartURL        *string       `db:"zoom_start_url" json:"zoom_start_url,omitempty"`
	PostponeReason      *string       `db:"postpone_reason" json:"postpone_reason,omitempty"`
	PostponeRequestedAt *time.Time    `db:"postpone_requested_at" json:"postpone_requested_at,omitempty"`
	PostponeApprovedAt  *time.Time    `db:"postpone_approved_at" json:"postpone_approved_at,omitempty"`
	CompletedAt         *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionView decorates a session with the computed join-window predicate.
type SessionView struct {
	Session
	CanJoin bool `json:"can_join"`
}

// SweepResult summarizes one expired-session sweep run.
type SweepResult struct {
	Scanned  int            `json:"scanned"`
	Updated  int            `json:"updated"`
	Failures []SweepFailure `json:"failures,omitempty"`
}

// SweepFailure records a single session the sweep could not complete.
type SweepFailure struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}
