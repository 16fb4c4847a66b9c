package models

import "time"

// SubscriptionStatus represents the lifecycle of a purchased package.
type SubscriptionStatus string

const (
	SubscriptionStatusDraft           SubscriptionStatus = "DRAFT"
	SubscriptionStatusPendingPayment  SubscriptionStatus = "PENDING_PAYMENT"
	SubscriptionStatusPaymentReceived SubscriptionStatus = "PAYMENT_RECEIVED"
	SubscriptionStatusTeacherAssigned SubscriptionStatus = "TEACHER_ASSIGNED"
	SubscriptionStatusActive          SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCompleted       SubscriptionStatus = "COMPLETED"
	SubscriptionStatusCancelled       SubscriptionStatus = "CANCELLED"
)

// subscriptionTransition is a permitted edge in the subscription state machine.
type subscriptionTransition struct {
	From SubscriptionStatus
	To   SubscriptionStatus
}

var subscriptionTransitions = map[subscriptionTransition]bool{
	{SubscriptionStatusDraft, SubscriptionStatusPendingPayment}:            true,
	{SubscriptionStatusPendingPayment, SubscriptionStatusPaymentReceived}:  true,
	{SubscriptionStatusPaymentReceived, SubscriptionStatusTeacherAssigned}: true,
	{SubscriptionStatusTeacherAssigned, SubscriptionStatusActive}:          true,
	{SubscriptionStatusActive, SubscriptionStatusCompleted}:                true,
	{SubscriptionStatusDraft, SubscriptionStatusCancelled}:                 true,
	{SubscriptionStatusPendingPayment, SubscriptionStatusCancelled}:        true,
	{SubscriptionStatusPaymentReceived, SubscriptionStatusCancelled}:       true,
	{SubscriptionStatusTeacherAssigned, SubscriptionStatusCancelled}:       true,
	{SubscriptionStatusActive, SubscriptionStatusCancelled}:                true,
}

// CanTransitionSubscription reports whether the edge from -> to is permitted.
func CanTransitionSubscription(from, to SubscriptionStatus) bool {
	return subscriptionTransitions[subscriptionTransition{from, to}]
}

// IsTerminalSubscriptionStatus reports whether no further transitions exist.
func IsTerminalSubscriptionStatus(s SubscriptionStatus) bool {
	return s == SubscriptionStatusCompleted || s == SubscriptionStatusCancelled
}

// Subscription is the root aggregate tying a student, course, package and
// (once assigned) teacher to a cycle of weeks and sessions. Credit totals are
// snapshotted from the package at creation and never change afterwards; the
// remaining counters only ever decrease.
type Subscription struct {
	ID                string             `db:"id" json:"id"`
	StudentID         string             `db:"student_id" json:"student_id"`
	TeacherID         *string            `db:"teacher_id" json:"teacher_id,omitempty"`
	CourseID          string             `db:"course_id" json:"course_id"`
	PackageID         string             `db:"package_id" json:"package_id"`
	Status            SubscriptionStatus `db:"status" json:"status"`
	WeeksTotal        int                `db:"weeks_total" json:"weeks_total"`
	SessionsTotal     int                `db:"sessions_total" json:"sessions_total"`
	SessionsRemaining int                `db:"sessions_remaining" json:"sessions_remaining"`
	PostponeTotal     int                `db:"postpone_total" json:"postpone_total"`
	PostponeRemaining int                `db:"postpone_remaining" json:"postpone_remaining"`
	CycleStartAt      *time.Time         `db:"cycle_start_at" json:"cycle_start_at,omitempty"`
	CycleEndAt        *time.Time         `db:"cycle_end_at" json:"cycle_end_at,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// SubscriptionDetail joins the catalog labels used by list and detail views.
type SubscriptionDetail struct {
	Subscription
	StudentName  string  `db:"student_name" json:"student_name"`
	TeacherName  *string `db:"teacher_name" json:"teacher_name,omitempty"`
	CourseLabel  string  `db:"course_label" json:"course_label"`
	PackageLabel string  `db:"package_label" json:"package_label"`
}

// SubscriptionFilter captures filtering criteria for listing subscriptions.
type SubscriptionFilter struct {
	StudentID string
	TeacherID string
	CourseID  string
	Status    SubscriptionStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
