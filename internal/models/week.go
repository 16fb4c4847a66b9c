package models

import "time"

// WeekStatus represents the scheduling workflow of a single week.
type WeekStatus string

const (
	WeekStatusDraft     WeekStatus = "DRAFT"
	WeekStatusSubmitted WeekStatus = "SUBMITTED"
	WeekStatusApproved  WeekStatus = "APPROVED"
	WeekStatusRejected  WeekStatus = "REJECTED"
)

type weekTransition struct {
	From WeekStatus
	To   WeekStatus
}

// APPROVED and REJECTED are terminal.
var weekTransitions = map[weekTransition]bool{
	{WeekStatusDraft, WeekStatusSubmitted}:    true,
	{WeekStatusSubmitted, WeekStatusApproved}: true,
	{WeekStatusSubmitted, WeekStatusRejected}: true,
}

// CanTransitionWeek reports whether the edge from -> to is permitted.
func CanTransitionWeek(from, to WeekStatus) bool {
	return weekTransitions[weekTransition{from, to}]
}

// Week is one scheduling cycle (1..weeks_total) within a subscription. It is
// created lazily the first time the student opens that week and never deleted.
type Week struct {
	ID             string     `db:"id" json:"id"`
	SubscriptionID string     `db:"subscription_id" json:"subscription_id"`
	WeekIndex      int        `db:"week_index" json:"week_index"`
	Status         WeekStatus `db:"status" json:"status"`
	SubmittedAt    *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Slot is a proposed, not-yet-realized booking inside a week.
//
// StartAt and EndAt are stored tagged UTC but carry the teacher's stated
// wall-clock values. They are compared by literal date + hour + minute,
// never converted between zones: two slots that differ only by which
// timezone a browser renders them in are the same slot. Presentation-layer
// conversion is deliberately not this service's concern.
type Slot struct {
	ID        string    `db:"id" json:"id"`
	WeekID    string    `db:"week_id" json:"week_id"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
	Note      string    `db:"note" json:"note,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SlotDetail carries the owning week's index, used for conflict reporting.
type SlotDetail struct {
	Slot
	WeekIndex  int        `db:"week_index" json:"week_index"`
	WeekStatus WeekStatus `db:"week_status" json:"week_status"`
}

// WeekDetail bundles a week with its slots for scheduling views.
type WeekDetail struct {
	Week
	Slots []Slot `json:"slots"`
}
