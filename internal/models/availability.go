package models

import "time"

// AvailabilityRule is a teacher's recurring weekly open-time declaration.
// Times are wall-clock "HH:MM" strings as stated by the teacher; weekday
// follows time.Weekday numbering (0 = Sunday).
type AvailabilityRule struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Weekday   int       `db:"weekday" json:"weekday"`
	StartTime string    `db:"start_time" json:"start_time"`
	EndTime   string    `db:"end_time" json:"end_time"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CandidateWindow is one bookable time range on a concrete date.
type CandidateWindow struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Taken     bool   `json:"taken"`
	// TakenWeekIndex reports which week of the same subscription already
	// holds the conflicting booking, when Taken is true.
	TakenWeekIndex *int `json:"taken_week_index,omitempty"`
}
