package models

import "time"

// Course is an immutable catalog entry for a subject offered on the platform.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	Slug      string    `db:"slug" json:"slug"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Package is an immutable catalog entry defining the shape of a learning
// cycle: how many sessions per week, how many weeks, and the credit totals
// snapshotted onto a subscription at purchase time.
type Package struct {
	ID                     string    `db:"id" json:"id"`
	Label                  string    `db:"label" json:"label"`
	SessionsPerWeek        int       `db:"sessions_per_week" json:"sessions_per_week"`
	WeeksPerCycle          int       `db:"weeks_per_cycle" json:"weeks_per_cycle"`
	SessionDurationMinutes int       `db:"session_duration_minutes" json:"session_duration_minutes"`
	PostponesPerCycle      int       `db:"postpones_per_cycle" json:"postpones_per_cycle"`
	PriceCents             int64     `db:"price_cents" json:"price_cents"`
	Currency               string    `db:"currency" json:"currency"`
	Active                 bool      `db:"active" json:"active"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
}
