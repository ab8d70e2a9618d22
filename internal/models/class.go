package models

import (
	"strings"
	"time"
)

// Class represents a bookable class offering with bounded capacity. The
// confirmed-enrollment count is always recomputed from enrollments; it is
// never stored as a trusted counter.
type Class struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	TeacherID       string    `db:"teacher_id" json:"teacher_id"`
	Capacity        int       `db:"capacity" json:"capacity"`
	Price           int64     `db:"price" json:"price"`
	Days            string    `db:"days" json:"days"`
	StartMinute     int       `db:"start_minute" json:"start_minute"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DaySet expands the comma-separated day list (e.g. "MON,WED") into a set.
func (c Class) DaySet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, day := range strings.Split(c.Days, ",") {
		day = strings.ToUpper(strings.TrimSpace(day))
		if day != "" {
			set[day] = struct{}{}
		}
	}
	return set
}

// ClassAvailability is the list view of a class with live seat counts.
type ClassAvailability struct {
	Class
	ConfirmedCount int `db:"confirmed_count" json:"confirmed_count"`
	WaitlistLength int `db:"waitlist_length" json:"waitlist_length"`
}

// SeatsLeft returns the number of open seats, never negative.
func (a ClassAvailability) SeatsLeft() int {
	left := a.Capacity - a.ConfirmedCount
	if left < 0 {
		return 0
	}
	return left
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	TeacherID string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
