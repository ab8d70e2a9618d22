package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. CONFIRMED enrollments count against class
// capacity; WAITLISTED ones do not.
const (
	EnrollmentStatusPending    EnrollmentStatus = "PENDING"
	EnrollmentStatusConfirmed  EnrollmentStatus = "CONFIRMED"
	EnrollmentStatusCancelled  EnrollmentStatus = "CANCELLED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
	EnrollmentStatusCompleted  EnrollmentStatus = "COMPLETED"
)

// Enrollment captures a student's claim on a seat in a class. At most one
// non-cancelled enrollment may exist per (class_id, student_id).
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	ClassID          string           `db:"class_id" json:"class_id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	WaitlistPosition *int             `db:"waitlist_position" json:"waitlist_position,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and class info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	ClassName   string `db:"class_name" json:"class_name"`
	TeacherID   string `db:"teacher_id" json:"teacher_id"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
