package models

import "time"

// ClassBlock is a standing denial rule: while active, the student may not
// enroll or be promoted into any of the teacher's classes.
type ClassBlock struct {
	ID        string    `db:"id" json:"id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Reason    *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
