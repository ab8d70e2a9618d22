package models

import "time"

// WaitlistEntry is a queue slot for a class, uniquely keyed by
// (class_id, student_id). Positions increase monotonically at insertion and
// are never renumbered on removal: they are relative ordering tokens, not
// dense ranks.
type WaitlistEntry struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
