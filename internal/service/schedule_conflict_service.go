package service

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type conflictClassStore interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Class, error)
	Delete(ctx context.Context, id string) error
}

type conflictEnrollmentCounter interface {
	CountConfirmedByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error)
}

// ConflictPair names two overlapping offerings and which one survived.
type ConflictPair struct {
	SurvivorID string `json:"survivor_id"`
	RemovedID  string `json:"removed_id"`
}

// ConflictReport is the outcome of a dedupe pass over a teacher's schedule.
type ConflictReport struct {
	TeacherID string         `json:"teacher_id"`
	Examined  int            `json:"examined"`
	Removed   []ConflictPair `json:"removed"`
	DryRun    bool           `json:"dry_run"`
}

// ScheduleConflictService removes a teacher's overlapping class offerings.
// Two offerings conflict when they share a weekday and their time windows
// intersect. The survivor is the one with more confirmed enrollments, ties
// broken by earlier creation.
type ScheduleConflictService struct {
	classes     conflictClassStore
	enrollments conflictEnrollmentCounter
	logger      *zap.Logger
}

// NewScheduleConflictService constructs the resolver.
func NewScheduleConflictService(classes conflictClassStore, enrollments conflictEnrollmentCounter, logger *zap.Logger) *ScheduleConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleConflictService{classes: classes, enrollments: enrollments, logger: logger}
}

// Resolve runs one greedy dedupe pass over the teacher's offerings. With
// dryRun set the report lists what would be removed without touching data.
func (s *ScheduleConflictService) Resolve(ctx context.Context, teacherID string, dryRun bool) (*ConflictReport, error) {
	classes, err := s.classes.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}

	report := &ConflictReport{TeacherID: teacherID, Examined: len(classes), DryRun: dryRun}
	if len(classes) < 2 {
		return report, nil
	}

	counts := make(map[string]int, len(classes))
	for _, class := range classes {
		count, err := s.enrollments.CountConfirmedByClass(ctx, nil, class.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
		}
		counts[class.ID] = count
	}

	// Greedy: iterate by descending priority and keep each offering unless it
	// overlaps one already kept.
	ordered := make([]models.Class, len(classes))
	copy(ordered, classes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if counts[ordered[i].ID] != counts[ordered[j].ID] {
			return counts[ordered[i].ID] > counts[ordered[j].ID]
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var kept []models.Class
	for _, candidate := range ordered {
		conflict := ""
		for _, winner := range kept {
			if overlaps(candidate, winner) {
				conflict = winner.ID
				break
			}
		}
		if conflict == "" {
			kept = append(kept, candidate)
			continue
		}
		report.Removed = append(report.Removed, ConflictPair{SurvivorID: conflict, RemovedID: candidate.ID})
		if dryRun {
			continue
		}
		if err := s.classes.Delete(ctx, candidate.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
		}
		s.logger.Info("removed conflicting class offering",
			zap.String("teacher_id", teacherID),
			zap.String("removed_id", candidate.ID),
			zap.String("survivor_id", conflict),
		)
	}
	return report, nil
}

// overlaps reports whether two offerings share a weekday and their
// [start, start+duration) windows intersect.
func overlaps(a, b models.Class) bool {
	shared := false
	bDays := b.DaySet()
	for day := range a.DaySet() {
		if _, ok := bDays[day]; ok {
			shared = true
			break
		}
	}
	if !shared {
		return false
	}
	aEnd := a.StartMinute + a.DurationMinutes
	bEnd := b.StartMinute + b.DurationMinutes
	return a.StartMinute < bEnd && b.StartMinute < aEnd
}
