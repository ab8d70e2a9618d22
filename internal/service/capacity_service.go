package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type capacityClassReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type capacityEnrollmentCounter interface {
	CountConfirmedByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error)
}

type capacityWaitlistReader interface {
	MaxPosition(ctx context.Context, classID string) (int, error)
	ListByClassOrdered(ctx context.Context, classID string) ([]models.WaitlistEntry, error)
}

type capacityBlockReader interface {
	BlockedStudentIDs(ctx context.Context, teacherID string) (map[string]bool, error)
}

// CapacityService is the capacity ledger: seat counts are always recomputed
// from confirmed enrollments, never read from a stored counter, so
// concurrent confirm/cancel operations on a class cannot lose updates.
type CapacityService struct {
	classes     capacityClassReader
	enrollments capacityEnrollmentCounter
	waitlist    capacityWaitlistReader
	blocks      capacityBlockReader
	logger      *zap.Logger
}

// NewCapacityService constructs CapacityService.
func NewCapacityService(classes capacityClassReader, enrollments capacityEnrollmentCounter, waitlist capacityWaitlistReader, blocks capacityBlockReader, logger *zap.Logger) *CapacityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapacityService{classes: classes, enrollments: enrollments, waitlist: waitlist, blocks: blocks, logger: logger}
}

// CanAccept reports whether the class has an open seat. Callers gating a
// confirmation must pass their transaction as exec so the count is taken in
// the same transactional view as the mutation it gates.
func (s *CapacityService) CanAccept(ctx context.Context, exec sqlx.ExtContext, classID string) (bool, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	confirmed, err := s.enrollments.CountConfirmedByClass(ctx, exec, classID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count confirmed enrollments")
	}
	return confirmed < class.Capacity, nil
}

// NextWaitlistPosition returns max existing position + 1, or 1 when the
// waitlist is empty. Positions are ordering tokens and are never reused.
func (s *CapacityService) NextWaitlistPosition(ctx context.Context, classID string) (int, error) {
	max, err := s.waitlist.MaxPosition(ctx, classID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waitlist position")
	}
	return max + 1, nil
}

// ReleaseSeat selects the promotion candidate for a freed seat: the
// lowest-position waitlist entry whose student is not blocked by the class's
// teacher. Blocked entries are skipped but stay on the waitlist; they become
// eligible again once unblocked. Returns nil when no eligible entry exists,
// in which case the seat simply stays open.
func (s *CapacityService) ReleaseSeat(ctx context.Context, classID string) (*models.WaitlistEntry, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	entries, err := s.waitlist.ListByClassOrdered(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	blocked, err := s.blocks.BlockedStudentIDs(ctx, class.TeacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load blocks")
	}
	for i := range entries {
		if blocked[entries[i].StudentID] {
			s.logger.Debug("skipping blocked waitlist entry",
				zap.String("class_id", classID),
				zap.String("student_id", entries[i].StudentID),
			)
			continue
		}
		return &entries[i], nil
	}
	return nil, nil
}
