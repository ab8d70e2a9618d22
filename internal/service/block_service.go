package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type blockStore interface {
	Create(ctx context.Context, block *models.ClassBlock) error
	Exists(ctx context.Context, teacherID, studentID string) (bool, error)
	Delete(ctx context.Context, teacherID, studentID string) error
}

type blockEnrollmentStore interface {
	ListActiveByStudentAndTeacher(ctx context.Context, studentID, teacherID string) ([]models.Enrollment, error)
}

type blockWaitlistStore interface {
	DeleteByClassAndStudent(ctx context.Context, classID, studentID string) error
}

type blockOverrider interface {
	SetStatus(ctx context.Context, paymentID string, target models.PaymentStatus) (*OverrideResult, error)
}

type blockPaymentLister interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentDetail, int, error)
}

type blockEnrollmentUpdater interface {
	UpdateStatusTx(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, waitlistPosition *int) error
}

// BlockResult summarises a block's cascade over the student's enrollments.
type BlockResult struct {
	Block      models.ClassBlock `json:"block"`
	Cancelled  []string          `json:"cancelled_enrollment_ids"`
	Refunded   []string          `json:"refunded_payment_ids"`
	Dewaitlist []string          `json:"removed_waitlist_class_ids"`
}

// BlockService creates and removes teacher blocks. Blocking cascades: the
// student's active enrollments in the teacher's classes are cancelled, their
// completed payments refunded in full, and their waitlist entries removed.
type BlockService struct {
	blocks      blockStore
	enrollments blockEnrollmentStore
	updater     blockEnrollmentUpdater
	waitlist    blockWaitlistStore
	payments    blockPaymentLister
	overrider   blockOverrider
	logger      *zap.Logger
}

// NewBlockService constructs the service.
func NewBlockService(
	blocks blockStore,
	enrollments blockEnrollmentStore,
	updater blockEnrollmentUpdater,
	waitlist blockWaitlistStore,
	payments blockPaymentLister,
	overrider blockOverrider,
	logger *zap.Logger,
) *BlockService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockService{
		blocks:      blocks,
		enrollments: enrollments,
		updater:     updater,
		waitlist:    waitlist,
		payments:    payments,
		overrider:   overrider,
		logger:      logger,
	}
}

// Block records the block and cascades over the student's standing with the
// teacher. Each enrollment is handled independently; one failure does not
// stop the rest of the cascade.
func (s *BlockService) Block(ctx context.Context, teacherID, studentID string, reason *string) (*BlockResult, error) {
	exists, err := s.blocks.Exists(ctx, teacherID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check block")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is already blocked")
	}

	block := models.ClassBlock{TeacherID: teacherID, StudentID: studentID, Reason: reason}
	if err := s.blocks.Create(ctx, &block); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create block")
	}

	result := &BlockResult{Block: block}

	active, err := s.enrollments.ListActiveByStudentAndTeacher(ctx, studentID, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	for _, enrollment := range active {
		switch enrollment.Status {
		case models.EnrollmentStatusWaitlisted:
			if err := s.waitlist.DeleteByClassAndStudent(ctx, enrollment.ClassID, studentID); err != nil {
				s.logger.Error("failed to remove waitlist entry during block",
					zap.String("class_id", enrollment.ClassID),
					zap.String("student_id", studentID),
					zap.Error(err),
				)
			} else {
				result.Dewaitlist = append(result.Dewaitlist, enrollment.ClassID)
			}
			if err := s.updater.UpdateStatusTx(ctx, nil, enrollment.ID, models.EnrollmentStatusCancelled, nil); err != nil {
				s.logger.Error("failed to cancel waitlisted enrollment during block",
					zap.String("enrollment_id", enrollment.ID),
					zap.Error(err),
				)
				continue
			}
			result.Cancelled = append(result.Cancelled, enrollment.ID)
		case models.EnrollmentStatusConfirmed:
			s.refundEnrollment(ctx, enrollment, result)
		case models.EnrollmentStatusPending:
			s.failEnrollment(ctx, enrollment, result)
		}
	}

	s.logger.Info("student blocked",
		zap.String("teacher_id", teacherID),
		zap.String("student_id", studentID),
		zap.Int("cancelled", len(result.Cancelled)),
	)
	return result, nil
}

// Unblock removes the block. Past cancellations are not replayed; the
// student simply becomes eligible again.
func (s *BlockService) Unblock(ctx context.Context, teacherID, studentID string) error {
	exists, err := s.blocks.Exists(ctx, teacherID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check block")
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrNotFound, "block not found")
	}
	if err := s.blocks.Delete(ctx, teacherID, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete block")
	}
	return nil
}

// refundEnrollment pushes a confirmed enrollment's completed payment through
// the manual override to REFUNDED, which cancels the enrollment and releases
// the seat through the normal transition rules.
func (s *BlockService) refundEnrollment(ctx context.Context, enrollment models.Enrollment, result *BlockResult) {
	details, _, err := s.payments.List(ctx, models.PaymentFilter{
		EnrollmentID: enrollment.ID,
		Status:       models.PaymentStatusCompleted,
		PageSize:     10,
	})
	if err != nil {
		s.logger.Error("failed to list payments during block",
			zap.String("enrollment_id", enrollment.ID),
			zap.Error(err),
		)
		return
	}
	for _, detail := range details {
		if _, err := s.overrider.SetStatus(ctx, detail.ID, models.PaymentStatusRefunded); err != nil {
			s.logger.Error("failed to refund payment during block",
				zap.String("payment_id", detail.ID),
				zap.Error(err),
			)
			continue
		}
		result.Refunded = append(result.Refunded, detail.ID)
	}
	result.Cancelled = append(result.Cancelled, enrollment.ID)
}

// failEnrollment fails a pending enrollment's pending payment through the
// manual override, cancelling the enrollment.
func (s *BlockService) failEnrollment(ctx context.Context, enrollment models.Enrollment, result *BlockResult) {
	details, _, err := s.payments.List(ctx, models.PaymentFilter{
		EnrollmentID: enrollment.ID,
		Status:       models.PaymentStatusPending,
		PageSize:     10,
	})
	if err != nil {
		s.logger.Error("failed to list payments during block",
			zap.String("enrollment_id", enrollment.ID),
			zap.Error(err),
		)
		return
	}
	if len(details) == 0 {
		if err := s.updater.UpdateStatusTx(ctx, nil, enrollment.ID, models.EnrollmentStatusCancelled, nil); err != nil {
			s.logger.Error("failed to cancel pending enrollment during block",
				zap.String("enrollment_id", enrollment.ID),
				zap.Error(err),
			)
			return
		}
		result.Cancelled = append(result.Cancelled, enrollment.ID)
		return
	}
	for _, detail := range details {
		if _, err := s.overrider.SetStatus(ctx, detail.ID, models.PaymentStatusFailed); err != nil {
			s.logger.Error("failed to fail payment during block",
				zap.String("payment_id", detail.ID),
				zap.Error(err),
			)
			continue
		}
	}
	result.Cancelled = append(result.Cancelled, enrollment.ID)
}
