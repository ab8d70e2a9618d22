package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
)

type dispatcherPaymentStore interface {
	FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error)
	UpdateSyncStatus(ctx context.Context, id string, status models.SyncStatus, accountingRecordID *string) error
}

type dispatcherEnrollmentStore interface {
	FindActiveByClassAndStudent(ctx context.Context, classID, studentID string) (*models.Enrollment, error)
	UpdateStatusTx(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, waitlistPosition *int) error
}

type dispatcherWaitlistStore interface {
	CreateTx(ctx context.Context, exec sqlx.ExtContext, entry *models.WaitlistEntry) error
	Delete(ctx context.Context, id string) (bool, error)
}

type dispatcherStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type dispatcherClassStore interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type capacityLedger interface {
	CanAccept(ctx context.Context, exec sqlx.ExtContext, classID string) (bool, error)
	NextWaitlistPosition(ctx context.Context, classID string) (int, error)
	ReleaseSeat(ctx context.Context, classID string) (*models.WaitlistEntry, error)
}

type accountingSyncer interface {
	SyncPayment(ctx context.Context, payment models.Payment, kind string) (string, error)
}

type enrollmentNotifier interface {
	QueueConfirmationEmail(detail models.PaymentDetail) error
	QueuePromotionEmail(studentEmail, studentName, className string) error
	QueueRefundEmail(detail models.PaymentDetail, amount int64) error
}

// DispatcherService executes the side-effect intents produced by the
// transition engine. Each intent runs in isolation: a failure is logged and
// recorded in its outcome but never propagates to sibling intents and never
// unwinds the already-committed state transition.
type DispatcherService struct {
	db          *sqlx.DB
	payments    dispatcherPaymentStore
	enrollments dispatcherEnrollmentStore
	waitlist    dispatcherWaitlistStore
	students    dispatcherStudentStore
	classes     dispatcherClassStore
	capacity    capacityLedger
	accounting  accountingSyncer
	notifier    enrollmentNotifier
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewDispatcherService constructs the dispatcher.
func NewDispatcherService(
	db *sqlx.DB,
	payments dispatcherPaymentStore,
	enrollments dispatcherEnrollmentStore,
	waitlist dispatcherWaitlistStore,
	students dispatcherStudentStore,
	classes dispatcherClassStore,
	capacity capacityLedger,
	accounting accountingSyncer,
	notifier enrollmentNotifier,
	metrics *MetricsService,
	logger *zap.Logger,
) *DispatcherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatcherService{
		db:          db,
		payments:    payments,
		enrollments: enrollments,
		waitlist:    waitlist,
		students:    students,
		classes:     classes,
		capacity:    capacity,
		accounting:  accounting,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

// Dispatch runs every intent and returns per-intent outcomes. The payment and
// enrollment arguments carry the post-transition state.
func (s *DispatcherService) Dispatch(ctx context.Context, payment models.Payment, enrollment models.Enrollment, intents []models.Intent) []models.IntentOutcome {
	outcomes := make([]models.IntentOutcome, 0, len(intents))
	for _, intent := range intents {
		outcome := s.execute(ctx, payment, enrollment, intent)
		if outcome.Status == models.IntentOutcomeFailed {
			s.logger.Error("intent failed",
				zap.String("intent", string(intent.Type)),
				zap.String("payment_id", payment.ID),
				zap.String("detail", outcome.Detail),
			)
		}
		s.metrics.RecordIntent(string(intent.Type), outcome.Status)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (s *DispatcherService) execute(ctx context.Context, payment models.Payment, enrollment models.Enrollment, intent models.Intent) models.IntentOutcome {
	outcome := models.IntentOutcome{Intent: intent, Status: models.IntentOutcomeSucceeded}

	var err error
	switch intent.Type {
	case models.IntentSyncAccounting:
		err = s.syncAccounting(ctx, payment, AccountingSyncPayment)
	case models.IntentSyncRefund:
		err = s.syncAccounting(ctx, payment, AccountingSyncRefund)
	case models.IntentSyncPartialRefund:
		err = s.syncAccounting(ctx, payment, AccountingSyncPartialRefund)
	case models.IntentSendConfirmationEmail:
		err = s.sendConfirmationEmail(ctx, payment.ID)
	case models.IntentReleaseSeat:
		return s.releaseSeat(ctx, intent)
	case models.IntentConfirmEnrollment:
		return s.confirmEnrollment(ctx, payment, enrollment, intent)
	default:
		err = fmt.Errorf("unknown intent type %q", intent.Type)
	}

	if err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = err.Error()
	}
	return outcome
}

// syncAccounting pushes the payment to accounting and records the result on
// the payment row. A failed sync marks SYNC_FAILED so the resync endpoint can
// pick it up later; the payment state itself is untouched.
func (s *DispatcherService) syncAccounting(ctx context.Context, payment models.Payment, kind string) error {
	recordID, err := s.accounting.SyncPayment(ctx, payment, kind)
	if err != nil {
		if updateErr := s.payments.UpdateSyncStatus(ctx, payment.ID, models.SyncStatusSyncFailed, nil); updateErr != nil {
			s.logger.Error("failed to mark payment sync_failed", zap.String("payment_id", payment.ID), zap.Error(updateErr))
		}
		return fmt.Errorf("accounting sync (%s): %w", kind, err)
	}
	if err := s.payments.UpdateSyncStatus(ctx, payment.ID, models.SyncStatusSynced, &recordID); err != nil {
		return fmt.Errorf("mark payment synced: %w", err)
	}
	return nil
}

func (s *DispatcherService) sendConfirmationEmail(ctx context.Context, paymentID string) error {
	detail, err := s.payments.FindDetailByID(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load payment detail: %w", err)
	}
	return s.notifier.QueueConfirmationEmail(*detail)
}

// releaseSeat promotes the next eligible waitlisted student into the freed
// seat. The waitlist entry delete is the exactly-once gate: when two releases
// race for the same entry, only the one whose delete removed a row proceeds,
// the other skips, so a single cancellation never promotes two students.
func (s *DispatcherService) releaseSeat(ctx context.Context, intent models.Intent) models.IntentOutcome {
	outcome := models.IntentOutcome{Intent: intent, Status: models.IntentOutcomeSucceeded}

	entry, err := s.capacity.ReleaseSeat(ctx, intent.ClassID)
	if err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = err.Error()
		return outcome
	}
	if entry == nil {
		outcome.Status = models.IntentOutcomeSkipped
		outcome.Detail = "no eligible waitlist entry, seat stays open"
		return outcome
	}

	removed, err := s.waitlist.Delete(ctx, entry.ID)
	if err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = err.Error()
		return outcome
	}
	if !removed {
		outcome.Status = models.IntentOutcomeSkipped
		outcome.Detail = "waitlist entry already claimed by a concurrent release"
		return outcome
	}

	waiting, err := s.enrollments.FindActiveByClassAndStudent(ctx, entry.ClassID, entry.StudentID)
	if err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = fmt.Sprintf("load waitlisted enrollment: %v", err)
		return outcome
	}
	if err := s.enrollments.UpdateStatusTx(ctx, nil, waiting.ID, models.EnrollmentStatusPending, nil); err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = err.Error()
		return outcome
	}

	s.queuePromotionEmail(ctx, entry)
	outcome.Detail = fmt.Sprintf("promoted student %s from position %d", entry.StudentID, entry.Position)
	return outcome
}

func (s *DispatcherService) queuePromotionEmail(ctx context.Context, entry *models.WaitlistEntry) {
	student, err := s.students.FindByID(ctx, entry.StudentID)
	if err != nil {
		s.logger.Warn("failed to load promoted student for email", zap.String("student_id", entry.StudentID), zap.Error(err))
		return
	}
	class, err := s.classes.FindByID(ctx, entry.ClassID)
	if err != nil {
		s.logger.Warn("failed to load class for promotion email", zap.String("class_id", entry.ClassID), zap.Error(err))
		return
	}
	if err := s.notifier.QueuePromotionEmail(student.Email, student.FullName, class.Name); err != nil {
		s.logger.Warn("failed to queue promotion email", zap.String("student_id", entry.StudentID), zap.Error(err))
	}
}

// confirmEnrollment handles a manually completed payment. The seat check and
// the status write share one transaction so a concurrent confirmation cannot
// oversell the class; when the class is full the enrollment is waitlisted
// instead of confirmed.
func (s *DispatcherService) confirmEnrollment(ctx context.Context, payment models.Payment, enrollment models.Enrollment, intent models.Intent) models.IntentOutcome {
	outcome := models.IntentOutcome{Intent: intent, Status: models.IntentOutcomeSucceeded}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = err.Error()
		return outcome
	}
	defer tx.Rollback()

	open, err := s.capacity.CanAccept(ctx, tx, intent.ClassID)
	if err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = err.Error()
		return outcome
	}

	if !open {
		position, err := s.capacity.NextWaitlistPosition(ctx, intent.ClassID)
		if err != nil {
			outcome.Status = models.IntentOutcomeFailed
			outcome.Detail = err.Error()
			return outcome
		}
		if err := s.enrollments.UpdateStatusTx(ctx, tx, enrollment.ID, models.EnrollmentStatusWaitlisted, &position); err != nil {
			outcome.Status = models.IntentOutcomeFailed
			outcome.Detail = err.Error()
			return outcome
		}
		// Same transaction as the status write: a WAITLISTED enrollment
		// without its entry would be invisible to seat release forever.
		if err := s.waitlist.CreateTx(ctx, tx, &models.WaitlistEntry{
			ClassID:   intent.ClassID,
			StudentID: enrollment.StudentID,
			Position:  position,
		}); err != nil {
			outcome.Status = models.IntentOutcomeFailed
			outcome.Detail = err.Error()
			return outcome
		}
		if err := tx.Commit(); err != nil {
			outcome.Status = models.IntentOutcomeFailed
			outcome.Detail = err.Error()
			return outcome
		}
		outcome.Status = models.IntentOutcomeSkipped
		outcome.Detail = fmt.Sprintf("class full, enrollment waitlisted at position %d", position)
		return outcome
	}

	if err := s.enrollments.UpdateStatusTx(ctx, tx, enrollment.ID, models.EnrollmentStatusConfirmed, nil); err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = err.Error()
		return outcome
	}
	if err := tx.Commit(); err != nil {
		outcome.Status = models.IntentOutcomeFailed
		outcome.Detail = err.Error()
		return outcome
	}

	// The seat is secured, so the payment flows downstream the same way a
	// webhook-confirmed one does.
	if err := s.syncAccounting(ctx, payment, AccountingSyncPayment); err != nil {
		s.logger.Error("accounting sync after manual confirmation failed", zap.String("payment_id", payment.ID), zap.Error(err))
	}
	if err := s.sendConfirmationEmail(ctx, payment.ID); err != nil {
		s.logger.Warn("confirmation email after manual confirmation failed", zap.String("payment_id", payment.ID), zap.Error(err))
	}
	return outcome
}
