package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type checkoutClassStore interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type checkoutEnrollmentStore interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	ExistsActive(ctx context.Context, classID, studentID string) (bool, error)
}

type checkoutPaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
}

type checkoutWaitlistStore interface {
	Create(ctx context.Context, entry *models.WaitlistEntry) error
}

type checkoutBlockStore interface {
	Exists(ctx context.Context, teacherID, studentID string) (bool, error)
}

type checkoutCapacity interface {
	CanAccept(ctx context.Context, exec sqlx.ExtContext, classID string) (bool, error)
	NextWaitlistPosition(ctx context.Context, classID string) (int, error)
}

type checkoutGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentID string, amount int64) (*CheckoutSession, error)
}

// CheckoutResult is what the student gets back from an enroll attempt.
type CheckoutResult struct {
	Enrollment  models.Enrollment `json:"enrollment"`
	Payment     *models.Payment   `json:"payment,omitempty"`
	CheckoutURL string            `json:"checkout_url,omitempty"`
	Waitlisted  bool              `json:"waitlisted"`
	Position    int               `json:"position,omitempty"`
}

// CheckoutService is the enrollment entry point: blocked students are
// rejected, a free seat starts a gateway checkout with a PENDING pair, a full
// class puts the student on the waitlist.
type CheckoutService struct {
	classes     checkoutClassStore
	enrollments checkoutEnrollmentStore
	payments    checkoutPaymentStore
	waitlist    checkoutWaitlistStore
	blocks      checkoutBlockStore
	capacity    checkoutCapacity
	gateway     checkoutGateway
	logger      *zap.Logger
}

// NewCheckoutService constructs the service.
func NewCheckoutService(
	classes checkoutClassStore,
	enrollments checkoutEnrollmentStore,
	payments checkoutPaymentStore,
	waitlist checkoutWaitlistStore,
	blocks checkoutBlockStore,
	capacity checkoutCapacity,
	gateway checkoutGateway,
	logger *zap.Logger,
) *CheckoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutService{
		classes:     classes,
		enrollments: enrollments,
		payments:    payments,
		waitlist:    waitlist,
		blocks:      blocks,
		capacity:    capacity,
		gateway:     gateway,
		logger:      logger,
	}
}

// Enroll registers the student for the class. Money is only requested when a
// seat is available; waitlisted students pay at promotion time.
func (s *CheckoutService) Enroll(ctx context.Context, classID, studentID string) (*CheckoutResult, error) {
	class, err := s.classes.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	blocked, err := s.blocks.Exists(ctx, class.TeacherID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check block")
	}
	if blocked {
		return nil, appErrors.ErrStudentBlocked
	}

	already, err := s.enrollments.ExistsActive(ctx, classID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if already {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an active enrollment for this class")
	}

	open, err := s.capacity.CanAccept(ctx, nil, classID)
	if err != nil {
		return nil, err
	}
	if !open {
		return s.joinWaitlist(ctx, class, studentID)
	}
	return s.startCheckout(ctx, class, studentID)
}

func (s *CheckoutService) startCheckout(ctx context.Context, class *models.Class, studentID string) (*CheckoutResult, error) {
	payment := models.Payment{
		ID:     uuid.NewString(),
		Amount: class.Price,
		Status: models.PaymentStatusPending,
	}

	// Gateway first: a failed session leaves no local rows behind, so the
	// student can simply retry instead of tripping the duplicate check on a
	// dangling PENDING enrollment.
	session, err := s.gateway.CreateCheckoutSession(ctx, payment.ID, class.Price)
	if err != nil {
		return nil, err
	}
	payment.ExternalTransactionID = session.ID

	enrollment := models.Enrollment{
		ClassID:   class.ID,
		StudentID: studentID,
		Status:    models.EnrollmentStatusPending,
	}
	if err := s.enrollments.Create(ctx, &enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	payment.EnrollmentID = enrollment.ID
	if err := s.payments.Create(ctx, &payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}

	s.logger.Info("checkout started",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("class_id", class.ID),
		zap.String("student_id", studentID),
		zap.String("session_id", session.ID),
	)
	return &CheckoutResult{
		Enrollment:  enrollment,
		Payment:     &payment,
		CheckoutURL: session.CheckoutURL,
	}, nil
}

func (s *CheckoutService) joinWaitlist(ctx context.Context, class *models.Class, studentID string) (*CheckoutResult, error) {
	position, err := s.capacity.NextWaitlistPosition(ctx, class.ID)
	if err != nil {
		return nil, err
	}

	enrollment := models.Enrollment{
		ClassID:          class.ID,
		StudentID:        studentID,
		Status:           models.EnrollmentStatusWaitlisted,
		WaitlistPosition: &position,
	}
	if err := s.enrollments.Create(ctx, &enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	if err := s.waitlist.Create(ctx, &models.WaitlistEntry{
		ClassID:   class.ID,
		StudentID: studentID,
		Position:  position,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create waitlist entry")
	}

	s.logger.Info("student waitlisted",
		zap.String("class_id", class.ID),
		zap.String("student_id", studentID),
		zap.Int("position", position),
	)
	return &CheckoutResult{
		Enrollment: enrollment,
		Waitlisted: true,
		Position:   position,
	}, nil
}
