package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
	appErrors "github.com/noah-isme/classreg-api/pkg/errors"
)

type enrollmentReadStore interface {
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type waitlistReadStore interface {
	ListByClassOrdered(ctx context.Context, classID string) ([]models.WaitlistEntry, error)
}

// EnrollmentService serves enrollment and waitlist reads.
type EnrollmentService struct {
	enrollments enrollmentReadStore
	waitlist    waitlistReadStore
	logger      *zap.Logger
}

// NewEnrollmentService constructs the service.
func NewEnrollmentService(enrollments enrollmentReadStore, waitlist waitlistReadStore, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{enrollments: enrollments, waitlist: waitlist, logger: logger}
}

// Get returns an enrollment with student and class context.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.enrollments.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// List returns enrollments matching the filter.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return s.enrollments.List(ctx, filter)
}

// Waitlist returns a class's waitlist in promotion order.
func (s *EnrollmentService) Waitlist(ctx context.Context, classID string) ([]models.WaitlistEntry, error) {
	entries, err := s.waitlist.ListByClassOrdered(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist")
	}
	return entries, nil
}
