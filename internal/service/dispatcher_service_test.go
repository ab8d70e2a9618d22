package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classreg-api/internal/models"
)

type syncCall struct {
	paymentID string
	kind      string
}

type mockAccounting struct {
	calls    []syncCall
	err      error
	recordID string
}

func (m *mockAccounting) SyncPayment(ctx context.Context, payment models.Payment, kind string) (string, error) {
	m.calls = append(m.calls, syncCall{paymentID: payment.ID, kind: kind})
	if m.err != nil {
		return "", m.err
	}
	if m.recordID == "" {
		return "rec-1", nil
	}
	return m.recordID, nil
}

type syncStatusCall struct {
	paymentID string
	status    models.SyncStatus
	recordID  *string
}

type mockDispatcherPaymentStore struct {
	detail      *models.PaymentDetail
	statusCalls []syncStatusCall
}

func (m *mockDispatcherPaymentStore) FindDetailByID(ctx context.Context, id string) (*models.PaymentDetail, error) {
	if m.detail == nil {
		return nil, errors.New("payment detail not found")
	}
	copied := *m.detail
	return &copied, nil
}

func (m *mockDispatcherPaymentStore) UpdateSyncStatus(ctx context.Context, id string, status models.SyncStatus, accountingRecordID *string) error {
	m.statusCalls = append(m.statusCalls, syncStatusCall{paymentID: id, status: status, recordID: accountingRecordID})
	return nil
}

type statusUpdate struct {
	enrollmentID string
	status       models.EnrollmentStatus
	position     *int
}

type mockDispatcherEnrollmentStore struct {
	active  *models.Enrollment
	updates []statusUpdate
}

func (m *mockDispatcherEnrollmentStore) FindActiveByClassAndStudent(ctx context.Context, classID, studentID string) (*models.Enrollment, error) {
	if m.active == nil {
		return nil, errors.New("no active enrollment")
	}
	copied := *m.active
	return &copied, nil
}

func (m *mockDispatcherEnrollmentStore) UpdateStatusTx(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, waitlistPosition *int) error {
	m.updates = append(m.updates, statusUpdate{enrollmentID: id, status: status, position: waitlistPosition})
	return nil
}

type mockDispatcherWaitlistStore struct {
	created   []models.WaitlistEntry
	createErr error
	removed   bool
	err       error
}

func (m *mockDispatcherWaitlistStore) CreateTx(ctx context.Context, exec sqlx.ExtContext, entry *models.WaitlistEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, *entry)
	return nil
}

func (m *mockDispatcherWaitlistStore) Delete(ctx context.Context, id string) (bool, error) {
	return m.removed, m.err
}

type mockStudentStore struct {
	student *models.Student
}

func (m *mockStudentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if m.student == nil {
		return nil, errors.New("student not found")
	}
	copied := *m.student
	return &copied, nil
}

type mockClassStore struct {
	class *models.Class
}

func (m *mockClassStore) FindByID(ctx context.Context, id string) (*models.Class, error) {
	if m.class == nil {
		return nil, errors.New("class not found")
	}
	copied := *m.class
	return &copied, nil
}

type mockCapacityLedger struct {
	open         bool
	nextPosition int
	releaseEntry *models.WaitlistEntry
	releaseErr   error
}

func (m *mockCapacityLedger) CanAccept(ctx context.Context, exec sqlx.ExtContext, classID string) (bool, error) {
	return m.open, nil
}

func (m *mockCapacityLedger) NextWaitlistPosition(ctx context.Context, classID string) (int, error) {
	return m.nextPosition, nil
}

func (m *mockCapacityLedger) ReleaseSeat(ctx context.Context, classID string) (*models.WaitlistEntry, error) {
	if m.releaseErr != nil {
		return nil, m.releaseErr
	}
	return m.releaseEntry, nil
}

type mockNotifier struct {
	confirmations []string
	promotions    []string
	refunds       []int64
}

func (m *mockNotifier) QueueConfirmationEmail(detail models.PaymentDetail) error {
	m.confirmations = append(m.confirmations, detail.ID)
	return nil
}

func (m *mockNotifier) QueuePromotionEmail(studentEmail, studentName, className string) error {
	m.promotions = append(m.promotions, studentEmail)
	return nil
}

func (m *mockNotifier) QueueRefundEmail(detail models.PaymentDetail, amount int64) error {
	m.refunds = append(m.refunds, amount)
	return nil
}

type dispatcherFixture struct {
	service     *DispatcherService
	db          *sqlx.DB
	sqlMock     sqlmock.Sqlmock
	payments    *mockDispatcherPaymentStore
	enrollments *mockDispatcherEnrollmentStore
	waitlist    *mockDispatcherWaitlistStore
	students    *mockStudentStore
	classes     *mockClassStore
	capacity    *mockCapacityLedger
	accounting  *mockAccounting
	notifier    *mockNotifier
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	rawDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	db := sqlx.NewDb(rawDB, "sqlmock")

	f := &dispatcherFixture{
		db:      db,
		sqlMock: sqlMock,
		payments: &mockDispatcherPaymentStore{
			detail: &models.PaymentDetail{
				Payment:      models.Payment{ID: "pay-1", EnrollmentID: "enr-1", Amount: 5000, Status: models.PaymentStatusCompleted},
				StudentEmail: "student@example.com",
			},
		},
		enrollments: &mockDispatcherEnrollmentStore{},
		waitlist:    &mockDispatcherWaitlistStore{},
		students:    &mockStudentStore{student: &models.Student{ID: "stu-2", FullName: "Alex Chen", Email: "alex@example.com"}},
		classes:     &mockClassStore{class: &models.Class{ID: "class-1", Name: "Pottery 101"}},
		capacity:    &mockCapacityLedger{},
		accounting:  &mockAccounting{},
		notifier:    &mockNotifier{},
	}
	f.service = NewDispatcherService(
		db, f.payments, f.enrollments, f.waitlist, f.students, f.classes,
		f.capacity, f.accounting, f.notifier, nil, zap.NewNop(),
	)
	return f
}

func dispatchPair() (models.Payment, models.Enrollment) {
	payment := models.Payment{ID: "pay-1", EnrollmentID: "enr-1", Amount: 5000, Status: models.PaymentStatusCompleted}
	enrollment := models.Enrollment{ID: "enr-1", ClassID: "class-1", StudentID: "stu-1", Status: models.EnrollmentStatusConfirmed}
	return payment, enrollment
}

func TestDispatchSyncAccountingMarksSynced(t *testing.T) {
	f := newDispatcherFixture(t)
	payment, enrollment := dispatchPair()

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: models.IntentSyncAccounting},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IntentOutcomeSucceeded, outcomes[0].Status)
	require.Len(t, f.accounting.calls, 1)
	assert.Equal(t, AccountingSyncPayment, f.accounting.calls[0].kind)
	require.Len(t, f.payments.statusCalls, 1)
	assert.Equal(t, models.SyncStatusSynced, f.payments.statusCalls[0].status)
	require.NotNil(t, f.payments.statusCalls[0].recordID)
	assert.Equal(t, "rec-1", *f.payments.statusCalls[0].recordID)
}

func TestDispatchAccountingFailureMarksSyncFailedAndContinues(t *testing.T) {
	f := newDispatcherFixture(t)
	f.accounting.err = errors.New("accounting down")
	payment, enrollment := dispatchPair()

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: models.IntentSyncAccounting},
		{Type: models.IntentSendConfirmationEmail},
	})

	require.Len(t, outcomes, 2)
	assert.Equal(t, models.IntentOutcomeFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Detail, "accounting down")
	require.Len(t, f.payments.statusCalls, 1)
	assert.Equal(t, models.SyncStatusSyncFailed, f.payments.statusCalls[0].status)
	assert.Nil(t, f.payments.statusCalls[0].recordID)

	// The sibling intent still ran.
	assert.Equal(t, models.IntentOutcomeSucceeded, outcomes[1].Status)
	assert.Equal(t, []string{"pay-1"}, f.notifier.confirmations)
}

func TestDispatchReleaseSeatPromotesWaitlistedStudent(t *testing.T) {
	f := newDispatcherFixture(t)
	f.capacity.releaseEntry = &models.WaitlistEntry{ID: "wl-1", ClassID: "class-1", StudentID: "stu-2", Position: 3}
	f.waitlist.removed = true
	f.enrollments.active = &models.Enrollment{ID: "enr-2", ClassID: "class-1", StudentID: "stu-2", Status: models.EnrollmentStatusWaitlisted}
	payment, enrollment := dispatchPair()

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: models.IntentReleaseSeat, ClassID: "class-1"},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IntentOutcomeSucceeded, outcomes[0].Status)
	require.Len(t, f.enrollments.updates, 1)
	assert.Equal(t, "enr-2", f.enrollments.updates[0].enrollmentID)
	assert.Equal(t, models.EnrollmentStatusPending, f.enrollments.updates[0].status)
	assert.Equal(t, []string{"alex@example.com"}, f.notifier.promotions)
}

func TestDispatchReleaseSeatSkipsWhenWaitlistEmpty(t *testing.T) {
	f := newDispatcherFixture(t)
	f.capacity.releaseEntry = nil
	payment, enrollment := dispatchPair()

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: models.IntentReleaseSeat, ClassID: "class-1"},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IntentOutcomeSkipped, outcomes[0].Status)
	assert.Empty(t, f.enrollments.updates)
}

func TestDispatchReleaseSeatSkipsWhenEntryAlreadyClaimed(t *testing.T) {
	f := newDispatcherFixture(t)
	f.capacity.releaseEntry = &models.WaitlistEntry{ID: "wl-1", ClassID: "class-1", StudentID: "stu-2", Position: 3}
	f.waitlist.removed = false
	payment, enrollment := dispatchPair()

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: models.IntentReleaseSeat, ClassID: "class-1"},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IntentOutcomeSkipped, outcomes[0].Status)
	assert.Empty(t, f.enrollments.updates)
	assert.Empty(t, f.notifier.promotions)
}

func TestDispatchConfirmEnrollmentWithOpenSeat(t *testing.T) {
	f := newDispatcherFixture(t)
	f.capacity.open = true
	f.sqlMock.ExpectBegin()
	f.sqlMock.ExpectCommit()
	payment, enrollment := dispatchPair()
	enrollment.Status = models.EnrollmentStatusPending

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: models.IntentConfirmEnrollment, ClassID: "class-1"},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IntentOutcomeSucceeded, outcomes[0].Status)
	require.Len(t, f.enrollments.updates, 1)
	assert.Equal(t, models.EnrollmentStatusConfirmed, f.enrollments.updates[0].status)
	require.Len(t, f.accounting.calls, 1)
	assert.Equal(t, []string{"pay-1"}, f.notifier.confirmations)
	require.NoError(t, f.sqlMock.ExpectationsWereMet())
}

func TestDispatchConfirmEnrollmentWaitlistsWhenFull(t *testing.T) {
	f := newDispatcherFixture(t)
	f.capacity.open = false
	f.capacity.nextPosition = 4
	f.sqlMock.ExpectBegin()
	f.sqlMock.ExpectCommit()
	payment, enrollment := dispatchPair()
	enrollment.Status = models.EnrollmentStatusPending

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: models.IntentConfirmEnrollment, ClassID: "class-1"},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IntentOutcomeSkipped, outcomes[0].Status)
	require.Len(t, f.enrollments.updates, 1)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, f.enrollments.updates[0].status)
	require.NotNil(t, f.enrollments.updates[0].position)
	assert.Equal(t, 4, *f.enrollments.updates[0].position)
	require.Len(t, f.waitlist.created, 1)
	assert.Equal(t, "stu-1", f.waitlist.created[0].StudentID)
	assert.Equal(t, 4, f.waitlist.created[0].Position)
	// No confirmation side effects for a waitlisted enrollment.
	assert.Empty(t, f.accounting.calls)
	assert.Empty(t, f.notifier.confirmations)
	require.NoError(t, f.sqlMock.ExpectationsWereMet())
}

func TestDispatchConfirmEnrollmentWaitlistEntryFailureRollsBack(t *testing.T) {
	f := newDispatcherFixture(t)
	f.capacity.open = false
	f.capacity.nextPosition = 4
	f.waitlist.createErr = errors.New("duplicate waitlist entry")
	f.sqlMock.ExpectBegin()
	f.sqlMock.ExpectRollback()
	payment, enrollment := dispatchPair()
	enrollment.Status = models.EnrollmentStatusPending

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: models.IntentConfirmEnrollment, ClassID: "class-1"},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IntentOutcomeFailed, outcomes[0].Status)
	assert.Empty(t, f.waitlist.created)
	// The status write and the entry commit together or not at all.
	require.NoError(t, f.sqlMock.ExpectationsWereMet())
}

func TestDispatchUnknownIntentFails(t *testing.T) {
	f := newDispatcherFixture(t)
	payment, enrollment := dispatchPair()

	outcomes := f.service.Dispatch(context.Background(), payment, enrollment, []models.Intent{
		{Type: "teleport_student"},
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, models.IntentOutcomeFailed, outcomes[0].Status)
}
