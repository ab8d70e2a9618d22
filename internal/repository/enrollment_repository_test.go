package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classreg-api/internal/models"
)

func newEnrollmentMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryCreateDefaultsToPending(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := models.Enrollment{ClassID: "class-1", StudentID: "stu-1"}
	err := repo.Create(context.Background(), &enrollment)
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsActiveIgnoresCancelled(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE class_id = $1 AND student_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("class-1", "stu-1", models.EnrollmentStatusCancelled).
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsActive(context.Background(), "class-1", "stu-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountConfirmedByClassWithTransaction(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2")).
		WithArgs("class-1", models.EnrollmentStatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	count, err := repo.CountConfirmedByClass(context.Background(), tx, "class-1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountConfirmedByClassWithoutTransaction(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE class_id = $1 AND status = $2")).
		WithArgs("class-1", models.EnrollmentStatusConfirmed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	count, err := repo.CountConfirmedByClass(context.Background(), nil, "class-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEnrollmentRepositoryUpdateStatusTxSetsWaitlistPosition(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	position := 4
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, waitlist_position = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("enr-1", models.EnrollmentStatusWaitlisted, &position, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatusTx(context.Background(), tx, "enr-1", models.EnrollmentStatusWaitlisted, &position))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListActiveByStudentAndTeacher(t *testing.T) {
	db, mock, cleanup := newEnrollmentMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "class_id", "student_id", "status", "waitlist_position", "created_at", "updated_at"}).
		AddRow("enr-1", "class-1", "stu-1", "CONFIRMED", nil, time.Now(), time.Now()).
		AddRow("enr-2", "class-2", "stu-1", "WAITLISTED", 3, time.Now(), time.Now())
	mock.ExpectQuery("SELECT e.id, e.class_id, .* FROM enrollments e").
		WithArgs("stu-1", "tch-1", models.EnrollmentStatusCancelled).
		WillReturnRows(rows)

	enrollments, err := repo.ListActiveByStudentAndTeacher(context.Background(), "stu-1", "tch-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	assert.Equal(t, models.EnrollmentStatusConfirmed, enrollments[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
