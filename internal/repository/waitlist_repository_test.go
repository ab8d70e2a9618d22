package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classreg-api/internal/models"
)

func newWaitlistMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWaitlistRepositoryMaxPositionEmptyWaitlist(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(position), 0) FROM waitlist_entries WHERE class_id = $1")).
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

	max, err := repo.MaxPosition(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, 0, max)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectExec("INSERT INTO waitlist_entries").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := models.WaitlistEntry{ClassID: "class-1", StudentID: "stu-1", Position: 3}
	err := repo.Create(context.Background(), &entry)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryCreateTxUsesCallerTransaction(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO waitlist_entries").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	entry := models.WaitlistEntry{ClassID: "class-1", StudentID: "stu-1", Position: 5}
	require.NoError(t, repo.CreateTx(context.Background(), tx, &entry))
	require.NoError(t, tx.Commit())
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryListByClassOrdered(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	rows := sqlmock.NewRows([]string{"id", "class_id", "student_id", "position", "created_at"}).
		AddRow("wl-1", "class-1", "stu-1", 1, time.Now()).
		AddRow("wl-2", "class-1", "stu-2", 4, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, class_id, student_id, position, created_at FROM waitlist_entries WHERE class_id = $1 ORDER BY position ASC")).
		WithArgs("class-1").
		WillReturnRows(rows)

	entries, err := repo.ListByClassOrdered(context.Background(), "class-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryDeleteReportsRemoval(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM waitlist_entries WHERE id = $1")).
		WithArgs("wl-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	removed, err := repo.Delete(context.Background(), "wl-1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryDeleteAlreadyGone(t *testing.T) {
	db, mock, cleanup := newWaitlistMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM waitlist_entries WHERE id = $1")).
		WithArgs("wl-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.Delete(context.Background(), "wl-1")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
