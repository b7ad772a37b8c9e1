package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hostel-api/internal/models"
)

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "hostel_id", "roll_number", "room_number", "guardian_name", "guardian_phone", "active", "created_at", "updated_at", "full_name", "email", "phone"}).
		AddRow("s1", "u1", "h1", "R-001", "101", "Parent", "+15550001", true, now, now, "Asha Rao", "asha@example.com", nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND s.hostel_id = $1 ORDER BY s.roll_number ASC LIMIT 20 OFFSET 0")).
		WithArgs("h1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students s JOIN users u ON u.id = s.user_id WHERE 1=1 AND s.hostel_id = $1")).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{HostelID: "h1", SortBy: "roll_number", SortOrder: "ASC"})
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "Asha Rao", students[0].FullName)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{UserID: "u1", HostelID: "h1", RollNumber: "R-002", Active: true}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.NotEmpty(t, student.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryRollNumberFree(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM students WHERE roll_number = $1 AND id <> $2 LIMIT 1")).
		WithArgs("R-001", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.ExistsByRollNumber(context.Background(), "R-001", "s1")
	require.NoError(t, err)
	assert.False(t, exists)
}
