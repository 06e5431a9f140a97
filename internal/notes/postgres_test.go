package notes

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

var noteColumns = []string{"id", "encrypted_content", "content_hash", "encryption_version", "encrypted_at",
	"folder_id", "is_starred", "is_shared", "created_at", "updated_at"}

func TestPostgresRepository_Save(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRepository(db)
	n := encNote("n1")

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+notes.*ON\s+CONFLICT\s+\(id\)\s+DO\s+UPDATE`).
		WithArgs("n1", "u1", n.EncryptedContent, n.ContentHash, 1, t0, nil, false, false, t0, n.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), "u1", n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_SaveForeignID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRepository(db)

	mock.ExpectExec(`INSERT\s+INTO\s+notes`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.ErrorIs(t, repo.Save(context.Background(), "u2", encNote("n1")), common.ErrAlreadyExists)
}

func TestPostgresRepository_Get(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRepository(db)

	rows := sqlmock.NewRows(noteColumns).
		AddRow("n1", "Y2lwaGVy", "aGFzaA==", 1, t0, "f1", true, false, t0, t0)
	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+notes\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+id\s*=\s*\$2\s+AND\s+NOT\s+deleted$`).
		WithArgs("u1", "n1").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "u1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.FolderID)
	assert.True(t, got.IsStarred)
	assert.Equal(t, time.UTC, got.UpdatedAt.Location())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRepository(db)

	mock.ExpectQuery(`SELECT`).WithArgs("u1", "nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "u1", "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPostgresRepository_ListFilter(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRepository(db)

	folder := "work"
	shared := true
	rows := sqlmock.NewRows(noteColumns).
		AddRow("a", "x", "h", 1, t0, "work", false, true, t0, t0).
		AddRow("b", "y", "h", 1, t0, "work", false, true, t0, t0)
	mock.ExpectQuery(`(?s)WHERE\s+user_id\s*=\s*\$1\s+AND\s+NOT\s+deleted\s+AND\s+folder_id\s*=\s*\$2\s+AND\s+is_shared\s*=\s*\$3\s+ORDER\s+BY\s+updated_at\s+DESC`).
		WithArgs("u1", "work", true).
		WillReturnRows(rows)

	got, err := repo.List(context.Background(), "u1", models.NoteFilter{FolderID: &folder, IsShared: &shared})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Delete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRepository(db)

	mock.ExpectExec(`UPDATE\s+notes\s+SET\s+deleted\s*=\s*TRUE`).
		WithArgs("u1", "n1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+notes`).
		WithArgs("u1", "n1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "u1", "n1"))
	require.ErrorIs(t, repo.Delete(context.Background(), "u1", "n1"), common.ErrorNotFound)
}
