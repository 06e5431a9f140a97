package accountd

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestPostgresUsers_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresUserRepository(db)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users\s*\(id,\s*email,\s*salt,\s*password_hash,\s*created_at\)`).
		WithArgs("u1", "a@b.c", []byte("salt"), []byte("hash"), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &User{ID: "u1", Email: "A@b.c", Salt: []byte("salt"), PasswordHash: []byte("hash"), CreatedAt: created})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUsers_CreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresUserRepository(db)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	err := repo.Create(context.Background(), &User{ID: "u1", Email: "a@b.c"})
	require.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestPostgresUsers_GetByEmail(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresUserRepository(db)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "email", "salt", "password_hash", "created_at"}).
		AddRow("u1", "a@b.c", []byte("s"), []byte("h"), created)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*email,\s*salt,\s*password_hash,\s*created_at\s+FROM\s+users\s+WHERE\s+email\s*=\s*\$1$`).
		WithArgs("a@b.c").
		WillReturnRows(rows)

	u, err := repo.GetByEmail(context.Background(), " A@B.C ")
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.Equal(t, []byte("h"), u.PasswordHash)
}

func TestPostgresUsers_GetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresUserRepository(db)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPostgresUsers_UpdateMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresUserRepository(db)

	mock.ExpectExec(`UPDATE\s+users\s+SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &User{ID: "u1", Email: "a@b.c"})
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestPostgresRefreshTokens_FindAndDelete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPostgresRefreshTokenRepository(db)

	exp := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT\s+token,\s*user_id,\s*expires_at\s+FROM\s+refresh_tokens`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"token", "user_id", "expires_at"}).AddRow("t1", "u1", exp))
	mock.ExpectExec(`DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+token`).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+user_id`).
		WithArgs("u1").
		WillReturnError(errors.New("db down"))

	tok, err := repo.Find(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "u1", tok.UserID)
	require.NoError(t, repo.Delete(context.Background(), "t1"))
	require.ErrorContains(t, repo.DeleteForUser(context.Background(), "u1"), "db down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTxRollsBack(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(ctx context.Context, _ UserRepository, tokens RefreshTokenRepository) error {
		if err := tokens.Create(ctx, &RefreshToken{Token: "t", UserID: "u", ExpiresAt: time.Now()}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}
