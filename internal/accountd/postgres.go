package accountd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PostgresStore keeps accounts in the users and refresh_tokens tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Users() UserRepository {
	return NewPostgresUserRepository(s.db)
}

func (s *PostgresStore) RefreshTokens() RefreshTokenRepository {
	return NewPostgresRefreshTokenRepository(s.db)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(context.Context, UserRepository, RefreshTokenRepository) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, NewPostgresUserRepository(tx), NewPostgresRefreshTokenRepository(tx))
	})
}

type PostgresUserRepository struct {
	db dbx.DBTX
}

func NewPostgresUserRepository(db dbx.DBTX) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *User) error {
	query :=
		`INSERT INTO users (id, email, salt, password_hash, created_at)
         VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, user.ID, normEmail(user.Email), user.Salt, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) get(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT id, email, salt, password_hash, created_at FROM users WHERE ` + where + ` = $1`

	user := &User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Email, &user.Salt, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.get(ctx, "email", normEmail(email))
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.get(ctx, "id", id)
}

func (r *PostgresUserRepository) Update(ctx context.Context, user *User) error {
	query :=
		`UPDATE users SET email = $2, salt = $3, password_hash = $4
         WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, user.ID, normEmail(user.Email), user.Salt, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type PostgresRefreshTokenRepository struct {
	db dbx.DBTX
}

func NewPostgresRefreshTokenRepository(db dbx.DBTX) *PostgresRefreshTokenRepository {
	return &PostgresRefreshTokenRepository{db: db}
}

func (r *PostgresRefreshTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	query :=
		`INSERT INTO refresh_tokens (token, user_id, expires_at)
         VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, token.Token, token.UserID, token.ExpiresAt); err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func (r *PostgresRefreshTokenRepository) Find(ctx context.Context, token string) (*RefreshToken, error) {
	query := `SELECT token, user_id, expires_at FROM refresh_tokens WHERE token = $1`

	t := &RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, token).Scan(&t.Token, &t.UserID, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return t, nil
}

func (r *PostgresRefreshTokenRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func (r *PostgresRefreshTokenRepository) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}
