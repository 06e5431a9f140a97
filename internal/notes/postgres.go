package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// PostgresRepository keeps notes in a shared Postgres database, the way a
// hosted backend stores them.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func (r *PostgresRepository) Save(ctx context.Context, userID string, n *models.EncryptedNote) error {
	query := `INSERT INTO notes (id, user_id, encrypted_content, content_hash, encryption_version,
			encrypted_at, folder_id, is_starred, is_shared, created_at, updated_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE)
		ON CONFLICT (id) DO UPDATE SET
			encrypted_content = EXCLUDED.encrypted_content,
			content_hash = EXCLUDED.content_hash,
			encryption_version = EXCLUDED.encryption_version,
			encrypted_at = EXCLUDED.encrypted_at,
			folder_id = EXCLUDED.folder_id,
			is_starred = EXCLUDED.is_starred,
			is_shared = EXCLUDED.is_shared,
			updated_at = EXCLUDED.updated_at,
			deleted = FALSE
		WHERE notes.user_id = EXCLUDED.user_id`

	res, err := r.db.ExecContext(ctx, query,
		n.ID, userID, n.EncryptedContent, n.ContentHash, n.EncryptionVersion,
		n.EncryptedAt.UTC(), nullable(n.FolderID), n.IsStarred, n.IsShared,
		n.CreatedAt.UTC(), n.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return common.ErrAlreadyExists
	}
	return nil
}

const pgColumns = `id, encrypted_content, content_hash, encryption_version, encrypted_at,
	folder_id, is_starred, is_shared, created_at, updated_at`

func scanPostgres(row interface{ Scan(...any) error }) (*models.EncryptedNote, error) {
	var (
		n      models.EncryptedNote
		folder sql.NullString
	)
	if err := row.Scan(&n.ID, &n.EncryptedContent, &n.ContentHash, &n.EncryptionVersion, &n.EncryptedAt,
		&folder, &n.IsStarred, &n.IsShared, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.FolderID = folder.String
	n.EncryptedAt = n.EncryptedAt.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return &n, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID, id string) (*models.EncryptedNote, error) {
	query := `SELECT ` + pgColumns + ` FROM notes WHERE user_id = $1 AND id = $2 AND NOT deleted`
	n, err := scanPostgres(r.db.QueryRowContext(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string, f models.NoteFilter) ([]models.EncryptedNote, error) {
	where, args := filterClause(f, 2, pgPlaceholder)
	query := `SELECT ` + pgColumns + ` FROM notes WHERE user_id = $1 AND NOT deleted` + where + ` ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := []models.EncryptedNote{}
	for rows.Next() {
		n, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, id string) error {
	query := `UPDATE notes SET deleted = TRUE WHERE user_id = $1 AND id = $2 AND NOT deleted`
	res, err := r.db.ExecContext(ctx, query, userID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}
	return nil
}
