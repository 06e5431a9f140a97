package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// SQLiteRepository keeps notes in the local database. Timestamps are
// stored as RFC3339 text in UTC.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func sqlitePlaceholder(int) string { return "?" }

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func (r *SQLiteRepository) Save(ctx context.Context, userID string, n *models.EncryptedNote) error {
	query := `INSERT INTO notes (id, user_id, encrypted_content, content_hash, encryption_version,
			encrypted_at, folder_id, is_starred, is_shared, created_at, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			encrypted_content = excluded.encrypted_content,
			content_hash = excluded.content_hash,
			encryption_version = excluded.encryption_version,
			encrypted_at = excluded.encrypted_at,
			folder_id = excluded.folder_id,
			is_starred = excluded.is_starred,
			is_shared = excluded.is_shared,
			updated_at = excluded.updated_at,
			deleted = 0
		WHERE notes.user_id = excluded.user_id`

	res, err := r.db.ExecContext(ctx, query,
		n.ID, userID, n.EncryptedContent, n.ContentHash, n.EncryptionVersion,
		formatTime(n.EncryptedAt), nullable(n.FolderID), n.IsStarred, n.IsShared,
		formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		// id taken by another user
		return common.ErrAlreadyExists
	}
	return nil
}

const sqliteColumns = `id, encrypted_content, content_hash, encryption_version, encrypted_at,
	folder_id, is_starred, is_shared, created_at, updated_at`

func scanSQLite(row interface{ Scan(...any) error }) (*models.EncryptedNote, error) {
	var (
		n                                 models.EncryptedNote
		folder                            sql.NullString
		encryptedAt, createdAt, updatedAt string
		err                               error
	)
	if err = row.Scan(&n.ID, &n.EncryptedContent, &n.ContentHash, &n.EncryptionVersion, &encryptedAt,
		&folder, &n.IsStarred, &n.IsShared, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.FolderID = folder.String
	if n.EncryptedAt, err = parseTime(encryptedAt); err != nil {
		return nil, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, userID, id string) (*models.EncryptedNote, error) {
	query := `SELECT ` + sqliteColumns + ` FROM notes WHERE user_id = ? AND id = ? AND deleted = 0`
	n, err := scanSQLite(r.db.QueryRowContext(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) List(ctx context.Context, userID string, f models.NoteFilter) ([]models.EncryptedNote, error) {
	where, args := filterClause(f, 2, sqlitePlaceholder)
	query := `SELECT ` + sqliteColumns + ` FROM notes WHERE user_id = ? AND deleted = 0` + where + ` ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	result := []models.EncryptedNote{}
	for rows.Next() {
		n, err := scanSQLite(rows)
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

func (r *SQLiteRepository) Delete(ctx context.Context, userID, id string) error {
	query := `UPDATE notes SET deleted = 1 WHERE user_id = ? AND id = ? AND deleted = 0`
	res, err := r.db.ExecContext(ctx, query, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}
	return nil
}
