// Package notes stores encrypted note records and offers the plaintext
// note workflow on top of the guarded encryption path. Only the indexing
// fields of a note are ever visible to the database.
package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// Repository persists EncryptedNote rows per user.
type Repository interface {
	// Save inserts or replaces the note.
	Save(ctx context.Context, userID string, n *models.EncryptedNote) error
	Get(ctx context.Context, userID, id string) (*models.EncryptedNote, error)
	List(ctx context.Context, userID string, f models.NoteFilter) ([]models.EncryptedNote, error)
	Delete(ctx context.Context, userID, id string) error
}

// filterClause renders f as extra AND conditions. ph returns the
// placeholder for the n-th argument (1-based).
func filterClause(f models.NoteFilter, first int, ph func(int) string) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, " AND %s = %s", col, ph(first+len(args)-1))
	}
	if f.FolderID != nil {
		add("folder_id", *f.FolderID)
	}
	if f.IsStarred != nil {
		add("is_starred", *f.IsStarred)
	}
	if f.IsShared != nil {
		add("is_shared", *f.IsShared)
	}
	return sb.String(), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
