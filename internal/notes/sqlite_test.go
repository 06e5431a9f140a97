package notes

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := dbx.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func encNote(id string) *models.EncryptedNote {
	return &models.EncryptedNote{
		ID:                id,
		EncryptedContent:  "Y2lwaGVy",
		ContentHash:       "aGFzaA==",
		EncryptionVersion: 1,
		EncryptedAt:       t0,
		CreatedAt:         t0,
		UpdatedAt:         t0.Add(123 * time.Millisecond),
	}
}

func TestSQLiteRepository_SaveGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(openSQLite(t))

	want := encNote("n1")
	want.FolderID = "f1"
	want.IsStarred = true
	require.NoError(t, repo.Save(ctx, "u1", want))

	got, err := repo.Get(ctx, "u1", "n1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("note mismatch (-want +got):\n%s", diff)
	}

	_, err = repo.Get(ctx, "u2", "n1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLiteRepository_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(openSQLite(t))

	n := encNote("n1")
	require.NoError(t, repo.Save(ctx, "u1", n))
	n.EncryptedContent = "bmV3"
	n.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, repo.Save(ctx, "u1", n))

	got, err := repo.Get(ctx, "u1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "bmV3", got.EncryptedContent)
	assert.True(t, t0.Add(time.Hour).Equal(got.UpdatedAt))

	// another user cannot take over the id
	require.ErrorIs(t, repo.Save(ctx, "u2", n), common.ErrAlreadyExists)
}

func TestSQLiteRepository_ListFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(openSQLite(t))

	a := encNote("a")
	a.FolderID = "work"
	a.IsStarred = true
	b := encNote("b")
	b.FolderID = "work"
	c := encNote("c")
	for _, n := range []*models.EncryptedNote{a, b, c} {
		require.NoError(t, repo.Save(ctx, "u1", n))
	}
	require.NoError(t, repo.Save(ctx, "u2", encNote("other")))

	all, err := repo.List(ctx, "u1", models.NoteFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	work := "work"
	starred := true
	got, err := repo.List(ctx, "u1", models.NoteFilter{FolderID: &work})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = repo.List(ctx, "u1", models.NoteFilter{FolderID: &work, IsStarred: &starred})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestSQLiteRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(openSQLite(t))
	require.NoError(t, repo.Save(ctx, "u1", encNote("n1")))

	require.NoError(t, repo.Delete(ctx, "u1", "n1"))
	_, err := repo.Get(ctx, "u1", "n1")
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.ErrorIs(t, repo.Delete(ctx, "u1", "n1"), common.ErrorNotFound)

	all, err := repo.List(ctx, "u1", models.NoteFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteRepository_InTx(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := NewSQLiteRepository(tx)
		require.NoError(t, repo.Save(ctx, "u1", encNote("n1")))
		return common.ErrorNotFound
	})
	require.Error(t, err)

	_, err = NewSQLiteRepository(db).Get(ctx, "u1", "n1")
	require.ErrorIs(t, err, common.ErrorNotFound, "rolled back")
}
