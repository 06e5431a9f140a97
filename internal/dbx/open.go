package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/dmitrijs2005/gophnotes/internal/migrations"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// RunMigrations applies every pending goose migration found at the root
// of fsys using the given dialect. Re-running is a no-op.
func RunMigrations(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS) error {
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// OpenSQLite opens (creating if needed) the local SQLite database at dsn and
// applies the embedded schema.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// single writer; modernc serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	sub, err := fs.Sub(migrations.SQLite, "sqlite")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := RunMigrations(ctx, db, goose.DialectSQLite3, sub); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenPostgres connects through pgx's database/sql driver and applies the
// embedded Postgres schema.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	sub, err := fs.Sub(migrations.Postgres, "postgres")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := RunMigrations(ctx, db, goose.DialectPostgres, sub); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
