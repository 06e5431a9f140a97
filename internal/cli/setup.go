package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/account"
	"github.com/dmitrijs2005/gophnotes/internal/backup"
	"github.com/dmitrijs2005/gophnotes/internal/config"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/keystore"
	"github.com/dmitrijs2005/gophnotes/internal/kv"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/metrics"
	"github.com/dmitrijs2005/gophnotes/internal/notecrypt"
	"github.com/dmitrijs2005/gophnotes/internal/notes"
	"github.com/dmitrijs2005/gophnotes/internal/security"
	"github.com/dmitrijs2005/gophnotes/internal/session"
	"github.com/hashicorp/go-multierror"
)

const shutdownTimeout = 5 * time.Second

// Bootstrap wires the client from c. The local SQLite database holds the
// wrapped keys and lockout state; note rows go to Postgres when a DSN is
// configured. Security monitors are started before it returns.
func Bootstrap(ctx context.Context, c *config.Config) (app *App, err error) {
	logger := logging.NewJSON(os.Stderr, logging.ParseLevel(c.LogLevel))
	clock := quartz.NewReal()

	var closers []func() error
	defer func() {
		if err != nil {
			_ = closeAll(closers)
		}
	}()

	db, err := dbx.OpenSQLite(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	closers = append(closers, db.Close)

	durable := kv.NewSQLiteStore(db)
	ephemeral := kv.NewMemoryStore()

	accounts, err := account.NewGRPCClient(c.AccountEndpoint)
	if err != nil {
		return nil, err
	}
	closers = append(closers, accounts.Close)

	crypto := notecrypt.NewService(keystore.New(kv.Namespace(durable, "keys"), clock), clock, logger)

	policy := c.Policy()
	sessions := session.NewManager(policy.SessionConfig(), accounts, crypto, kv.Namespace(durable, "auth"), ephemeral, clock, logger)
	closers = append(closers, func() error { sessions.Close(); return nil })

	reg := metrics.NewRegistry()
	coord, err := security.NewCoordinator(policy, sessions, crypto, clock, logger, reg)
	if err != nil {
		return nil, err
	}

	repo, notesDB, err := openNotes(ctx, c, db)
	if err != nil {
		return nil, err
	}
	if notesDB != nil {
		closers = append(closers, notesDB.Close)
	}

	sinks, defaultSink, err := openSinks(ctx, c)
	if err != nil {
		return nil, err
	}

	if c.MetricsAddr != "" {
		closers = append(closers, serveMetrics(ctx, c.MetricsAddr, reg, coord, logger))
	}

	if err := coord.Start(ctx); err != nil {
		return nil, err
	}
	// stop the monitors before anything they use is closed
	closers = append(closers, coord.Close)

	app = NewApp(Deps{
		Guard:       coord,
		Accounts:    sessions,
		Notes:       notes.NewService(repo, coord, sessions, clock, logger),
		Backups:     backup.NewService(crypto, coord, clock, logger),
		Keys:        crypto,
		Sinks:       sinks,
		DefaultSink: defaultSink,
		Logger:      logger,
	})
	app.closers = closers
	return app, nil
}

func openNotes(ctx context.Context, c *config.Config, local *sql.DB) (notes.Repository, *sql.DB, error) {
	if !c.NotesOnPostgres() {
		return notes.NewSQLiteRepository(local), nil, nil
	}
	pg, err := dbx.OpenPostgres(ctx, c.NotesDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("notes db init error: %w", err)
	}
	return notes.NewPostgresRepository(pg), pg, nil
}

func openSinks(ctx context.Context, c *config.Config) (map[string]backup.Sink, string, error) {
	sinks := make(map[string]backup.Sink)

	fs, err := backup.NewFileSink("", c.BackupDir)
	if err != nil {
		return nil, "", err
	}
	sinks["file"] = fs

	if !c.S3Enabled() {
		return sinks, "file", nil
	}
	s3, err := backup.NewS3Sink(ctx, backup.S3Config{
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Prefix:    "backups/",
	})
	if err != nil {
		return nil, "", err
	}
	sinks["s3"] = s3
	return sinks, "file", nil
}

// serveMetrics exposes /metrics and /csp-report on addr and returns the
// shutdown func.
func serveMetrics(ctx context.Context, addr string, reg *metrics.Registry, coord *security.Coordinator, logger logging.Logger) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/csp-report", coord.ViolationHandler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info(ctx, "Starting metrics server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server", "error", err)
		}
	}()

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// closeAll runs closers in reverse order and collects every failure.
func closeAll(closers []func() error) error {
	var result error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// Close stops the monitors and releases every resource Bootstrap opened.
func (a *App) Close() error {
	err := closeAll(a.closers)
	a.closers = nil
	return err
}
