package accountd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/accountd/config"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
)

// App runs the account service with the store chosen by the config.
type App struct {
	config  *config.Config
	logger  logging.Logger
	service *Service
	db      *sql.DB
}

// NewApp opens the Postgres store when a DSN is configured and keeps
// accounts in memory otherwise.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, logging.ParseLevel(c.LogLevel))

	var (
		store Store
		db    *sql.DB
	)
	if c.DatabaseDSN != "" {
		var err error
		db, err = dbx.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		store = NewPostgresStore(db)
	} else {
		logger.Warn(ctx, "no database configured, accounts are kept in memory")
		store = NewMemoryStore()
	}

	svc := NewService(store, quartz.NewReal(), logger, Options{
		SecretKey:                    []byte(c.SecretKey),
		AccessTokenValidityDuration:  c.AccessTokenValidityDuration,
		RefreshTokenValidityDuration: c.RefreshTokenValidityDuration,
		OAuthBaseURL:                 c.OAuthBaseURL,
		Providers:                    c.OAuthProviders,
	})

	return &App{config: c, logger: logger, service: svc, db: db}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.service)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until SIGINT/SIGTERM or ctx cancellation.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting account service...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close", "error", err)
		}
	}
}
