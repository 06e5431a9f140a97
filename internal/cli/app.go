package cli

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/dmitrijs2005/gophnotes/internal/backup"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/notecrypt"
	"github.com/dmitrijs2005/gophnotes/internal/pubsub"
	"github.com/dmitrijs2005/gophnotes/internal/security"
)

// Guard is the coordinator surface the client uses.
type Guard interface {
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
	Touch(ctx context.Context)
	Events(f security.Filter) []models.SecurityEvent
	Alerts(ctx context.Context) *pubsub.Subscription[security.Alert]
}

// Accounts covers the account operations that bypass the coordinator.
type Accounts interface {
	Session() *models.Session
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	ResetPassword(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, newPassword string) error
}

type Notes interface {
	Create(ctx context.Context, n models.Note) (*models.Note, error)
	Update(ctx context.Context, n models.Note) (*models.Note, error)
	Get(ctx context.Context, id string) (*models.Note, error)
	List(ctx context.Context, f models.NoteFilter) ([]models.Note, error)
	Delete(ctx context.Context, id string) error
}

type Backups interface {
	Save(ctx context.Context, sink backup.Sink, name string) error
	Load(ctx context.Context, sink backup.Sink, name, currentUserID string, password []byte) error
}

// KeyStatus reports the state of the note encryption service.
type KeyStatus interface {
	Status() notecrypt.Status
}

// Deps bundles what App needs. Sinks maps a target name ("file", "s3") to
// a backup sink; the first configured one is the default.
type Deps struct {
	Guard       Guard
	Accounts    Accounts
	Notes       Notes
	Backups     Backups
	Keys        KeyStatus
	Sinks       map[string]backup.Sink
	DefaultSink string
	Logger      logging.Logger
}

type App struct {
	Deps
	reader  *bufio.Reader
	out     io.Writer
	closers []func() error
}

func NewApp(d Deps) *App {
	return &App{Deps: d, reader: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Run prints alerts in the background and blocks in the REPL until the
// user exits or input ends.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if alerts := a.Guard.Alerts(ctx); alerts != nil {
		go a.watchAlerts(ctx, alerts)
	}

	printlnFn("Welcome to gophnotes (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

func (a *App) isLoggedIn() bool {
	return a.Accounts.Session() != nil
}

func (a *App) touch(ctx context.Context) {
	a.Guard.Touch(ctx)
}

func (a *App) getStatus() string {
	s := a.Accounts.Session()
	if s == nil {
		return "(signed out)"
	}
	if s.Email != "" {
		return "(" + s.Email + ")"
	}
	return "(" + s.UserID + ")"
}
