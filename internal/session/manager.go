// Package session manages the authentication lifecycle against the remote
// account service: sign-up, sign-in and sign-out, the password policy,
// sliding-window lockout and proactive token refresh. A successful sign-in
// initializes note encryption; sign-out wipes it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/account"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/kv"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/pubsub"
	"golang.org/x/sync/singleflight"
)

const (
	sessionKey      = "session"
	lastActivityKey = "last_activity"
	lastAuthKey     = "last_auth"
)

// encryptionSalt is mixed into the deterministic encryption password.
// Anyone who knows a user's email and id can rebuild that user's key;
// notes are therefore not hidden from the account service operator.
const encryptionSalt = "gophnotes-note-encryption-v1"

// EncryptionPassword derives the password note keys are wrapped under.
func EncryptionPassword(email, userID string) []byte {
	return []byte(strings.ToLower(email) + userID + encryptionSalt)
}

// KeyService is the part of the note encryption service the session
// drives.
type KeyService interface {
	Initialize(ctx context.Context, password []byte, userID string) (bool, error)
	Cleanup(ctx context.Context)
}

type Config struct {
	Password         PasswordRules
	Lockout          LockoutRules
	RefreshThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		Password:         DefaultPasswordRules(),
		Lockout:          DefaultLockoutRules(),
		RefreshThreshold: 5 * time.Minute,
	}
}

type Manager struct {
	accounts  account.Service
	keys      KeyService
	durable   kv.Store
	ephemeral kv.Store
	clock     quartz.Clock
	logger    logging.Logger
	broker    *pubsub.Broker[Event]

	password         PasswordRules
	lockout          LockoutRules
	refreshThreshold time.Duration

	refreshGroup singleflight.Group

	recMu    sync.RWMutex
	recorder Recorder

	mu      sync.RWMutex
	state   State
	session *models.Session
}

// NewManager wires a Manager. durable keeps lockout state across restarts;
// ephemeral keeps the session and activity markers.
func NewManager(cfg Config, accounts account.Service, keys KeyService, durable, ephemeral kv.Store, clock quartz.Clock, logger logging.Logger) *Manager {
	return &Manager{
		accounts:         accounts,
		keys:             keys,
		durable:          durable,
		ephemeral:        ephemeral,
		clock:            clock,
		logger:           logger.With("module", "session"),
		broker:           pubsub.New[Event](),
		password:         cfg.Password,
		lockout:          cfg.Lockout,
		refreshThreshold: cfg.RefreshThreshold,
		state:            StateSignedOut,
	}
}

// ValidatePassword checks password against the configured policy.
func (m *Manager) ValidatePassword(password string) error {
	return m.password.ValidatePassword(password)
}

// Subscribe returns a listener for auth-state changes. Cancel ctx or call
// Unsubscribe to stop listening.
func (m *Manager) Subscribe(ctx context.Context) *pubsub.Subscription[Event] {
	return m.broker.Subscribe(ctx, Topic)
}

// OnEvent registers the recorder for auth-state changes. Unlike Subscribe
// nothing is dropped: publish waits for the recorder to return.
func (m *Manager) OnEvent(r Recorder) {
	m.recMu.Lock()
	defer m.recMu.Unlock()
	m.recorder = r
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	ev.At = m.clock.Now()
	m.recMu.RLock()
	rec := m.recorder
	m.recMu.RUnlock()
	if rec != nil {
		rec(ctx, ev)
	}
	m.broker.Publish(Topic, ev)
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session returns a copy of the current session, or nil when signed out.
func (m *Manager) Session() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

func (m *Manager) IsAuthenticated() bool {
	return m.State() == StateSignedIn
}

// beginAuth moves SignedOut to Authenticating. Concurrent sign-ins are
// rejected rather than queued, and so is a sign-in over a live session.
func (m *Manager) beginAuth() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateAuthenticating:
		return fmt.Errorf("%w: authentication already in progress", common.ErrAuthentication)
	case StateSignedIn:
		return common.ErrAlreadySignedIn
	}
	m.state = StateAuthenticating
	return nil
}

func (m *Manager) abortAuth() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.state = StateSignedIn
	} else {
		m.state = StateSignedOut
	}
}

// SignUp creates an account. The password policy is checked before any
// network call.
func (m *Manager) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	if err := m.ValidatePassword(password); err != nil {
		return nil, err
	}
	return m.authenticate(ctx, email, EventSignedUp, func(ctx context.Context) (*models.Session, error) {
		return m.accounts.SignUp(ctx, email, password)
	})
}

// SignIn authenticates with email and password. A locked identity fails
// with common.ErrLockout without contacting the account service.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	return m.authenticate(ctx, email, EventSignedIn, func(ctx context.Context) (*models.Session, error) {
		return m.accounts.SignInWithPassword(ctx, email, password)
	})
}

func (m *Manager) authenticate(ctx context.Context, identity string, kind EventKind, call func(context.Context) (*models.Session, error)) (*models.Session, error) {
	identity = CanonicalIdentity(identity)
	locked, err := m.IsLockedOut(ctx, identity)
	if err != nil {
		return nil, err
	}
	if locked {
		m.publish(ctx, Event{Kind: EventLockedOut, Identity: identity, Reason: "attempt while locked"})
		return nil, common.ErrLockout
	}

	if err := m.beginAuth(); err != nil {
		return nil, err
	}

	session, err := call(ctx)
	if err != nil {
		m.abortAuth()
		if errors.Is(err, context.Canceled) || errors.Is(err, common.ErrUnavailable) {
			return nil, err
		}
		nowLocked, ferr := m.recordFailure(ctx, identity)
		if ferr != nil {
			m.logger.Error(ctx, "failed to record failed attempt", "error", ferr)
		}
		m.publish(ctx, Event{Kind: EventSignInFailed, Identity: identity, Reason: err.Error()})
		if nowLocked {
			m.logger.Warn(ctx, "identity locked out", "identity", identity)
			m.publish(ctx, Event{Kind: EventLockedOut, Identity: identity, Reason: "too many failed attempts"})
		}
		if errors.Is(err, common.ErrAuthentication) || errors.Is(err, common.ErrPolicyViolation) || errors.Is(err, common.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrAuthentication, err)
	}

	if session.Email == "" {
		session.Email = identity
	}
	if err := m.clearFailures(ctx, identity); err != nil {
		m.logger.Warn(ctx, "failed to clear failed attempts", "error", err)
	}

	if err := m.establish(ctx, session); err != nil {
		m.abortAuth()
		return nil, err
	}

	m.publish(ctx, Event{Kind: kind, Identity: identity, UserID: session.UserID})
	s := *session
	return &s, nil
}

// establish initializes encryption for session and makes it current. On
// failure nothing is left behind.
func (m *Manager) establish(ctx context.Context, session *models.Session) error {
	created, err := m.keys.Initialize(ctx, EncryptionPassword(session.Email, session.UserID), session.UserID)
	if err != nil {
		m.logger.Error(ctx, "encryption initialization failed", "user_id", session.UserID, "error", err)
		return fmt.Errorf("initialize encryption: %w", err)
	}
	if created {
		m.publish(ctx, Event{Kind: EventKeyCreated, UserID: session.UserID})
	}

	now := m.clock.Now()
	session.StoredAt = now.UnixMilli()
	if err := m.persist(ctx, session, now); err != nil {
		m.logger.Error(ctx, "failed to persist session", "user_id", session.UserID, "error", err)
		m.keys.Cleanup(ctx)
		m.clearPersisted(ctx)
		return err
	}

	m.mu.Lock()
	m.session = session
	m.state = StateSignedIn
	m.mu.Unlock()

	m.logger.Info(ctx, "signed in", "user_id", session.UserID)
	return nil
}

// persist stores the session with its auth and activity stamps. A missing
// activity stamp would hide the session from the idle monitor, so every
// write has to succeed.
func (m *Manager) persist(ctx context.Context, session *models.Session, now time.Time) error {
	if err := kv.SetJSON(ctx, m.ephemeral, sessionKey, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	for _, key := range []string{lastAuthKey, lastActivityKey} {
		if err := kv.SetJSON(ctx, m.ephemeral, key, now.UnixMilli()); err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
	}
	return nil
}

// Restore resumes a persisted session. An expired session is discarded.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	var session models.Session
	found, err := kv.GetJSON(ctx, m.ephemeral, sessionKey, &session)
	if err != nil || !found {
		return false, err
	}
	if session.Expired(m.clock.Now()) {
		m.clearPersisted(ctx)
		return false, nil
	}
	if err := m.establish(ctx, &session); err != nil {
		return false, err
	}
	return true, nil
}

// SignOut ends the session: the account service is told (failures are
// logged), then the key is wiped and persisted session material removed.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.ForceSignOut(ctx, "user request")
}

// ForceSignOut signs out with a reason recorded on the published event.
func (m *Manager) ForceSignOut(ctx context.Context, reason string) error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.state = StateSignedOut
	m.mu.Unlock()

	m.keys.Cleanup(ctx)
	m.clearPersisted(ctx)

	if session == nil {
		return nil
	}
	if err := m.accounts.SignOut(ctx, session.AccessToken); err != nil {
		m.logger.Warn(ctx, "remote sign-out failed", "error", err)
	}

	m.logger.Info(ctx, "signed out", "user_id", session.UserID, "reason", reason)
	m.publish(ctx, Event{Kind: EventSignedOut, Identity: CanonicalIdentity(session.Email), UserID: session.UserID, Reason: reason})
	return nil
}

func (m *Manager) clearPersisted(ctx context.Context) {
	for _, k := range []string{sessionKey, lastActivityKey, lastAuthKey} {
		if err := m.ephemeral.Delete(ctx, k); err != nil {
			m.logger.Warn(ctx, "failed to clear session key", "key", k, "error", err)
		}
	}
}

// RefreshIfNeeded refreshes the tokens when fewer than RefreshThreshold
// remain before expiry. Concurrent callers share one refresh. A failed
// refresh leaves the session in place until it actually expires.
func (m *Manager) RefreshIfNeeded(ctx context.Context) (bool, error) {
	v, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (m *Manager) refresh(ctx context.Context) (bool, error) {
	current := m.Session()
	if current == nil {
		return false, nil
	}
	if !current.NeedsRefresh(m.clock.Now(), m.refreshThreshold) {
		return false, nil
	}

	next, err := m.accounts.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		m.logger.Warn(ctx, "token refresh failed", "user_id", current.UserID, "error", err)
		m.publish(ctx, Event{Kind: EventRefreshFailed, UserID: current.UserID, Reason: err.Error()})
		return false, err
	}
	if next.UserID == "" {
		next.UserID = current.UserID
	}
	if next.Email == "" {
		next.Email = current.Email
	}
	next.StoredAt = m.clock.Now().UnixMilli()

	m.mu.Lock()
	if m.session == nil || m.session.RefreshToken != current.RefreshToken {
		// signed out or replaced meanwhile
		m.mu.Unlock()
		return false, nil
	}
	m.session = next
	m.mu.Unlock()

	if err := kv.SetJSON(ctx, m.ephemeral, sessionKey, next); err != nil {
		m.logger.Warn(ctx, "failed to persist refreshed session", "error", err)
	}
	m.logger.Debug(ctx, "token refreshed", "user_id", next.UserID, "expires_at", next.ExpiresAt)
	m.publish(ctx, Event{Kind: EventTokenRefreshed, UserID: next.UserID})
	return true, nil
}

// RecordActivity stamps last_activity with the current time.
func (m *Manager) RecordActivity(ctx context.Context) error {
	return kv.SetJSON(ctx, m.ephemeral, lastActivityKey, m.clock.Now().UnixMilli())
}

// LastActivity returns the last recorded activity, zero when none.
func (m *Manager) LastActivity(ctx context.Context) (time.Time, error) {
	return m.readStamp(ctx, lastActivityKey)
}

// LastAuth returns when the current session was established.
func (m *Manager) LastAuth(ctx context.Context) (time.Time, error) {
	return m.readStamp(ctx, lastAuthKey)
}

func (m *Manager) readStamp(ctx context.Context, key string) (time.Time, error) {
	var ms int64
	found, err := kv.GetJSON(ctx, m.ephemeral, key, &ms)
	if err != nil || !found {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// SignInWithOAuth returns the provider URL to open.
func (m *Manager) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	return m.accounts.SignInWithOAuth(ctx, provider, redirectTo)
}

func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	return m.accounts.ResetPasswordForEmail(ctx, email)
}

// UpdatePassword changes the account password. The new password must pass
// the policy. Note keys do not depend on it.
func (m *Manager) UpdatePassword(ctx context.Context, newPassword string) error {
	if err := m.ValidatePassword(newPassword); err != nil {
		return err
	}
	current := m.Session()
	if current == nil {
		return common.ErrNotAuthenticated
	}
	if _, err := m.accounts.UpdateUser(ctx, current.AccessToken, account.UserAttributes{Password: newPassword}); err != nil {
		return err
	}
	m.logger.Info(ctx, "password updated", "user_id", current.UserID)
	return nil
}

// Close releases subscribers.
func (m *Manager) Close() {
	m.broker.Shutdown()
}
