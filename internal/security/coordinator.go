// Package security ties the session manager and the note encryption
// service together behind one guarded entry point. It keeps the security
// event log, runs the session, refresh, threat and retention timers and
// enforces the fail-closed handling of critical violations.
package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/metrics"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/notecrypt"
	"github.com/dmitrijs2005/gophnotes/internal/pubsub"
	"github.com/dmitrijs2005/gophnotes/internal/session"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrUnknownOperation = errors.New("unknown secure operation")
	ErrAlreadyStarted   = errors.New("coordinator already started")
)

// Sessions is the part of the session manager the coordinator drives.
type Sessions interface {
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
	ForceSignOut(ctx context.Context, reason string) error
	Session() *models.Session
	IsAuthenticated() bool
	RefreshIfNeeded(ctx context.Context) (bool, error)
	RecordActivity(ctx context.Context) error
	LastActivity(ctx context.Context) (time.Time, error)
	Lock(ctx context.Context, identity string, until time.Time) error
	OnEvent(r session.Recorder)
}

// Encryptor is the part of the note encryption service the coordinator
// guards.
type Encryptor interface {
	EncryptNote(ctx context.Context, note models.Note) (*models.EncryptedNote, error)
	DecryptNote(ctx context.Context, enc models.EncryptedNote) (*models.Note, error)
	Ready() bool
	Cleanup(ctx context.Context)
	OnIntegrityWarning(h notecrypt.IntegrityHook)
}

type OperationKind string

const (
	OpEncryptNote OperationKind = "encrypt_note"
	OpDecryptNote OperationKind = "decrypt_note"
)

// AlertTopic carries user-visible alerts.
const AlertTopic = "alerts"

type Alert struct {
	Severity models.Severity
	Title    string
	Message  string
	At       time.Time
}

type Coordinator struct {
	policy   Policy
	sessions Sessions
	notes    Encryptor
	events   *EventLog
	patterns []ThreatPattern
	clock    quartz.Clock
	logger   logging.Logger
	metrics  *metrics.Registry
	alerts   *pubsub.Broker[Alert]

	mu      sync.Mutex
	blocked map[string]time.Time
	locked  map[string]time.Time
	alerted map[string]time.Time

	runMu   sync.Mutex
	cancel  context.CancelFunc
	waiters []quartz.Waiter
}

// NewCoordinator validates policy and wires the integrity hook of notes.
// A nil registry gets a private one.
func NewCoordinator(policy Policy, sessions Sessions, notes Encryptor, clock quartz.Clock, logger logging.Logger, reg *metrics.Registry) (*Coordinator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	c := &Coordinator{
		policy:   policy,
		sessions: sessions,
		notes:    notes,
		events:   NewEventLog(policy.Data.MaxEvents),
		patterns: DefaultPatterns(),
		clock:    clock,
		logger:   logger.With("module", "security"),
		metrics:  reg,
		alerts:   pubsub.New[Alert](),
		blocked:  make(map[string]time.Time),
		locked:   make(map[string]time.Time),
		alerted:  make(map[string]time.Time),
	}
	notes.OnIntegrityWarning(c.onIntegrityWarning)
	sessions.OnEvent(c.handleSessionEvent)
	return c, nil
}

func (c *Coordinator) Policy() Policy {
	return c.policy
}

// LogEvent appends a security event stamped with the current time.
func (c *Coordinator) LogEvent(ctx context.Context, typ models.EventType, actor string, severity models.Severity, metadata map[string]any) models.SecurityEvent {
	ev := c.events.Append(models.SecurityEvent{
		Type:      typ,
		Timestamp: c.clock.Now(),
		Actor:     actor,
		Severity:  severity,
		Metadata:  metadata,
	})

	c.metrics.SecurityEventsTotal.WithLabelValues(string(typ), string(severity)).Inc()
	c.metrics.EventLogSize.Set(float64(c.events.Len()))
	switch typ {
	case models.EventSignInFailed:
		c.metrics.AuthFailuresTotal.Inc()
	case models.EventLockout:
		c.metrics.LockoutsTotal.Inc()
	case models.EventDecryptFailed:
		c.metrics.DecryptFailuresTotal.Inc()
	case models.EventIntegrityWarning:
		c.metrics.IntegrityWarningsTotal.Inc()
	}

	switch severity {
	case models.SeverityHigh, models.SeverityCritical:
		c.logger.Warn(ctx, "security event", "type", typ, "actor", actor, "severity", severity, "id", ev.ID)
	default:
		c.logger.Debug(ctx, "security event", "type", typ, "actor", actor, "severity", severity, "id", ev.ID)
	}
	return ev
}

// Events returns logged events matching f, oldest first.
func (c *Coordinator) Events(f Filter) []models.SecurityEvent {
	return c.events.Query(f)
}

// Alerts subscribes to user-visible alerts.
func (c *Coordinator) Alerts(ctx context.Context) *pubsub.Subscription[Alert] {
	return c.alerts.Subscribe(ctx, AlertTopic)
}

func (c *Coordinator) publishAlert(a Alert) {
	a.At = c.clock.Now()
	c.alerts.Publish(AlertTopic, a)
}

func (c *Coordinator) currentActor() string {
	if s := c.sessions.Session(); s != nil {
		if s.Email != "" {
			return session.CanonicalIdentity(s.Email)
		}
		return s.UserID
	}
	return ""
}

// SecureOperation is the only sanctioned path to note encryption. It
// requires a live session and a loaded key, records the operation and its
// failure as security events and marks the user active.
func (c *Coordinator) SecureOperation(ctx context.Context, kind OperationKind, payload any) (any, error) {
	s := c.sessions.Session()
	if s == nil || !c.sessions.IsAuthenticated() {
		c.LogEvent(ctx, models.EventAccessDenied, "", models.SeverityMedium, map[string]any{
			"operation": string(kind),
			"reason":    "not authenticated",
		})
		return nil, common.ErrNotAuthenticated
	}
	actor := c.currentActor()
	if s.Expired(c.clock.Now()) {
		c.LogEvent(ctx, models.EventAccessDenied, actor, models.SeverityMedium, map[string]any{
			"operation": string(kind),
			"reason":    "session expired",
		})
		return nil, common.ErrSessionExpired
	}
	if !c.notes.Ready() {
		c.LogEvent(ctx, models.EventAccessDenied, actor, models.SeverityMedium, map[string]any{
			"operation": string(kind),
			"reason":    "encryption not ready",
		})
		return nil, common.ErrEncryptionNotReady
	}

	var (
		result  any
		err     error
		noteID  string
		okType  models.EventType
		errType models.EventType
	)
	start := c.clock.Now()
	switch kind {
	case OpEncryptNote:
		note, ok := payload.(models.Note)
		if !ok {
			return nil, fmt.Errorf("%w: %s with payload %T", ErrUnknownOperation, kind, payload)
		}
		noteID, okType, errType = note.ID, models.EventEncrypt, models.EventEncryptFailed
		c.LogEvent(ctx, okType, actor, models.SeverityLow, map[string]any{"note_id": noteID})
		result, err = c.notes.EncryptNote(ctx, note)
	case OpDecryptNote:
		enc, ok := payload.(models.EncryptedNote)
		if !ok {
			return nil, fmt.Errorf("%w: %s with payload %T", ErrUnknownOperation, kind, payload)
		}
		noteID, okType, errType = enc.ID, models.EventDecrypt, models.EventDecryptFailed
		c.LogEvent(ctx, okType, actor, models.SeverityLow, map[string]any{"note_id": noteID})
		result, err = c.notes.DecryptNote(ctx, enc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, kind)
	}
	c.metrics.RecordCryptoOperation(string(kind), err, c.clock.Since(start))

	if err != nil {
		c.LogEvent(ctx, errType, actor, models.SeverityHigh, map[string]any{
			"note_id": noteID,
			"user_id": s.UserID,
			"error":   err.Error(),
		})
		return nil, err
	}
	if aerr := c.sessions.RecordActivity(ctx); aerr != nil {
		c.logger.Warn(ctx, "failed to record activity", "error", aerr)
	}
	return result, nil
}

func (c *Coordinator) EncryptNote(ctx context.Context, note models.Note) (*models.EncryptedNote, error) {
	v, err := c.SecureOperation(ctx, OpEncryptNote, note)
	if err != nil {
		return nil, err
	}
	return v.(*models.EncryptedNote), nil
}

func (c *Coordinator) DecryptNote(ctx context.Context, enc models.EncryptedNote) (*models.Note, error) {
	v, err := c.SecureOperation(ctx, OpDecryptNote, enc)
	if err != nil {
		return nil, err
	}
	return v.(*models.Note), nil
}

// Touch marks the user active. Interactive frontends call it per command.
func (c *Coordinator) Touch(ctx context.Context) {
	if !c.sessions.IsAuthenticated() {
		return
	}
	if err := c.sessions.RecordActivity(ctx); err != nil {
		c.logger.Warn(ctx, "failed to record activity", "error", err)
	}
}

func (c *Coordinator) onIntegrityWarning(ctx context.Context, noteID string) {
	c.LogEvent(ctx, models.EventIntegrityWarning, c.currentActor(), models.SeverityHigh, map[string]any{
		"note_id": noteID,
	})
}

func (c *Coordinator) denyBlocked(ctx context.Context, identity, op string) error {
	identity = session.CanonicalIdentity(identity)
	if !c.IsBlocked(identity) {
		return nil
	}
	c.LogEvent(ctx, models.EventAccessDenied, identity, models.SeverityHigh, map[string]any{
		"operation": op,
		"reason":    "identity blocked",
	})
	return common.ErrIdentityBlocked
}

// SignIn authenticates unless the threat analyzer blocked identity.
func (c *Coordinator) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	if err := c.denyBlocked(ctx, email, "sign_in"); err != nil {
		return nil, err
	}
	return c.sessions.SignIn(ctx, email, password)
}

func (c *Coordinator) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	if err := c.denyBlocked(ctx, email, "sign_up"); err != nil {
		return nil, err
	}
	return c.sessions.SignUp(ctx, email, password)
}

func (c *Coordinator) SignOut(ctx context.Context) error {
	err := c.sessions.SignOut(ctx)
	c.metrics.SetEncryptionReady(c.notes.Ready())
	return err
}

// forceSignOut signs out for reason, which doubles as a metric label and
// must come from a fixed set.
func (c *Coordinator) forceSignOut(ctx context.Context, reason string) {
	if err := c.sessions.ForceSignOut(ctx, reason); err != nil {
		c.logger.Error(ctx, "forced sign-out failed", "reason", reason, "error", err)
	}
	c.metrics.ForcedSignOutsTotal.WithLabelValues(reason).Inc()
	c.metrics.SetEncryptionReady(c.notes.Ready())
	c.logger.Warn(ctx, "forced sign-out", "reason", reason)
}

// handleSessionEvent turns an auth-state change into a security event. The
// session manager calls it inline, so no auth outcome is lost.
func (c *Coordinator) handleSessionEvent(ctx context.Context, ev session.Event) {
	actor := ev.Identity
	if actor == "" {
		actor = ev.UserID
	}
	meta := map[string]any{}
	if ev.UserID != "" {
		meta["user_id"] = ev.UserID
	}
	if ev.Reason != "" {
		meta["reason"] = ev.Reason
	}

	switch ev.Kind {
	case session.EventSignedUp:
		c.LogEvent(ctx, models.EventSignUp, actor, models.SeverityLow, meta)
	case session.EventSignedIn:
		c.LogEvent(ctx, models.EventSignIn, actor, models.SeverityLow, meta)
	case session.EventSignInFailed:
		c.LogEvent(ctx, models.EventSignInFailed, actor, models.SeverityMedium, meta)
	case session.EventLockedOut:
		c.LogEvent(ctx, models.EventLockout, actor, models.SeverityHigh, meta)
	case session.EventSignedOut:
		c.LogEvent(ctx, models.EventSignOut, actor, models.SeverityLow, meta)
	case session.EventTokenRefreshed:
		c.LogEvent(ctx, models.EventTokenRefreshed, actor, models.SeverityLow, meta)
	case session.EventRefreshFailed:
		c.LogEvent(ctx, models.EventTokenRefreshFailed, actor, models.SeverityMedium, meta)
	case session.EventKeyCreated:
		c.LogEvent(ctx, models.EventKeyCreated, actor, models.SeverityLow, meta)
	default:
		c.logger.Debug(ctx, "unhandled session event", "kind", ev.Kind)
	}
	c.metrics.SetEncryptionReady(c.notes.Ready())
}

// Start launches the session monitor, token refresh, threat analyzer and
// retention timers. They run until Stop or until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.waiters = []quartz.Waiter{
		c.clock.TickerFunc(ctx, c.policy.Session.CheckInterval, func() error {
			c.checkSession(ctx)
			return nil
		}, "security", "session"),
		c.clock.TickerFunc(ctx, c.policy.Session.RefreshInterval, func() error {
			c.refreshTokens(ctx)
			return nil
		}, "security", "refresh"),
		c.clock.TickerFunc(ctx, c.policy.Threat.AnalysisInterval, func() error {
			c.AnalyzeThreats(ctx)
			return nil
		}, "security", "threats"),
		c.clock.TickerFunc(ctx, c.policy.Threat.RetentionSweepInterval, func() error {
			c.Sweep(ctx)
			return nil
		}, "security", "retention"),
	}
	c.logger.Info(ctx, "security monitors started")
	return nil
}

// Stop cancels all timers and waits for them to exit. It is safe to call
// on a stopped coordinator.
func (c *Coordinator) Stop() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	var result error
	for _, w := range c.waiters {
		if err := w.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			result = multierror.Append(result, err)
		}
	}

	c.cancel = nil
	c.waiters = nil
	return result
}

// Close stops the timers and releases alert subscribers.
func (c *Coordinator) Close() error {
	err := c.Stop()
	c.alerts.Shutdown()
	return err
}

// checkSession forces sign-out of expired or idle sessions.
func (c *Coordinator) checkSession(ctx context.Context) {
	c.metrics.SetEncryptionReady(c.notes.Ready())
	s := c.sessions.Session()
	if s == nil {
		return
	}
	now := c.clock.Now()
	actor := c.currentActor()

	if s.Expired(now) {
		c.LogEvent(ctx, models.EventSessionExpired, actor, models.SeverityMedium, map[string]any{"user_id": s.UserID})
		c.forceSignOut(ctx, "expired")
		return
	}

	last, err := c.sessions.LastActivity(ctx)
	if err != nil {
		c.logger.Warn(ctx, "failed to read last activity", "error", err)
		return
	}
	if last.IsZero() {
		return
	}
	if idle := now.Sub(last); idle >= c.policy.Session.IdleTimeout {
		c.LogEvent(ctx, models.EventSessionIdle, actor, models.SeverityMedium, map[string]any{
			"user_id": s.UserID,
			"idle":    idle.String(),
		})
		c.forceSignOut(ctx, "idle")
	}
}

func (c *Coordinator) refreshTokens(ctx context.Context) {
	if !c.sessions.IsAuthenticated() {
		return
	}
	if _, err := c.sessions.RefreshIfNeeded(ctx); err != nil {
		// the session stays until it expires; the monitor handles that
		c.logger.Debug(ctx, "scheduled refresh failed", "error", err)
	}
}

// AnalyzeThreats runs every pattern over the event log and applies the
// resulting actions. Repeated detections of an already handled threat are
// no-ops.
func (c *Coordinator) AnalyzeThreats(ctx context.Context) {
	now := c.clock.Now()
	var longest time.Duration
	for _, p := range c.patterns {
		if p.Window > longest {
			longest = p.Window
		}
	}
	recent := c.events.Query(Filter{Since: now.Add(-longest)})

	for _, d := range Analyze(recent, c.patterns, now) {
		var acted bool
		switch d.Pattern.Action {
		case ActionBlockIdentity:
			acted = c.blockIdentity(ctx, d, now)
		case ActionLockAccount:
			acted = c.lockAccount(ctx, d, now)
		case ActionAlert:
			acted = c.raiseAlert(ctx, d, now)
		}
		if acted {
			c.metrics.ThreatsDetectedTotal.WithLabelValues(d.Pattern.Name).Inc()
		}
	}
}

func (c *Coordinator) threatEvent(ctx context.Context, d Detection) {
	c.LogEvent(ctx, models.EventThreatDetected, d.Actor, d.Pattern.Severity, map[string]any{
		"pattern": d.Pattern.Name,
		"count":   d.Count,
		"action":  string(d.Pattern.Action),
	})
}

func (c *Coordinator) blockIdentity(ctx context.Context, d Detection, now time.Time) bool {
	if d.Actor == "" {
		return false
	}
	d.Actor = session.CanonicalIdentity(d.Actor)
	until := now.Add(c.policy.Access.BlockDuration)

	c.mu.Lock()
	if prev, ok := c.blocked[d.Actor]; ok && now.Before(prev) {
		c.mu.Unlock()
		return false
	}
	c.blocked[d.Actor] = until
	c.mu.Unlock()
	c.updateBlockedGauge(now)

	c.threatEvent(ctx, d)
	if err := c.sessions.Lock(ctx, d.Actor, until); err != nil {
		c.logger.Error(ctx, "failed to persist identity lock", "identity", d.Actor, "error", err)
	}
	c.LogEvent(ctx, models.EventIdentityBlocked, d.Actor, models.SeverityHigh, map[string]any{
		"pattern": d.Pattern.Name,
		"until":   until.UTC().Format(time.RFC3339),
	})
	c.publishAlert(Alert{
		Severity: models.SeverityHigh,
		Title:    "Suspicious sign-in activity",
		Message:  fmt.Sprintf("%s was blocked until %s after %d authentication attempts.", d.Actor, until.Format(time.Kitchen), d.Count),
	})
	return true
}

func (c *Coordinator) lockAccount(ctx context.Context, d Detection, now time.Time) bool {
	until := now.Add(c.policy.Access.BlockDuration)

	c.mu.Lock()
	if prev, ok := c.locked[d.Actor]; ok && now.Before(prev) {
		c.mu.Unlock()
		return false
	}
	c.locked[d.Actor] = until
	c.mu.Unlock()

	c.threatEvent(ctx, d)
	if d.Actor != "" {
		if err := c.sessions.Lock(ctx, d.Actor, until); err != nil {
			c.logger.Error(ctx, "failed to lock account", "identity", d.Actor, "error", err)
		}
	}
	if c.sessions.IsAuthenticated() && c.currentActor() == d.Actor {
		c.forceSignOut(ctx, "threat")
	}
	c.publishAlert(Alert{
		Severity: models.SeverityCritical,
		Title:    "Account locked",
		Message:  fmt.Sprintf("%d notes failed to decrypt in a short time. The account was locked and signed out.", d.Count),
	})
	return true
}

func (c *Coordinator) raiseAlert(ctx context.Context, d Detection, now time.Time) bool {
	key := d.Pattern.Name + "|" + d.Actor

	c.mu.Lock()
	if prev, ok := c.alerted[key]; ok && now.Sub(prev) < d.Pattern.Window {
		c.mu.Unlock()
		return false
	}
	c.alerted[key] = now
	c.mu.Unlock()

	c.threatEvent(ctx, d)
	c.publishAlert(Alert{
		Severity: d.Pattern.Severity,
		Title:    "Note integrity warning",
		Message:  fmt.Sprintf("%d notes decrypted with a content hash mismatch. Stored data may have been altered.", d.Count),
	})
	return true
}

// IsBlocked reports whether identity is currently blocked by the threat
// analyzer.
func (c *Coordinator) IsBlocked(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.blocked[session.CanonicalIdentity(identity)]
	return ok && c.clock.Now().Before(until)
}

func (c *Coordinator) updateBlockedGauge(now time.Time) {
	c.mu.Lock()
	n := 0
	for _, until := range c.blocked {
		if now.Before(until) {
			n++
		}
	}
	c.mu.Unlock()
	c.metrics.BlockedIdentities.Set(float64(n))
}

// Sweep prunes events past the retention period and forgets expired
// blocks and alerts.
func (c *Coordinator) Sweep(ctx context.Context) int {
	now := c.clock.Now()
	removed := c.events.Prune(now.Add(-c.policy.Data.RetentionPeriod))

	c.mu.Lock()
	for id, until := range c.blocked {
		if !now.Before(until) {
			delete(c.blocked, id)
		}
	}
	for id, until := range c.locked {
		if !now.Before(until) {
			delete(c.locked, id)
		}
	}
	for key, at := range c.alerted {
		if now.Sub(at) >= c.policy.Data.RetentionPeriod {
			delete(c.alerted, key)
		}
	}
	c.mu.Unlock()

	c.updateBlockedGauge(now)
	c.metrics.EventLogSize.Set(float64(c.events.Len()))
	if removed > 0 {
		c.logger.Info(ctx, "pruned security events", "removed", removed)
	}
	return removed
}
