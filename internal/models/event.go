package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventType classifies a SecurityEvent.
type EventType string

const (
	EventSignUp             EventType = "auth.sign_up"
	EventSignIn             EventType = "auth.sign_in"
	EventSignInFailed       EventType = "auth.sign_in_failed"
	EventSignOut            EventType = "auth.sign_out"
	EventLockout            EventType = "auth.lockout"
	EventTokenRefreshed     EventType = "auth.token_refreshed"
	EventTokenRefreshFailed EventType = "auth.token_refresh_failed"
	EventSessionExpired     EventType = "session.expired"
	EventSessionIdle        EventType = "session.idle"
	EventEncrypt            EventType = "data.encrypt"
	EventDecrypt            EventType = "data.decrypt"
	EventEncryptFailed      EventType = "data.encrypt_failed"
	EventDecryptFailed      EventType = "data.decrypt_failed"
	EventIntegrityWarning   EventType = "data.integrity_warning"
	EventKeyCreated         EventType = "key.created"
	EventKeyRestored        EventType = "key.restored"
	EventKeyExported        EventType = "key.exported"
	EventAccessDenied       EventType = "access.denied"
	EventThreatDetected     EventType = "threat.detected"
	EventIdentityBlocked    EventType = "threat.identity_blocked"
	EventCSPViolation       EventType = "csp.violation"
)

// IsAuth reports whether the type belongs to the authentication family.
func (t EventType) IsAuth() bool {
	switch t {
	case EventSignUp, EventSignIn, EventSignInFailed, EventSignOut, EventLockout:
		return true
	}
	return false
}

// SecurityEvent is one audit record.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Severity  Severity       `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
