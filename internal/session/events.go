package session

import (
	"context"
	"time"
)

type State int

const (
	StateSignedOut State = iota
	StateAuthenticating
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateAuthenticating:
		return "authenticating"
	case StateSignedIn:
		return "signed_in"
	}
	return "unknown"
}

type EventKind string

const (
	EventSignedUp       EventKind = "signed_up"
	EventSignedIn       EventKind = "signed_in"
	EventSignInFailed   EventKind = "sign_in_failed"
	EventSignedOut      EventKind = "signed_out"
	EventLockedOut      EventKind = "locked_out"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventRefreshFailed  EventKind = "token_refresh_failed"
	EventKeyCreated     EventKind = "key_created"
)

// Topic carries every auth-state change.
const Topic = "auth"

// Event is published on Topic whenever the auth state changes.
type Event struct {
	Kind     EventKind
	Identity string
	UserID   string
	Reason   string
	At       time.Time
}

// Recorder receives every Event synchronously, before subscribers do. It
// must not call back into the Manager's sign-in methods.
type Recorder func(ctx context.Context, ev Event)
