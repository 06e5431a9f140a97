package session

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/kv"
)

// CanonicalIdentity is the form an email takes in the lockout ledger and
// in security events. The account service compares emails the same way.
func CanonicalIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func failedAttemptsKey(identity string) string { return "failed_attempts_" + identity }

func lockoutKey(identity string) string { return "lockout_" + identity }

// LockoutRules configures the sliding failed-attempt window.
type LockoutRules struct {
	MaxFailedAttempts int
	Window            time.Duration
}

func DefaultLockoutRules() LockoutRules {
	return LockoutRules{MaxFailedAttempts: 5, Window: 15 * time.Minute}
}

// recentFailures returns the failure timestamps (epoch ms) inside the
// window ending at now.
func (m *Manager) recentFailures(ctx context.Context, identity string, now time.Time) ([]int64, error) {
	var all []int64
	if _, err := kv.GetJSON(ctx, m.durable, failedAttemptsKey(identity), &all); err != nil {
		return nil, err
	}
	cutoff := now.Add(-m.lockout.Window).UnixMilli()
	recent := all[:0]
	for _, ts := range all {
		if ts > cutoff {
			recent = append(recent, ts)
		}
	}
	return recent, nil
}

// IsLockedOut reports whether identity may not attempt to authenticate:
// either MaxFailedAttempts failures fall inside the trailing window, or a
// forced lock set with Lock has not expired.
func (m *Manager) IsLockedOut(ctx context.Context, identity string) (bool, error) {
	identity = CanonicalIdentity(identity)
	now := m.clock.Now()

	var until int64
	found, err := kv.GetJSON(ctx, m.durable, lockoutKey(identity), &until)
	if err != nil {
		return false, err
	}
	if found {
		if now.UnixMilli() < until {
			return true, nil
		}
		_ = m.durable.Delete(ctx, lockoutKey(identity))
	}

	recent, err := m.recentFailures(ctx, identity, now)
	if err != nil {
		return false, err
	}
	return len(recent) >= m.lockout.MaxFailedAttempts, nil
}

// recordFailure appends a failure and reports whether it tipped the identity
// into lockout.
func (m *Manager) recordFailure(ctx context.Context, identity string) (bool, error) {
	identity = CanonicalIdentity(identity)
	now := m.clock.Now()
	recent, err := m.recentFailures(ctx, identity, now)
	if err != nil {
		return false, err
	}
	recent = append(recent, now.UnixMilli())
	if err := kv.SetJSON(ctx, m.durable, failedAttemptsKey(identity), recent); err != nil {
		return false, err
	}
	return len(recent) >= m.lockout.MaxFailedAttempts, nil
}

func (m *Manager) clearFailures(ctx context.Context, identity string) error {
	return m.durable.Delete(ctx, failedAttemptsKey(CanonicalIdentity(identity)))
}

// Lock forces identity into lockout until the given time, independent of
// the failure count. Locking an already locked identity to an earlier time
// keeps the later deadline.
func (m *Manager) Lock(ctx context.Context, identity string, until time.Time) error {
	identity = CanonicalIdentity(identity)
	var current int64
	if _, err := kv.GetJSON(ctx, m.durable, lockoutKey(identity), &current); err != nil {
		return err
	}
	if until.UnixMilli() <= current {
		return nil
	}
	if err := kv.SetJSON(ctx, m.durable, lockoutKey(identity), until.UnixMilli()); err != nil {
		return err
	}
	m.logger.Warn(ctx, "identity locked", "identity", identity, "until", until)
	return nil
}
