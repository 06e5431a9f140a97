// Package common defines shared constants and sentinel errors used across
// the security layer and its collaborators. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"strings"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Environment errors. Fatal, never retried.
	ErrUnsupportedEnvironment = errors.New("cryptographic capability unavailable")

	// Cryptographic errors.
	ErrKeyDerivation     = errors.New("key derivation failed")
	ErrEncryption        = errors.New("encryption failed")
	ErrDecryption        = errors.New("decryption failed")
	ErrIntegrityMismatch = errors.New("integrity hash mismatch")
	ErrInvalidKey        = errors.New("invalid key")

	// Key storage errors.
	ErrKeyNotFound        = errors.New("key not found")
	ErrPasswordRequired   = errors.New("password required to unwrap key")
	ErrKeyNotExtractable  = errors.New("key is not extractable")
	ErrBackupUserMismatch = errors.New("backup belongs to a different user")

	// Encryption service state errors.
	ErrEncryptionNotReady = errors.New("encryption service not initialized")

	// Authentication and session errors.
	ErrAuthentication   = errors.New("authentication failed")
	ErrLockout          = errors.New("too many failed attempts, identity locked")
	ErrSessionExpired   = errors.New("session expired")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAlreadySignedIn  = errors.New("already signed in")
	ErrIdentityBlocked  = errors.New("identity blocked by security policy")
	ErrPolicyViolation  = errors.New("security policy violation")

	// Token errors (account service).
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrAlreadyExists       = errors.New("already exists")

	// Transport errors.
	ErrUnavailable = errors.New("account service unavailable")
)

// PolicyViolationError lists every rule a value failed. It matches
// ErrPolicyViolation with errors.Is.
type PolicyViolationError struct {
	Reasons []string
}

func (e *PolicyViolationError) Error() string {
	return ErrPolicyViolation.Error() + ": " + strings.Join(e.Reasons, "; ")
}

func (e *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }
