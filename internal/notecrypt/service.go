// Package notecrypt encrypts and decrypts notes under a per-user key.
//
// Only the content part of a note (title, content, tags, metadata) is
// encrypted. The ciphertext is bound to the note id and updated_at through
// AES-GCM associated data, so it cannot be replayed against another note or
// a stale version. A SHA-256 hash of the plaintext is stored alongside as a
// secondary check; the AEAD tag remains authoritative.
package notecrypt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/cryptox"
	"github.com/dmitrijs2005/gophnotes/internal/keystore"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateCleared:
		return "cleared"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a diagnostic snapshot used by guards.
type Status struct {
	State       State
	Initialized bool
	HasKey      bool
	Supported   bool
	KeyVersion  uint64
	UserID      string
}

// IntegrityHook is called when a note decrypts correctly but its stored
// content hash does not match.
type IntegrityHook func(ctx context.Context, noteID string)

type Service struct {
	keys  *keystore.KeyStore
	clock quartz.Clock
	log   logging.Logger

	// mu guards the key reference. Encrypt/Decrypt hold it for reading for
	// the whole crypto call; key installation and cleanup take it for
	// writing, so a key is never swapped or wiped under an in-flight call.
	mu         sync.RWMutex
	state      State
	key        *cryptox.Key
	keyVersion uint64
	userID     string

	hookMu      sync.RWMutex
	onIntegrity IntegrityHook
}

func NewService(keys *keystore.KeyStore, clock quartz.Clock, log logging.Logger) *Service {
	return &Service{keys: keys, clock: clock, log: log}
}

// OnIntegrityWarning registers the hook for hash mismatches.
func (s *Service) OnIntegrityWarning(h IntegrityHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onIntegrity = h
}

// Initialize loads the key stored for userID, unwrapping it with password.
// When no usable key exists (absent, or the password does not open it) a new
// key is derived from password and a fresh salt and persisted wrapped under
// password. The returned bool reports whether a new key was created; notes
// encrypted under a previous key are unreadable with the new one.
func (s *Service) Initialize(ctx context.Context, password []byte, userID string) (bool, error) {
	if !cryptox.IsSupported() {
		return false, common.ErrUnsupportedEnvironment
	}
	if userID == "" {
		return false, fmt.Errorf("%w: empty user id", common.ErrKeyDerivation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = StateInitializing

	key, err := s.keys.RetrieveKey(ctx, userID, password)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, common.ErrKeyNotFound),
		errors.Is(err, common.ErrDecryption),
		errors.Is(err, common.ErrPasswordRequired),
		errors.Is(err, common.ErrInvalidKey):
		key, err = s.createKey(ctx, userID, password)
		if err != nil {
			s.state = prev
			return false, err
		}
		created = true
	default:
		s.state = prev
		return false, fmt.Errorf("retrieve key: %w", err)
	}

	s.install(key, userID)

	if created {
		s.log.Warn(ctx, "new encryption key created", "user_id", userID, "key_version", s.keyVersion)
	} else {
		s.log.Info(ctx, "encryption key loaded", "user_id", userID, "key_version", s.keyVersion)
	}
	return created, nil
}

func (s *Service) createKey(ctx context.Context, userID string, password []byte) (*cryptox.Key, error) {
	salt, err := cryptox.GenerateSalt()
	if err != nil {
		return nil, err
	}
	key, err := cryptox.DeriveKeyFromPassword(ctx, password, salt)
	if err != nil {
		return nil, err
	}
	if err := s.keys.StoreKey(ctx, userID, key, password); err != nil {
		key.Wipe()
		return nil, fmt.Errorf("store key: %w", err)
	}
	return key, nil
}

// install must be called with mu held.
func (s *Service) install(key *cryptox.Key, userID string) {
	if s.key != nil && s.key != key {
		s.key.Wipe()
	}
	s.key = key
	s.keyVersion++
	s.userID = userID
	s.state = StateReady
}

// InstallKey replaces the active key, persisting it for userID (wrapped when
// password is non-empty). Used by key-backup restore.
func (s *Service) InstallKey(ctx context.Context, userID string, key *cryptox.Key, password []byte) error {
	if key == nil || key.Len() != cryptox.KeySize {
		return common.ErrInvalidKey
	}
	if err := s.keys.StoreKey(ctx, userID, key, password); err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	s.mu.Lock()
	s.install(key, userID)
	version := s.keyVersion
	s.mu.Unlock()

	s.log.Info(ctx, "encryption key installed", "user_id", userID, "key_version", version)
	return nil
}

// ExportKey returns a copy of the active raw key and its owner.
func (s *Service) ExportKey() ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateReady {
		return nil, "", common.ErrEncryptionNotReady
	}
	raw, err := cryptox.ExportKey(s.key)
	if err != nil {
		return nil, "", err
	}
	return raw, s.userID, nil
}

// EncryptNote encrypts the content part of note. Indexing fields are copied
// through unchanged.
func (s *Service) EncryptNote(ctx context.Context, note models.Note) (*models.EncryptedNote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateReady {
		return nil, common.ErrEncryptionNotReady
	}

	env, plaintext, err := cryptox.EncryptJSON(note.EncryptedPart(), s.key, models.AAD(note.ID, note.UpdatedAt))
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	return &models.EncryptedNote{
		ID:                note.ID,
		EncryptedContent:  env.Base64(),
		ContentHash:       cryptox.Hash(plaintext),
		EncryptionVersion: common.EncryptionVersion,
		EncryptedAt:       s.clock.Now().UTC(),
		FolderID:          note.FolderID,
		IsStarred:         note.IsStarred,
		IsShared:          note.IsShared,
		CreatedAt:         note.CreatedAt,
		UpdatedAt:         note.UpdatedAt,
	}, nil
}

// DecryptNote reverses EncryptNote. AAD is recomputed from the record's own
// id and updated_at. A content-hash mismatch after a successful decrypt is
// logged as a warning and reported to the integrity hook; the note is still
// returned.
func (s *Service) DecryptNote(ctx context.Context, enc models.EncryptedNote) (*models.Note, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if enc.EncryptionVersion != common.EncryptionVersion {
		return nil, fmt.Errorf("%w: unsupported encryption version %d", common.ErrDecryption, enc.EncryptionVersion)
	}

	env, err := cryptox.ParseEnvelope(enc.EncryptedContent)
	if err != nil {
		return nil, err
	}

	var content models.NoteContent
	plaintext, err := s.decrypt(env, models.AAD(enc.ID, enc.UpdatedAt), &content)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	if got := cryptox.Hash(plaintext); got != enc.ContentHash {
		s.log.Warn(ctx, "note integrity warning", "note_id", enc.ID, "error", common.ErrIntegrityMismatch)
		s.hookMu.RLock()
		hook := s.onIntegrity
		s.hookMu.RUnlock()
		if hook != nil {
			hook(ctx, enc.ID)
		}
	}

	return &models.Note{
		ID:        enc.ID,
		Title:     content.Title,
		Content:   content.Content,
		Tags:      content.Tags,
		Metadata:  content.Metadata,
		FolderID:  enc.FolderID,
		IsStarred: enc.IsStarred,
		IsShared:  enc.IsShared,
		CreatedAt: enc.CreatedAt,
		UpdatedAt: enc.UpdatedAt,
	}, nil
}

func (s *Service) decrypt(env cryptox.Envelope, aad []byte, v any) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateReady {
		return nil, common.ErrEncryptionNotReady
	}
	return cryptox.DecryptJSON(env, s.key, aad, v)
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		State:       s.state,
		Initialized: s.state == StateReady,
		HasKey:      s.key != nil,
		Supported:   cryptox.IsSupported(),
		KeyVersion:  s.keyVersion,
		UserID:      s.userID,
	}
}

// Ready is a shorthand for Status().Initialized.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateReady
}

// Cleanup wipes the in-memory key. The service reports as uninitialized
// until the next Initialize.
func (s *Service) Cleanup(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key != nil {
		s.key.Wipe()
		s.key = nil
	}
	if s.state == StateReady {
		s.state = StateCleared
	}
	s.userID = ""
	s.log.Debug(ctx, "encryption key wiped")
}
