// Package keystore persists symmetric keys in a kv.Store, either wrapped
// under a password-derived key or, on the explicitly weaker path, raw.
package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/quartz"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/cryptox"
	"github.com/dmitrijs2005/gophnotes/internal/kv"
)

// Record is the JSON stored under key_<id>. Exactly one of EncryptedKey and
// Key is set.
type Record struct {
	EncryptedKey string `json:"encryptedKey,omitempty"`
	Key          string `json:"key,omitempty"`
	Salt         string `json:"salt,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Algorithm    string `json:"algorithm"`
}

// Wrapped reports whether the record needs a password to open.
func (r Record) Wrapped() bool { return r.EncryptedKey != "" }

type KeyStore struct {
	store kv.Store
	clock quartz.Clock
}

func New(store kv.Store, clock quartz.Clock) *KeyStore {
	return &KeyStore{store: store, clock: clock}
}

func storageKey(id string) string { return "key_" + id }

// StoreKey persists key under id. With a non-empty password the raw key is
// sealed with AES-GCM under PBKDF2(password, fresh salt); the id is bound as
// associated data so a record cannot be moved to another id. Without a
// password the key is stored unwrapped.
func (s *KeyStore) StoreKey(ctx context.Context, id string, key *cryptox.Key, password []byte) error {
	raw, err := cryptox.ExportKey(key)
	if err != nil {
		return fmt.Errorf("export key: %w", err)
	}
	defer common.WipeByteArray(raw)

	rec := Record{
		Timestamp: s.clock.Now().UnixMilli(),
		Algorithm: cryptox.Algorithm,
	}

	if len(password) == 0 {
		rec.Key = cryptox.EncodeBase64(raw)
	} else {
		salt, err := cryptox.GenerateSalt()
		if err != nil {
			return err
		}
		wrapKey, err := cryptox.DeriveKeyFromPassword(ctx, password, salt)
		if err != nil {
			return err
		}
		defer wrapKey.Wipe()

		env, err := cryptox.Encrypt(raw, wrapKey, []byte(storageKey(id)))
		if err != nil {
			return err
		}
		rec.EncryptedKey = env.Base64()
		rec.Salt = cryptox.EncodeBase64(salt)
	}

	if err := kv.SetJSON(ctx, s.store, storageKey(id), rec); err != nil {
		return fmt.Errorf("persist key: %w", err)
	}
	return nil
}

// RetrieveKey loads the key stored under id. Errors:
//   - common.ErrKeyNotFound: nothing stored;
//   - common.ErrPasswordRequired: record is wrapped and no password given;
//   - common.ErrDecryption: wrong password or tampered record.
func (s *KeyStore) RetrieveKey(ctx context.Context, id string, password []byte) (*cryptox.Key, error) {
	var rec Record
	found, err := kv.GetJSON(ctx, s.store, storageKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, common.ErrKeyNotFound
	}

	if !rec.Wrapped() {
		raw, err := cryptox.DecodeBase64(rec.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidKey, err)
		}
		defer common.WipeByteArray(raw)
		return cryptox.ImportKey(raw, true)
	}

	if len(password) == 0 {
		return nil, common.ErrPasswordRequired
	}

	salt, err := cryptox.DecodeBase64(rec.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt: %v", common.ErrDecryption, err)
	}
	env, err := cryptox.ParseEnvelope(rec.EncryptedKey)
	if err != nil {
		return nil, err
	}
	wrapKey, err := cryptox.DeriveKeyFromPassword(ctx, password, salt)
	if err != nil {
		return nil, err
	}
	defer wrapKey.Wipe()

	raw, err := cryptox.Decrypt(env, wrapKey, []byte(storageKey(id)))
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(raw)
	return cryptox.ImportKey(raw, true)
}

// Describe returns the stored record without opening it.
func (s *KeyStore) Describe(ctx context.Context, id string) (*Record, error) {
	var rec Record
	found, err := kv.GetJSON(ctx, s.store, storageKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, common.ErrKeyNotFound
	}
	return &rec, nil
}

func (s *KeyStore) DeleteKey(ctx context.Context, id string) error {
	return s.store.Delete(ctx, storageKey(id))
}

// IsNotFound is a convenience for callers that branch on a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrKeyNotFound)
}
