// Package cryptox holds the symmetric primitives the security layer is built
// on: AES-256-GCM keys, PBKDF2 derivation, authenticated encryption with
// associated data, SHA-256 hashing and the base64 codec used on the wire.
package cryptox

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Algorithm names the only cipher suite keys are created for.
	Algorithm = "AES-GCM-256"

	KeySize  = 32
	SaltSize = 32
	IVSize   = 12
	TagSize  = 16

	PBKDF2Iterations = 100_000
)

// IsSupported reports whether AES-GCM and the system random source are
// usable. A false result is a hard environment failure.
func IsSupported() bool {
	block, err := aes.NewCipher(make([]byte, KeySize))
	if err != nil {
		return false
	}
	if _, err := cipher.NewGCM(block); err != nil {
		return false
	}
	probe := make([]byte, 1)
	_, err = rand.Read(probe)
	return err == nil
}

// GenerateSalt returns SaltSize fresh random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnsupportedEnvironment, err)
	}
	return salt, nil
}

// GenerateKey creates a random, extractable AES-256-GCM key.
func GenerateKey() (*Key, error) {
	material := make([]byte, KeySize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnsupportedEnvironment, err)
	}
	return &Key{material: material, extractable: true}, nil
}

// DeriveKeyFromPassword runs PBKDF2-HMAC-SHA256 with PBKDF2Iterations rounds
// and returns a 256-bit AES-GCM key. The result is deterministic for a fixed
// (password, salt) pair.
func DeriveKeyFromPassword(ctx context.Context, password []byte, salt []byte) (*Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: empty password", common.ErrKeyDerivation)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", common.ErrKeyDerivation)
	}

	material := pbkdf2.Key(password, salt, PBKDF2Iterations, KeySize, sha256.New)
	return &Key{material: material, extractable: true}, nil
}

func newGCM(key *Key) (cipher.AEAD, error) {
	if key == nil || len(key.material) != KeySize {
		return nil, common.ErrInvalidKey
	}
	block, err := aes.NewCipher(key.material)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, TagSize)
}

// Encrypt seals plaintext under key with a fresh 96-bit IV. When aad is
// non-nil it is bound into the authentication tag. Two calls with identical
// input never produce the same envelope.
func Encrypt(plaintext []byte, key *Key, aad []byte) (Envelope, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	raw := make([]byte, IVSize, IVSize+len(plaintext)+TagSize)
	copy(raw, iv)
	raw = aesgcm.Seal(raw, iv, plaintext, aad)

	return Envelope{Raw: raw}, nil
}

// Decrypt splits the IV off env, verifies the tag (including aad) and
// returns the plaintext. Any authentication failure yields ErrDecryption
// and no data.
func Decrypt(env Envelope, key *Key, aad []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if len(env.Raw) < IVSize+TagSize {
		return nil, fmt.Errorf("%w: envelope too short", common.ErrDecryption)
	}

	plaintext, err := aesgcm.Open(nil, env.Raw[:IVSize], env.Raw[IVSize:], aad)
	if err != nil {
		return nil, common.ErrDecryption
	}
	return plaintext, nil
}

// EncryptJSON serializes v to JSON and encrypts it with Encrypt.
func EncryptJSON(v any, key *Key, aad []byte) (Envelope, []byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	env, err := Encrypt(plaintext, key, aad)
	if err != nil {
		return Envelope{}, nil, err
	}
	return env, plaintext, nil
}

// DecryptJSON decrypts env and unmarshals the JSON plaintext into v. The raw
// plaintext is returned as well so callers can hash it.
func DecryptJSON(env Envelope, key *Key, aad []byte, v any) ([]byte, error) {
	plaintext, err := Decrypt(env, key, aad)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return nil, fmt.Errorf("%w: malformed plaintext: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}

// Hash returns the base64 SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return EncodeBase64(sum[:])
}

// MakeVerifier returns a SHA-256 fingerprint of raw key material. It is safe
// to log or compare; it does not reveal the key.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
