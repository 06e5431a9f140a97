package cryptox

import (
	"fmt"

	"github.com/dmitrijs2005/gophnotes/internal/common"
)

// Key is an opaque AES-256-GCM key handle. Raw material only leaves the
// handle through ExportKey, and only when the key is extractable.
type Key struct {
	material    []byte
	extractable bool
}

func (k *Key) Algorithm() string { return Algorithm }

func (k *Key) Len() int { return len(k.material) }

func (k *Key) Extractable() bool { return k.extractable }

// Fingerprint identifies the key without revealing it.
func (k *Key) Fingerprint() string {
	return EncodeBase64(MakeVerifier(k.material))[:12]
}

// Wipe overwrites the key material. The handle is unusable afterwards.
func (k *Key) Wipe() {
	if k == nil {
		return
	}
	common.WipeByteArray(k.material)
	k.material = nil
}

// ExportKey returns a copy of the raw key bytes.
func ExportKey(k *Key) ([]byte, error) {
	if k == nil || len(k.material) != KeySize {
		return nil, common.ErrInvalidKey
	}
	if !k.extractable {
		return nil, common.ErrKeyNotExtractable
	}
	out := make([]byte, len(k.material))
	copy(out, k.material)
	return out, nil
}

// ImportKey wraps raw bytes in a Key. The input slice is copied.
func ImportKey(raw []byte, extractable bool) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", common.ErrInvalidKey, KeySize, len(raw))
	}
	material := make([]byte, KeySize)
	copy(material, raw)
	return &Key{material: material, extractable: extractable}, nil
}
