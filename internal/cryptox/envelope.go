package cryptox

import (
	"fmt"

	"github.com/dmitrijs2005/gophnotes/internal/common"
)

// Envelope is the storage form of any encrypted payload: IV‖ciphertext‖tag.
type Envelope struct {
	Raw []byte
}

// Base64 renders the envelope for JSON and database columns.
func (e Envelope) Base64() string {
	return EncodeBase64(e.Raw)
}

// IV returns the nonce prefix, or nil for a malformed envelope.
func (e Envelope) IV() []byte {
	if len(e.Raw) < IVSize {
		return nil
	}
	return e.Raw[:IVSize]
}

// ParseEnvelope decodes the base64 form produced by Envelope.Base64.
func ParseEnvelope(s string) (Envelope, error) {
	raw, err := DecodeBase64(s)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: bad base64: %v", common.ErrDecryption, err)
	}
	if len(raw) < IVSize+TagSize {
		return Envelope{}, fmt.Errorf("%w: envelope too short", common.ErrDecryption)
	}
	return Envelope{Raw: raw}, nil
}
