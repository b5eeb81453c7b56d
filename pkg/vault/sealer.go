// Package vault seals exchange credentials at rest with AES-256-GCM.
// Only credentials that already passed permission validation reach it.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM nonce length.
	NonceSize = 12

	envelopePrefix = "PT[v"
)

var (
	ErrInvalidKey      = errors.New("vault key must be 32 bytes")
	ErrInvalidEnvelope = errors.New("invalid sealed envelope")
	ErrOpenFailed      = errors.New("unable to open sealed value")
)

// Sealer encrypts values under a single key version.
type Sealer struct {
	aead    cipher.AEAD
	version int
}

// NewSealer builds a Sealer for a 32-byte key.
func NewSealer(key []byte, version int) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{aead: aead, version: version}, nil
}

// Seal encrypts plaintext. The associated data binds the envelope to its
// owner so a sealed secret copied onto another row fails to open.
// Output format: PT[vN]:base64(nonce|ciphertext|tag)
func (s *Sealer) Seal(plaintext, associated string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(associated))
	return fmt.Sprintf("%s%d]:%s", envelopePrefix, s.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(envelope, associated string) (string, error) {
	sep := strings.Index(envelope, "]:")
	if !strings.HasPrefix(envelope, envelopePrefix) || sep == -1 {
		return "", ErrInvalidEnvelope
	}
	data, err := base64.StdEncoding.DecodeString(envelope[sep+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidEnvelope
	}
	plain, err := s.aead.Open(nil, data[:NonceSize], data[NonceSize:], []byte(associated))
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// Version reports the key version this sealer writes.
func (s *Sealer) Version() int {
	return s.version
}

// EnvelopeVersion extracts N from PT[vN]:..., or 0 when malformed.
func EnvelopeVersion(envelope string) int {
	if !strings.HasPrefix(envelope, envelopePrefix) {
		return 0
	}
	var v int
	if _, err := fmt.Sscanf(envelope, envelopePrefix+"%d]:", &v); err != nil {
		return 0
	}
	return v
}
