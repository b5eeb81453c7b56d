package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	ErrNoKey            = errors.New("vault key not configured")
	ErrVersionNotLoaded = errors.New("vault key version not loaded")
)

// maxVersions bounds how many rotated keys are probed at startup.
const maxVersions = 10

// Keyring holds every loaded key version and seals with the newest.
type Keyring struct {
	mu      sync.RWMutex
	current int
	sealers map[int]*Sealer
}

// NewKeyring builds a keyring from explicit base64 keys, version = index+1.
func NewKeyring(keys ...string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, ErrNoKey
	}
	kr := &Keyring{sealers: make(map[int]*Sealer)}
	for i, k := range keys {
		if err := kr.add(i+1, k); err != nil {
			return nil, err
		}
	}
	return kr, nil
}

// KeyringFromEnv loads <prefix> as version 1 and <prefix>_V2.. as rotations.
func KeyringFromEnv(prefix string) (*Keyring, error) {
	primary := os.Getenv(prefix)
	if primary == "" {
		return nil, fmt.Errorf("%s: %w", prefix, ErrNoKey)
	}
	kr := &Keyring{sealers: make(map[int]*Sealer)}
	if err := kr.add(1, primary); err != nil {
		return nil, err
	}
	for v := 2; v <= maxVersions; v++ {
		if k := os.Getenv(fmt.Sprintf("%s_V%d", prefix, v)); k != "" {
			if err := kr.add(v, k); err != nil {
				return nil, err
			}
		}
	}
	return kr, nil
}

func (kr *Keyring) add(version int, keyBase64 string) error {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return fmt.Errorf("decode key v%d: %w", version, err)
	}
	s, err := NewSealer(key, version)
	if err != nil {
		return fmt.Errorf("key v%d: %w", version, err)
	}
	kr.sealers[version] = s
	if version > kr.current {
		kr.current = version
	}
	return nil
}

// Seal encrypts with the newest key.
func (kr *Keyring) Seal(plaintext, associated string) (string, error) {
	kr.mu.RLock()
	s := kr.sealers[kr.current]
	kr.mu.RUnlock()
	if s == nil {
		return "", ErrNoKey
	}
	return s.Seal(plaintext, associated)
}

// Open picks the key version recorded in the envelope.
func (kr *Keyring) Open(envelope, associated string) (string, error) {
	v := EnvelopeVersion(envelope)
	if v == 0 {
		return "", ErrInvalidEnvelope
	}
	kr.mu.RLock()
	s, ok := kr.sealers[v]
	kr.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("v%d: %w", v, ErrVersionNotLoaded)
	}
	return s.Open(envelope, associated)
}

// Reseal moves an envelope onto the newest key.
func (kr *Keyring) Reseal(envelope, associated string) (string, error) {
	plain, err := kr.Open(envelope, associated)
	if err != nil {
		return "", fmt.Errorf("open for reseal: %w", err)
	}
	return kr.Seal(plain, associated)
}

// CurrentVersion reports the version new envelopes are written with.
func (kr *Keyring) CurrentVersion() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return kr.current
}

// GenerateKey returns a random base64 AES-256 key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
