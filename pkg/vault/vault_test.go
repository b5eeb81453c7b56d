package vault

import (
	"errors"
	"strings"
	"testing"
)

func testKey(fill byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = fill + byte(i)
	}
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey(1), 1)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	tests := []struct {
		name  string
		plain string
	}{
		{"empty", ""},
		{"api_key", "readonly_abc123XYZ"},
		{"long_secret", strings.Repeat("s3cr3t", 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := s.Seal(tt.plain, "user-1/binance")
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if !strings.HasPrefix(env, "PT[v1]:") {
				t.Fatalf("missing version prefix: %s", env)
			}
			got, err := s.Open(env, "user-1/binance")
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if got != tt.plain {
				t.Errorf("got %q want %q", got, tt.plain)
			}
		})
	}
}

func TestOpenRejectsWrongOwner(t *testing.T) {
	s, _ := NewSealer(testKey(2), 1)
	env, _ := s.Seal("key", "user-1/binance")
	if _, err := s.Open(env, "user-2/binance"); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}
}

func TestOpenMalformed(t *testing.T) {
	s, _ := NewSealer(testKey(3), 1)
	for _, bad := range []string{"", "plain", "PT[v1]", "PT[v1]:!!!", "PT[v1]:AAAA"} {
		if _, err := s.Open(bad, ""); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	if _, err := NewSealer([]byte("short"), 1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestKeyringRotation(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()

	old, err := NewKeyring(k1)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	env, _ := old.Seal("secret", "u")

	rotated, err := NewKeyring(k1, k2)
	if err != nil {
		t.Fatalf("NewKeyring rotated: %v", err)
	}
	if rotated.CurrentVersion() != 2 {
		t.Fatalf("current version = %d", rotated.CurrentVersion())
	}

	resealed, err := rotated.Reseal(env, "u")
	if err != nil {
		t.Fatalf("Reseal: %v", err)
	}
	if EnvelopeVersion(resealed) != 2 {
		t.Fatalf("resealed version = %d", EnvelopeVersion(resealed))
	}
	if _, err := old.Open(resealed, "u"); !errors.Is(err, ErrVersionNotLoaded) {
		t.Fatalf("old keyring should not open v2, got %v", err)
	}
}

func TestKeyringFromEnv(t *testing.T) {
	k1, _ := GenerateKey()
	k3, _ := GenerateKey()
	t.Setenv("TEST_VAULT_KEY", k1)
	t.Setenv("TEST_VAULT_KEY_V3", k3)

	kr, err := KeyringFromEnv("TEST_VAULT_KEY")
	if err != nil {
		t.Fatalf("KeyringFromEnv: %v", err)
	}
	if kr.CurrentVersion() != 3 {
		t.Fatalf("current version = %d", kr.CurrentVersion())
	}

	if _, err := KeyringFromEnv("TEST_VAULT_MISSING"); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}
