package crypto_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/thriveai/ami/common/crypto"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	key, err := crypto.ParseKey(testKey)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	s, err := crypto.NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSealOpen(t *testing.T) {
	s := newSealer(t)
	const text = "Hôm nay tôi cảm thấy không ổn"

	sealed, err := s.Seal(text, "msg-1")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(sealed, "không") || !crypto.IsSealed(sealed) {
		t.Fatalf("unexpected sealed form %q", sealed)
	}
	again, _ := s.Seal(text, "msg-1")
	if again == sealed {
		t.Fatal("nonces must differ between seals")
	}

	got, err := s.Open(sealed, "msg-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != text {
		t.Fatalf("got %q, want %q", got, text)
	}
}

func TestOpenRejects(t *testing.T) {
	s := newSealer(t)
	sealed, _ := s.Seal("bí mật", "msg-1")

	tests := []struct {
		name    string
		value   string
		context string
		want    error
	}{
		{"plaintext", "bí mật", "msg-1", crypto.ErrNotSealed},
		{"wrong context", sealed, "msg-2", crypto.ErrTampered},
		{"truncated", sealed[:8], "msg-1", crypto.ErrNotSealed},
		{"bad base64", "v1:***", "msg-1", crypto.ErrNotSealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Open(tt.value, tt.context); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseKey(t *testing.T) {
	for _, bad := range []string{"", "zz", "0011", strings.Repeat("ab", 31)} {
		if _, err := crypto.ParseKey(bad); !errors.Is(err, crypto.ErrInvalidKey) {
			t.Errorf("ParseKey(%q): expected ErrInvalidKey, got %v", bad, err)
		}
	}
	if _, err := crypto.NewSealer([]byte("short")); !errors.Is(err, crypto.ErrInvalidKey) {
		t.Errorf("NewSealer: expected ErrInvalidKey, got %v", err)
	}
}
