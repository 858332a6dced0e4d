package routeid

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestDerive_Deterministic(t *testing.T) {
	a, err := Derive("abc")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := Derive("abc")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if a != b {
		t.Errorf("same secret gave %q and %q", a, b)
	}
}

func TestDerive_KnownValue(t *testing.T) {
	sum := sha256.Sum256([]byte("abc"))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	got, err := Derive("abc")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	// SHA-256("abc") = ba7816bf...; base64url starts with "ungWv48B".
	if !strings.HasPrefix(got, "ungWv48B") {
		t.Errorf("unexpected encoding %q", got)
	}
}

func TestDerive_DistinctSecrets(t *testing.T) {
	seen := make(map[string]string)
	for _, s := range []string{"abc", "abd", "ABC", "abc ", "hotel-2025", "çaixa"} {
		id, err := Derive(s)
		if err != nil {
			t.Fatalf("derive %q: %v", s, err)
		}
		if prev, ok := seen[id]; ok {
			t.Fatalf("%q and %q collide on %q", prev, s, id)
		}
		seen[id] = s
	}
}

func TestDerive_Shape(t *testing.T) {
	id, err := Derive("some long secret with spaces / and + signs")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(id) != Length {
		t.Errorf("len = %d, want %d", len(id), Length)
	}
	if strings.ContainsAny(id, "+/=") {
		t.Errorf("id %q is not URL safe", id)
	}
	if !Valid(id) {
		t.Errorf("Valid(%q) = false", id)
	}
}

func TestDerive_EmptySecret(t *testing.T) {
	_, err := Derive("")
	if !errors.Is(err, ErrEmptySecret) {
		t.Errorf("err = %v, want ErrEmptySecret", err)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"too short", "abc", false},
		{"padding", strings.Repeat("a", 42) + "=", false},
		{"slash", strings.Repeat("a", 42) + "/", false},
		{"plus", strings.Repeat("a", 42) + "+", false},
		{"ok", strings.Repeat("a", 41) + "-_", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.id); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
