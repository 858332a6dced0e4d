// Package routeid maps a Sync ID to the storage namespace used on the server.
//
// The route identifier is the SHA-256 digest of the secret's UTF-8 bytes,
// encoded as unpadded base64url:
//
//	base64url(SHA-256(secret)) → 43 characters, [A-Za-z0-9_-]
//
// It is safe to send to the server and to log: recovering the secret from it
// requires inverting SHA-256.
package routeid

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// Length is the length of every route identifier.
const Length = 43

// ErrEmptySecret is returned when deriving a route from an empty Sync ID.
var ErrEmptySecret = errors.New("routeid: empty secret")

// Derive returns the route identifier for secret.
func Derive(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// Valid reports whether id has the shape of a derived route identifier.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Short returns the first eight characters of id for log lines.
func Short(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
