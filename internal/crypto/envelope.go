package crypto

import (
	"bytes"
	"encoding/json"
)

// Value is the result of classifying a stored value. It is one of *Envelope,
// LegacyPlain or Malformed.
type Value interface {
	isValue()
}

// LegacyPlain is valid JSON that is not an envelope (including the literal
// null returned for keys that were never written).
type LegacyPlain struct {
	Raw json.RawMessage
}

// IsNull reports whether the value is the JSON literal null.
func (l LegacyPlain) IsNull() bool {
	return bytes.Equal(bytes.TrimSpace(l.Raw), []byte("null"))
}

// Malformed is a value that is not JSON at all.
type Malformed struct {
	Raw []byte
	Err error
}

func (*Envelope) isValue()   {}
func (LegacyPlain) isValue() {}
func (Malformed) isValue()   {}

// Parse classifies raw without doing any cryptographic work.
func Parse(raw []byte) Value {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return Malformed{Raw: raw, Err: ErrEnvelopeFormat}
	}
	if env, ok := asEnvelope(trimmed); ok {
		return env
	}
	return LegacyPlain{Raw: json.RawMessage(trimmed)}
}

// IsEnvelope reports whether raw is a JSON object carrying the envelope
// format tag and non-empty salt, nonce and ciphertext fields.
func IsEnvelope(raw []byte) bool {
	_, ok := asEnvelope(bytes.TrimSpace(raw))
	return ok
}

func asEnvelope(raw []byte) (*Envelope, bool) {
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Format != Format || env.Salt == "" || env.Nonce == "" || env.Ciphertext == "" {
		return nil, false
	}
	return &env, true
}
