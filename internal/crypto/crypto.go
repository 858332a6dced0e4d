// Package crypto seals month payloads into self-describing envelopes.
//
// A 32-byte NaCl secretbox key is derived from the Sync ID with argon2id and a
// random per-envelope salt. Every envelope also carries a random 24-byte nonce:
//
//	{
//	  "format":     "ledgersync.envelope.v1",
//	  "kdf":        {"name": "argon2id", "time": 3, "memory": 65536, "threads": 4},
//	  "salt":       base64(16 bytes),
//	  "nonce":      base64(24 bytes),
//	  "ciphertext": base64(tag || sealed JSON)
//	}
//
// Decryption needs only the Sync ID and the envelope. A failed authentication
// check is reported as ErrDecryption whatever the cause (wrong secret,
// flipped bits, swapped salt), so callers cannot be used as an oracle.
package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Format is the envelope format tag written by this package.
const Format = "ledgersync.envelope.v1"

const (
	keySize   = 32
	nonceSize = 24
	saltSize  = 16

	kdfName = "argon2id"
)

var (
	// ErrEmptySecret is returned when encrypting or decrypting without a Sync ID.
	ErrEmptySecret = errors.New("crypto: empty secret")

	// ErrEnvelopeFormat indicates a value that is not a well-formed envelope.
	ErrEnvelopeFormat = errors.New("crypto: not a recognised envelope")

	// ErrDecryption indicates the envelope did not authenticate under the secret.
	ErrDecryption = errors.New("crypto: decryption failed")

	// ErrMalformedPayload indicates the envelope opened but did not contain JSON.
	ErrMalformedPayload = errors.New("crypto: decrypted payload is not valid JSON")
)

// Params are the argon2id cost parameters. Memory is in KiB.
type Params struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

// DefaultParams follows the argon2id recommendation for interactive logins.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

// Limits accepted when reading parameters back out of an envelope.
const (
	maxTime    = 10
	minMemory  = 8
	maxMemory  = 256 * 1024
	maxThreads = 16
)

func (p Params) validate() error {
	if p.Time < 1 || p.Time > maxTime {
		return fmt.Errorf("%w: kdf time %d out of range", ErrEnvelopeFormat, p.Time)
	}
	if p.Threads < 1 || p.Threads > maxThreads {
		return fmt.Errorf("%w: kdf threads %d out of range", ErrEnvelopeFormat, p.Threads)
	}
	if p.Memory < minMemory*uint32(p.Threads) || p.Memory > maxMemory {
		return fmt.Errorf("%w: kdf memory %d KiB out of range", ErrEnvelopeFormat, p.Memory)
	}
	return nil
}

// KDF names the key-derivation function and its parameters.
type KDF struct {
	Name string `json:"name"`
	Params
}

// Envelope is the encrypted form of one month payload.
type Envelope struct {
	Format     string `json:"format"`
	KDF        KDF    `json:"kdf"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Codec encrypts with a fixed set of KDF parameters. The zero value uses
// DefaultParams.
type Codec struct {
	Params Params
	// Rand is the entropy source; nil means crypto/rand.
	Rand io.Reader
}

func (c Codec) params() Params {
	if c.Params == (Params{}) {
		return DefaultParams
	}
	return c.Params
}

func (c Codec) rand() io.Reader {
	if c.Rand == nil {
		return rand.Reader
	}
	return c.Rand
}

// Encrypt serialises payload to JSON and seals it under secret with a fresh
// salt and nonce. A json.RawMessage or []byte payload is used as-is but must
// hold valid JSON.
func (c Codec) Encrypt(payload any, secret string) (*Envelope, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	plain, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	p := c.params()
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("codec params: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(c.rand(), salt); err != nil {
		return nil, fmt.Errorf("salt generation: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(c.rand(), nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}

	key := deriveKey(secret, salt, p)
	ct := secretbox.Seal(nil, plain, &nonce, key)

	return &Envelope{
		Format:     Format,
		KDF:        KDF{Name: kdfName, Params: p},
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce[:]),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Decrypt opens env with secret and returns the payload JSON.
func (c Codec) Decrypt(env *Envelope, secret string) (json.RawMessage, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrEnvelopeFormat)
	}
	if env.Format != Format || env.KDF.Name != kdfName {
		return nil, fmt.Errorf("%w: format %q kdf %q", ErrEnvelopeFormat, env.Format, env.KDF.Name)
	}
	if err := env.KDF.Params.validate(); err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("%w: bad salt", ErrEnvelopeFormat)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonceBytes) != nonceSize {
		return nil, fmt.Errorf("%w: bad nonce", ErrEnvelopeFormat)
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil || len(ct) < secretbox.Overhead {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrEnvelopeFormat)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], nonceBytes)
	key := deriveKey(secret, salt, env.KDF.Params)

	plain, ok := secretbox.Open(nil, ct, &nonce, key)
	if !ok {
		return nil, ErrDecryption
	}
	if !json.Valid(plain) {
		return nil, ErrMalformedPayload
	}
	return json.RawMessage(plain), nil
}

// DecryptInto opens env and unmarshals the payload into v.
func (c Codec) DecryptInto(env *Envelope, secret string, v any) error {
	raw, err := c.Decrypt(env, secret)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Encrypt seals payload with DefaultParams.
func Encrypt(payload any, secret string) (*Envelope, error) {
	return Codec{}.Encrypt(payload, secret)
}

// Decrypt opens env. The KDF parameters are read from the envelope.
func Decrypt(env *Envelope, secret string) (json.RawMessage, error) {
	return Codec{}.Decrypt(env, secret)
}

// deriveKey stretches secret into a secretbox key.
func deriveKey(secret string, salt []byte, p Params) *[keySize]byte {
	k := argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, keySize)
	var key [keySize]byte
	copy(key[:], k)
	return &key
}

func marshalPayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return validJSON(v)
	case []byte:
		return validJSON(v)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return b, nil
	}
}

func validJSON(b []byte) ([]byte, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || !json.Valid(b) {
		return nil, fmt.Errorf("encode payload: not valid JSON")
	}
	return b, nil
}
