// Package tlsconf derives TLS credentials for the storage endpoint from a
// shared passphrase.
//
// The server's private key is derived from the passphrase with HKDF, so every
// client holding the passphrase can compute the server's public key and pin
// it. The certificate itself is throwaway: clients check the public key, not
// a chain.
//
// Same passphrase: public keys match and the handshake succeeds.
// Different passphrase: the client rejects the server immediately.
//
// Key derivation:
//
//	HKDF-SHA256(ikm=passphrase, salt="ledgersync-tls-v1", info="server-key")
//	→ 64 bytes → reduced mod curve order → ECDSA P-256 key
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"golang.org/x/crypto/hkdf"
	"google.golang.org/grpc/credentials"
)

// ServerName is the name in the generated certificate and the SNI clients send.
const ServerName = "ledgersync"

// ErrEmptyPassphrase is returned when no passphrase is configured.
var ErrEmptyPassphrase = errors.New("tlsconf: empty passphrase")

// ServerConfig returns the listener config for passphrase. NextProtos lets
// ALPN pick h2 for gRPC and http/1.1 for JSON clients on one port.
func ServerConfig(passphrase string) (*tls.Config, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, err
	}

	certPEM, err := selfSignedCert(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: cert: %w", err)
	}
	keyPEM, err := marshalKey(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal key: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a client config that accepts only the server whose
// key derives from passphrase.
func ClientConfig(passphrase string) (*tls.Config, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, err
	}
	expected, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal pubkey: %w", err)
	}

	return &tls.Config{
		// Chain verification is replaced by the public key check below.
		InsecureSkipVerify: true, //nolint:gosec
		ServerName:         ServerName,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("tlsconf: server presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("tlsconf: parse server cert: %w", err)
			}
			pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
			if err != nil {
				return fmt.Errorf("tlsconf: marshal server pubkey: %w", err)
			}
			if !bytes.Equal(pub, expected) {
				return errors.New("tlsconf: server public key does not match passphrase")
			}
			return nil
		},
	}, nil
}

// HTTPClient returns an HTTP client pinned to the passphrase's server key.
func HTTPClient(passphrase string) (*http.Client, error) {
	cfg, err := ClientConfig(passphrase)
	if err != nil {
		return nil, err
	}
	cfg.NextProtos = []string{"http/1.1"}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:     cfg,
			TLSHandshakeTimeout: 5 * time.Second,
			IdleConnTimeout:     90 * time.Second,
		},
	}, nil
}

// ClientCredentials returns gRPC transport credentials pinned to the
// passphrase's server key.
func ClientCredentials(passphrase string) (credentials.TransportCredentials, error) {
	cfg, err := ClientConfig(passphrase)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

// deriveKey derives a deterministic ECDSA P-256 private key from passphrase.
func deriveKey(passphrase string) (*ecdsa.PrivateKey, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	r := hkdf.New(sha256.New, []byte(passphrase), []byte("ledgersync-tls-v1"), []byte("server-key"))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("tlsconf: hkdf read: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(n, big.NewInt(1)))
	k.Add(k, big.NewInt(1)) // k ∈ [1, N-1]

	key := new(ecdsa.PrivateKey)
	key.PublicKey.Curve = curve
	key.D = k
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(k.Bytes())
	return key, nil
}

func selfSignedCert(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: ServerName},
		DNSNames:              []string{ServerName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

func marshalKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
