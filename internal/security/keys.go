package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("invalid key")

// Signing algorithms understood by the key set.
const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"
	AlgES256 = "ES256"
)

// Key is one signing or verification key identified by kid.
// HMAC keys carry Secret; asymmetric keys carry Public and, for the active key, Private.
type Key struct {
	ID      string
	Alg     string
	Secret  []byte
	Public  crypto.PublicKey
	Private crypto.Signer
	// NotAfter ends the verification window of a retired key. Zero means no deadline.
	NotAfter time.Time
}

// Symmetric reports whether k is a shared-secret key. Symmetric keys are never published.
func (k *Key) Symmetric() bool { return k.Alg == AlgHS256 }

// NewHMACKey returns an HS256 key.
func NewHMACKey(kid string, secret []byte) (*Key, error) {
	if kid == "" || len(secret) == 0 {
		return nil, ErrInvalidKey
	}
	return &Key{ID: kid, Alg: AlgHS256, Secret: secret}, nil
}

// NewAsymmetricKey parses a signing key pair. privatePEM and publicPEM may be inline PEM or file paths.
func NewAsymmetricKey(kid, privatePEM, publicPEM string) (*Key, error) {
	if kid == "" {
		return nil, ErrInvalidKey
	}
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("private key %s: %w", kid, err)
	}
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", kid, err)
	}
	alg := KeyAlg(pub)
	if alg == "" || KeyAlg(priv.Public()) != alg {
		return nil, fmt.Errorf("key %s: %w", kid, ErrInvalidKey)
	}
	return &Key{ID: kid, Alg: alg, Public: pub, Private: priv}, nil
}

// NewVerificationKey parses a verify-only public key, e.g. the one retired by the last rotation.
func NewVerificationKey(kid, publicPEM string, notAfter time.Time) (*Key, error) {
	if kid == "" {
		return nil, ErrInvalidKey
	}
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", kid, err)
	}
	alg := KeyAlg(pub)
	if alg == "" {
		return nil, ErrInvalidKey
	}
	return &Key{ID: kid, Alg: alg, Public: pub, NotAfter: notAfter}, nil
}

// LoadPEM returns the PEM bytes for s. Values starting with a BEGIN line are inline PEM, with
// literal "\n" sequences (single-line env values) turned into newlines; anything else is a file path.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, ErrInvalidKey
	case strings.HasPrefix(s, "-----BEGIN"):
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	default:
		return os.ReadFile(s)
	}
}

func decodeBlock(s string) (*pem.Block, error) {
	raw, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || len(block.Bytes) == 0 {
		return nil, ErrInvalidKey
	}
	return block, nil
}

// ParsePrivateKey accepts PKCS#1 RSA, SEC 1 EC and PKCS#8 private keys, inline or by path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	var key any
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("pem block %q: %w", block.Type, ErrInvalidKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidKey)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, ErrInvalidKey
	}
	return signer, nil
}

// ParsePublicKey accepts PKCS#1 RSA and PKIX public keys, inline or by path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodeBlock(s)
	if err != nil {
		return nil, err
	}
	var key crypto.PublicKey
	switch block.Type {
	case "PUBLIC KEY":
		key, err = x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		key, err = x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("pem block %q: %w", block.Type, ErrInvalidKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidKey)
	}
	return key, nil
}

// KeyAlg maps a public key to the JWS algorithm it signs with. Only RSA and P-256 are supported.
func KeyAlg(pub crypto.PublicKey) string {
	if _, ok := pub.(*rsa.PublicKey); ok {
		return AlgRS256
	}
	if ec, ok := pub.(*ecdsa.PublicKey); ok && ec.Curve == elliptic.P256() {
		return AlgES256
	}
	return ""
}
