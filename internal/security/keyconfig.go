package security

import (
	"fmt"
	"strings"
	"time"
)

// KeyConfig describes the signing keys loaded at startup.
type KeyConfig struct {
	// Algorithm is HS256, RS256 or ES256.
	Algorithm string
	Secret    []byte
	SecretID  string
	// PrivateKey and PublicKey are inline PEM or file paths.
	PrivateKey string
	PublicKey  string
	KeyID      string
	// PreviousPublicKey is the key retired by the last rotation; it verifies until Now+Grace.
	PreviousPublicKey string
	PreviousKeyID     string
	Grace             time.Duration
	Now               time.Time
}

// LoadKeySet builds the key set described by c.
// For asymmetric algorithms the key pair must match Algorithm.
func LoadKeySet(c KeyConfig) (*KeySet, error) {
	alg := strings.ToUpper(strings.TrimSpace(c.Algorithm))
	var active *Key
	var err error
	switch alg {
	case AlgHS256:
		active, err = NewHMACKey(c.SecretID, c.Secret)
	case AlgRS256, AlgES256:
		active, err = NewAsymmetricKey(c.KeyID, c.PrivateKey, c.PublicKey)
		if err == nil && active.Alg != alg {
			err = fmt.Errorf("key %s is %s, want %s: %w", c.KeyID, active.Alg, alg, ErrInvalidKey)
		}
	default:
		err = fmt.Errorf("algorithm %q: %w", c.Algorithm, ErrInvalidKey)
	}
	if err != nil {
		return nil, err
	}
	set, err := NewKeySet(active)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.PreviousPublicKey) == "" {
		return set, nil
	}
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	prev, err := NewVerificationKey(c.PreviousKeyID, c.PreviousPublicKey, now.Add(c.Grace))
	if err != nil {
		return nil, err
	}
	if err := set.AddVerificationKey(prev); err != nil {
		return nil, fmt.Errorf("previous key %s: %w", c.PreviousKeyID, err)
	}
	return set, nil
}
