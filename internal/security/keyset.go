package security

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownKey is returned when a token names a kid the key set does not hold.
	ErrUnknownKey = errors.New("unknown key id")
	// ErrKeyRetired is returned when a kid is past its grace deadline.
	ErrKeyRetired = errors.New("key retired")
)

// KeySet holds one active signing key plus retired verification keys that stay valid
// until their NotAfter deadline. Safe for concurrent use.
type KeySet struct {
	mu     sync.RWMutex
	active *Key
	keys   map[string]*Key
	now    func() time.Time
}

// NewKeySet returns a key set whose active signing key is active.
// Asymmetric active keys must carry a private key.
func NewKeySet(active *Key) (*KeySet, error) {
	if err := checkSigningKey(active); err != nil {
		return nil, err
	}
	return &KeySet{
		active: active,
		keys:   map[string]*Key{active.ID: active},
		now:    time.Now,
	}, nil
}

func checkSigningKey(k *Key) error {
	if k == nil || k.ID == "" {
		return ErrInvalidKey
	}
	if k.Symmetric() {
		if len(k.Secret) == 0 {
			return ErrInvalidKey
		}
		return nil
	}
	if k.Private == nil || k.Public == nil {
		return ErrInvalidKey
	}
	return nil
}

// SetClock overrides the time source. For tests.
func (s *KeySet) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddVerificationKey registers a retired key (e.g. loaded from config after a restart).
// It never becomes the signing key.
func (s *KeySet) AddVerificationKey(k *Key) error {
	if k == nil || k.ID == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == s.active.ID {
		return ErrInvalidKey
	}
	s.keys[k.ID] = k
	return nil
}

// Rotate makes next the signing key. The previous active key keeps verifying tokens for grace.
func (s *KeySet) Rotate(next *Key, grace time.Duration) error {
	if err := checkSigningKey(next); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[next.ID]; exists {
		return ErrInvalidKey
	}
	prev := *s.active
	prev.Private = nil
	prev.NotAfter = s.now().Add(grace)
	s.keys[prev.ID] = &prev
	s.keys[next.ID] = next
	s.active = next
	s.pruneLocked()
	return nil
}

// Active returns the current signing key.
func (s *KeySet) Active() *Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Lookup returns the verification key for kid. Selection is by kid only.
func (s *KeySet) Lookup(kid string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	if !k.NotAfter.IsZero() && !s.now().Before(k.NotAfter) {
		return nil, ErrKeyRetired
	}
	return k, nil
}

// Prune drops retired keys past their deadline.
func (s *KeySet) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
}

func (s *KeySet) pruneLocked() {
	now := s.now()
	for kid, k := range s.keys {
		if kid != s.active.ID && !k.NotAfter.IsZero() && !now.Before(k.NotAfter) {
			delete(s.keys, kid)
		}
	}
}

// JWK is one RFC 7517 public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is an RFC 7517 key set document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the published public keys: the active key and retired keys still in grace.
// Shared-secret keys are never published. Keys are ordered by kid.
func (s *KeySet) JWKS() JWKS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := JWKS{Keys: []JWK{}}
	for _, k := range s.keys {
		if k.Symmetric() {
			continue
		}
		if !k.NotAfter.IsZero() && !now.Before(k.NotAfter) {
			continue
		}
		if jwk, ok := toJWK(k); ok {
			out.Keys = append(out.Keys, jwk)
		}
	}
	sort.Slice(out.Keys, func(i, j int) bool { return out.Keys[i].Kid < out.Keys[j].Kid })
	return out
}

func toJWK(k *Key) (JWK, bool) {
	switch pub := k.Public.(type) {
	case *rsa.PublicKey:
		return JWK{
			Kty: "RSA",
			Use: "sig",
			Alg: k.Alg,
			Kid: k.ID,
			N:   b64(pub.N.Bytes()),
			E:   b64(big.NewInt(int64(pub.E)).Bytes()),
		}, true
	case *ecdsa.PublicKey:
		size := (pub.Curve.Params().BitSize + 7) / 8
		return JWK{
			Kty: "EC",
			Use: "sig",
			Alg: k.Alg,
			Kid: k.ID,
			Crv: pub.Curve.Params().Name,
			X:   b64(pub.X.FillBytes(make([]byte, size))),
			Y:   b64(pub.Y.FillBytes(make([]byte, size))),
		}, true
	default:
		return JWK{}, false
	}
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
