package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"time"
)

// Test issuer and audience used by NewTestTokenProvider.
const (
	TestIssuer   = "test-issuer"
	TestAudience = "test-audience"
)

var (
	testPairOnce sync.Once
	testPrivPEM  string
	testPubPEM   string
)

// testKeyPair returns a 2048-bit RSA pair generated once per process, PKCS#8 and PKIX encoded.
func testKeyPair() (privPEM, pubPEM string) {
	testPairOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic("security: generate test key: " + err.Error())
		}
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			panic("security: encode test key: " + err.Error())
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			panic("security: encode test key: " + err.Error())
		}
		testPrivPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
		testPubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	})
	return testPrivPEM, testPubPEM
}

func testPrivateKeyPEM() string {
	priv, _ := testKeyPair()
	return priv
}

func testPublicKeyPEM() string {
	_, pub := testKeyPair()
	return pub
}

// NewTestKeySet returns a KeySet whose active key is an RS256 test pair with kid "test-1".
func NewTestKeySet() (*KeySet, error) {
	k, err := NewAsymmetricKey("test-1", testPrivateKeyPEM(), testPublicKeyPEM())
	if err != nil {
		return nil, err
	}
	return NewKeySet(k)
}

// NewTestTokenProvider returns an RS256 TokenProvider with 15m access and 24h refresh lifetimes.
// For unit tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	keys, err := NewTestKeySet()
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(keys, TestIssuer, TestAudience, 15*time.Minute, 24*time.Hour), nil
}

// NewTestHMACTokenProvider is NewTestTokenProvider in HS256 mode.
func NewTestHMACTokenProvider() (*TokenProvider, error) {
	k, err := NewHMACKey("hs-test", []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		return nil, err
	}
	keys, err := NewKeySet(k)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(keys, TestIssuer, TestAudience, 15*time.Minute, 24*time.Hour), nil
}
