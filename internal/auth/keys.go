// ABOUTME: Process-wide signing key material for session tokens
// ABOUTME: Loads or generates an RSA key pair, with an HMAC fallback mode

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// KeyID is the fixed key identifier published in JWKS and token headers.
// There is no rotation: one key serves the whole process lifetime.
const KeyID = "orag-session-1"

const rsaKeyBits = 2048

// KeyMaterial holds the signing key for session tokens. It is initialized
// once at process start and is read-only afterwards, so concurrent
// verification needs no locking.
type KeyMaterial struct {
	privateKey *rsa.PrivateKey
	secret     []byte
}

// NewRSAKeyMaterial loads a PEM-encoded RSA private key from path, or
// generates a fresh key pair when path is empty.
func NewRSAKeyMaterial(path string) (*KeyMaterial, error) {
	if path == "" {
		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("generating RSA key: %w", err)
		}
		return &KeyMaterial{privateKey: key}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading RSA key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in RSA key file")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS1 key: %w", err)
		}
		return &KeyMaterial{privateKey: key}, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("PKCS8 key is not RSA")
		}
		return &KeyMaterial{privateKey: key}, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// NewHMACKeyMaterial wraps a symmetric HS256 signing secret.
func NewHMACKeyMaterial(secret []byte) (*KeyMaterial, error) {
	if len(secret) == 0 {
		return nil, errors.New("hmac secret must not be empty")
	}
	return &KeyMaterial{secret: append([]byte(nil), secret...)}, nil
}

// Symmetric reports whether the material is an HMAC secret rather than an
// RSA key pair.
func (k *KeyMaterial) Symmetric() bool {
	return k.privateKey == nil
}

// SigningMethod returns the JWT signing method matching the key mode.
func (k *KeyMaterial) SigningMethod() jwt.SigningMethod {
	if k.Symmetric() {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodRS256
}

// SignKey returns the private signing key in the form golang-jwt expects.
func (k *KeyMaterial) SignKey() any {
	if k.Symmetric() {
		return k.secret
	}
	return k.privateKey
}

// VerifyKey returns the verification key in the form golang-jwt expects.
func (k *KeyMaterial) VerifyKey() any {
	if k.Symmetric() {
		return k.secret
	}
	return &k.privateKey.PublicKey
}

// PublicKey returns the RSA public key, or nil in symmetric mode. A nil
// result signals the discovery surface that no JWKS can be published.
func (k *KeyMaterial) PublicKey() *rsa.PublicKey {
	if k.Symmetric() {
		return nil
	}
	return &k.privateKey.PublicKey
}

// PublicKeyPEM returns the PEM-encoded public key, or false in symmetric mode.
func (k *KeyMaterial) PublicKeyPEM() (string, bool) {
	pub := k.PublicKey()
	if pub == nil {
		return "", false
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", false
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), true
}
