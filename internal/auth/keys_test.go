// ABOUTME: Unit tests for signing key material loading and generation
// ABOUTME: Covers PEM loading, generation, and symmetric fallback

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRSAKeyMaterial_Generate(t *testing.T) {
	k, err := NewRSAKeyMaterial("")
	if err != nil {
		t.Fatalf("NewRSAKeyMaterial() error = %v", err)
	}
	if k.Symmetric() {
		t.Error("generated material should be asymmetric")
	}
	if k.PublicKey() == nil {
		t.Error("PublicKey() = nil")
	}
	if k.SigningMethod().Alg() != "RS256" {
		t.Errorf("alg = %q, want RS256", k.SigningMethod().Alg())
	}
}

func TestNewRSAKeyMaterial_LoadPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	k, err := NewRSAKeyMaterial(path)
	if err != nil {
		t.Fatalf("NewRSAKeyMaterial() error = %v", err)
	}
	if k.PublicKey().N.Cmp(key.N) != 0 {
		t.Error("loaded key modulus does not match")
	}
}

func TestNewRSAKeyMaterial_LoadPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	k, err := NewRSAKeyMaterial(path)
	if err != nil {
		t.Fatalf("NewRSAKeyMaterial() error = %v", err)
	}
	if k.PublicKey().N.Cmp(key.N) != 0 {
		t.Error("loaded key modulus does not match")
	}
}

func TestNewRSAKeyMaterial_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := NewRSAKeyMaterial("/nonexistent/key.pem"); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("not PEM", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key.pem")
		if err := os.WriteFile(path, []byte("not a pem"), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := NewRSAKeyMaterial(path); err == nil {
			t.Error("expected error for non-PEM content")
		}
	})
}

func TestNewHMACKeyMaterial(t *testing.T) {
	k, err := NewHMACKeyMaterial([]byte("secret"))
	if err != nil {
		t.Fatalf("NewHMACKeyMaterial() error = %v", err)
	}
	if !k.Symmetric() {
		t.Error("hmac material should be symmetric")
	}
	if k.SigningMethod().Alg() != "HS256" {
		t.Errorf("alg = %q, want HS256", k.SigningMethod().Alg())
	}
	if k.PublicKey() != nil {
		t.Error("PublicKey() should be nil in symmetric mode")
	}

	if _, err := NewHMACKeyMaterial(nil); err == nil {
		t.Error("expected error for empty secret")
	}
}
