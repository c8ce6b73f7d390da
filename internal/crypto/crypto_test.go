package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveKEK_Deterministic(t *testing.T) {
	salt := SaltForUsername("alice")
	k1 := DeriveKEK([]byte("p1"), salt)
	k2 := DeriveKEK([]byte("p1"), salt)
	if !bytes.Equal(k1, k2) {
		t.Fatal("expected identical KEKs for same password and salt")
	}
	if len(k1) != KeySize {
		t.Fatalf("expected %d-byte KEK, got %d", KeySize, len(k1))
	}
}

func TestDeriveKEK_SaltSeparatesIdentities(t *testing.T) {
	k1 := DeriveKEK([]byte("shared"), SaltForUsername("alice"))
	k2 := DeriveKEK([]byte("shared"), SaltForUsername("bob"))
	if bytes.Equal(k1, k2) {
		t.Fatal("same password must derive different KEKs for different identities")
	}
}

func TestEncryptSymmetric_RoundTrip(t *testing.T) {
	key, err := NewDataKey()
	if err != nil {
		t.Fatalf("NewDataKey: %v", err)
	}
	plain := []byte("secret")

	blob, err := EncryptSymmetric(plain, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := DecryptSymmetric(blob, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("expected %q, got %q", plain, got)
	}
}

func TestEncryptSymmetric_FreshNonce(t *testing.T) {
	key, _ := NewDataKey()
	b1, err := EncryptSymmetric([]byte("m"), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b2, err := EncryptSymmetric([]byte("m"), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(b1, b2) {
		t.Fatal("two encryptions of the same plaintext must not share a nonce")
	}
}

func TestDecryptSymmetric_WrongKey(t *testing.T) {
	k1, _ := NewDataKey()
	k2, _ := NewDataKey()
	blob, err := EncryptSymmetric([]byte("secret"), k1)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptSymmetric(blob, k2); !errors.Is(err, ErrPrimitiveFailure) {
		t.Fatalf("expected ErrPrimitiveFailure, got %v", err)
	}
}

func TestDecryptSymmetric_Tampered(t *testing.T) {
	key, _ := NewDataKey()
	blob, err := EncryptSymmetric([]byte("secret"), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	blob[len(blob)-1] ^= 0xff
	if _, err := DecryptSymmetric(blob, key); !errors.Is(err, ErrPrimitiveFailure) {
		t.Fatalf("expected ErrPrimitiveFailure, got %v", err)
	}
}

func TestDecryptSymmetric_TooShort(t *testing.T) {
	key, _ := NewDataKey()
	if _, err := DecryptSymmetric([]byte{1, 2, 3}, key); !errors.Is(err, ErrPrimitiveFailure) {
		t.Fatalf("expected ErrPrimitiveFailure, got %v", err)
	}
}

func TestWrapKey_RoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	key, _ := NewDataKey()

	wrapped, err := WrapKey(key, &priv.PublicKey)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	got, err := UnwrapKey(wrapped, priv)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatal("unwrapped key does not match original")
	}
}

func TestUnwrapKey_WrongPrivateKey(t *testing.T) {
	priv1, _ := GenerateKeyPair()
	priv2, _ := GenerateKeyPair()
	key, _ := NewDataKey()

	wrapped, err := WrapKey(key, &priv1.PublicKey)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := UnwrapKey(wrapped, priv2); !errors.Is(err, ErrPrimitiveFailure) {
		t.Fatalf("expected ErrPrimitiveFailure, got %v", err)
	}
}

func TestWrapKey_RejectsOversizedKey(t *testing.T) {
	priv, _ := GenerateKeyPair()
	if _, err := WrapKey(make([]byte, 64), &priv.PublicKey); !errors.Is(err, ErrPrimitiveFailure) {
		t.Fatalf("expected ErrPrimitiveFailure, got %v", err)
	}
}

func TestPublicKey_MarshalRoundTrip(t *testing.T) {
	priv, _ := GenerateKeyPair()
	pemBytes, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pub, err := ParsePublicKey(pemBytes)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 {
		t.Fatal("parsed public key does not match original")
	}
}

func TestParsePublicKey_Garbage(t *testing.T) {
	if _, err := ParsePublicKey([]byte("not pem")); !errors.Is(err, ErrPrimitiveFailure) {
		t.Fatalf("expected ErrPrimitiveFailure, got %v", err)
	}
}

func TestEncryptPrivateKey_RoundTrip(t *testing.T) {
	priv, _ := GenerateKeyPair()
	kek := DeriveKEK([]byte("p1"), SaltForUsername("alice"))

	blob, err := EncryptPrivateKey(priv, kek)
	if err != nil {
		t.Fatalf("encrypt private key: %v", err)
	}
	got, err := DecryptPrivateKey(blob, kek)
	if err != nil {
		t.Fatalf("decrypt private key: %v", err)
	}
	if got.D.Cmp(priv.D) != 0 {
		t.Fatal("recovered private key does not match original")
	}
}

func TestDecryptPrivateKey_WrongKEK(t *testing.T) {
	priv, _ := GenerateKeyPair()
	kek := DeriveKEK([]byte("p1"), SaltForUsername("alice"))
	wrong := DeriveKEK([]byte("p2"), SaltForUsername("alice"))

	blob, err := EncryptPrivateKey(priv, kek)
	if err != nil {
		t.Fatalf("encrypt private key: %v", err)
	}
	if _, err := DecryptPrivateKey(blob, wrong); !errors.Is(err, ErrPrimitiveFailure) {
		t.Fatalf("expected ErrPrimitiveFailure, got %v", err)
	}
}
