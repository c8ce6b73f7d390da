// Package crypto wraps the three primitives the key-management
// protocol is built on: RSA-OAEP key wrapping, AES-256-GCM payload
// encryption, and PBKDF2 key derivation. All functions are stateless
// and fail closed: malformed input, a wrong key, or a tampered
// authentication tag produce ErrPrimitiveFailure, never partial
// plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrPrimitiveFailure is returned for every cryptographic failure:
// malformed key material, undecryptable ciphertext, or an
// authentication-tag mismatch.
var ErrPrimitiveFailure = errors.New("cryptographic primitive failure")

const (
	// KeySize is the byte length of all symmetric keys (AES-256).
	KeySize = 32
	// kekIterations is the PBKDF2 work factor.
	kekIterations = 100_000
	// rsaBits sizes the wrap pair for long-term use.
	rsaBits = 2048
	// saltContext domain-separates KEK salts from any other use of
	// the username.
	saltContext = "piivault/kek/v1|"
)

// GenerateKeyPair creates a new RSA-2048 wrap pair. The private key
// must only be exported where the caller immediately re-encrypts it
// under a KEK.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate key pair: %v", ErrPrimitiveFailure, err)
	}
	return priv, nil
}

// MarshalPublicKey PEM-encodes the public half of a wrap pair.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %v", ErrPrimitiveFailure, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKey decodes a PEM-encoded RSA public key.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: no public key PEM block", ErrPrimitiveFailure)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrPrimitiveFailure, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrPrimitiveFailure)
	}
	return rsaPub, nil
}

// marshalPrivateKey PEM-encodes a private key for KEK encryption.
func marshalPrivateKey(priv *rsa.PrivateKey) []byte {
	der := x509.MarshalPKCS1PrivateKey(priv)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

// parsePrivateKey decodes a PEM-encoded RSA private key.
func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("%w: no private key PEM block", ErrPrimitiveFailure)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrPrimitiveFailure, err)
	}
	return priv, nil
}

// SaltForUsername derives the identity-specific KEK salt. Two
// identities with the same password get different KEKs.
func SaltForUsername(username string) []byte {
	sum := sha256.Sum256([]byte(saltContext + username))
	return sum[:]
}

// DeriveKEK computes the key-encryption key from a password and an
// identity-specific salt. Deterministic: the same password and salt
// yield the same KEK on any device.
func DeriveKEK(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, kekIterations, KeySize, sha256.New)
}

// NewDataKey generates the shared symmetric data key.
func NewDataKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: generate data key: %v", ErrPrimitiveFailure, err)
	}
	return key, nil
}

// newAEAD builds an AES-256-GCM cipher over key.
func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", ErrPrimitiveFailure, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: create AEAD: %v", ErrPrimitiveFailure, err)
	}
	return aead, nil
}

// EncryptSymmetric seals plaintext under key with a fresh random
// nonce. The result is nonce || ciphertext.
func EncryptSymmetric(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", ErrPrimitiveFailure, err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSymmetric opens a nonce-prefixed blob sealed by
// EncryptSymmetric. A wrong key or tampered tag fails closed.
func DecryptSymmetric(blob, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrPrimitiveFailure)
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", ErrPrimitiveFailure, err)
	}
	return plain, nil
}

// WrapKey encrypts a symmetric key under a public wrap key. Scoped to
// short symmetric keys only; OAEP bounds the plaintext size.
func WrapKey(key []byte, pub *rsa.PublicKey) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: wrap: key must be %d bytes", ErrPrimitiveFailure, KeySize)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap key: %v", ErrPrimitiveFailure, err)
	}
	return ct, nil
}

// UnwrapKey recovers a symmetric key wrapped by WrapKey.
func UnwrapKey(blob []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: %v", ErrPrimitiveFailure, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: unwrap: unexpected key length", ErrPrimitiveFailure)
	}
	return key, nil
}

// EncryptPrivateKey seals a private wrap key under a KEK for at-rest
// storage.
func EncryptPrivateKey(priv *rsa.PrivateKey, kek []byte) ([]byte, error) {
	return EncryptSymmetric(marshalPrivateKey(priv), kek)
}

// DecryptPrivateKey recovers a private wrap key sealed by
// EncryptPrivateKey. Fails closed when the KEK does not match the one
// the blob was sealed under.
func DecryptPrivateKey(blob, kek []byte) (*rsa.PrivateKey, error) {
	pemBytes, err := DecryptSymmetric(blob, kek)
	if err != nil {
		return nil, err
	}
	return parsePrivateKey(pemBytes)
}
