// Package devicecrypto implements the device-to-device encryption scheme:
// X25519 key agreement, HKDF-SHA256 key derivation, and ChaCha20-Poly1305
// authenticated encryption.
//
// HKDF parameters (must match the iOS/macOS clients):
//   - Hash: SHA-256
//   - Salt: the context string bytes (session id or canonical pair key)
//   - Info: "unbound-session-secret-v1"
//   - Output: 32 bytes
package devicecrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	apperrors "github.com/unbound/trust-relay-go/internal/errors"
)

const (
	// KeySize is the length of X25519 keys and derived symmetric keys.
	KeySize = 32

	// NonceSize is the ChaCha20-Poly1305 nonce length prefixed onto
	// every sealed payload.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the Poly1305 authentication tag length.
	TagSize = chacha20poly1305.Overhead

	// Algorithm is the key_algorithm identifier stored next to every
	// encrypted secret. The label is a wire-compatibility constant;
	// do not change it without a version bump across all clients.
	Algorithm = "X25519-XChaCha20-Poly1305"

	hkdfInfo = "unbound-session-secret-v1"
)

// KeyPair is a long-term or ephemeral X25519 key pair. The private half
// stays in the owning process; only PublicKey is ever transmitted.
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// GenerateKeyPair produces a fresh X25519 key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	priv := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, apperrors.Crypto("failed to read random bytes").WithCause(err)
	}

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, apperrors.Crypto("failed to derive public key").WithCause(err)
	}

	return &KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// PublicKeyFromPrivate derives the X25519 public key for a private key.
func PublicKeyFromPrivate(privateKey []byte) ([]byte, error) {
	if len(privateKey) != KeySize {
		return nil, apperrors.InvalidPublicKey("private key must be 32 bytes")
	}
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, apperrors.Crypto("failed to derive public key").WithCause(err)
	}
	return pub, nil
}

// ComputeSharedSecret performs the X25519 key agreement. The result is
// symmetric: swapping which side holds the private key yields the same
// secret.
func ComputeSharedSecret(myPrivateKey, theirPublicKey []byte) ([]byte, error) {
	if len(myPrivateKey) != KeySize {
		return nil, apperrors.InvalidPublicKey("private key must be 32 bytes")
	}
	if len(theirPublicKey) != KeySize {
		return nil, apperrors.InvalidPublicKey("public key must be 32 bytes")
	}

	// X25519 errors when the agreement lands on the all-zero output,
	// which is exactly the low-order point case.
	secret, err := curve25519.X25519(myPrivateKey, theirPublicKey)
	if err != nil {
		return nil, apperrors.InvalidPublicKey("low-order point")
	}

	var zero [KeySize]byte
	if subtle.ConstantTimeCompare(secret, zero[:]) == 1 {
		return nil, apperrors.InvalidPublicKey("low-order point")
	}

	return secret, nil
}

// DeriveSessionKey derives a session-scoped symmetric key from a
// long-term shared secret. Compromise of one session key exposes
// neither the shared secret nor other sessions.
func DeriveSessionKey(sharedSecret []byte, sessionID string) ([]byte, error) {
	if len(sharedSecret) == 0 {
		return nil, apperrors.Crypto("shared secret is empty")
	}
	if sessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}

	reader := hkdf.New(sha256.New, sharedSecret, []byte(sessionID), []byte(hkdfInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, apperrors.Crypto("key derivation failed").WithCause(err)
	}
	return key, nil
}

// EncryptForDevice seals plaintext so only the holder of the recipient's
// private key can open it. A fresh ephemeral key pair is generated per
// call; the ephemeral public key must travel with the ciphertext.
//
// Returns the ephemeral public key and base64(nonce || ciphertext || tag).
func EncryptForDevice(plaintext, recipientPublicKey []byte, context string) (ephemeralPublicKey []byte, sealed string, err error) {
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, "", err
	}

	secret, err := ComputeSharedSecret(ephemeral.PrivateKey, recipientPublicKey)
	if err != nil {
		return nil, "", err
	}

	key, err := DeriveSessionKey(secret, context)
	if err != nil {
		return nil, "", err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, "", apperrors.Crypto("failed to create cipher").WithCause(err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", apperrors.Crypto("failed to generate nonce").WithCause(err)
	}

	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)
	return ephemeral.PublicKey, base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptForDevice opens a payload produced by EncryptForDevice using
// this device's private key. Any failure is final: the caller must not
// retry with different keys.
func DecryptForDevice(ephemeralPublicKey []byte, sealed string, privateKey []byte, context string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, apperrors.Crypto("malformed ciphertext encoding").WithCause(err)
	}
	if len(raw) < NonceSize+TagSize {
		return nil, apperrors.Crypto("ciphertext too short")
	}

	secret, err := ComputeSharedSecret(privateKey, ephemeralPublicKey)
	if err != nil {
		return nil, err
	}

	key, err := DeriveSessionKey(secret, context)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, apperrors.Crypto("failed to create cipher").WithCause(err)
	}

	nonce, ciphertext := raw[:NonceSize], raw[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apperrors.Crypto("decryption failed: authentication tag mismatch")
	}

	return plaintext, nil
}
