package devicecrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/unbound/trust-relay-go/internal/errors"
)

func TestGenerateKeyPair(t *testing.T) {
	t.Run("keys have correct length", func(t *testing.T) {
		kp, err := GenerateKeyPair()
		require.NoError(t, err)
		assert.Len(t, kp.PrivateKey, KeySize)
		assert.Len(t, kp.PublicKey, KeySize)
	})

	t.Run("key pairs are unique", func(t *testing.T) {
		a, err := GenerateKeyPair()
		require.NoError(t, err)
		b, err := GenerateKeyPair()
		require.NoError(t, err)
		assert.NotEqual(t, a.PrivateKey, b.PrivateKey)
		assert.NotEqual(t, a.PublicKey, b.PublicKey)
	})
}

func TestPublicKeyFromPrivate(t *testing.T) {
	t.Run("matches generated public key", func(t *testing.T) {
		kp, err := GenerateKeyPair()
		require.NoError(t, err)

		pub, err := PublicKeyFromPrivate(kp.PrivateKey)
		require.NoError(t, err)
		assert.Equal(t, kp.PublicKey, pub)
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := PublicKeyFromPrivate(make([]byte, 16))
		assert.Equal(t, apperrors.ErrCodeInvalidPublicKey, apperrors.GetCode(err))
	})
}

func TestComputeSharedSecret(t *testing.T) {
	t.Run("agreement is symmetric", func(t *testing.T) {
		alice, err := GenerateKeyPair()
		require.NoError(t, err)
		bob, err := GenerateKeyPair()
		require.NoError(t, err)

		ab, err := ComputeSharedSecret(alice.PrivateKey, bob.PublicKey)
		require.NoError(t, err)
		ba, err := ComputeSharedSecret(bob.PrivateKey, alice.PublicKey)
		require.NoError(t, err)

		assert.Equal(t, ab, ba)
		assert.Len(t, ab, KeySize)
	})

	t.Run("different pairs derive different secrets", func(t *testing.T) {
		alice, _ := GenerateKeyPair()
		bob, _ := GenerateKeyPair()
		carol, _ := GenerateKeyPair()

		ab, err := ComputeSharedSecret(alice.PrivateKey, bob.PublicKey)
		require.NoError(t, err)
		ac, err := ComputeSharedSecret(alice.PrivateKey, carol.PublicKey)
		require.NoError(t, err)

		assert.NotEqual(t, ab, ac)
	})

	t.Run("rejects malformed public key", func(t *testing.T) {
		alice, _ := GenerateKeyPair()
		_, err := ComputeSharedSecret(alice.PrivateKey, []byte{1, 2, 3})
		assert.Equal(t, apperrors.ErrCodeInvalidPublicKey, apperrors.GetCode(err))
	})

	t.Run("rejects low-order public key", func(t *testing.T) {
		alice, _ := GenerateKeyPair()
		_, err := ComputeSharedSecret(alice.PrivateKey, make([]byte, KeySize))
		assert.Equal(t, apperrors.ErrCodeInvalidPublicKey, apperrors.GetCode(err))
	})
}

func TestDeriveSessionKey(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	t.Run("deterministic for same inputs", func(t *testing.T) {
		a, err := DeriveSessionKey(secret, "session-1")
		require.NoError(t, err)
		b, err := DeriveSessionKey(secret, "session-1")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, KeySize)
	})

	t.Run("different sessions derive different keys", func(t *testing.T) {
		a, err := DeriveSessionKey(secret, "session-1")
		require.NoError(t, err)
		b, err := DeriveSessionKey(secret, "session-2")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("session key differs from the shared secret", func(t *testing.T) {
		a, err := DeriveSessionKey(secret, "session-1")
		require.NoError(t, err)
		assert.NotEqual(t, secret, a)
	})

	t.Run("rejects empty session id", func(t *testing.T) {
		_, err := DeriveSessionKey(secret, "")
		assert.Error(t, err)
	})
}

func TestEncryptDecryptForDevice(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		recipient, err := GenerateKeyPair()
		require.NoError(t, err)

		plaintext := []byte("sess_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
		ctx := "550e8400-e29b-41d4-a716-446655440000"

		ephPub, sealed, err := EncryptForDevice(plaintext, recipient.PublicKey, ctx)
		require.NoError(t, err)

		decrypted, err := DecryptForDevice(ephPub, sealed, recipient.PrivateKey, ctx)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	})

	t.Run("wrong context fails", func(t *testing.T) {
		recipient, _ := GenerateKeyPair()
		ephPub, sealed, err := EncryptForDevice([]byte("secret"), recipient.PublicKey, "session-1")
		require.NoError(t, err)

		_, err = DecryptForDevice(ephPub, sealed, recipient.PrivateKey, "session-2")
		assert.Equal(t, apperrors.ErrCodeCrypto, apperrors.GetCode(err))
	})

	t.Run("wrong private key fails", func(t *testing.T) {
		recipient, _ := GenerateKeyPair()
		other, _ := GenerateKeyPair()
		ephPub, sealed, err := EncryptForDevice([]byte("secret"), recipient.PublicKey, "session-1")
		require.NoError(t, err)

		_, err = DecryptForDevice(ephPub, sealed, other.PrivateKey, "session-1")
		assert.Error(t, err)
	})

	t.Run("tampered ciphertext fails", func(t *testing.T) {
		recipient, _ := GenerateKeyPair()
		ephPub, sealed, err := EncryptForDevice([]byte("secret"), recipient.PublicKey, "session-1")
		require.NoError(t, err)

		tampered := []byte(sealed)
		tampered[len(tampered)-2] ^= 0x01
		_, err = DecryptForDevice(ephPub, string(tampered), recipient.PrivateKey, "session-1")
		assert.Error(t, err)
	})

	t.Run("short ciphertext fails", func(t *testing.T) {
		recipient, _ := GenerateKeyPair()
		eph, _ := GenerateKeyPair()
		_, err := DecryptForDevice(eph.PublicKey, "AAAA", recipient.PrivateKey, "session-1")
		assert.Equal(t, apperrors.ErrCodeCrypto, apperrors.GetCode(err))
	})

	t.Run("empty plaintext roundtrips", func(t *testing.T) {
		recipient, _ := GenerateKeyPair()
		ephPub, sealed, err := EncryptForDevice(nil, recipient.PublicKey, "session-1")
		require.NoError(t, err)

		decrypted, err := DecryptForDevice(ephPub, sealed, recipient.PrivateKey, "session-1")
		require.NoError(t, err)
		assert.Empty(t, decrypted)
	})
}
