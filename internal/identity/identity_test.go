package identity

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbound/trust-relay-go/internal/devicecrypto"
	apperrors "github.com/unbound/trust-relay-go/internal/errors"
)

func newTestManager() *Manager {
	return NewManagerWithKeyring(keyring.NewArrayKeyring(nil))
}

func TestGenerate(t *testing.T) {
	t.Run("creates identity with device id and key", func(t *testing.T) {
		m := newTestManager()

		id, err := m.Generate("user-1", false)
		require.NoError(t, err)
		assert.NotEmpty(t, id.DeviceID)
		assert.Len(t, id.PublicKey, devicecrypto.KeySize)
	})

	t.Run("second generate fails with AlreadyInitialized", func(t *testing.T) {
		m := newTestManager()

		_, err := m.Generate("user-1", false)
		require.NoError(t, err)

		_, err = m.Generate("user-1", false)
		assert.Equal(t, apperrors.ErrCodeAlreadyInitialized, apperrors.GetCode(err))
	})

	t.Run("reset replaces the identity", func(t *testing.T) {
		m := newTestManager()

		first, err := m.Generate("user-1", false)
		require.NoError(t, err)

		second, err := m.Generate("user-1", true)
		require.NoError(t, err)

		assert.NotEqual(t, first.DeviceID, second.DeviceID)
		assert.NotEqual(t, first.PublicKey, second.PublicKey)
	})

	t.Run("identities are scoped per user", func(t *testing.T) {
		m := newTestManager()

		a, err := m.Generate("user-a", false)
		require.NoError(t, err)
		b, err := m.Generate("user-b", false)
		require.NoError(t, err)

		assert.NotEqual(t, a.DeviceID, b.DeviceID)

		got, err := m.Current("user-a")
		require.NoError(t, err)
		assert.Equal(t, a.DeviceID, got.DeviceID)
	})
}

func TestCurrent(t *testing.T) {
	t.Run("fails with NotInitialized before generate", func(t *testing.T) {
		m := newTestManager()
		_, err := m.Current("user-1")
		assert.Equal(t, apperrors.ErrCodeNotInitialized, apperrors.GetCode(err))
	})

	t.Run("returns stored identity", func(t *testing.T) {
		m := newTestManager()
		created, err := m.Generate("user-1", false)
		require.NoError(t, err)

		got, err := m.Current("user-1")
		require.NoError(t, err)
		assert.Equal(t, created.DeviceID, got.DeviceID)
		assert.Equal(t, created.PublicKey, got.PublicKey)
	})
}

func TestPublicKey(t *testing.T) {
	t.Run("fails with NotInitialized before generate", func(t *testing.T) {
		m := newTestManager()
		_, err := m.PublicKey("user-1")
		assert.Equal(t, apperrors.ErrCodeNotInitialized, apperrors.GetCode(err))
	})

	t.Run("matches generated public key", func(t *testing.T) {
		m := newTestManager()
		created, err := m.Generate("user-1", false)
		require.NoError(t, err)

		pub, err := m.PublicKey("user-1")
		require.NoError(t, err)
		assert.Equal(t, created.PublicKey, pub)
	})
}

func TestComputeSharedSecretAndDecrypt(t *testing.T) {
	m := newTestManager()
	id, err := m.Generate("user-1", false)
	require.NoError(t, err)

	peer, err := devicecrypto.GenerateKeyPair()
	require.NoError(t, err)

	t.Run("shared secret agrees with the peer side", func(t *testing.T) {
		ours, err := m.ComputeSharedSecret("user-1", peer.PublicKey)
		require.NoError(t, err)

		theirs, err := devicecrypto.ComputeSharedSecret(peer.PrivateKey, id.PublicKey)
		require.NoError(t, err)

		assert.Equal(t, theirs, ours)
	})

	t.Run("decrypts payloads addressed to this device", func(t *testing.T) {
		ephPub, sealed, err := devicecrypto.EncryptForDevice([]byte("secret"), id.PublicKey, "ctx-1")
		require.NoError(t, err)

		plaintext, err := m.Decrypt("user-1", ephPub, sealed, "ctx-1")
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), plaintext)
	})
}

func TestReset(t *testing.T) {
	m := newTestManager()
	_, err := m.Generate("user-1", false)
	require.NoError(t, err)

	require.NoError(t, m.Reset("user-1"))

	_, err = m.Current("user-1")
	assert.Equal(t, apperrors.ErrCodeNotInitialized, apperrors.GetCode(err))

	// Reset of an absent identity is not an error.
	assert.NoError(t, m.Reset("user-1"))
}
