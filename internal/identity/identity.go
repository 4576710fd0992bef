// Package identity manages this device's long-term X25519 key pair.
// The private key lives in the platform keychain (or its best available
// fallback) under a per-user key name and never leaves the process.
package identity

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"github.com/google/uuid"

	"github.com/unbound/trust-relay-go/internal/devicecrypto"
	apperrors "github.com/unbound/trust-relay-go/internal/errors"
)

const serviceName = "unbound"

// Key names match the macOS/iOS clients so a daemon and a desktop app
// on the same machine resolve the same identity.
func privateKeyName(userID string) string {
	return fmt.Sprintf("unbound.device.privateKey.%s", userID)
}

func deviceIDName(userID string) string {
	return fmt.Sprintf("unbound.device.id.%s", userID)
}

// Identity is the public portion of a device identity. The private key
// is deliberately absent; use Manager methods for operations needing it.
type Identity struct {
	DeviceID  string
	PublicKey []byte
}

type Manager struct {
	ring keyring.Keyring
}

// NewManager opens the platform keyring.
func NewManager() (*Manager, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &Manager{ring: ring}, nil
}

// NewManagerWithKeyring injects a keyring, used by tests and by callers
// that need a file-backed store.
func NewManagerWithKeyring(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

// Generate creates a fresh device identity for the user. Calling it
// while an identity already exists is an error unless reset is set.
func (m *Manager) Generate(userID string, reset bool) (*Identity, error) {
	if userID == "" {
		return nil, apperrors.MissingRequired("userId")
	}

	existing, err := m.get(privateKeyName(userID))
	if err != nil {
		return nil, err
	}
	if existing != nil && !reset {
		return nil, apperrors.AlreadyInitialized()
	}

	pair, err := devicecrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	deviceID := uuid.NewString()

	if err := m.set(privateKeyName(userID), []byte(base64.StdEncoding.EncodeToString(pair.PrivateKey))); err != nil {
		return nil, err
	}
	if err := m.set(deviceIDName(userID), []byte(deviceID)); err != nil {
		return nil, err
	}

	return &Identity{DeviceID: deviceID, PublicKey: pair.PublicKey}, nil
}

// Current returns the stored identity, or NotInitialized.
func (m *Manager) Current(userID string) (*Identity, error) {
	priv, err := m.privateKey(userID)
	if err != nil {
		return nil, err
	}

	idBytes, err := m.get(deviceIDName(userID))
	if err != nil {
		return nil, err
	}
	if idBytes == nil {
		return nil, apperrors.NotInitialized()
	}

	pub, err := devicecrypto.PublicKeyFromPrivate(priv)
	if err != nil {
		return nil, err
	}

	return &Identity{DeviceID: string(idBytes), PublicKey: pub}, nil
}

// PublicKey returns the long-term public key, or NotInitialized.
func (m *Manager) PublicKey(userID string) ([]byte, error) {
	priv, err := m.privateKey(userID)
	if err != nil {
		return nil, err
	}
	return devicecrypto.PublicKeyFromPrivate(priv)
}

// ComputeSharedSecret runs the key agreement with the stored private
// key. The private key itself is never returned to callers.
func (m *Manager) ComputeSharedSecret(userID string, theirPublicKey []byte) ([]byte, error) {
	priv, err := m.privateKey(userID)
	if err != nil {
		return nil, err
	}
	return devicecrypto.ComputeSharedSecret(priv, theirPublicKey)
}

// Decrypt opens a payload addressed to this device.
func (m *Manager) Decrypt(userID string, ephemeralPublicKey []byte, sealed, context string) ([]byte, error) {
	priv, err := m.privateKey(userID)
	if err != nil {
		return nil, err
	}
	return devicecrypto.DecryptForDevice(ephemeralPublicKey, sealed, priv, context)
}

// Reset removes the stored identity for the user.
func (m *Manager) Reset(userID string) error {
	for _, name := range []string{privateKeyName(userID), deviceIDName(userID)} {
		if err := m.ring.Remove(name); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) privateKey(userID string) ([]byte, error) {
	data, err := m.get(privateKeyName(userID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, apperrors.NotInitialized()
	}

	priv, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, apperrors.Crypto("stored private key is corrupt").WithCause(err)
	}
	return priv, nil
}

func (m *Manager) get(name string) ([]byte, error) {
	item, err := m.ring.Get(name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get %s: %w", name, err)
	}
	return item.Data, nil
}

func (m *Manager) set(name string, data []byte) error {
	err := m.ring.Set(keyring.Item{
		Key:   name,
		Data:  data,
		Label: serviceName,
	})
	if err != nil {
		return fmt.Errorf("keyring set %s: %w", name, err)
	}
	return nil
}
