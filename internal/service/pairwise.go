package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/devicecrypto"
	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/repository"
)

// PairwiseService provisions the shared secret for a device pair. The
// secret itself is generated server-side but stored only as two
// ciphertexts, one sealed to each device's long-term public key. The
// server forgets the plaintext as soon as the row is written.
type PairwiseService struct {
	devices repository.DeviceRepository
	secrets repository.PairwiseSecretRepository
	trust   *TrustService
}

func NewPairwiseService(
	devices repository.DeviceRepository,
	secrets repository.PairwiseSecretRepository,
	trust *TrustService,
) *PairwiseService {
	return &PairwiseService{
		devices: devices,
		secrets: secrets,
		trust:   trust,
	}
}

// PairwiseSecretView is what a single device may see of a pair row: its
// own ciphertext and the ephemeral key needed to open it, never the
// other side's.
type PairwiseSecretView struct {
	DeviceAID       string `json:"deviceAId"`
	DeviceBID       string `json:"deviceBId"`
	EncryptedSecret string `json:"encryptedSecret"`
	EphemeralKey    string `json:"ephemeralKey"`
	KeyAlgorithm    string `json:"keyAlgorithm"`
}

// Ensure creates or refreshes the shared secret for a device pair. Both
// devices must hold a live trust chain. The pair is stored in canonical
// order regardless of argument order.
func (s *PairwiseService) Ensure(ctx context.Context, userID, deviceXID, deviceYID string) (*model.PairwiseSecret, error) {
	if deviceXID == deviceYID {
		return nil, apperrors.SelfTrust()
	}

	deviceAID, deviceBID, _ := model.CanonicalPair(deviceXID, deviceYID)

	deviceA, err := s.trustedDevice(ctx, userID, deviceAID)
	if err != nil {
		return nil, err
	}
	deviceB, err := s.trustedDevice(ctx, userID, deviceBID)
	if err != nil {
		return nil, err
	}

	secret := make([]byte, devicecrypto.KeySize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, apperrors.Crypto("failed to generate pair secret").WithCause(err)
	}

	pairContext := model.PairContext(deviceAID, deviceBID)

	pubA, err := decodeDeviceKey(deviceA.PublicKey)
	if err != nil {
		return nil, err
	}
	pubB, err := decodeDeviceKey(deviceB.PublicKey)
	if err != nil {
		return nil, err
	}

	ephemeralA, sealedA, err := devicecrypto.EncryptForDevice(secret, pubA, pairContext)
	if err != nil {
		return nil, err
	}
	ephemeralB, sealedB, err := devicecrypto.EncryptForDevice(secret, pubB, pairContext)
	if err != nil {
		return nil, err
	}

	row, err := s.secrets.Upsert(ctx, model.UpsertPairwiseSecretParams{
		UserID:              userID,
		DeviceAID:           deviceAID,
		DeviceBID:           deviceBID,
		EncryptedSecretForA: sealedA,
		EncryptedSecretForB: sealedB,
		EphemeralKeyForA:    base64.StdEncoding.EncodeToString(ephemeralA),
		EphemeralKeyForB:    base64.StdEncoding.EncodeToString(ephemeralB),
		KeyAlgorithm:        devicecrypto.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert pairwise secret: %w", err)
	}

	log.Info().
		Str("userId", userID).
		Str("deviceAId", deviceAID).
		Str("deviceBId", deviceBID).
		Msg("pairwise secret provisioned")

	return row, nil
}

// GetForDevice returns the requesting device's side of the pair secret.
// The requester must be one of the two devices; anyone else sees
// not-found.
func (s *PairwiseService) GetForDevice(ctx context.Context, userID, requestingDeviceID, otherDeviceID string) (*PairwiseSecretView, error) {
	deviceAID, deviceBID, _ := model.CanonicalPair(requestingDeviceID, otherDeviceID)

	row, err := s.secrets.FindByPair(ctx, userID, deviceAID, deviceBID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperrors.NotFound("pairwise secret")
	}

	view := &PairwiseSecretView{
		DeviceAID:    row.DeviceAID,
		DeviceBID:    row.DeviceBID,
		KeyAlgorithm: row.KeyAlgorithm,
	}
	switch requestingDeviceID {
	case row.DeviceAID:
		view.EncryptedSecret = row.EncryptedSecretForA
		view.EphemeralKey = row.EphemeralKeyForA
	case row.DeviceBID:
		view.EncryptedSecret = row.EncryptedSecretForB
		view.EphemeralKey = row.EphemeralKeyForB
	default:
		return nil, apperrors.NotFound("pairwise secret")
	}
	return view, nil
}

func (s *PairwiseService) trustedDevice(ctx context.Context, userID, deviceID string) (*model.Device, error) {
	device, err := s.devices.FindByID(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil || !device.IsActive {
		return nil, apperrors.NotFound("device")
	}

	trusted, err := s.trust.IsTrusted(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if !trusted {
		return nil, apperrors.DeviceNotTrusted(deviceID)
	}
	return device, nil
}

func decodeDeviceKey(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.InvalidPublicKey("not valid base64")
	}
	if len(raw) != devicecrypto.KeySize {
		return nil, apperrors.InvalidPublicKey("wrong key length")
	}
	return raw, nil
}
