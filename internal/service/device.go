package service

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/audit"
	"github.com/unbound/trust-relay-go/internal/devicecrypto"
	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/realtime"
	"github.com/unbound/trust-relay-go/internal/repository"
)

// DeviceService handles device registration and lifecycle.
type DeviceService struct {
	devices   repository.DeviceRepository
	publisher realtime.Publisher
}

func NewDeviceService(devices repository.DeviceRepository, publisher realtime.Publisher) *DeviceService {
	return &DeviceService{devices: devices, publisher: publisher}
}

type RegisterDeviceParams struct {
	Name       string           `json:"name"`
	DeviceType model.DeviceType `json:"deviceType"`
	DeviceRole model.DeviceRole `json:"deviceRole"`
	PublicKey  string           `json:"publicKey"`
}

// Register adds a device to the user's fleet. The user's first device
// becomes the primary trust root and is trusted immediately; every later
// device starts untrusted and must be introduced through the trust graph.
func (s *DeviceService) Register(ctx context.Context, userID string, params RegisterDeviceParams) (*model.Device, error) {
	if params.Name == "" {
		return nil, apperrors.MissingRequired("name")
	}
	if err := validateDevicePublicKey(params.PublicKey); err != nil {
		return nil, err
	}

	root, err := s.devices.FindTrustRoot(ctx, userID)
	if err != nil {
		return nil, err
	}

	isRoot := root == nil
	if isRoot {
		if params.DeviceType == model.DeviceTypeWebBrowser {
			return nil, apperrors.ValidationError("a web-originated device cannot be the primary trust root")
		}
		params.DeviceRole = model.DeviceRoleTrustRoot
	} else if params.DeviceRole == model.DeviceRoleTrustRoot {
		return nil, apperrors.ValidationError("the primary trust root already exists")
	}

	if params.DeviceType == model.DeviceTypeWebBrowser && params.DeviceRole != model.DeviceRoleTemporaryViewer {
		return nil, apperrors.ValidationError("web-originated devices can only be temporary viewers")
	}

	device, err := s.devices.Create(ctx, model.CreateDeviceParams{
		UserID:             userID,
		Name:               params.Name,
		DeviceType:         params.DeviceType,
		DeviceRole:         params.DeviceRole,
		PublicKey:          params.PublicKey,
		IsPrimaryTrustRoot: isRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventDeviceRegister,
		UserID:   userID,
		DeviceID: device.ID,
		Details: map[string]interface{}{
			"deviceType":  string(device.DeviceType),
			"deviceRole":  string(device.DeviceRole),
			"isTrustRoot": isRoot,
		},
	})

	if s.publisher != nil {
		event := realtime.NewEvent(realtime.EventDeviceUpdated, device)
		if err := s.publisher.Publish(ctx, userID, event); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("failed to publish device update")
		}
	}

	log.Info().
		Str("userId", userID).
		Str("deviceId", device.ID).
		Str("deviceType", string(device.DeviceType)).
		Bool("isTrustRoot", isRoot).
		Msg("device registered")

	return device, nil
}

func (s *DeviceService) Get(ctx context.Context, userID, deviceID string) (*model.Device, error) {
	device, err := s.devices.FindByID(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, apperrors.NotFound("device")
	}
	return device, nil
}

func (s *DeviceService) List(ctx context.Context, userID string) ([]model.Device, error) {
	return s.devices.ListByUser(ctx, userID)
}

func (s *DeviceService) TouchLastSeen(ctx context.Context, userID, deviceID string) error {
	return s.devices.UpdateLastSeen(ctx, userID, deviceID)
}

// validateDevicePublicKey checks the base64 encoding and key length
// without doing any curve math. Low-order keys are rejected later, at
// agreement time.
func validateDevicePublicKey(encoded string) error {
	if encoded == "" {
		return apperrors.MissingRequired("publicKey")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return apperrors.InvalidPublicKey("not valid base64")
	}
	if len(raw) != devicecrypto.KeySize {
		return apperrors.InvalidPublicKey(fmt.Sprintf("expected %d bytes, got %d", devicecrypto.KeySize, len(raw)))
	}
	return nil
}
