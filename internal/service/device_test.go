package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/model"
)

func TestRegister_FirstDeviceBecomesTrustRoot(t *testing.T) {
	devices := new(mockDeviceRepo)

	devices.On("FindTrustRoot", mock.Anything, testUserID).Return(nil, nil)
	devices.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateDeviceParams) bool {
		return p.IsPrimaryTrustRoot && p.DeviceRole == model.DeviceRoleTrustRoot
	})).Return(testDevice("dev-root", asTrustRoot), nil)

	svc := NewDeviceService(devices, &capturingPublisher{})

	device, err := svc.Register(context.Background(), testUserID, RegisterDeviceParams{
		Name:       "iPhone",
		DeviceType: model.DeviceTypeIOS,
		DeviceRole: model.DeviceRoleTrustedExecutor,
		PublicKey:  testPublicKeyB64,
	})

	require.NoError(t, err)
	assert.True(t, device.IsPrimaryTrustRoot)
}

func TestRegister_SecondRootRejected(t *testing.T) {
	devices := new(mockDeviceRepo)
	devices.On("FindTrustRoot", mock.Anything, testUserID).Return(testDevice("dev-root", asTrustRoot), nil)

	svc := NewDeviceService(devices, nil)

	_, err := svc.Register(context.Background(), testUserID, RegisterDeviceParams{
		Name:       "Another root",
		DeviceType: model.DeviceTypeMacOS,
		DeviceRole: model.DeviceRoleTrustRoot,
		PublicKey:  testPublicKeyB64,
	})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	devices.AssertNotCalled(t, "Create")
}

func TestRegister_WebDeviceCannotBeRoot(t *testing.T) {
	devices := new(mockDeviceRepo)
	devices.On("FindTrustRoot", mock.Anything, testUserID).Return(nil, nil)

	svc := NewDeviceService(devices, nil)

	_, err := svc.Register(context.Background(), testUserID, RegisterDeviceParams{
		Name:       "Browser",
		DeviceType: model.DeviceTypeWebBrowser,
		DeviceRole: model.DeviceRoleTemporaryViewer,
		PublicKey:  testPublicKeyB64,
	})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestRegister_WebDeviceMustBeViewer(t *testing.T) {
	devices := new(mockDeviceRepo)
	devices.On("FindTrustRoot", mock.Anything, testUserID).Return(testDevice("dev-root", asTrustRoot), nil)

	svc := NewDeviceService(devices, nil)

	_, err := svc.Register(context.Background(), testUserID, RegisterDeviceParams{
		Name:       "Browser",
		DeviceType: model.DeviceTypeWebBrowser,
		DeviceRole: model.DeviceRoleTrustedExecutor,
		PublicKey:  testPublicKeyB64,
	})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
}

func TestRegister_InvalidPublicKey(t *testing.T) {
	svc := NewDeviceService(new(mockDeviceRepo), nil)

	_, err := svc.Register(context.Background(), testUserID, RegisterDeviceParams{
		Name:       "iPhone",
		DeviceType: model.DeviceTypeIOS,
		DeviceRole: model.DeviceRoleTrustedExecutor,
		PublicKey:  "dG9vIHNob3J0",
	})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPublicKey))
}
