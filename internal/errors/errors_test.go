package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Device not found")
		assert.Equal(t, "NOT_FOUND: Device not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "Database error")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"deviceId": "abc"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"InvalidToken", func() *AppError { return InvalidToken("test") }, ErrCodeInvalidToken},
		{"NotFound", func() *AppError { return NotFound("Device") }, ErrCodeNotFound},
		{"AlreadyExists", func() *AppError { return AlreadyExists("Edge") }, ErrCodeAlreadyExists},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("publicKey", "too short") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("deviceId") }, ErrCodeMissingRequired},
		{"InvalidPublicKey", func() *AppError { return InvalidPublicKey("wrong length") }, ErrCodeInvalidPublicKey},
		{"InvalidTransition", func() *AppError { return InvalidTransition("revoked", "active") }, ErrCodeInvalidTransition},
		{"SelfTrust", func() *AppError { return SelfTrust() }, ErrCodeSelfTrust},
		{"DuplicateEdge", func() *AppError { return DuplicateEdge("a", "b") }, ErrCodeDuplicateEdge},
		{"DeviceNotTrusted", func() *AppError { return DeviceNotTrusted("a") }, ErrCodeDeviceNotTrusted},
		{"AlreadyTrusted", func() *AppError { return AlreadyTrusted("a") }, ErrCodeAlreadyTrusted},
		{"TrustDepthExceeded", func() *AppError { return TrustDepthExceeded() }, ErrCodeTrustDepth},
		{"NotInitialized", func() *AppError { return NotInitialized() }, ErrCodeNotInitialized},
		{"AlreadyInitialized", func() *AppError { return AlreadyInitialized() }, ErrCodeAlreadyInitialized},
		{"PairingExpired", func() *AppError { return PairingExpired() }, ErrCodePairingExpired},
		{"UnsupportedVersion", func() *AppError { return UnsupportedVersion(99) }, ErrCodeUnsupportedVersion},
		{"SessionExpired", func() *AppError { return SessionExpired() }, ErrCodeSessionExpired},
		{"Crypto", func() *AppError { return Crypto("decryption failed") }, ErrCodeCrypto},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := SelfTrust()
		assert.Equal(t, ErrCodeSelfTrust, GetCode(err))
	})

	t.Run("returns internal for plain error", func(t *testing.T) {
		assert.Equal(t, ErrCodeInternal, GetCode(errors.New("boom")))
	})

	t.Run("unwraps wrapped AppError", func(t *testing.T) {
		wrapped := errors.Join(errors.New("outer"), DuplicateEdge("a", "b"))
		assert.Equal(t, ErrCodeDuplicateEdge, GetCode(wrapped))
	})
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(PairingExpired(), ErrCodePairingExpired))
	assert.False(t, HasCode(PairingExpired(), ErrCodeSelfTrust))
	assert.False(t, HasCode(nil, ErrCodeInternal))
}
