package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	// Validation
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidPublicKey ErrorCode = "INVALID_PUBLIC_KEY"

	// Resource
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Trust graph
	ErrCodeSelfTrust        ErrorCode = "SELF_TRUST"
	ErrCodeDuplicateEdge    ErrorCode = "DUPLICATE_EDGE"
	ErrCodeDeviceNotTrusted ErrorCode = "DEVICE_NOT_TRUSTED"
	ErrCodeAlreadyTrusted   ErrorCode = "ALREADY_TRUSTED"
	ErrCodeTrustDepth       ErrorCode = "TRUST_DEPTH_EXCEEDED"

	// Device identity
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"

	// Pairing
	ErrCodePairingExpired     ErrorCode = "PAIRING_EXPIRED"
	ErrCodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"

	// Sessions
	ErrCodeSessionExpired ErrorCode = "SESSION_EXPIRED"
	ErrCodeSessionRevoked ErrorCode = "SESSION_REVOKED"

	// Cryptography
	ErrCodeCrypto ErrorCode = "CRYPTO_FAILURE"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

// NotFound is also the answer for rows the caller does not own: an
// unauthorized caller must not be able to tell "exists but not yours"
// apart from "does not exist".
func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidPublicKey(reason string) *AppError {
	return New(ErrCodeInvalidPublicKey, fmt.Sprintf("Invalid public key: %s", reason))
}

func InvalidTransition(from, to string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("Invalid transition from %s to %s", from, to))
}

func SelfTrust() *AppError {
	return New(ErrCodeSelfTrust, "A device cannot grant trust to itself")
}

func DuplicateEdge(grantorID, granteeID string) *AppError {
	return New(ErrCodeDuplicateEdge, "Trust edge already exists").
		WithDetails(map[string]string{"grantorDeviceId": grantorID, "granteeDeviceId": granteeID})
}

func DeviceNotTrusted(deviceID string) *AppError {
	return New(ErrCodeDeviceNotTrusted, "Device has no active trust chain").
		WithDetails(map[string]string{"deviceId": deviceID})
}

func AlreadyTrusted(deviceID string) *AppError {
	return New(ErrCodeAlreadyTrusted, "Device is already trusted").
		WithDetails(map[string]string{"deviceId": deviceID})
}

func TrustDepthExceeded() *AppError {
	return New(ErrCodeTrustDepth, "Maximum trust chain depth exceeded")
}

func NotInitialized() *AppError {
	return New(ErrCodeNotInitialized, "Device identity has not been initialized")
}

func AlreadyInitialized() *AppError {
	return New(ErrCodeAlreadyInitialized, "Device identity already exists")
}

func PairingExpired() *AppError {
	return New(ErrCodePairingExpired, "Pairing payload has expired")
}

func UnsupportedVersion(version int) *AppError {
	return New(ErrCodeUnsupportedVersion, fmt.Sprintf("Unsupported pairing payload version: %d", version))
}

func SessionExpired() *AppError {
	return New(ErrCodeSessionExpired, "Session has expired")
}

func SessionRevoked() *AppError {
	return New(ErrCodeSessionRevoked, "Session has been revoked")
}

func Crypto(message string) *AppError {
	return New(ErrCodeCrypto, message)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}
