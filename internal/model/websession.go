package model

import (
	"time"
)

// WebSession is an ephemeral, browser-originated viewing identity. It
// starts pending and becomes active only when a trusted device belonging
// to the same user authorizes it.
type WebSession struct {
	ID                         string           `db:"id" json:"id"`
	UserID                     string           `db:"user_id" json:"userId"`
	AuthorizingDeviceID        *string          `db:"authorizing_device_id" json:"authorizingDeviceId,omitempty"`
	SessionTokenHash           string           `db:"session_token_hash" json:"-"`
	WebPublicKey               string           `db:"web_public_key" json:"webPublicKey"`
	EncryptedSessionKey        *string          `db:"encrypted_session_key" json:"encryptedSessionKey,omitempty"`
	ResponderPublicKey         *string          `db:"responder_public_key" json:"responderPublicKey,omitempty"`
	AuthorizingDevicePublicKey *string          `db:"authorizing_device_public_key" json:"authorizingDevicePublicKey,omitempty"`
	Permission                 Permission       `db:"permission" json:"permission"`
	Status                     WebSessionStatus `db:"status" json:"status"`
	MaxIdleSeconds             int              `db:"max_idle_seconds" json:"maxIdleSeconds"`
	SessionTTLSeconds          int              `db:"session_ttl_seconds" json:"sessionTtlSeconds"`
	ExpiresAt                  *time.Time       `db:"expires_at" json:"expiresAt,omitempty"`
	LastActivityAt             time.Time        `db:"last_activity_at" json:"lastActivityAt"`
	RevokedAt                  *time.Time       `db:"revoked_at" json:"revokedAt,omitempty"`
	RevokedReason              *string          `db:"revoked_reason" json:"revokedReason,omitempty"`
	CreatedAt                  time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt                  time.Time        `db:"updated_at" json:"updatedAt"`
}

// IsExpired reports whether either expiry signal has fired: the absolute
// TTL or the idle timeout. Both are checked lazily on use and by the
// periodic sweep.
func (s *WebSession) IsExpired(now time.Time) bool {
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return true
	}
	if s.Status == WebSessionActive && s.MaxIdleSeconds > 0 {
		idle := now.Sub(s.LastActivityAt)
		if idle > time.Duration(s.MaxIdleSeconds)*time.Second {
			return true
		}
	}
	return false
}

type CreateWebSessionParams struct {
	UserID           string
	SessionTokenHash string
	WebPublicKey     string
	TTLSeconds       int
	MaxIdleSeconds   int
}

type AuthorizeWebSessionParams struct {
	SessionID           string
	ApprovingDeviceID   string
	EncryptedSessionKey string
	ResponderPublicKey  string
	Permission          Permission
	TTLSeconds          int
	MaxIdleSeconds      int
}
