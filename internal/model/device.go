package model

import (
	"time"
)

// Device is one endpoint in a user's trust hierarchy. The public key is
// the base64-encoded long-term X25519 key-agreement key; the private
// half never reaches the server.
type Device struct {
	ID                 string     `db:"id" json:"id"`
	UserID             string     `db:"user_id" json:"userId"`
	Name               string     `db:"name" json:"name"`
	DeviceType         DeviceType `db:"device_type" json:"deviceType"`
	DeviceRole         DeviceRole `db:"device_role" json:"deviceRole"`
	PublicKey          string     `db:"public_key" json:"publicKey"`
	IsPrimaryTrustRoot bool       `db:"is_primary_trust_root" json:"isPrimaryTrustRoot"`
	IsTrusted          bool       `db:"is_trusted" json:"isTrusted"`
	IsActive           bool       `db:"is_active" json:"isActive"`
	VerifiedAt         *time.Time `db:"verified_at" json:"verifiedAt,omitempty"`
	LastSeenAt         *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// CanBeTrusted reports whether the persistent trust flag may ever be set
// for this device. Web-originated devices are permanently excluded.
func (d *Device) CanBeTrusted() bool {
	return d.DeviceType != DeviceTypeWebBrowser
}

type CreateDeviceParams struct {
	UserID             string
	Name               string
	DeviceType         DeviceType
	DeviceRole         DeviceRole
	PublicKey          string
	IsPrimaryTrustRoot bool
}
