package model

import (
	"time"
)

// TrustEdge is a directed trust grant: grantor vouches for grantee.
// At most one edge exists per ordered (grantor, grantee) pair.
type TrustEdge struct {
	ID              string          `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"userId"`
	GrantorDeviceID string          `db:"grantor_device_id" json:"grantorDeviceId"`
	GranteeDeviceID string          `db:"grantee_device_id" json:"granteeDeviceId"`
	Status          TrustEdgeStatus `db:"status" json:"status"`
	TrustLevel      int             `db:"trust_level" json:"trustLevel"`
	ApprovedAt      *time.Time      `db:"approved_at" json:"approvedAt,omitempty"`
	ExpiresAt       *time.Time      `db:"expires_at" json:"expiresAt,omitempty"`
	RevokedAt       *time.Time      `db:"revoked_at" json:"revokedAt,omitempty"`
	RevokedReason   *string         `db:"revoked_reason" json:"revokedReason,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// IsTraversable reports whether the edge counts for trust-chain
// computation: active and not past its expiry.
func (e *TrustEdge) IsTraversable(now time.Time) bool {
	if e.Status != TrustEdgeActive {
		return false
	}
	if e.ExpiresAt != nil && !e.ExpiresAt.After(now) {
		return false
	}
	return true
}

type CreateTrustEdgeParams struct {
	UserID          string
	GrantorDeviceID string
	GranteeDeviceID string
	TrustLevel      int
	ExpiresAt       *time.Time
}

// TrustChainEntry is one hop in a device's path back to the trust root.
// Level 0 is the device itself.
type TrustChainEntry struct {
	DeviceID        string     `json:"deviceId"`
	DeviceName      string     `json:"deviceName"`
	Role            DeviceRole `json:"role"`
	TrustLevel      int        `json:"trustLevel"`
	GrantorDeviceID string     `json:"grantorDeviceId,omitempty"`
}
