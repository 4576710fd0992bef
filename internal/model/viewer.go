package model

import (
	"time"

	apperrors "github.com/unbound/trust-relay-go/internal/errors"
)

// Viewer is one participant observing a run. Exactly one of
// ViewerDeviceID and ViewerWebSessionID is set; the table enforces the
// same rule with a CHECK constraint.
type Viewer struct {
	ID                     string     `db:"id" json:"id"`
	RunID                  string     `db:"run_id" json:"runId"`
	ViewerDeviceID         *string    `db:"viewer_device_id" json:"viewerDeviceId,omitempty"`
	ViewerWebSessionID     *string    `db:"viewer_web_session_id" json:"viewerWebSessionId,omitempty"`
	Permission             Permission `db:"permission" json:"permission"`
	IsActive               bool       `db:"is_active" json:"isActive"`
	JoinedAt               time.Time  `db:"joined_at" json:"joinedAt"`
	LeftAt                 *time.Time `db:"left_at" json:"leftAt,omitempty"`
	LastSeenAt             time.Time  `db:"last_seen_at" json:"lastSeenAt"`
	ViewerSessionPublicKey string     `db:"viewer_session_public_key" json:"viewerSessionPublicKey"`
}

// Ref returns the viewer's identity as a tagged union.
func (v *Viewer) Ref() (ViewerRef, error) {
	switch {
	case v.ViewerDeviceID != nil && v.ViewerWebSessionID == nil:
		return DeviceViewer(*v.ViewerDeviceID), nil
	case v.ViewerDeviceID == nil && v.ViewerWebSessionID != nil:
		return WebSessionViewer(*v.ViewerWebSessionID), nil
	default:
		return ViewerRef{}, apperrors.ValidationError("viewer must reference exactly one of device or web session")
	}
}

type viewerKind int

const (
	viewerKindDevice viewerKind = iota + 1
	viewerKindWebSession
)

// ViewerRef identifies a viewer as either a device or a web session.
// Keeping this a sum type in application logic makes both-set and
// neither-set states unrepresentable outside the persistence boundary.
type ViewerRef struct {
	kind viewerKind
	id   string
}

func DeviceViewer(deviceID string) ViewerRef {
	return ViewerRef{kind: viewerKindDevice, id: deviceID}
}

func WebSessionViewer(sessionID string) ViewerRef {
	return ViewerRef{kind: viewerKindWebSession, id: sessionID}
}

// IsZero reports whether the ref was never initialized.
func (r ViewerRef) IsZero() bool {
	return r.kind == 0
}

// DeviceID returns the device identifier when the viewer is a device.
func (r ViewerRef) DeviceID() (string, bool) {
	if r.kind == viewerKindDevice {
		return r.id, true
	}
	return "", false
}

// WebSessionID returns the session identifier when the viewer is a web session.
func (r ViewerRef) WebSessionID() (string, bool) {
	if r.kind == viewerKindWebSession {
		return r.id, true
	}
	return "", false
}

// Columns splits the ref into the two nullable columns the table uses.
func (r ViewerRef) Columns() (deviceID, webSessionID *string) {
	switch r.kind {
	case viewerKindDevice:
		return &r.id, nil
	case viewerKindWebSession:
		return nil, &r.id
	default:
		return nil, nil
	}
}

// Key is a stable string form used for presence tracking and idempotency.
func (r ViewerRef) Key() string {
	switch r.kind {
	case viewerKindDevice:
		return "device:" + r.id
	case viewerKindWebSession:
		return "web:" + r.id
	default:
		return ""
	}
}

type JoinRunParams struct {
	RunID                  string
	Viewer                 ViewerRef
	Permission             Permission
	ViewerSessionPublicKey string
}
