package model

type DeviceRole string

const (
	DeviceRoleTrustRoot       DeviceRole = "trust_root"
	DeviceRoleTrustedExecutor DeviceRole = "trusted_executor"
	DeviceRoleTemporaryViewer DeviceRole = "temporary_viewer"
)

type DeviceType string

const (
	DeviceTypeIOS        DeviceType = "ios"
	DeviceTypeMacOS      DeviceType = "macos"
	DeviceTypeCLI        DeviceType = "cli"
	DeviceTypeWebBrowser DeviceType = "web-browser"
)

type TrustEdgeStatus string

const (
	TrustEdgePending TrustEdgeStatus = "pending"
	TrustEdgeActive  TrustEdgeStatus = "active"
	TrustEdgeRevoked TrustEdgeStatus = "revoked"
	TrustEdgeExpired TrustEdgeStatus = "expired"
)

type RunStatus string

const (
	RunStatusActive RunStatus = "active"
	RunStatusPaused RunStatus = "paused"
	RunStatusEnded  RunStatus = "ended"
)

type WebSessionStatus string

const (
	WebSessionPending WebSessionStatus = "pending"
	WebSessionActive  WebSessionStatus = "active"
	WebSessionExpired WebSessionStatus = "expired"
	WebSessionRevoked WebSessionStatus = "revoked"
)

type Permission string

const (
	PermissionViewOnly    Permission = "view_only"
	PermissionInteract    Permission = "interact"
	PermissionFullControl Permission = "full_control"
)

// ValidPermissions lists the accepted permission values for input validation.
var ValidPermissions = []string{
	string(PermissionViewOnly),
	string(PermissionInteract),
	string(PermissionFullControl),
}
