package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/audit"
	"github.com/unbound/trust-relay-go/internal/config"
	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/realtime"
	"github.com/unbound/trust-relay-go/internal/repository"
)

// PayloadVersion is the only pairing payload format this server accepts.
const PayloadVersion = 1

// clockSkewAllowance tolerates payloads whose issuing device's clock
// runs slightly ahead of ours.
const clockSkewAllowance = 2 * time.Minute

// Payload is the QR-transported pairing request a new device displays.
// It carries the new device's identity and long-term public key; no
// secret material ever enters the payload.
type Payload struct {
	Version         int              `json:"version"`
	DeviceID        string           `json:"deviceId,omitempty"`
	DeviceName      string           `json:"deviceName"`
	DeviceType      model.DeviceType `json:"deviceType"`
	DeviceRole      model.DeviceRole `json:"role"`
	DevicePublicKey string           `json:"devicePublicKey"`
	IssuedAt        int64            `json:"timestamp"`
	ExpiresIn       int              `json:"expiresIn"`
}

// Encode serializes the payload for QR display.
func (p *Payload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayload parses a scanned payload string.
func DecodePayload(encoded string) (*Payload, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.InvalidInput("payload", "not valid base64")
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperrors.InvalidInput("payload", "not valid JSON")
	}
	return &p, nil
}

// PairingService turns scanned payloads into trusted devices: register
// and introduce in one transactional step, activating immediately when
// the scanner is the trust root.
type PairingService struct {
	tx         Transactor
	devices    repository.DeviceRepository
	edges      repository.TrustGraphRepository
	trust      *TrustService
	pairwise   *PairwiseService
	publisher  realtime.Publisher
	defaultTTL int

	now func() time.Time
}

func NewPairingService(
	tx Transactor,
	devices repository.DeviceRepository,
	edges repository.TrustGraphRepository,
	trust *TrustService,
	pairwise *PairwiseService,
	publisher realtime.Publisher,
	defaultTTLSeconds int,
) *PairingService {
	return &PairingService{
		tx:         tx,
		devices:    devices,
		edges:      edges,
		trust:      trust,
		pairwise:   pairwise,
		publisher:  publisher,
		defaultTTL: defaultTTLSeconds,
		now:        time.Now,
	}
}

// PairingResult is what a successful consume hands back: the paired
// device, the trust edge in its resulting state and, once the edge is
// active, the pair's provisioned secret row.
type PairingResult struct {
	Device         *model.Device         `json:"device"`
	Edge           *model.TrustEdge      `json:"edge"`
	PairwiseSecret *model.PairwiseSecret `json:"pairwiseSecret,omitempty"`
}

// CreatePayload builds the payload a new device shows before it has any
// standing with the server. TTLs are clamped to the configured maximum.
func (s *PairingService) CreatePayload(name string, deviceType model.DeviceType, role model.DeviceRole, publicKey string, expiresIn int) (*Payload, error) {
	if name == "" {
		return nil, apperrors.MissingRequired("deviceName")
	}
	if err := validateDevicePublicKey(publicKey); err != nil {
		return nil, err
	}
	if deviceType == model.DeviceTypeWebBrowser {
		return nil, apperrors.ValidationError("web-originated devices pair through web sessions, not payloads")
	}

	if expiresIn <= 0 {
		expiresIn = s.defaultTTL
	}
	if expiresIn > config.MaxPairingTTLSeconds {
		expiresIn = config.MaxPairingTTLSeconds
	}

	return &Payload{
		Version:         PayloadVersion,
		DeviceName:      name,
		DeviceType:      deviceType,
		DeviceRole:      role,
		DevicePublicKey: publicKey,
		IssuedAt:        s.now().Unix(),
		ExpiresIn:       expiresIn,
	}, nil
}

// Consume processes a payload scanned by an already-trusted device. On
// success the new device exists and is linked to the scanner by a trust
// edge. A scanning trust root self-approves the edge and the device
// comes out trusted with its pair secret provisioned; any other trusted
// scanner leaves the edge pending for the root to approve. The register
// and introduce steps happen in one transaction: a failed consume
// leaves no partial state.
func (s *PairingService) Consume(ctx context.Context, userID, scanningDeviceID string, payload *Payload) (*PairingResult, error) {
	if payload.Version != PayloadVersion {
		s.auditReject(ctx, userID, scanningDeviceID, "unsupported_version")
		return nil, apperrors.UnsupportedVersion(payload.Version)
	}

	now := s.now()
	issued := time.Unix(payload.IssuedAt, 0)
	if issued.After(now.Add(clockSkewAllowance)) {
		s.auditReject(ctx, userID, scanningDeviceID, "issued_in_future")
		return nil, apperrors.PairingExpired()
	}
	if now.After(issued.Add(time.Duration(payload.ExpiresIn) * time.Second)) {
		s.auditReject(ctx, userID, scanningDeviceID, "expired")
		return nil, apperrors.PairingExpired()
	}

	if payload.DeviceType == model.DeviceTypeWebBrowser {
		s.auditReject(ctx, userID, scanningDeviceID, "web_device")
		return nil, apperrors.ValidationError("web-originated devices cannot be paired as trusted devices")
	}
	if err := validateDevicePublicKey(payload.DevicePublicKey); err != nil {
		s.auditReject(ctx, userID, scanningDeviceID, "invalid_public_key")
		return nil, err
	}

	scanner, err := s.devices.FindByID(ctx, userID, scanningDeviceID)
	if err != nil {
		return nil, err
	}
	if scanner == nil || !scanner.IsActive {
		return nil, apperrors.NotFound("device")
	}

	scannerLevel, err := s.trust.trustLevel(ctx, userID, scanner)
	if err != nil {
		return nil, err
	}
	if scannerLevel < 0 {
		s.auditReject(ctx, userID, scanningDeviceID, "scanner_not_trusted")
		return nil, apperrors.DeviceNotTrusted(scanningDeviceID)
	}
	if scannerLevel+1 > config.MaxTrustDepth {
		return nil, apperrors.TrustDepthExceeded()
	}

	// Rejoining with a key the fleet already knows is a no-op, not an
	// error. A known key on an already trusted device means someone is
	// re-scanning a stale payload.
	existing, err := s.findByPublicKey(ctx, userID, payload.DevicePublicKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsTrusted {
		return nil, apperrors.AlreadyTrusted(existing.ID)
	}

	var device *model.Device
	var edge *model.TrustEdge
	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		devices := s.devices.WithTx(tx)
		edges := s.edges.WithTx(tx)

		if existing != nil {
			device = existing

			// The rejoining device may already carry a live edge from
			// the scanner, pending or active, from an earlier introduce.
			prior, err := edges.FindByPair(ctx, userID, scanningDeviceID, device.ID)
			if err != nil {
				return err
			}
			if prior != nil && prior.Status != model.TrustEdgeRevoked && prior.Status != model.TrustEdgeExpired {
				return apperrors.DuplicateEdge(scanningDeviceID, device.ID)
			}
		} else {
			created, err := devices.Create(ctx, model.CreateDeviceParams{
				UserID:     userID,
				Name:       payload.DeviceName,
				DeviceType: payload.DeviceType,
				DeviceRole: payload.DeviceRole,
				PublicKey:  payload.DevicePublicKey,
			})
			if err != nil {
				return fmt.Errorf("create paired device: %w", err)
			}
			device = created
		}

		created, err := edges.Create(ctx, model.CreateTrustEdgeParams{
			UserID:          userID,
			GrantorDeviceID: scanningDeviceID,
			GranteeDeviceID: device.ID,
			TrustLevel:      scannerLevel + 1,
		})
		if err != nil {
			return fmt.Errorf("create trust edge: %w", err)
		}
		edge = created

		// Only the primary trust root self-approves. Any other trusted
		// scanner leaves the edge pending until the root approves it.
		if !scanner.IsPrimaryTrustRoot {
			return nil
		}

		approved, err := edges.Approve(ctx, userID, edge.ID)
		if err != nil {
			return err
		}
		if !approved {
			return apperrors.InvalidTransition(string(model.TrustEdgePending), string(model.TrustEdgeActive))
		}
		edge.Status = model.TrustEdgeActive

		return devices.SetTrusted(ctx, userID, device.ID, true)
	})
	if err != nil {
		return nil, err
	}

	result := &PairingResult{Device: device, Edge: edge}

	if scanner.IsPrimaryTrustRoot {
		device.IsTrusted = true

		// Provisioning the pair secret happens outside the pairing
		// transaction. If it fails the device can still request the
		// secret later through the pairwise endpoint.
		if s.pairwise != nil {
			secret, err := s.pairwise.Ensure(ctx, userID, scanningDeviceID, device.ID)
			if err != nil {
				log.Warn().Err(err).
					Str("userId", userID).
					Str("pairedDeviceId", device.ID).
					Msg("failed to provision pairwise secret after pairing")
			} else {
				result.PairwiseSecret = secret
			}
		}
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventPairingConsume,
		UserID:   userID,
		DeviceID: scanningDeviceID,
		Details: map[string]interface{}{
			"pairedDeviceId": device.ID,
			"deviceType":     string(payload.DeviceType),
			"trustLevel":     scannerLevel + 1,
			"edgeStatus":     string(edge.Status),
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
		Str("scannerDeviceId", scanningDeviceID).
		Str("pairedDeviceId", device.ID).
		Str("edgeStatus", string(edge.Status)).
		Msg("pairing consumed")

	return result, nil
}

func (s *PairingService) findByPublicKey(ctx context.Context, userID, publicKey string) (*model.Device, error) {
	devices, err := s.devices.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].PublicKey == publicKey && devices[i].IsActive {
			return &devices[i], nil
		}
	}
	return nil, nil
}

func (s *PairingService) auditReject(ctx context.Context, userID, deviceID, reason string) {
	audit.Log(ctx, audit.Event{
		Type:     audit.EventPairingReject,
		UserID:   userID,
		DeviceID: deviceID,
		Details:  map[string]interface{}{"reason": reason},
	})
}
