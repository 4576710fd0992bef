package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/audit"
	"github.com/unbound/trust-relay-go/internal/config"
	"github.com/unbound/trust-relay-go/internal/database"
	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/realtime"
	"github.com/unbound/trust-relay-go/internal/repository"
)

// Transactor runs a function inside a database transaction.
// *database.DB satisfies it.
type Transactor interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

var _ Transactor = (*database.DB)(nil)

// TrustService manages the per-user trust graph: directed grants between
// devices, approval, chain computation and cascading revocation.
type TrustService struct {
	tx        Transactor
	devices   repository.DeviceRepository
	edges     repository.TrustGraphRepository
	secrets   repository.PairwiseSecretRepository
	publisher realtime.Publisher
}

func NewTrustService(
	tx Transactor,
	devices repository.DeviceRepository,
	edges repository.TrustGraphRepository,
	secrets repository.PairwiseSecretRepository,
	publisher realtime.Publisher,
) *TrustService {
	return &TrustService{
		tx:        tx,
		devices:   devices,
		edges:     edges,
		secrets:   secrets,
		publisher: publisher,
	}
}

// Introduce creates a pending trust edge from grantor to grantee. The
// grantor must itself be trusted, and the resulting chain may not exceed
// the maximum depth.
func (s *TrustService) Introduce(
	ctx context.Context,
	userID, grantorDeviceID, granteeDeviceID string,
	expiresAt *time.Time,
) (*model.TrustEdge, error) {
	if grantorDeviceID == granteeDeviceID {
		return nil, apperrors.SelfTrust()
	}

	grantor, err := s.devices.FindByID(ctx, userID, grantorDeviceID)
	if err != nil {
		return nil, err
	}
	if grantor == nil || !grantor.IsActive {
		return nil, apperrors.NotFound("device")
	}

	grantee, err := s.devices.FindByID(ctx, userID, granteeDeviceID)
	if err != nil {
		return nil, err
	}
	if grantee == nil || !grantee.IsActive {
		return nil, apperrors.NotFound("device")
	}

	grantorLevel, err := s.trustLevel(ctx, userID, grantor)
	if err != nil {
		return nil, err
	}
	if grantorLevel < 0 {
		return nil, apperrors.DeviceNotTrusted(grantorDeviceID)
	}

	level := grantorLevel + 1
	if level > config.MaxTrustDepth {
		return nil, apperrors.TrustDepthExceeded()
	}

	existing, err := s.edges.FindByPair(ctx, userID, grantorDeviceID, granteeDeviceID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != model.TrustEdgeRevoked && existing.Status != model.TrustEdgeExpired {
		return nil, apperrors.DuplicateEdge(grantorDeviceID, granteeDeviceID)
	}

	edge, err := s.edges.Create(ctx, model.CreateTrustEdgeParams{
		UserID:          userID,
		GrantorDeviceID: grantorDeviceID,
		GranteeDeviceID: granteeDeviceID,
		TrustLevel:      level,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create trust edge: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventTrustIntroduce,
		UserID:   userID,
		DeviceID: grantorDeviceID,
		Details: map[string]interface{}{
			"granteeDeviceId": granteeDeviceID,
			"trustLevel":      level,
		},
	})

	s.publishTrustUpdate(ctx, userID, edge)

	log.Info().
		Str("userId", userID).
		Str("grantorDeviceId", grantorDeviceID).
		Str("granteeDeviceId", granteeDeviceID).
		Int("trustLevel", level).
		Msg("trust edge introduced")

	return edge, nil
}

// Approve activates a pending edge. Only the grantor device or the
// primary trust root may approve. On success the grantee carries the
// persistent trust flag, unless it is a web-originated device.
func (s *TrustService) Approve(ctx context.Context, userID, edgeID, approvingDeviceID string) (*model.TrustEdge, error) {
	edge, err := s.edges.FindByID(ctx, userID, edgeID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, apperrors.NotFound("trust edge")
	}

	if approvingDeviceID != edge.GrantorDeviceID {
		approver, err := s.devices.FindByID(ctx, userID, approvingDeviceID)
		if err != nil {
			return nil, err
		}
		if approver == nil || !approver.IsPrimaryTrustRoot {
			return nil, apperrors.NotFound("trust edge")
		}
	}

	grantee, err := s.devices.FindByID(ctx, userID, edge.GranteeDeviceID)
	if err != nil {
		return nil, err
	}
	if grantee == nil || !grantee.IsActive {
		return nil, apperrors.NotFound("device")
	}

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		approved, err := s.edges.WithTx(tx).Approve(ctx, userID, edgeID)
		if err != nil {
			return err
		}
		if !approved {
			return apperrors.InvalidTransition(string(edge.Status), string(model.TrustEdgeActive))
		}
		if grantee.CanBeTrusted() {
			return s.devices.WithTx(tx).SetTrusted(ctx, userID, edge.GranteeDeviceID, true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	edge, err = s.edges.FindByID(ctx, userID, edgeID)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventTrustApprove,
		UserID:   userID,
		DeviceID: approvingDeviceID,
		Details: map[string]interface{}{
			"edgeId":          edgeID,
			"granteeDeviceId": edge.GranteeDeviceID,
		},
	})

	s.publishTrustUpdate(ctx, userID, edge)

	return edge, nil
}

// RevokeResult summarizes one cascading revocation.
type RevokeResult struct {
	RevokedEdges   int64    `json:"revokedEdges"`
	RevokedDevices []string `json:"revokedDevices"`
	DeletedSecrets int64    `json:"deletedSecrets"`
}

// Revoke removes a device from the trust graph. Every edge into and out
// of the device is revoked, and devices whose entire trust derived from
// it are revoked in turn. The cascade runs in one transaction so a
// failure leaves the graph untouched.
func (s *TrustService) Revoke(ctx context.Context, userID, deviceID, reason string) (*RevokeResult, error) {
	device, err := s.devices.FindByID(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, apperrors.NotFound("device")
	}
	if device.IsPrimaryTrustRoot {
		return nil, apperrors.ValidationError("the primary trust root cannot be revoked")
	}

	result := &RevokeResult{}

	err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		devices := s.devices.WithTx(tx)
		edges := s.edges.WithTx(tx)
		secrets := s.secrets.WithTx(tx)

		// Breadth-first walk over grantees. The visited set makes the
		// walk terminate even if the graph contains a cycle.
		visited := map[string]bool{deviceID: true}
		queue := []revokeTarget{{deviceID: deviceID, reason: reason}}

		for len(queue) > 0 {
			target := queue[0]
			queue = queue[1:]

			incoming, err := edges.RevokeIncoming(ctx, userID, target.deviceID, target.reason)
			if err != nil {
				return err
			}
			result.RevokedEdges += incoming

			granteeIDs, err := edges.RevokeGrantedBy(ctx, userID, target.deviceID, target.reason)
			if err != nil {
				return err
			}
			result.RevokedEdges += int64(len(granteeIDs))

			if err := devices.Deactivate(ctx, userID, target.deviceID); err != nil {
				return err
			}
			result.RevokedDevices = append(result.RevokedDevices, target.deviceID)

			deleted, err := secrets.DeleteForDevice(ctx, userID, target.deviceID)
			if err != nil {
				return err
			}
			result.DeletedSecrets += deleted

			cascadeReason := "cascade_from_" + target.deviceID
			for _, granteeID := range granteeIDs {
				if visited[granteeID] {
					continue
				}
				visited[granteeID] = true

				// A grantee with another live trust path keeps its
				// standing and is not pulled into the cascade.
				stillTrusted, err := edges.HasActiveIncoming(ctx, userID, granteeID)
				if err != nil {
					return err
				}
				if stillTrusted {
					continue
				}
				queue = append(queue, revokeTarget{deviceID: granteeID, reason: cascadeReason})
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("revoke cascade: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventTrustRevoke,
		UserID:   userID,
		DeviceID: deviceID,
		Details: map[string]interface{}{
			"reason":         reason,
			"revokedEdges":   result.RevokedEdges,
			"revokedDevices": len(result.RevokedDevices),
		},
	})

	for _, revokedID := range result.RevokedDevices {
		s.publishDeviceUpdate(ctx, userID, revokedID)
	}

	log.Info().
		Str("userId", userID).
		Str("deviceId", deviceID).
		Int64("revokedEdges", result.RevokedEdges).
		Int("revokedDevices", len(result.RevokedDevices)).
		Msg("trust revoked")

	return result, nil
}

type revokeTarget struct {
	deviceID string
	reason   string
}

// TrustChain returns the path from a device back to the primary trust
// root, the device itself first. The chain never exceeds the maximum
// trust depth, so at most four entries come back.
func (s *TrustService) TrustChain(ctx context.Context, userID, deviceID string) ([]model.TrustChainEntry, error) {
	now := time.Now()
	visited := map[string]bool{}
	chain := []model.TrustChainEntry{}

	currentID := deviceID
	for hop := 0; hop <= config.MaxTrustDepth; hop++ {
		if visited[currentID] {
			return nil, apperrors.DeviceNotTrusted(deviceID)
		}
		visited[currentID] = true

		device, err := s.devices.FindByID(ctx, userID, currentID)
		if err != nil {
			return nil, err
		}
		if device == nil || !device.IsActive {
			return nil, apperrors.NotFound("device")
		}

		if device.IsPrimaryTrustRoot {
			chain = append(chain, model.TrustChainEntry{
				DeviceID:   device.ID,
				DeviceName: device.Name,
				Role:       device.DeviceRole,
				TrustLevel: 0,
			})
			return chain, nil
		}

		incoming, err := s.edges.ActiveIncoming(ctx, userID, currentID)
		if err != nil {
			return nil, err
		}

		// Follow the strongest live grant.
		var best *model.TrustEdge
		for i := range incoming {
			if incoming[i].IsTraversable(now) {
				best = &incoming[i]
				break
			}
		}
		if best == nil {
			return nil, apperrors.DeviceNotTrusted(deviceID)
		}

		chain = append(chain, model.TrustChainEntry{
			DeviceID:        device.ID,
			DeviceName:      device.Name,
			Role:            device.DeviceRole,
			TrustLevel:      best.TrustLevel,
			GrantorDeviceID: best.GrantorDeviceID,
		})
		currentID = best.GrantorDeviceID
	}

	return nil, apperrors.TrustDepthExceeded()
}

// IsTrusted reports whether the device has a live chain to the root.
func (s *TrustService) IsTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	device, err := s.devices.FindByID(ctx, userID, deviceID)
	if err != nil {
		return false, err
	}
	if device == nil || !device.IsActive {
		return false, nil
	}
	level, err := s.trustLevel(ctx, userID, device)
	if err != nil {
		return false, err
	}
	return level >= 0, nil
}

// ExpireEdges marks past-due active edges expired, for the periodic sweep.
func (s *TrustService) ExpireEdges(ctx context.Context) (int64, error) {
	return s.edges.ExpireDue(ctx)
}

// trustLevel returns the device's depth in the trust graph: 0 for the
// primary trust root, the minimum live incoming trust level otherwise,
// and -1 when no live chain exists.
func (s *TrustService) trustLevel(ctx context.Context, userID string, device *model.Device) (int, error) {
	if device.IsPrimaryTrustRoot {
		return 0, nil
	}
	if !device.IsTrusted {
		return -1, nil
	}

	incoming, err := s.edges.ActiveIncoming(ctx, userID, device.ID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for i := range incoming {
		if incoming[i].IsTraversable(now) {
			return incoming[i].TrustLevel, nil
		}
	}
	return -1, nil
}

func (s *TrustService) publishTrustUpdate(ctx context.Context, userID string, edge *model.TrustEdge) {
	if s.publisher == nil {
		return
	}
	event := realtime.NewEvent(realtime.EventTrustUpdated, edge)
	if err := s.publisher.Publish(ctx, userID, event); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to publish trust update")
	}
}

func (s *TrustService) publishDeviceUpdate(ctx context.Context, userID, deviceID string) {
	if s.publisher == nil {
		return
	}
	event := realtime.NewEvent(realtime.EventDeviceUpdated, map[string]string{"deviceId": deviceID})
	if err := s.publisher.Publish(ctx, userID, event); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to publish device update")
	}
}
