package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/audit"
	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/realtime"
	"github.com/unbound/trust-relay-go/internal/repository"
	"github.com/unbound/trust-relay-go/internal/util"
)

// WebSessionService manages browser viewing sessions: created pending
// by the browser, activated by a trusted device, expired lazily on use
// and eagerly by the sweep.
type WebSessionService struct {
	sessions  repository.WebSessionRepository
	devices   repository.DeviceRepository
	trust     *TrustService
	publisher realtime.Publisher

	defaultTTLSeconds     int
	defaultMaxIdleSeconds int

	now func() time.Time
}

func NewWebSessionService(
	sessions repository.WebSessionRepository,
	devices repository.DeviceRepository,
	trust *TrustService,
	publisher realtime.Publisher,
	defaultTTLSeconds, defaultMaxIdleSeconds int,
) *WebSessionService {
	return &WebSessionService{
		sessions:              sessions,
		devices:               devices,
		trust:                 trust,
		publisher:             publisher,
		defaultTTLSeconds:     defaultTTLSeconds,
		defaultMaxIdleSeconds: defaultMaxIdleSeconds,
		now:                   time.Now,
	}
}

// CreatedWebSession pairs the stored row with the bearer token,
// returned exactly once at creation.
type CreatedWebSession struct {
	Session *model.WebSession `json:"session"`
	Token   string            `json:"token"`
}

// Create opens a pending session for a browser. The browser supplies
// only its ephemeral public key; permission stays view_only until a
// trusted device authorizes more.
func (s *WebSessionService) Create(ctx context.Context, userID, webPublicKey string) (*CreatedWebSession, error) {
	if err := validateDevicePublicKey(webPublicKey); err != nil {
		return nil, err
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	session, err := s.sessions.Create(ctx, model.CreateWebSessionParams{
		UserID:           userID,
		SessionTokenHash: util.HashToken(token),
		WebPublicKey:     webPublicKey,
		TTLSeconds:       s.defaultTTLSeconds,
		MaxIdleSeconds:   s.defaultMaxIdleSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("create web session: %w", err)
	}

	log.Info().
		Str("userId", userID).
		Str("sessionId", session.ID).
		Msg("web session created")

	return &CreatedWebSession{Session: session, Token: token}, nil
}

// Authorize activates a pending session. The approving device must hold
// a live trust chain; it supplies the session key sealed to the
// browser's public key so the server never sees the plaintext key.
func (s *WebSessionService) Authorize(ctx context.Context, userID string, params model.AuthorizeWebSessionParams) (*model.WebSession, error) {
	if !slices.Contains(model.ValidPermissions, string(params.Permission)) {
		return nil, apperrors.InvalidInput("permission", "unknown value")
	}
	if params.EncryptedSessionKey == "" {
		return nil, apperrors.MissingRequired("encryptedSessionKey")
	}
	if err := validateDevicePublicKey(params.ResponderPublicKey); err != nil {
		return nil, err
	}

	device, err := s.devices.FindByID(ctx, userID, params.ApprovingDeviceID)
	if err != nil {
		return nil, err
	}
	if device == nil || !device.IsActive {
		return nil, apperrors.NotFound("device")
	}

	trusted, err := s.trust.IsTrusted(ctx, userID, params.ApprovingDeviceID)
	if err != nil {
		return nil, err
	}
	if !trusted {
		audit.Log(ctx, audit.Event{
			Type:     audit.EventAuthFailure,
			UserID:   userID,
			DeviceID: params.ApprovingDeviceID,
			Details:  map[string]interface{}{"sessionId": params.SessionID},
		})
		return nil, apperrors.DeviceNotTrusted(params.ApprovingDeviceID)
	}

	if params.TTLSeconds <= 0 || params.TTLSeconds > s.defaultTTLSeconds {
		params.TTLSeconds = s.defaultTTLSeconds
	}
	if params.MaxIdleSeconds <= 0 || params.MaxIdleSeconds > params.TTLSeconds {
		params.MaxIdleSeconds = s.defaultMaxIdleSeconds
	}

	session, err := s.sessions.FindByID(ctx, userID, params.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("web session")
	}
	if session.IsExpired(s.now()) {
		_, _ = s.sessions.MarkExpired(ctx, userID, session.ID)
		return nil, apperrors.SessionExpired()
	}

	authorized, err := s.sessions.Authorize(ctx, userID, params, device.PublicKey)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, apperrors.InvalidTransition(string(session.Status), string(model.WebSessionActive))
	}

	session, err = s.sessions.FindByID(ctx, userID, params.SessionID)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventSessionAuthorize,
		UserID:   userID,
		DeviceID: params.ApprovingDeviceID,
		Details: map[string]interface{}{
			"sessionId":  session.ID,
			"permission": string(session.Permission),
			"ttlSeconds": session.SessionTTLSeconds,
		},
	})

	s.publish(ctx, userID, realtime.EventSessionAuthorized, session)

	return session, nil
}

// Validate resolves a bearer token to a live session and refreshes its
// activity clock. Expired sessions are marked as they are discovered;
// the caller cannot tell a foreign token from a nonexistent one.
func (s *WebSessionService) Validate(ctx context.Context, token string) (*model.WebSession, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("missing session token")
	}

	session, err := s.sessions.FindByTokenHash(ctx, util.HashToken(token))
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.Unauthorized("invalid session token")
	}

	if session.IsExpired(s.now()) {
		_, _ = s.sessions.MarkExpired(ctx, session.UserID, session.ID)
		return nil, apperrors.SessionExpired()
	}

	switch session.Status {
	case model.WebSessionActive:
		if _, err := s.sessions.Touch(ctx, session.UserID, session.ID); err != nil {
			return nil, err
		}
		return session, nil
	case model.WebSessionPending:
		return session, nil
	case model.WebSessionRevoked:
		return nil, apperrors.SessionRevoked()
	default:
		return nil, apperrors.SessionExpired()
	}
}

// Revoke ends a session immediately. Takes effect on the session's next
// request, whatever its state in between.
func (s *WebSessionService) Revoke(ctx context.Context, userID, sessionID, reason string) error {
	revoked, err := s.sessions.Revoke(ctx, userID, sessionID, reason)
	if err != nil {
		return err
	}
	if !revoked {
		return apperrors.NotFound("web session")
	}

	audit.Log(ctx, audit.Event{
		Type:   audit.EventSessionRevoke,
		UserID: userID,
		Details: map[string]interface{}{
			"sessionId": sessionID,
			"reason":    reason,
		},
	})

	s.publish(ctx, userID, realtime.EventSessionRevoked, map[string]string{"sessionId": sessionID})

	return nil
}

func (s *WebSessionService) Get(ctx context.Context, userID, sessionID string) (*model.WebSession, error) {
	session, err := s.sessions.FindByID(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.NotFound("web session")
	}
	return session, nil
}

// ExpireSessions sweeps past-due sessions, for the periodic job.
func (s *WebSessionService) ExpireSessions(ctx context.Context) (int64, error) {
	return s.sessions.ExpireDue(ctx)
}

func (s *WebSessionService) publish(ctx context.Context, userID, eventType string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, userID, realtime.NewEvent(eventType, payload)); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to publish session event")
	}
}
