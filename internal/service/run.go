package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/audit"
	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/realtime"
	"github.com/unbound/trust-relay-go/internal/repository"
	"github.com/unbound/trust-relay-go/internal/util"
)

// permissionRank orders permissions for escalation checks.
var permissionRank = map[model.Permission]int{
	model.PermissionViewOnly:    1,
	model.PermissionInteract:    2,
	model.PermissionFullControl: 3,
}

// RunService manages executor runs and their viewers.
type RunService struct {
	runs      repository.RunRepository
	viewers   repository.ViewerRepository
	sessions  repository.WebSessionRepository
	trust     *TrustService
	presence  *realtime.Presence
	publisher realtime.Publisher

	now func() time.Time
}

func NewRunService(
	runs repository.RunRepository,
	viewers repository.ViewerRepository,
	sessions repository.WebSessionRepository,
	trust *TrustService,
	presence *realtime.Presence,
	publisher realtime.Publisher,
) *RunService {
	return &RunService{
		runs:      runs,
		viewers:   viewers,
		sessions:  sessions,
		trust:     trust,
		presence:  presence,
		publisher: publisher,
		now:       time.Now,
	}
}

// StartedRun pairs the stored run with its bearer token, returned
// exactly once at start.
type StartedRun struct {
	Run   *model.Run `json:"run"`
	Token string     `json:"token"`
}

// Start opens a run for a trusted executor device. The returned token
// authenticates the executor's stream; only its hash is stored.
func (s *RunService) Start(ctx context.Context, userID, executorDeviceID string, codingSessionID *string) (*StartedRun, error) {
	trusted, err := s.trust.IsTrusted(ctx, userID, executorDeviceID)
	if err != nil {
		return nil, err
	}
	if !trusted {
		return nil, apperrors.DeviceNotTrusted(executorDeviceID)
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate run token: %w", err)
	}

	run, err := s.runs.Create(ctx, model.CreateRunParams{
		UserID:           userID,
		ExecutorDeviceID: executorDeviceID,
		CodingSessionID:  codingSessionID,
		RunTokenHash:     util.HashToken(token),
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventRunStart,
		UserID:   userID,
		DeviceID: executorDeviceID,
		Details:  map[string]interface{}{"runId": run.ID},
	})

	s.publish(ctx, userID, realtime.EventRunUpdated, run)

	log.Info().
		Str("userId", userID).
		Str("runId", run.ID).
		Str("executorDeviceId", executorDeviceID).
		Msg("run started")

	return &StartedRun{Run: run, Token: token}, nil
}

// Authenticate resolves a run bearer token. Ended runs do not
// authenticate; a stale token looks the same as a bad one.
func (s *RunService) Authenticate(ctx context.Context, token string) (*model.Run, error) {
	if token == "" {
		return nil, apperrors.Unauthorized("missing run token")
	}
	run, err := s.runs.FindByTokenHash(ctx, util.HashToken(token))
	if err != nil {
		return nil, err
	}
	if run == nil || run.Status == model.RunStatusEnded {
		return nil, apperrors.Unauthorized("invalid run token")
	}
	return run, nil
}

// Heartbeat refreshes the run's activity clock so the stale sweep
// leaves it alone.
func (s *RunService) Heartbeat(ctx context.Context, userID, runID string) error {
	alive, err := s.runs.Heartbeat(ctx, userID, runID)
	if err != nil {
		return err
	}
	if !alive {
		return apperrors.NotFound("run")
	}
	return nil
}

// Join adds a viewer to a run. Device viewers must hold a live trust
// chain; web session viewers must be active and may not exceed the
// permission their authorization granted. Rejoining while already
// active returns the existing membership unchanged.
func (s *RunService) Join(ctx context.Context, userID string, params model.JoinRunParams) (*model.Viewer, error) {
	if params.Viewer.IsZero() {
		return nil, apperrors.ValidationError("viewer must reference exactly one of device or web session")
	}
	if _, ok := permissionRank[params.Permission]; !ok {
		return nil, apperrors.InvalidInput("permission", "unknown value")
	}
	if err := validateDevicePublicKey(params.ViewerSessionPublicKey); err != nil {
		return nil, err
	}

	run, err := s.runs.FindByID(ctx, userID, params.RunID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperrors.NotFound("run")
	}
	if run.Status == model.RunStatusEnded {
		return nil, apperrors.InvalidTransition(string(run.Status), string(model.RunStatusActive))
	}

	if err := s.authorizeViewer(ctx, userID, params); err != nil {
		return nil, err
	}

	existing, err := s.viewers.FindActive(ctx, userID, params.RunID, params.Viewer)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	viewer, err := s.viewers.Insert(ctx, userID, params)
	if err != nil {
		return nil, fmt.Errorf("insert viewer: %w", err)
	}

	s.observePresence(ctx, params.RunID, params.Viewer, true)

	audit.Log(ctx, audit.Event{
		Type:   audit.EventViewerJoin,
		UserID: userID,
		Details: map[string]interface{}{
			"runId":      params.RunID,
			"viewer":     params.Viewer.Key(),
			"permission": string(params.Permission),
		},
	})

	s.publish(ctx, userID, realtime.EventViewerJoined, viewer)

	return viewer, nil
}

// Leave removes a viewer from a run. Leaving twice is a no-op.
func (s *RunService) Leave(ctx context.Context, userID, runID string, ref model.ViewerRef) error {
	left, err := s.viewers.Deactivate(ctx, userID, runID, ref)
	if err != nil {
		return err
	}
	if !left {
		return nil
	}

	s.observePresence(ctx, runID, ref, false)
	s.publish(ctx, userID, realtime.EventViewerLeft, map[string]string{
		"runId":  runID,
		"viewer": ref.Key(),
	})
	return nil
}

// End closes a run and detaches every viewer. Ending an already ended
// run reports not-found, same as a run the caller does not own.
func (s *RunService) End(ctx context.Context, userID, runID string) error {
	ended, err := s.runs.End(ctx, userID, runID)
	if err != nil {
		return err
	}
	if !ended {
		return apperrors.NotFound("run")
	}

	if _, err := s.viewers.DeactivateAllForRun(ctx, userID, runID); err != nil {
		return err
	}
	if s.presence != nil {
		if err := s.presence.Clear(ctx, runID); err != nil {
			log.Warn().Err(err).Str("runId", runID).Msg("failed to clear run presence")
		}
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventRunEnd,
		UserID:  userID,
		Details: map[string]interface{}{"runId": runID},
	})

	s.publish(ctx, userID, realtime.EventRunUpdated, map[string]string{
		"runId":  runID,
		"status": string(model.RunStatusEnded),
	})

	return nil
}

func (s *RunService) Get(ctx context.Context, userID, runID string) (*model.Run, error) {
	run, err := s.runs.FindByID(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperrors.NotFound("run")
	}
	return run, nil
}

// ActiveViewers lists current viewers in join order.
func (s *RunService) ActiveViewers(ctx context.Context, userID, runID string) ([]model.Viewer, error) {
	run, err := s.runs.FindByID(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperrors.NotFound("run")
	}
	return s.viewers.ListActive(ctx, userID, runID)
}

// PresenceSnapshot returns the merged online/offline observations for a
// run's viewers, keyed by viewer ref.
func (s *RunService) PresenceSnapshot(ctx context.Context, userID, runID string) (map[string]realtime.Observation, error) {
	run, err := s.runs.FindByID(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperrors.NotFound("run")
	}
	if s.presence == nil {
		return map[string]realtime.Observation{}, nil
	}
	return s.presence.Snapshot(ctx, runID)
}

// TouchViewer records viewer liveness from a stream heartbeat.
func (s *RunService) TouchViewer(ctx context.Context, userID, runID string, ref model.ViewerRef) error {
	if err := s.viewers.TouchLastSeen(ctx, userID, runID, ref); err != nil {
		return err
	}
	s.observePresence(ctx, runID, ref, true)
	return nil
}

// SweepStaleRuns ends runs whose executor went silent, for the
// periodic job.
func (s *RunService) SweepStaleRuns(ctx context.Context, threshold time.Duration) (int64, error) {
	return s.runs.SweepStale(ctx, threshold)
}

func (s *RunService) authorizeViewer(ctx context.Context, userID string, params model.JoinRunParams) error {
	if deviceID, ok := params.Viewer.DeviceID(); ok {
		trusted, err := s.trust.IsTrusted(ctx, userID, deviceID)
		if err != nil {
			return err
		}
		if !trusted {
			audit.Log(ctx, audit.Event{
				Type:     audit.EventAuthFailure,
				UserID:   userID,
				DeviceID: deviceID,
				Details:  map[string]interface{}{"runId": params.RunID},
			})
			return apperrors.NotFound("run")
		}
		return nil
	}

	sessionID, _ := params.Viewer.WebSessionID()
	session, err := s.sessions.FindByID(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if session == nil || session.Status != model.WebSessionActive || session.IsExpired(s.now()) {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventAuthFailure,
			UserID:  userID,
			Details: map[string]interface{}{"runId": params.RunID, "sessionId": sessionID},
		})
		return apperrors.NotFound("run")
	}

	if permissionRank[params.Permission] > permissionRank[session.Permission] {
		audit.Log(ctx, audit.Event{
			Type:   audit.EventPermissionEscalat,
			UserID: userID,
			Details: map[string]interface{}{
				"runId":     params.RunID,
				"sessionId": sessionID,
				"granted":   string(session.Permission),
				"requested": string(params.Permission),
			},
		})
		return apperrors.Forbidden("requested permission exceeds the session grant")
	}

	return nil
}

func (s *RunService) observePresence(ctx context.Context, runID string, ref model.ViewerRef, online bool) {
	if s.presence == nil {
		return
	}
	_, err := s.presence.Observe(ctx, runID, realtime.Observation{
		ViewerKey:  ref.Key(),
		Online:     online,
		ObservedAt: s.now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("runId", runID).Msg("failed to record presence")
	}
}

func (s *RunService) publish(ctx context.Context, userID, eventType string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, userID, realtime.NewEvent(eventType, payload)); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to publish run event")
	}
}
