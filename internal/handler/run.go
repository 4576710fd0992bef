package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/service"
	"github.com/unbound/trust-relay-go/internal/util"
)

type RunHandler struct {
	runService *service.RunService
}

func NewRunHandler(runService *service.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

func (h *RunHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Start)
	r.Get("/{runID}", h.Get)
	r.Post("/{runID}/heartbeat", h.Heartbeat)
	r.Post("/{runID}/end", h.End)
	r.Post("/{runID}/viewers", h.Join)
	r.Get("/{runID}/viewers", h.ListViewers)
	r.Post("/{runID}/viewers/leave", h.Leave)
	r.Post("/{runID}/viewers/heartbeat", h.TouchViewer)

	return r
}

type startRunRequest struct {
	ExecutorDeviceID string  `json:"executorDeviceId"`
	CodingSessionID  *string `json:"codingSessionId"`
}

// POST /v1/runs
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req startRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !util.IsValidUUID(req.ExecutorDeviceID) {
		writeError(w, apperrInvalidID("executorDeviceId"))
		return
	}

	started, err := h.runService.Start(r.Context(), user.ID, req.ExecutorDeviceID, req.CodingSessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, started)
}

// GET /v1/runs/{runID}
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	runID := chi.URLParam(r, "runID")
	if !util.IsValidUUID(runID) {
		writeError(w, apperrInvalidID("runID"))
		return
	}

	run, err := h.runService.Get(r.Context(), user.ID, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// POST /v1/runs/{runID}/heartbeat
func (h *RunHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	runID := chi.URLParam(r, "runID")
	if !util.IsValidUUID(runID) {
		writeError(w, apperrInvalidID("runID"))
		return
	}

	if err := h.runService.Heartbeat(r.Context(), user.ID, runID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /v1/runs/{runID}/end
func (h *RunHandler) End(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	runID := chi.URLParam(r, "runID")
	if !util.IsValidUUID(runID) {
		writeError(w, apperrInvalidID("runID"))
		return
	}

	if err := h.runService.End(r.Context(), user.ID, runID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

type viewerRefRequest struct {
	ViewerDeviceID string `json:"viewerDeviceId"`
	WebSessionID   string `json:"webSessionId"`
}

// ref builds the sum-type reference from the two optional fields. Exactly
// one must be set.
func (req viewerRefRequest) ref() (model.ViewerRef, error) {
	switch {
	case req.ViewerDeviceID != "" && req.WebSessionID != "":
		return model.ViewerRef{}, apperrors.ValidationError("Provide either viewerDeviceId or webSessionId, not both")
	case req.ViewerDeviceID != "":
		if !util.IsValidUUID(req.ViewerDeviceID) {
			return model.ViewerRef{}, apperrInvalidID("viewerDeviceId")
		}
		return model.DeviceViewer(req.ViewerDeviceID), nil
	case req.WebSessionID != "":
		if !util.IsValidUUID(req.WebSessionID) {
			return model.ViewerRef{}, apperrInvalidID("webSessionId")
		}
		return model.WebSessionViewer(req.WebSessionID), nil
	default:
		return model.ViewerRef{}, apperrors.ValidationError("Either viewerDeviceId or webSessionId is required")
	}
}

type joinRunRequest struct {
	viewerRefRequest
	Permission             model.Permission `json:"permission"`
	ViewerSessionPublicKey string           `json:"viewerSessionPublicKey"`
}

// POST /v1/runs/{runID}/viewers
func (h *RunHandler) Join(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	runID := chi.URLParam(r, "runID")
	if !util.IsValidUUID(runID) {
		writeError(w, apperrInvalidID("runID"))
		return
	}

	var req joinRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ref, refErr := req.ref()
	if refErr != nil {
		writeError(w, refErr)
		return
	}

	viewer, err := h.runService.Join(r.Context(), user.ID, model.JoinRunParams{
		RunID:                  runID,
		Viewer:                 ref,
		Permission:             req.Permission,
		ViewerSessionPublicKey: req.ViewerSessionPublicKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, viewer)
}

// GET /v1/runs/{runID}/viewers
func (h *RunHandler) ListViewers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	runID := chi.URLParam(r, "runID")
	if !util.IsValidUUID(runID) {
		writeError(w, apperrInvalidID("runID"))
		return
	}

	viewers, err := h.runService.ActiveViewers(r.Context(), user.ID, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	presence, err := h.runService.PresenceSnapshot(r.Context(), user.ID, runID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"viewers":  viewers,
		"presence": presence,
	})
}

// POST /v1/runs/{runID}/viewers/leave
func (h *RunHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	runID := chi.URLParam(r, "runID")
	if !util.IsValidUUID(runID) {
		writeError(w, apperrInvalidID("runID"))
		return
	}

	var req viewerRefRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ref, refErr := req.ref()
	if refErr != nil {
		writeError(w, refErr)
		return
	}

	if err := h.runService.Leave(r.Context(), user.ID, runID, ref); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// POST /v1/runs/{runID}/viewers/heartbeat
func (h *RunHandler) TouchViewer(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	runID := chi.URLParam(r, "runID")
	if !util.IsValidUUID(runID) {
		writeError(w, apperrInvalidID("runID"))
		return
	}

	var req viewerRefRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ref, refErr := req.ref()
	if refErr != nil {
		writeError(w, refErr)
		return
	}

	if err := h.runService.TouchViewer(r.Context(), user.ID, runID, ref); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
