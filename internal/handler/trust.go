package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/service"
	"github.com/unbound/trust-relay-go/internal/util"
)

type TrustHandler struct {
	trustService    *service.TrustService
	pairwiseService *service.PairwiseService
}

func NewTrustHandler(trustService *service.TrustService, pairwiseService *service.PairwiseService) *TrustHandler {
	return &TrustHandler{
		trustService:    trustService,
		pairwiseService: pairwiseService,
	}
}

func (h *TrustHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/introduce", h.Introduce)
	r.Post("/edges/{edgeID}/approve", h.Approve)
	r.Post("/revoke", h.Revoke)
	r.Post("/pairwise", h.EnsurePairwise)
	r.Get("/pairwise/{deviceID}/{otherDeviceID}", h.GetPairwise)

	return r
}

type introduceRequest struct {
	GrantorDeviceID string     `json:"grantorDeviceId"`
	GranteeDeviceID string     `json:"granteeDeviceId"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

// POST /v1/trust/introduce
func (h *TrustHandler) Introduce(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req introduceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !util.IsValidUUID(req.GrantorDeviceID) {
		writeError(w, apperrInvalidID("grantorDeviceId"))
		return
	}
	if !util.IsValidUUID(req.GranteeDeviceID) {
		writeError(w, apperrInvalidID("granteeDeviceId"))
		return
	}

	edge, err := h.trustService.Introduce(r.Context(), user.ID, req.GrantorDeviceID, req.GranteeDeviceID, req.ExpiresAt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, edge)
}

type approveRequest struct {
	ApprovingDeviceID string `json:"approvingDeviceId"`
}

// POST /v1/trust/edges/{edgeID}/approve
func (h *TrustHandler) Approve(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	edgeID := chi.URLParam(r, "edgeID")
	if !util.IsValidUUID(edgeID) {
		writeError(w, apperrInvalidID("edgeID"))
		return
	}

	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !util.IsValidUUID(req.ApprovingDeviceID) {
		writeError(w, apperrInvalidID("approvingDeviceId"))
		return
	}

	edge, err := h.trustService.Approve(r.Context(), user.ID, edgeID, req.ApprovingDeviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, edge)
}

type revokeRequest struct {
	DeviceID string `json:"deviceId"`
	Reason   string `json:"reason"`
}

// POST /v1/trust/revoke
func (h *TrustHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req revokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !util.IsValidUUID(req.DeviceID) {
		writeError(w, apperrInvalidID("deviceId"))
		return
	}
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	result, err := h.trustService.Revoke(r.Context(), user.ID, req.DeviceID, req.Reason)
	if err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Str("deviceId", req.DeviceID).Msg("revocation failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type ensurePairwiseRequest struct {
	DeviceID      string `json:"deviceId"`
	OtherDeviceID string `json:"otherDeviceId"`
}

// POST /v1/trust/pairwise
func (h *TrustHandler) EnsurePairwise(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req ensurePairwiseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !util.IsValidUUID(req.DeviceID) || !util.IsValidUUID(req.OtherDeviceID) {
		writeError(w, apperrors.InvalidInput("deviceId", "both device ids must be UUIDs"))
		return
	}

	secret, err := h.pairwiseService.Ensure(r.Context(), user.ID, req.DeviceID, req.OtherDeviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, secret)
}

// GET /v1/trust/pairwise/{deviceID}/{otherDeviceID}
func (h *TrustHandler) GetPairwise(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	otherDeviceID := chi.URLParam(r, "otherDeviceID")
	if !util.IsValidUUID(deviceID) || !util.IsValidUUID(otherDeviceID) {
		writeError(w, apperrors.InvalidInput("deviceId", "both device ids must be UUIDs"))
		return
	}

	view, err := h.pairwiseService.GetForDevice(r.Context(), user.ID, deviceID, otherDeviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}
