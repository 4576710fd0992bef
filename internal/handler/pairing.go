package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/service"
	"github.com/unbound/trust-relay-go/internal/util"
)

type PairingHandler struct {
	pairingService *service.PairingService
}

func NewPairingHandler(pairingService *service.PairingService) *PairingHandler {
	return &PairingHandler{pairingService: pairingService}
}

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/payload", h.CreatePayload)
	r.Post("/consume", h.Consume)

	return r
}

type createPayloadRequest struct {
	DeviceName      string           `json:"deviceName"`
	DeviceType      model.DeviceType `json:"deviceType"`
	DeviceRole      model.DeviceRole `json:"deviceRole"`
	DevicePublicKey string           `json:"devicePublicKey"`
	ExpiresIn       int              `json:"expiresIn"`
}

// POST /v1/pairing/payload
func (h *PairingHandler) CreatePayload(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}

	var req createPayloadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	payload, err := h.pairingService.CreatePayload(req.DeviceName, req.DeviceType, req.DeviceRole, req.DevicePublicKey, req.ExpiresIn)
	if err != nil {
		writeError(w, err)
		return
	}

	encoded, err := payload.Encode()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"payload": payload,
		"encoded": encoded,
	})
}

type consumeRequest struct {
	ScanningDeviceID string `json:"scanningDeviceId"`
	Payload          string `json:"payload"`
}

// POST /v1/pairing/consume
func (h *PairingHandler) Consume(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req consumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !util.IsValidUUID(req.ScanningDeviceID) {
		writeError(w, apperrInvalidID("scanningDeviceId"))
		return
	}

	payload, err := service.DecodePayload(req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.pairingService.Consume(r.Context(), user.ID, req.ScanningDeviceID, payload)
	if err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("pairing consume failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
