package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/unbound/trust-relay-go/internal/service"
	"github.com/unbound/trust-relay-go/internal/util"
)

type DeviceHandler struct {
	deviceService *service.DeviceService
	trustService  *service.TrustService
}

func NewDeviceHandler(deviceService *service.DeviceService, trustService *service.TrustService) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		trustService:  trustService,
	}
}

func (h *DeviceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Register)
	r.Get("/", h.List)
	r.Get("/{deviceID}", h.Get)
	r.Get("/{deviceID}/trust-chain", h.TrustChain)

	return r
}

// POST /v1/devices
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var params service.RegisterDeviceParams
	if !decodeBody(w, r, &params) {
		return
	}

	device, err := h.deviceService.Register(r.Context(), user.ID, params)
	if err != nil {
		log.Warn().Err(err).Str("userId", user.ID).Msg("device registration failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, device)
}

// GET /v1/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	devices, err := h.deviceService.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// GET /v1/devices/{deviceID}
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	if !util.IsValidUUID(deviceID) {
		writeError(w, apperrInvalidID("deviceID"))
		return
	}

	device, err := h.deviceService.Get(r.Context(), user.ID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

// GET /v1/devices/{deviceID}/trust-chain
func (h *DeviceHandler) TrustChain(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	if !util.IsValidUUID(deviceID) {
		writeError(w, apperrInvalidID("deviceID"))
		return
	}

	chain, err := h.trustService.TrustChain(r.Context(), user.ID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chain": chain})
}
