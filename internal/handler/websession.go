package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unbound/trust-relay-go/internal/model"
	"github.com/unbound/trust-relay-go/internal/service"
	"github.com/unbound/trust-relay-go/internal/util"
)

type WebSessionHandler struct {
	sessionService *service.WebSessionService
}

func NewWebSessionHandler(sessionService *service.WebSessionService) *WebSessionHandler {
	return &WebSessionHandler{sessionService: sessionService}
}

func (h *WebSessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Post("/validate", h.Validate)
	r.Get("/{sessionID}", h.Get)
	r.Post("/{sessionID}/authorize", h.Authorize)
	r.Post("/{sessionID}/revoke", h.Revoke)

	return r
}

type createSessionRequest struct {
	WebPublicKey string `json:"webPublicKey"`
}

// POST /v1/web-sessions
func (h *WebSessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.sessionService.Create(r.Context(), user.ID, req.WebPublicKey)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// GET /v1/web-sessions/{sessionID}
func (h *WebSessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		writeError(w, apperrInvalidID("sessionID"))
		return
	}

	session, err := h.sessionService.Get(r.Context(), user.ID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

type authorizeSessionRequest struct {
	ApprovingDeviceID   string           `json:"approvingDeviceId"`
	EncryptedSessionKey string           `json:"encryptedSessionKey"`
	ResponderPublicKey  string           `json:"responderPublicKey"`
	Permission          model.Permission `json:"permission"`
	TTLSeconds          int              `json:"ttlSeconds"`
	MaxIdleSeconds      int              `json:"maxIdleSeconds"`
}

// POST /v1/web-sessions/{sessionID}/authorize
func (h *WebSessionHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		writeError(w, apperrInvalidID("sessionID"))
		return
	}

	var req authorizeSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !util.IsValidUUID(req.ApprovingDeviceID) {
		writeError(w, apperrInvalidID("approvingDeviceId"))
		return
	}

	session, err := h.sessionService.Authorize(r.Context(), user.ID, model.AuthorizeWebSessionParams{
		SessionID:           sessionID,
		ApprovingDeviceID:   req.ApprovingDeviceID,
		EncryptedSessionKey: req.EncryptedSessionKey,
		ResponderPublicKey:  req.ResponderPublicKey,
		Permission:          req.Permission,
		TTLSeconds:          req.TTLSeconds,
		MaxIdleSeconds:      req.MaxIdleSeconds,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

type validateSessionRequest struct {
	Token string `json:"token"`
}

// POST /v1/web-sessions/validate
//
// Resolves a bearer session token to its session row. Idle and absolute
// expiry are applied lazily here, so a stale token flips the session to
// expired on first sight.
func (h *WebSessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}

	var req validateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.sessionService.Validate(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

type revokeSessionRequest struct {
	Reason string `json:"reason"`
}

// POST /v1/web-sessions/{sessionID}/revoke
func (h *WebSessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if !util.IsValidUUID(sessionID) {
		writeError(w, apperrInvalidID("sessionID"))
		return
	}

	var req revokeSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	if err := h.sessionService.Revoke(r.Context(), user.ID, sessionID, req.Reason); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
