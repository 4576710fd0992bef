package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/unbound/trust-relay-go/internal/errors"
	"github.com/unbound/trust-relay-go/internal/httputil"
	"github.com/unbound/trust-relay-go/internal/middleware"
	"github.com/unbound/trust-relay-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, apperrors.InvalidInput("body", "not valid JSON"))
		return false
	}
	return true
}

func apperrInvalidID(field string) error {
	return apperrors.InvalidInput(field, "must be a UUID")
}

// currentUser pulls the authenticated user from the request context.
// The auth middleware guarantees it on protected routes.
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("authentication required"))
		return nil, false
	}
	return user, true
}
