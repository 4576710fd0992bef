package middleware

import (
	"net/http"

	"github.com/unbound/trust-relay-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
