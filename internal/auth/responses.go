// responses.go -- Package-wide HTTP response helpers and the error boundary.
//
// Handlers return *apperr.Error values for every client-visible failure and
// hand them to WriteError; nothing else decides a status code for an error.
package auth

import (
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/kiosk/internal/apperr"
)

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// WriteError maps err to a JSON response.
// Typed errors get their declared status and message; anything else is a generic 500
// and the cause is only logged.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		InternalServerError(w, r, err)
		return
	}

	switch {
	case ae.Kind == apperr.Internal:
		InternalServerError(w, r, err)
		return
	case ae.Err != nil:
		logWarn(r, "request failed", "kind", ae.Kind.String(), "message", ae.Message, "error", ae.Err)
	default:
		logDebug(r, "request rejected", "kind", ae.Kind.String(), "message", ae.Message)
	}

	body := struct {
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	}{ae.Message, ae.Details}
	writeJSON(w, ae.Status(), body)
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"message":"internal server error"}`))
}
