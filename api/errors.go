package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pingme/pingme/auth"
	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/member"
	"github.com/pingme/pingme/persistence"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps the error taxonomy to a structured response: not-found,
// forbidden and unauthenticated are surfaced as such, everything else is a
// transient persistence failure reported as 500 without detail.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, member.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, member.ErrOwnerCannotLeave):
		writeError(w, http.StatusForbidden, "owner cannot leave their own room")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		globals.AppLogger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
