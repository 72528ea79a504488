package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stackpod/hutch/pkg/orchestrator"
	"github.com/stackpod/hutch/pkg/pool"
	"github.com/stackpod/hutch/pkg/runtime"
	"github.com/stackpod/hutch/pkg/security"
	"github.com/stackpod/hutch/pkg/session"
	"github.com/stackpod/hutch/pkg/twa"
)

// errorResponse is the body for every non-2xx answer.
type errorResponse struct {
	Error string `json:"error"`
}

// classify maps a sentinel chain to its HTTP status and public kind
// name. Anything unrecognized is Internal.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrBadBundle):
		return http.StatusBadRequest, "BadBundle"
	case errors.Is(err, security.ErrBadCiphertext):
		return http.StatusBadRequest, "BadCiphertext"
	case errors.Is(err, twa.ErrUnknownModule):
		return http.StatusBadRequest, "UnknownModule"
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "SessionNotFound"
	case errors.Is(err, session.ErrAuthSessionNotFound):
		return http.StatusNotFound, "AuthSessionNotFound"
	case errors.Is(err, pool.ErrContainerNotFound):
		return http.StatusNotFound, "ContainerNotFound"
	case errors.Is(err, pool.ErrAtCapacity):
		return http.StatusInternalServerError, "AtCapacity"
	case errors.Is(err, runtime.ErrCreationFailed):
		return http.StatusInternalServerError, "ContainerCreationFailed"
	case errors.Is(err, runtime.ErrNotReady):
		return http.StatusInternalServerError, "BrowserNotReady"
	case errors.Is(err, runtime.ErrProxyConfig):
		return http.StatusInternalServerError, "ProxyConfig"
	case errors.Is(err, orchestrator.ErrSamplingScript):
		return http.StatusInternalServerError, "SamplingScriptFailed"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeJSON(w, status, errorResponse{Error: kind + ": " + err.Error()})
}

// writeBadRequest covers malformed JSON and failed field validation,
// where there is no sentinel to classify.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "BadRequest: " + msg})
}
