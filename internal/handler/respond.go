package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	relayErrors "github.com/dzerik/oauth-relay/pkg/errors"
	"github.com/dzerik/oauth-relay/pkg/logger"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write response", zap.Error(err))
	}
}

// writeError renders a RelayError as the JSON error envelope.
func writeError(w http.ResponseWriter, r *http.Request, re *relayErrors.RelayError) {
	status := re.HTTPStatus()

	log := logger.FromContext(r.Context())
	fields := []zap.Field{
		zap.String("kind", string(re.Kind)),
		zap.Int("status", status),
	}
	if re.Cause != nil {
		fields = append(fields, zap.Error(re.Cause))
	}
	if status >= http.StatusInternalServerError {
		log.Error(re.Message, fields...)
	} else {
		log.Debug(re.Message, fields...)
	}

	writeJSON(w, status, ErrorResponse{Error: re.Message, Detail: re.Detail})
}

// MethodNotAllowed answers requests for a known path with an unsupported method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, relayErrors.MethodNotAllowed())
}

// bearerToken extracts the credential from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// missingBearer is the 401 for requests without a usable Authorization header.
func missingBearer() *relayErrors.RelayError {
	return relayErrors.Authentication("Missing or invalid Authorization header", relayErrors.ErrMissingBearer)
}

// NotFound answers requests for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, relayErrors.New(relayErrors.KindValidation, "Not found", nil).WithStatus(http.StatusNotFound))
}
