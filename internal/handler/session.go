package handler

import (
	"net/http"

	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/service/credential"
	"github.com/dzerik/oauth-relay/internal/service/metrics"
	relayErrors "github.com/dzerik/oauth-relay/pkg/errors"
)

// SessionHandler lets clients check a cached session credential.
type SessionHandler struct {
	codec   *credential.Codec
	metrics *metrics.Metrics
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(codec *credential.Codec, m *metrics.Metrics) *SessionHandler {
	return &SessionHandler{codec: codec, metrics: m}
}

// HandleSession reports whether the bearer credential is valid and how long
// it has left.
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	token, subject, ok := h.authenticate(w, r, "session")
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, model.SessionStatus{
		OK:        true,
		Valid:     true,
		User:      model.UserSummary{ID: subject.UserID, Name: subject.Name},
		ExpiresIn: h.codec.RemainingValidity(token),
	})
}

// HandleMe returns the user behind the bearer credential.
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	_, subject, ok := h.authenticate(w, r, "me")
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, model.UserSummary{ID: subject.UserID, Name: subject.Name})
}

func (h *SessionHandler) authenticate(w http.ResponseWriter, r *http.Request, endpoint string) (string, *credential.Subject, bool) {
	token, ok := bearerToken(r)
	if !ok {
		h.metrics.RecordCredentialCheck(endpoint, false)
		writeError(w, r, missingBearer())
		return "", nil, false
	}

	subject, err := h.codec.Verify(token)
	if err != nil {
		h.metrics.RecordCredentialCheck(endpoint, false)
		writeError(w, r, relayErrors.Authentication("Invalid or expired session token", err))
		return "", nil, false
	}

	h.metrics.RecordCredentialCheck(endpoint, true)
	return token, subject, true
}
