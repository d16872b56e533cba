package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dzerik/oauth-relay/internal/service/access"
	"github.com/dzerik/oauth-relay/internal/service/credential"
	"github.com/dzerik/oauth-relay/internal/service/idp"
	relayErrors "github.com/dzerik/oauth-relay/pkg/errors"
)

// maxAccessBody bounds the POST body of an access check.
const maxAccessBody = 64 << 10

// AccessHandler serves /access/check.
type AccessHandler struct {
	gateway *access.Gateway
}

// NewAccessHandler creates a new access handler
func NewAccessHandler(gateway *access.Gateway) *AccessHandler {
	return &AccessHandler{gateway: gateway}
}

type accessCheckBody struct {
	ExperienceID string `json:"experienceId"`
}

// HandleCheck answers whether the bearer's user may use an experience. GET
// reads experienceId from the query; POST reads it from a JSON body and
// falls back to the query. The experience id is checked before the
// credential.
func (h *AccessHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	experienceID := r.URL.Query().Get("experienceId")
	if r.Method == http.MethodPost {
		if fromBody := readExperienceID(r); fromBody != "" {
			experienceID = fromBody
		}
	}

	if err := access.ValidateResource(experienceID); err != nil {
		writeError(w, r, accessError(err, experienceID))
		return
	}

	token, ok := bearerToken(r)
	if !ok {
		writeError(w, r, missingBearer())
		return
	}

	result, err := h.gateway.Check(r.Context(), token, experienceID)
	if err != nil {
		writeError(w, r, accessError(err, experienceID))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// readExperienceID returns the experienceId of a JSON body, or "" when the
// body is absent or not the expected shape.
func readExperienceID(r *http.Request) string {
	var body accessCheckBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAccessBody))
	if err := dec.Decode(&body); err != nil {
		return ""
	}
	return body.ExperienceID
}

func accessError(err error, experienceID string) *relayErrors.RelayError {
	switch {
	case errors.Is(err, access.ErrMissingResource):
		return relayErrors.Validation("Missing required parameter: experienceId", err).
			WithDetail(map[string]string{
				"hint":  "For GET: /api/access/check?experienceId=exp_XXX",
				"hint2": `For POST: {"experienceId": "exp_XXX"}`,
			})
	case errors.Is(err, access.ErrInvalidResource):
		return relayErrors.Validation(`Invalid experienceId format. Must start with "exp_"`, err).
			WithDetail(map[string]string{
				"provided": experienceID,
				"hint":     "experienceId must look like exp_XXX",
			})
	case errors.Is(err, credential.ErrInvalidCredential):
		return relayErrors.Authentication("Invalid or expired session token", err)
	case errors.Is(err, access.ErrAccessCheckFailed):
		return relayErrors.Upstream("Failed to verify access with Whop", err).
			WithDetail(map[string]string{"detail": idp.ProviderMessage(err)})
	default:
		return relayErrors.Internal("Failed to check experience access", err).
			WithDetail(map[string]string{"detail": err.Error()})
	}
}
