package handler

import (
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/service/delivery"
	"github.com/dzerik/oauth-relay/internal/service/handoff"
	"github.com/dzerik/oauth-relay/internal/service/idp"
	"github.com/dzerik/oauth-relay/internal/service/state"
	relayErrors "github.com/dzerik/oauth-relay/pkg/errors"
	"github.com/dzerik/oauth-relay/pkg/logger"
)

// OAuthHandler serves the browser legs of a login: /oauth/init and /oauth/callback.
type OAuthHandler struct {
	orchestrator *handoff.Orchestrator
	renderer     *delivery.Renderer
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(orchestrator *handoff.Orchestrator, renderer *delivery.Renderer) *OAuthHandler {
	return &OAuthHandler{
		orchestrator: orchestrator,
		renderer:     renderer,
	}
}

// HandleInit redirects the browser to the provider.
func (h *OAuthHandler) HandleInit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	res, err := h.orchestrator.Initiate(r.Context(), handoff.InitRequest{
		Mode: q.Get("mode"),
		Port: q.Get("port"),
	})
	if err != nil {
		writeError(w, r, initError(err, q.Get("mode"), q.Get("port")))
		return
	}

	for _, c := range res.Cookies {
		http.SetCookie(w, c)
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// HandleCallback completes the login and delivers the session to the client.
// Flow cookies are cleared on every response.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.orchestrator.ClearCookies() {
		http.SetCookie(w, c)
	}

	q := r.URL.Query()
	res, err := h.orchestrator.HandleCallback(r.Context(), handoff.CallbackRequest{
		Code:      q.Get("code"),
		State:     q.Get("state"),
		Error:     q.Get("error"),
		Cookies:   r.Cookies(),
		QueryMode: q.Get("mode"),
		QueryPort: q.Get("port"),
	})
	if err != nil {
		writeError(w, r, callbackError(err, q))
		return
	}

	if err := h.renderer.Render(w, res.Payload, res.Target); err != nil {
		writeError(w, r, relayErrors.Internal("OAuth callback failed", err).WithDetail(err.Error()))
		return
	}

	logger.FromContext(r.Context()).Debug("session delivered",
		zap.String("mode", string(res.Target.Mode)),
		zap.String("user_id", res.Payload.User.ID),
	)
}

func initError(err error, mode, port string) *relayErrors.RelayError {
	switch {
	case errors.Is(err, model.ErrInvalidMode):
		return relayErrors.Validation("Invalid mode parameter", err).
			WithDetail(map[string]string{"provided": mode, "allowed": "direct, loopback"})
	case errors.Is(err, model.ErrInvalidPort):
		return relayErrors.Validation("Invalid port parameter", err).
			WithDetail(map[string]string{"provided": port, "allowed": "1-65535"})
	default:
		return relayErrors.Internal("Failed to initialize OAuth", err).WithDetail(detailMessage(err))
	}
}

func callbackError(err error, q url.Values) *relayErrors.RelayError {
	switch {
	case errors.Is(err, handoff.ErrProviderDenied):
		detail := q.Get("error")
		if desc := q.Get("error_description"); desc != "" {
			detail += ": " + desc
		}
		return relayErrors.Validation("Authorization denied by provider", err).WithDetail(detail)
	case errors.Is(err, handoff.ErrMissingCode):
		return relayErrors.Validation("Missing authorization code", err)
	case errors.Is(err, handoff.ErrMissingState):
		return relayErrors.Validation("Missing state parameter", err)
	case errors.Is(err, state.ErrMalformedState):
		return relayErrors.Validation("Invalid state format", err)
	case errors.Is(err, state.ErrMissingCookie):
		return relayErrors.Validation("Missing state cookie (CSRF check failed)", err)
	case errors.Is(err, state.ErrStateMismatch):
		return relayErrors.Validation("State mismatch (CSRF check failed)", err)
	case errors.Is(err, model.ErrInvalidMode):
		return relayErrors.Validation("Invalid mode parameter", err).WithDetail(map[string]string{"provided": q.Get("mode")})
	case errors.Is(err, model.ErrInvalidPort):
		return relayErrors.Validation("Invalid port parameter", err).WithDetail(map[string]string{"provided": q.Get("port")})
	case errors.Is(err, handoff.ErrExchangeFailed):
		return relayErrors.Internal("Failed to obtain access token", err)
	default:
		return relayErrors.Internal("OAuth callback failed", err).WithDetail(detailMessage(err))
	}
}

// detailMessage is the provider's own message when there is one.
func detailMessage(err error) string {
	var fe *handoff.FlowError
	if errors.As(err, &fe) {
		err = fe.Err
	}
	return idp.ProviderMessage(err)
}
