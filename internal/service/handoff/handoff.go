// Package handoff runs the browser side of a native-client login: it sends
// the user to the provider and turns the provider's callback into a session
// credential delivered back to the client.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/service/credential"
	"github.com/dzerik/oauth-relay/internal/service/delivery"
	"github.com/dzerik/oauth-relay/internal/service/idp"
	"github.com/dzerik/oauth-relay/internal/service/metrics"
	"github.com/dzerik/oauth-relay/internal/service/state"
	"github.com/dzerik/oauth-relay/pkg/logger"
	"github.com/dzerik/oauth-relay/pkg/resilience/circuitbreaker"
	"github.com/dzerik/oauth-relay/pkg/tracing"
)

// Stage is a step of the login flow.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageInitiated        Stage = "initiated"
	StageCallbackReceived Stage = "callback_received"
	StageStateValidated   Stage = "state_validated"
	StageCodeExchanged    Stage = "code_exchanged"
	StageIdentityFetched  Stage = "identity_fetched"
	StageCredentialIssued Stage = "credential_issued"
	StageDelivered        Stage = "delivered"
)

// EventCredentialIssued is the span event recorded when a login yields a
// session credential.
const EventCredentialIssued = "credential.issued"

var (
	ErrMissingCode         = errors.New("missing authorization code")
	ErrMissingState        = errors.New("missing state parameter")
	ErrProviderDenied      = errors.New("authorization denied by provider")
	ErrProviderUnavailable = errors.New("failed to initialize OAuth")
	ErrExchangeFailed      = errors.New("failed to obtain access token")
	ErrIdentityFetchFailed = errors.New("failed to fetch user information")
)

// FlowError reports a failed login and the stage the flow had reached.
type FlowError struct {
	Stage Stage
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("login failed at %s: %v", e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Provider is the part of the identity provider a login needs.
type Provider interface {
	Name() string
	AuthorizationURL(ctx context.Context) (*idp.AuthorizationRequest, error)
	ExchangeCode(ctx context.Context, code string) (*model.ProviderTokens, error)
	FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error)
}

// Issuer mints session credentials.
type Issuer interface {
	Issue(subject credential.Subject) (string, error)
}

// InitRequest carries the client's delivery preferences, unparsed.
type InitRequest struct {
	Mode string
	Port string
}

// InitResult is where to send the browser and which cookies to set.
type InitResult struct {
	RedirectURL string
	Cookies     []*http.Cookie
}

// CallbackRequest is everything the provider redirect brought back.
type CallbackRequest struct {
	Code    string
	State   string
	Error   string
	Cookies []*http.Cookie
	// QueryMode and QueryPort override the preferences captured at initiation.
	QueryMode string
	QueryPort string
}

// CallbackResult is a completed login ready to be rendered.
type CallbackResult struct {
	Payload model.SessionPayload
	Target  delivery.Target
}

// Orchestrator drives logins. It holds no per-flow state of its own.
type Orchestrator struct {
	provider Provider
	issuer   Issuer
	flows    *state.Manager
	metrics  *metrics.Metrics
}

// NewOrchestrator creates an orchestrator. m may be nil.
func NewOrchestrator(provider Provider, issuer Issuer, flows *state.Manager, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		issuer:   issuer,
		flows:    flows,
		metrics:  m,
	}
}

// ClearCookies returns the directives that end a flow. Callers send them on
// every callback response, successful or not.
func (o *Orchestrator) ClearCookies() []*http.Cookie {
	return o.flows.ClearCookies()
}

// Initiate starts a login and returns the provider redirect.
func (o *Orchestrator) Initiate(ctx context.Context, req InitRequest) (*InitResult, error) {
	ctx, span := tracing.Start(ctx, "handoff.initiate")
	var err error
	defer func() { tracing.Finish(span, err) }()

	log := logger.FromContext(ctx)

	mode, err := model.ParseDeliveryMode(req.Mode)
	if err != nil {
		return nil, o.fail(StageIdle, err, 0)
	}
	port, err := model.ParsePort(req.Port)
	if err != nil {
		return nil, o.fail(StageIdle, err, 0)
	}
	params := model.FlowParams{Mode: mode, Port: port, CreatedAt: time.Now()}

	csrfToken, stateCookie, err := o.flows.Begin()
	if err != nil {
		return nil, o.fail(StageIdle, err, 0)
	}

	authReq, err := o.provider.AuthorizationURL(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		return nil, o.fail(StageIdle, err, 0)
	}

	redirect, err := withCombinedState(authReq, csrfToken)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		return nil, o.fail(StageIdle, err, 0)
	}

	extra, err := o.flows.Stash(ctx, csrfToken, params)
	if err != nil {
		err = fmt.Errorf("failed to store flow: %w", err)
		return nil, o.fail(StageIdle, err, 0)
	}

	o.metrics.RecordFlowStarted(string(mode), o.flows.StoreName())
	tracing.SetAttributes(ctx,
		tracing.AttrFlowStage.String(string(StageInitiated)),
		tracing.AttrDeliveryMode.String(string(mode)),
	)
	log.Info("login initiated",
		zap.String("provider", o.provider.Name()),
		zap.String("mode", string(mode)),
		zap.Int("port", port),
		zap.String("flow_store", o.flows.StoreName()),
	)

	return &InitResult{
		RedirectURL: redirect,
		Cookies:     append([]*http.Cookie{stateCookie}, extra...),
	}, nil
}

// withCombinedState replaces the provider's state parameter with
// "<providerState>:<csrfToken>".
func withCombinedState(authReq *idp.AuthorizationRequest, csrfToken string) (string, error) {
	u, err := url.Parse(authReq.URL)
	if err != nil {
		return "", fmt.Errorf("invalid authorization URL: %w", err)
	}

	q := u.Query()
	providerState := authReq.State
	if providerState == "" {
		providerState = q.Get("state")
	}
	q.Set("state", state.Combine(providerState, csrfToken))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HandleCallback validates the provider redirect, completes the code
// exchange and issues the session credential.
func (o *Orchestrator) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	ctx, span := tracing.Start(ctx, "handoff.callback")
	var err error
	defer func() { tracing.Finish(span, err) }()

	start := time.Now()
	log := logger.FromContext(ctx)

	if req.Error != "" {
		err = fmt.Errorf("%w: %s", ErrProviderDenied, req.Error)
		return nil, o.fail(StageCallbackReceived, err, time.Since(start))
	}
	if req.Code == "" {
		err = ErrMissingCode
		return nil, o.fail(StageCallbackReceived, err, time.Since(start))
	}
	if req.State == "" {
		err = ErrMissingState
		return nil, o.fail(StageCallbackReceived, err, time.Since(start))
	}

	csrfToken := o.flows.StateToken(req.Cookies)
	if _, err = state.Validate(req.State, csrfToken); err != nil {
		log.Warn("login state rejected", zap.Error(err))
		return nil, o.fail(StageCallbackReceived, err, time.Since(start))
	}

	carried, err := o.flows.Recover(ctx, csrfToken, req.Cookies)
	if err != nil {
		err = fmt.Errorf("failed to recover flow: %w", err)
		return nil, o.fail(StageStateValidated, err, time.Since(start))
	}

	target, err := delivery.Resolve(req.QueryMode, req.QueryPort, carried)
	if err != nil {
		return nil, o.fail(StageStateValidated, err, time.Since(start))
	}
	tracing.SetAttributes(ctx, tracing.AttrDeliveryMode.String(string(target.Mode)))

	tokens, err := o.provider.ExchangeCode(ctx, req.Code)
	if err != nil {
		return nil, o.fail(StageStateValidated, err, time.Since(start))
	}
	if !tokens.HasAccessToken() {
		err = ErrExchangeFailed
		return nil, o.fail(StageStateValidated, err, time.Since(start))
	}

	identity, err := o.provider.FetchIdentity(ctx, tokens.AccessToken)
	if err != nil {
		return nil, o.fail(StageCodeExchanged, err, time.Since(start))
	}
	if identity == nil || identity.ID == "" {
		err = ErrIdentityFetchFailed
		return nil, o.fail(StageCodeExchanged, err, time.Since(start))
	}

	summary := identity.Summary()
	sessionToken, err := o.issuer.Issue(credential.Subject{UserID: summary.ID, Name: summary.Name})
	if err != nil {
		err = fmt.Errorf("failed to issue session token: %w", err)
		return nil, o.fail(StageIdentityFetched, err, time.Since(start))
	}

	o.metrics.RecordCredentialIssued()
	o.metrics.RecordFlowCompleted(string(target.Mode), time.Since(start).Seconds())
	tracing.SetAttributes(ctx,
		tracing.AttrFlowStage.String(string(StageCredentialIssued)),
		tracing.AttrUserID.String(summary.ID),
	)
	event := []attribute.KeyValue{tracing.AttrDeliveryMode.String(string(target.Mode))}
	if id := logger.GetCorrelationID(ctx); id != "" {
		event = append(event, tracing.AttrRequestID.String(id))
	}
	tracing.AddEvent(ctx, EventCredentialIssued, event...)
	log.Info("login completed",
		zap.String("user_id", summary.ID),
		zap.String("mode", string(target.Mode)),
		zap.Int("port", target.Port),
	)

	return &CallbackResult{
		Payload: model.SessionPayload{SessionToken: sessionToken, User: summary},
		Target:  target,
	}, nil
}

func (o *Orchestrator) fail(stage Stage, err error, elapsed time.Duration) *FlowError {
	o.metrics.RecordFlowFailure(string(stage), FailureReason(err), elapsed.Seconds())
	return &FlowError{Stage: stage, Err: err}
}

// FailureReason returns a short label for a login failure.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrProviderDenied):
		return "provider_denied"
	case errors.Is(err, ErrMissingCode):
		return "missing_code"
	case errors.Is(err, ErrMissingState):
		return "missing_state"
	case errors.Is(err, state.ErrMalformedState):
		return "malformed_state"
	case errors.Is(err, state.ErrMissingCookie):
		return "missing_cookie"
	case errors.Is(err, state.ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, model.ErrInvalidMode), errors.Is(err, model.ErrInvalidPort):
		return "invalid_delivery"
	case errors.Is(err, circuitbreaker.ErrUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderUnavailable):
		return "authorize"
	case errors.Is(err, ErrExchangeFailed), errors.Is(err, idp.ErrTokenExchangeFailed):
		return "exchange"
	case errors.Is(err, ErrIdentityFetchFailed), errors.Is(err, idp.ErrTokenVerification),
		errors.Is(err, idp.ErrIdentityFetchFailed):
		return "identity"
	default:
		return "internal"
	}
}
