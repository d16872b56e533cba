package idp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/service/crypto"
)

// maxResponseBytes bounds provider API response bodies.
const maxResponseBytes = 1 << 20

// userTokenMethods are the signing algorithms accepted on provider user tokens.
var userTokenMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"}

// WhopProvider talks to Whop's OAuth endpoints and REST API.
type WhopProvider struct {
	cfg          *config.ProviderConfig
	oauth2Config *oauth2.Config
	client       *http.Client
	keys         *keySet
	parser       *jwt.Parser
}

// NewWhopProvider creates a Whop provider. client may be nil.
func NewWhopProvider(cfg *config.ProviderConfig, client *http.Client) (*WhopProvider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("provider client id is not configured")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider api key is not configured")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultScopes
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(userTokenMethods),
		jwt.WithExpirationRequired(),
	}
	if cfg.TokenIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.TokenIssuer))
	}

	return &WhopProvider{
		cfg: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
		keys:   newKeySet(cfg.JWKSURL, client),
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Name returns the provider name
func (p *WhopProvider) Name() string {
	return "whop"
}

// AuthorizationURL builds the Whop authorization URL with a fresh provider state.
func (p *WhopProvider) AuthorizationURL(_ context.Context) (*AuthorizationRequest, error) {
	state, err := crypto.GenerateRandomHex(crypto.StateTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationURLFailed, err)
	}
	return &AuthorizationRequest{
		URL:   p.oauth2Config.AuthCodeURL(state),
		State: state,
	}, nil
}

// ExchangeCode exchanges the authorization code for tokens
func (p *WhopProvider) ExchangeCode(ctx context.Context, code string) (*model.ProviderTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, exchangeError(err))
	}

	return &model.ProviderTokens{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// FetchIdentity verifies the user token to learn the user id, then looks up
// that user's public profile with the app API key.
func (p *WhopProvider) FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error) {
	userID, err := p.verifyUserToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	body, err := p.get(ctx, expandPath(p.cfg.UserPath, userID, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityFetchFailed, err)
	}

	profile := gjson.ParseBytes(body)
	if msg := errorMessage(profile); msg != "" {
		return nil, fmt.Errorf("%w: %w", ErrIdentityFetchFailed, &APIError{Message: msg})
	}

	identity := &model.Identity{
		ID:       profile.Get("id").String(),
		Name:     profile.Get("name").String(),
		Username: profile.Get("username").String(),
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("%w: profile has no id", ErrIdentityFetchFailed)
	}
	return identity, nil
}

// CheckAccess asks Whop whether userID has access to experienceID.
func (p *WhopProvider) CheckAccess(ctx context.Context, userID, experienceID string) (*model.AccessDecision, error) {
	body, err := p.get(ctx, expandPath(p.cfg.AccessPath, userID, experienceID))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccessCheckFailed, err)
	}

	result := gjson.ParseBytes(body)
	if msg := errorMessage(result); msg != "" {
		return nil, fmt.Errorf("%w: %w", ErrAccessCheckFailed, &APIError{Message: msg})
	}

	return &model.AccessDecision{
		HasAccess:   firstOf(result, "has_access", "hasAccess").Bool(),
		AccessLevel: firstOf(result, "access_level", "accessLevel").String(),
	}, nil
}

func (p *WhopProvider) verifyUserToken(ctx context.Context, accessToken string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := p.parser.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return p.keys.lookup(ctx, kid)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenVerification, err)
	}

	claim := p.cfg.SubjectClaim
	if claim == "" {
		claim = "sub"
	}
	userID, _ := claims[claim].(string)
	if userID == "" {
		return "", fmt.Errorf("%w: token has no %s claim", ErrTokenVerification, claim)
	}
	return userID, nil
}

func (p *WhopProvider) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(gjson.ParseBytes(body))
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return body, nil
}

// expandPath substitutes ids into a configured API path template.
func expandPath(template, userID, experienceID string) string {
	return strings.NewReplacer(
		"{user_id}", url.PathEscape(userID),
		"{experience_id}", url.PathEscape(experienceID),
	).Replace(template)
}

// errorMessage extracts a provider-reported error from a JSON body. Whop
// reports either {"error": "..."} or {"error": {"message": "..."}}.
func errorMessage(body gjson.Result) string {
	e := body.Get("error")
	if !e.Exists() || e.Type == gjson.Null {
		return ""
	}
	if e.IsObject() {
		if msg := e.Get("message").String(); msg != "" {
			return msg
		}
		return e.Raw
	}
	if msg := e.String(); msg != "" {
		return msg
	}
	return "unknown provider error"
}

func firstOf(body gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := body.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" {
			msg = strings.TrimSpace(string(re.Body))
		}
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &APIError{Status: status, Code: re.ErrorCode, Message: msg}
	}
	return err
}
