// Package idp talks to the external identity provider: it builds PKCE
// authorization requests, exchanges authorization codes and refreshes
// tokens. Login and register are two distinct flows mapped to different
// endpoint pairs.
package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/jaktapp/fieldauth/internal/securestore"
)

// ErrInvalidGrant marks an unrecoverable refresh failure: the refresh token
// was rejected and re-authentication is required.
var ErrInvalidGrant = errors.New("idp: invalid grant")

// Endpoints is one authorization/token endpoint pair.
type Endpoints struct {
	AuthorizationURL string
	TokenURL         string
}

// Config describes the client registration shared by both flows.
type Config struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	Locale      string

	Login    Endpoints
	Register Endpoints

	// HTTPClient overrides the transport for token requests. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Client performs the OAuth/OIDC authorization-code flow.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// AuthorizationRequest is a prepared consent-screen launch. The code
// verifier must be durably recorded before the browser is opened so an
// interrupted exchange can be resumed.
type AuthorizationRequest struct {
	Method       securestore.Method
	URL          string
	CodeVerifier string
	State        string
}

// TokenPair is the result of a code exchange or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// BuildAuthorizationRequest prepares a PKCE authorization request for the
// given flow. prompt=login forces re-authentication even when the provider
// still holds a browser session.
func (c *Client) BuildAuthorizationRequest(method securestore.Method) (*AuthorizationRequest, error) {
	conf, err := c.oauthConfig(method)
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()
	state := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "login"),
	}
	if c.cfg.Locale != "" {
		opts = append(opts, oauth2.SetAuthURLParam("ui_locales", c.cfg.Locale))
	}

	return &AuthorizationRequest{
		Method:       method,
		URL:          conf.AuthCodeURL(state, opts...),
		CodeVerifier: verifier,
		State:        state,
	}, nil
}

// Exchange trades an authorization code plus its verifier for a token pair
// at the method-specific token endpoint.
func (c *Client) Exchange(ctx context.Context, method securestore.Method, code, codeVerifier string) (*TokenPair, error) {
	conf, err := c.oauthConfig(method)
	if err != nil {
		return nil, err
	}
	tok, err := conf.Exchange(c.httpContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", classify(err))
	}
	return &TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

// Refresh mints a new token pair from a refresh token. An invalid_grant
// response surfaces as ErrInvalidGrant; everything else is transient from
// the caller's point of view.
func (c *Client) Refresh(ctx context.Context, method securestore.Method, refreshToken string) (*TokenPair, error) {
	conf, err := c.oauthConfig(method)
	if err != nil {
		return nil, err
	}
	src := conf.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", classify(err))
	}
	pair := &TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if pair.RefreshToken == "" {
		// Provider rotated nothing; the old refresh token stays valid.
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func (c *Client) oauthConfig(method securestore.Method) (*oauth2.Config, error) {
	var ep Endpoints
	switch method {
	case securestore.MethodLogin:
		ep = c.cfg.Login
	case securestore.MethodRegister:
		ep = c.cfg.Register
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
	return &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURI,
		Scopes:      c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  ep.AuthorizationURL,
			TokenURL: ep.TokenURL,
		},
	}, nil
}

func (c *Client) httpContext(ctx context.Context) context.Context {
	if c.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
}

// classify maps an invalid_grant token-endpoint error onto ErrInvalidGrant.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && strings.EqualFold(re.ErrorCode, "invalid_grant") {
		return fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorDescription)
	}
	return err
}

// IsInvalidGrant reports whether err means the refresh token is dead.
func IsInvalidGrant(err error) bool {
	return errors.Is(err, ErrInvalidGrant)
}
