package accountlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jaktapp/fieldauth/internal/deeplink"
)

// HTTPExchanger trades tokens against the provider's exchange endpoint.
type HTTPExchanger struct {
	URL  string
	HTTP *http.Client
}

func (e *HTTPExchanger) ExchangeLink(ctx context.Context, accessToken, authToken string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"accessToken": accessToken,
		"authToken":   authToken,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("link exchange: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		LinkToken string `json:"linkToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("link exchange: %w", err)
	}
	if out.LinkToken == "" {
		return "", fmt.Errorf("link exchange: response carried no link token")
	}
	return out.LinkToken, nil
}

// AuthorizeURL builds the provider authorization URL for one pipeline run.
// The opaque access token and the return URL template ride along as query
// parameters so the provider can redirect back into the app.
func AuthorizeURL(base, accessToken, returnURL string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("accesstoken", accessToken)
	q.Set("returnUrl", returnURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OpenURLFunc opens an external browser session at url and resolves with
// the redirect URL that brought control back, or reports cancellation.
type OpenURLFunc func(ctx context.Context, url string) (redirect string, cancelled bool, err error)

// BrowserAuthorizer runs the browser leg: open the authorization page,
// await the redirect, pull the auth token out of its query string.
type BrowserAuthorizer struct {
	AuthorizeBase string
	ReturnURL     string
	Open          OpenURLFunc
}

func (b *BrowserAuthorizer) Authorize(ctx context.Context, accessToken string) (*AuthorizeResult, error) {
	target, err := AuthorizeURL(b.AuthorizeBase, accessToken, b.ReturnURL)
	if err != nil {
		return nil, err
	}
	redirect, cancelled, err := b.Open(ctx, target)
	if err != nil {
		return nil, err
	}
	if cancelled {
		return &AuthorizeResult{Type: AuthorizeCancel}, nil
	}
	token, ok := deeplink.QueryParam(redirect, "authToken")
	if !ok || token == "" {
		return &AuthorizeResult{Type: AuthorizeOther}, nil
	}
	return &AuthorizeResult{Type: AuthorizeSuccess, AuthToken: token}, nil
}
