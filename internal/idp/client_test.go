package idp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jaktapp/fieldauth/internal/securestore"
)

func testClient(tokenURL string) *Client {
	return New(Config{
		ClientID:    "field-app",
		RedirectURI: "jaktapp://auth/callback",
		Scopes:      []string{"openid", "profile", "offline_access"},
		Locale:      "sv",
		Login:       Endpoints{AuthorizationURL: "https://login.example/authorize", TokenURL: tokenURL},
		Register:    Endpoints{AuthorizationURL: "https://register.example/authorize", TokenURL: tokenURL},
	})
}

func TestBuildAuthorizationRequest(t *testing.T) {
	c := testClient("https://login.example/token")

	req, err := c.BuildAuthorizationRequest(securestore.MethodLogin)
	if err != nil {
		t.Fatalf("BuildAuthorizationRequest: %v", err)
	}
	if req.CodeVerifier == "" {
		t.Fatal("expected a code verifier")
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		t.Fatalf("parsing authorization URL: %v", err)
	}
	if u.Host != "login.example" {
		t.Errorf("login flow must target the login endpoint, got host %q", u.Host)
	}
	q := u.Query()
	for key, want := range map[string]string{
		"client_id":             "field-app",
		"redirect_uri":          "jaktapp://auth/callback",
		"response_type":         "code",
		"prompt":                "login",
		"ui_locales":            "sv",
		"code_challenge_method": "S256",
		"state":                 req.State,
	} {
		if got := q.Get(key); got != want {
			t.Errorf("authorization URL %s = %q, want %q", key, got, want)
		}
	}
	if q.Get("code_challenge") == "" {
		t.Error("authorization URL missing code_challenge")
	}

	reg, err := c.BuildAuthorizationRequest(securestore.MethodRegister)
	if err != nil {
		t.Fatalf("BuildAuthorizationRequest(register): %v", err)
	}
	ru, _ := url.Parse(reg.URL)
	if ru.Host != "register.example" {
		t.Errorf("register flow must target the register endpoint, got host %q", ru.Host)
	}
}

func TestBuildAuthorizationRequestUnknownMethod(t *testing.T) {
	c := testClient("https://login.example/token")
	if _, err := c.BuildAuthorizationRequest(securestore.Method("sso")); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestExchangeSendsVerifier(t *testing.T) {
	var gotVerifier, gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotVerifier = r.PostForm.Get("code_verifier")
		gotCode = r.PostForm.Get("code")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	pair, err := c.Exchange(context.Background(), securestore.MethodLogin, "auth-code", "the-verifier")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if gotCode != "auth-code" || gotVerifier != "the-verifier" {
		t.Errorf("token request carried code=%q verifier=%q", gotCode, gotVerifier)
	}
	if pair.AccessToken != "at-1" || pair.RefreshToken != "rt-1" {
		t.Errorf("unexpected token pair %+v", pair)
	}
}

func TestRefreshKeepsOldRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-2","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	pair, err := c.Refresh(context.Background(), securestore.MethodLogin, "rt-old")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.RefreshToken != "rt-old" {
		t.Errorf("refresh token = %q, want the previous one retained", pair.RefreshToken)
	}
	if pair.AccessToken != "at-2" {
		t.Errorf("access token = %q, want %q", pair.AccessToken, "at-2")
	}
}

func TestRefreshClassifiesInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token expired"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Refresh(context.Background(), securestore.MethodLogin, "rt-dead")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsInvalidGrant(err) {
		t.Errorf("error %v should classify as invalid grant", err)
	}
}

func TestRefreshTransientErrorIsNotInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Refresh(context.Background(), securestore.MethodLogin, "rt-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsInvalidGrant(err) {
		t.Errorf("transient error %v must not classify as invalid grant", err)
	}
}
