package accountlink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaktapp/fieldauth/internal/api"
	"github.com/jaktapp/fieldauth/internal/userstore"
)

type fakeAuthorizer struct {
	mu     sync.Mutex
	result *AuthorizeResult
	err    error
	calls  int
	tokens []string
}

func (f *fakeAuthorizer) Authorize(_ context.Context, accessToken string) (*AuthorizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = append(f.tokens, accessToken)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeExchanger struct {
	linkToken string
	err       error
}

func (f *fakeExchanger) ExchangeLink(_ context.Context, accessToken, authToken string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.linkToken, nil
}

type fakeAPI struct {
	mu        sync.Mutex
	connected []string
	connerr   error
	fetcherr  error
}

func (f *fakeAPI) ConnectLink(_ context.Context, linkToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connerr != nil {
		return f.connerr
	}
	f.connected = append(f.connected, linkToken)
	return nil
}

func (f *fakeAPI) Profile(context.Context) (*api.Profile, error) {
	if f.fetcherr != nil {
		return nil, f.fetcherr
	}
	return &api.Profile{ID: "p-1"}, nil
}

func (f *fakeAPI) Permits(context.Context) ([]api.Permit, error) {
	return []api.Permit{{ID: "permit-1"}}, nil
}

func (f *fakeAPI) Memberships(context.Context) ([]api.Membership, error) {
	return []api.Membership{{ID: "m-1"}}, nil
}

func (f *fakeAPI) Districts(context.Context) ([]api.District, error) {
	return []api.District{{ID: "d-1"}}, nil
}

func (f *fakeAPI) Contracts(context.Context) ([]api.Contract, error) {
	return []api.Contract{{ID: "c-1"}}, nil
}

type fakeStorage struct {
	handle *userstore.Handle
}

func (f *fakeStorage) UserStorage() *userstore.Handle { return f.handle }

type recordingCache struct {
	mu   sync.Mutex
	data map[string]any
}

func (c *recordingCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]any)
	}
	c.data[key] = value
}

func (c *recordingCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.data))
	for k := range c.data {
		out = append(out, k)
	}
	return out
}

type fixture struct {
	machine    *Machine
	authorizer *fakeAuthorizer
	exchanger  *fakeExchanger
	api        *fakeAPI
	cache      *recordingCache
	handle     *userstore.Handle
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	factory := userstore.NewFactory(t.TempDir(), userstore.NopRegistrar{})
	handle, err := factory.Open(context.Background(), "user-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Teardown(context.Background()) })

	f := &fixture{
		authorizer: &fakeAuthorizer{result: &AuthorizeResult{Type: AuthorizeSuccess, AuthToken: "at-1"}},
		exchanger:  &fakeExchanger{linkToken: "lt-1"},
		api:        &fakeAPI{},
		cache:      &recordingCache{},
		handle:     handle,
	}
	deps := Deps{
		Authorizer: f.authorizer,
		Exchanger:  f.exchanger,
		API:        f.api,
		Storage:    &fakeStorage{handle: handle},
		Cache:      f.cache,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	f.machine = New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.machine.Start(ctx)
	return f
}

func waitFor(t *testing.T, m *Machine, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := m.Snapshot(); s.State == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, still in %s", want, m.Snapshot().State)
	return Snapshot{}
}

func TestLinkHappyPath(t *testing.T) {
	f := newFixture(t)
	f.machine.Link()
	waitFor(t, f.machine, Success)

	f.api.mu.Lock()
	assert.Equal(t, []string{"lt-1"}, f.api.connected)
	f.api.mu.Unlock()

	assert.ElementsMatch(t,
		[]string{"profile", "permits", "memberships", "districts", "contracts"},
		f.cache.keys())

	var permits []api.Permit
	ok, err := f.handle.Get(context.Background(), "permits", &permits)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "permit-1", permits[0].ID)
}

func TestLinkGeneratesFreshOpaqueToken(t *testing.T) {
	f := newFixture(t)
	f.machine.Link()
	waitFor(t, f.machine, Success)

	f.authorizer.mu.Lock()
	defer f.authorizer.mu.Unlock()
	require.Len(t, f.authorizer.tokens, 1)
	assert.NotEmpty(t, f.authorizer.tokens[0])
}

func TestLinkCancelledInBrowser(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Authorizer = &fakeAuthorizer{result: &AuthorizeResult{Type: AuthorizeCancel}}
	})
	f.machine.Link()
	waitFor(t, f.machine, Idle)
	f.api.mu.Lock()
	assert.Empty(t, f.api.connected)
	f.api.mu.Unlock()
}

func TestLinkBrowserFailureThenRetry(t *testing.T) {
	auth := &fakeAuthorizer{err: errors.New("browser crashed")}
	f := newFixture(t, func(d *Deps) { d.Authorizer = auth })

	f.machine.Link()
	snap := waitFor(t, f.machine, OtherFailure)
	assert.Error(t, snap.Err)

	auth.mu.Lock()
	auth.err = nil
	auth.result = &AuthorizeResult{Type: AuthorizeSuccess, AuthToken: "at-2"}
	auth.mu.Unlock()

	f.machine.Retry()
	waitFor(t, f.machine, Success)

	// Retry restarts from the browser leg with a new opaque token.
	auth.mu.Lock()
	require.Len(t, auth.tokens, 2)
	assert.NotEqual(t, auth.tokens[0], auth.tokens[1])
	auth.mu.Unlock()
}

func TestLinkExchangeFailure(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Exchanger = &fakeExchanger{err: errors.New("exchange down")}
	})
	f.machine.Link()
	waitFor(t, f.machine, OtherFailure)

	f.machine.Cancel()
	waitFor(t, f.machine, Idle)
}

func TestLinkConnectFailure(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.API = &fakeAPI{connerr: errors.New("backend 500")}
	})
	f.machine.Link()
	waitFor(t, f.machine, OtherFailure)
}

func TestLinkUpdateFailureRetriesUpdateOnly(t *testing.T) {
	theAPI := &fakeAPI{fetcherr: errors.New("profile fetch failed")}
	auth := &fakeAuthorizer{result: &AuthorizeResult{Type: AuthorizeSuccess, AuthToken: "at-1"}}
	f := newFixture(t, func(d *Deps) {
		d.API = theAPI
		d.Authorizer = auth
	})
	f.machine.Link()
	waitFor(t, f.machine, UpdateFailure)

	theAPI.mu.Lock()
	theAPI.fetcherr = nil
	theAPI.mu.Unlock()

	f.machine.Retry()
	waitFor(t, f.machine, Success)

	// The update retry must not re-run the browser leg.
	auth.mu.Lock()
	assert.Equal(t, 1, auth.calls)
	auth.mu.Unlock()
}

func TestLinkIgnoredWhileRunning(t *testing.T) {
	block := make(chan struct{})
	auth := &fakeAuthorizer{}
	f := newFixture(t, func(d *Deps) {
		d.Authorizer = authorizeFunc(func(ctx context.Context, token string) (*AuthorizeResult, error) {
			auth.mu.Lock()
			auth.calls++
			auth.mu.Unlock()
			select {
			case <-block:
			case <-ctx.Done():
			}
			return &AuthorizeResult{Type: AuthorizeCancel}, nil
		})
	})
	f.machine.Link()
	waitFor(t, f.machine, Authenticating)
	f.machine.Link()
	f.machine.Link()
	close(block)
	waitFor(t, f.machine, Idle)

	auth.mu.Lock()
	assert.Equal(t, 1, auth.calls)
	auth.mu.Unlock()
}

type authorizeFunc func(ctx context.Context, accessToken string) (*AuthorizeResult, error)

func (f authorizeFunc) Authorize(ctx context.Context, accessToken string) (*AuthorizeResult, error) {
	return f(ctx, accessToken)
}

func TestHTTPExchanger(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, decodeJSON(r, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"linkToken":"lt-77"}`))
	}))
	defer srv.Close()

	e := &HTTPExchanger{URL: srv.URL}
	token, err := e.ExchangeLink(context.Background(), "access-1", "auth-1")
	require.NoError(t, err)
	assert.Equal(t, "lt-77", token)
	assert.Equal(t, map[string]string{"accessToken": "access-1", "authToken": "auth-1"}, gotBody)
}

func TestHTTPExchangerRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := &HTTPExchanger{URL: srv.URL}
	_, err := e.ExchangeLink(context.Background(), "a", "b")
	assert.Error(t, err)
}

func TestAuthorizeURL(t *testing.T) {
	u, err := AuthorizeURL("https://registry.example/authorize", "tok-1", "jaktapp://link/return")
	require.NoError(t, err)
	assert.Contains(t, u, "accesstoken=tok-1")
	assert.Contains(t, u, "returnUrl=jaktapp%3A%2F%2Flink%2Freturn")
}

func TestBrowserAuthorizer(t *testing.T) {
	b := &BrowserAuthorizer{
		AuthorizeBase: "https://registry.example/authorize",
		ReturnURL:     "jaktapp://link/return",
		Open: func(_ context.Context, target string) (string, bool, error) {
			assert.Contains(t, target, "accesstoken=tok-9")
			return "jaktapp://link/return?authToken=auth-42", false, nil
		},
	}
	res, err := b.Authorize(context.Background(), "tok-9")
	require.NoError(t, err)
	assert.Equal(t, AuthorizeSuccess, res.Type)
	assert.Equal(t, "auth-42", res.AuthToken)
}

func TestBrowserAuthorizerMissingToken(t *testing.T) {
	b := &BrowserAuthorizer{
		AuthorizeBase: "https://registry.example/authorize",
		Open: func(context.Context, string) (string, bool, error) {
			return "jaktapp://link/return", false, nil
		},
	}
	res, err := b.Authorize(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, AuthorizeOther, res.Type)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
