// Package app assembles the application: configuration in, wired machines
// out. The authentication machine is a process-wide singleton started here
// and never torn down.
package app

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/jaktapp/fieldauth/internal/accountlink"
	"github.com/jaktapp/fieldauth/internal/api"
	"github.com/jaktapp/fieldauth/internal/authstate"
	"github.com/jaktapp/fieldauth/internal/config"
	"github.com/jaktapp/fieldauth/internal/deeplink"
	"github.com/jaktapp/fieldauth/internal/idp"
	"github.com/jaktapp/fieldauth/internal/netcheck"
	"github.com/jaktapp/fieldauth/internal/querycache"
	"github.com/jaktapp/fieldauth/internal/securestore"
	"github.com/jaktapp/fieldauth/internal/userstore"
)

// App holds the wired application graph.
type App struct {
	Config      *config.Config
	Store       securestore.Store
	Auth        *authstate.Machine
	AccountLink *accountlink.Machine
	API         *api.Client
	Net         *netcheck.Probe
	Cache       *querycache.Cache
}

// Options carry the platform-supplied collaborators that cannot be built
// from configuration alone.
type Options struct {
	// Consent opens the interactive login consent screen.
	Consent idp.ConsentPrompt
	// Links reports the deep link the process was launched with.
	Links deeplink.Source
	// OpenURL runs the account-link browser leg.
	OpenURL accountlink.OpenURLFunc
	// Push revokes push registrations on logout. Optional.
	Push userstore.PushRegistrar
}

// New wires the application from configuration. Call Start on the result.
func New(cfg *config.Config, opts Options) (*App, error) {
	store, err := securestore.OpenBolt(filepath.Join(cfg.DataDir, "secure.db"), []byte(cfg.StoreSecret))
	if err != nil {
		return nil, err
	}

	probe := netcheck.NewProbe(cfg.ConnectivityProbeURL, cfg.ConnectivityInterval)
	cache := querycache.New()

	idpClient := idp.New(idp.Config{
		ClientID:    cfg.AuthClientID,
		RedirectURI: cfg.AuthRedirectURI,
		Scopes:      strings.Fields(cfg.AuthScopes),
		Locale:      cfg.AuthLocale,
		Login: idp.Endpoints{
			AuthorizationURL: cfg.LoginAuthorizationURL,
			TokenURL:         cfg.LoginTokenURL,
		},
		Register: idp.Endpoints{
			AuthorizationURL: cfg.RegisterAuthorizationURL,
			TokenURL:         cfg.RegisterTokenURL,
		},
	})

	// The machine and the API client reference each other: the client signs
	// requests with the machine's token, the machine bootstraps the profile
	// through the client. The token func late-binds to break the cycle.
	var auth *authstate.Machine
	apiClient := api.New(cfg.APIBaseURL, func(ctx context.Context) (string, error) {
		return auth.AccessToken(ctx)
	}, nil)

	var links deeplink.Source = deeplink.StaticSource{}
	if opts.Links != nil {
		links = opts.Links
	}
	consent := opts.Consent
	if consent == nil {
		consent = idp.PromptFunc(func(context.Context, *idp.AuthorizationRequest) (*idp.ConsentResult, error) {
			return &idp.ConsentResult{Type: idp.ConsentDismiss}, nil
		})
	}

	auth = authstate.New(authstate.Config{
		AppVersion:         cfg.AppVersion,
		RedirectURIPrefix:  cfg.AuthRedirectURI,
		PendingSessionTTL:  cfg.PendingSessionTTL,
		MaxRefreshAttempts: cfg.MaxRefreshAttempts,
		RefreshEarlyWindow: cfg.RefreshEarlyWindow,
		BackoffBase:        cfg.RefreshBackoffBase,
		BackoffCap:         cfg.RefreshBackoffCap,
	}, authstate.Deps{
		Store:   store,
		IDP:     idpClient,
		Consent: consent,
		Net:     probe,
		Links:   links,
		Profile: apiClient,
		Storage: userstore.NewFactory(cfg.DataDir, opts.Push),
		Cache:   cache,
	})

	openURL := opts.OpenURL
	if openURL == nil {
		openURL = func(context.Context, string) (string, bool, error) {
			return "", true, nil
		}
	}
	link := accountlink.New(accountlink.Deps{
		Authorizer: &accountlink.BrowserAuthorizer{
			AuthorizeBase: cfg.VMDAuthorizeURL,
			ReturnURL:     cfg.VMDReturnURL,
			Open:          openURL,
		},
		Exchanger: &accountlink.HTTPExchanger{URL: cfg.VMDExchangeURL, HTTP: http.DefaultClient},
		API:       apiClient,
		Storage:   auth,
		Cache:     cache,
	})

	return &App{
		Config:      cfg,
		Store:       store,
		Auth:        auth,
		AccountLink: link,
		API:         apiClient,
		Net:         probe,
		Cache:       cache,
	}, nil
}

// Start launches both machines. ctx bounds every background goroutine. The
// connectivity probe starts polling on its first subscriber.
func (a *App) Start(ctx context.Context) {
	a.Auth.Start(ctx)
	a.AccountLink.Start(ctx)
}
