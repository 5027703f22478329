package authstate

import (
	"context"
	"errors"
	"time"

	"github.com/jaktapp/fieldauth/internal/deeplink"
	"github.com/jaktapp/fieldauth/internal/idp"
	"github.com/jaktapp/fieldauth/internal/logger"
	"github.com/jaktapp/fieldauth/internal/netcheck"
	"github.com/jaktapp/fieldauth/internal/securestore"
	"github.com/jaktapp/fieldauth/internal/tokenclock"
	"github.com/jaktapp/fieldauth/internal/userstore"
)

// Invoked tasks. Each runs off the event loop, reports exactly one terminal
// event, and treats secure-store read errors as absent values: a corrupt or
// unreadable slot must degrade to "logged out", never wedge startup.

func (m *Machine) taskVerifyVersion(ctx context.Context) event {
	stored, err := m.deps.Store.GetLastUsedVersion(ctx)
	if err != nil || stored == "" {
		return event{typ: evVersionMissing}
	}
	if stored != m.cfg.AppVersion {
		if err := m.deps.Store.SetLastUsedVersion(ctx, m.cfg.AppVersion); err != nil {
			logger.Warn("failed to record app version", "error", err)
		}
	}
	return event{typ: evVersionOK}
}

// taskInitialSetup runs on first launch after install. Clearing the secure
// store here discards credentials a previous install may have left behind
// in OS-level storage.
func (m *Machine) taskInitialSetup(ctx context.Context) event {
	if err := m.deps.Store.Clear(ctx); err != nil {
		logger.Warn("failed to clear secure store during setup", "error", err)
	}
	if err := m.deps.Store.SetLastUsedVersion(ctx, m.cfg.AppVersion); err != nil {
		logger.Warn("failed to record app version", "error", err)
	}
	return event{typ: evSetupDone}
}

func (m *Machine) taskVerifyPending(ctx context.Context) event {
	pending, err := m.deps.Store.GetPendingSession(ctx)
	if err != nil || pending == nil {
		return event{typ: evPendingNone}
	}
	return event{typ: evPendingFound, pending: pending}
}

// taskResumePending completes an authorization flow interrupted by process
// death: the app relaunched via the redirect deep link, and the code in that
// link plus the persisted verifier finish the exchange.
func (m *Machine) taskResumePending(ctx context.Context, pending *securestore.PendingSession) event {
	fail := func(err error) event {
		if derr := m.deps.Store.DeletePendingSession(ctx); derr != nil {
			logger.Warn("failed to delete pending session", "error", derr)
		}
		return event{typ: evResumeFailed, err: err}
	}

	if !tokenclock.IsPendingSessionActive(pending, m.cfg.PendingSessionTTL) {
		return fail(errors.New("pending session expired"))
	}
	link, ok := m.deps.Links.InitialURL()
	if !ok || !redirectMatches(link, m.cfg.RedirectURIPrefix) {
		return fail(errors.New("no matching launch url"))
	}
	code, ok := deeplink.QueryParam(link, "code")
	if !ok || code == "" {
		return fail(errors.New("launch url carries no authorization code"))
	}

	pair, err := m.deps.IDP.Exchange(ctx, pending.Method, code, pending.CodeVerifier)
	if err != nil {
		return fail(err)
	}
	session := &securestore.Session{
		Method:       pending.Method,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if err := m.deps.Store.SetSession(ctx, session); err != nil {
		logger.Warn("failed to persist resumed session", "error", err)
	}
	if err := m.deps.Store.DeletePendingSession(ctx); err != nil {
		logger.Warn("failed to delete pending session", "error", err)
	}
	return event{typ: evResumeOK, session: session}
}

func (m *Machine) taskVerifySession(ctx context.Context) event {
	session, err := m.deps.Store.GetSession(ctx)
	if err != nil || session == nil {
		return event{typ: evSessionNone}
	}
	return event{typ: evSessionFound, session: session}
}

func (m *Machine) taskCheckNetwork(ctx context.Context) event {
	return event{typ: evNetworkChecked, status: m.deps.Net.CheckOnce(ctx)}
}

// taskRefresh exchanges the refresh token for a new pair. An invalid_grant
// answer means the grant itself is dead; anything else is transient.
func (m *Machine) taskRefresh(ctx context.Context, session *securestore.Session) event {
	if session == nil || session.RefreshToken == "" {
		return event{typ: evRefreshExpired}
	}
	pair, err := m.deps.IDP.Refresh(ctx, session.Method, session.RefreshToken)
	if err != nil {
		if idp.IsInvalidGrant(err) {
			return event{typ: evRefreshExpired}
		}
		return event{typ: evRefreshErr, err: err}
	}
	next := &securestore.Session{
		Method:       session.Method,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if err := m.deps.Store.SetSession(ctx, next); err != nil {
		logger.Warn("failed to persist refreshed session", "error", err)
	}
	return event{typ: evRefreshOK, session: next}
}

func (m *Machine) taskInitStorage(ctx context.Context, session *securestore.Session) event {
	if session == nil {
		return event{typ: evStorageFailed, err: errors.New("no session")}
	}
	subject, err := tokenclock.Subject(session.AccessToken)
	if err != nil {
		return event{typ: evStorageFailed, err: err}
	}
	handle, err := m.deps.Storage.Open(ctx, subject)
	if err != nil {
		return event{typ: evStorageFailed, err: err}
	}
	return event{typ: evStorageOK, storage: handle}
}

func (m *Machine) taskVerifyPin(ctx context.Context) event {
	pin, err := m.deps.Store.GetAppPin(ctx)
	if err != nil || pin == "" {
		return event{typ: evPinNone}
	}
	return event{typ: evPinFound}
}

// taskIdleTimer arms the background refresh: it fires shortly before the
// access token expires, or immediately when the token is already stale or
// undated.
func (m *Machine) taskIdleTimer(ctx context.Context, session *securestore.Session) event {
	var wait time.Duration
	if session != nil {
		if exp, err := tokenclock.ExpirationDate(session.AccessToken); err == nil {
			wait = tokenclock.TimeUntilExpiration(exp, m.cfg.RefreshEarlyWindow)
		}
	}
	return taskSleep(ctx, wait, evRefreshDue)
}

func taskSleep(ctx context.Context, d time.Duration, then eventType) event {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return event{typ: evNoop}
	case <-t.C:
		return event{typ: then}
	}
}

// taskAwaitNetwork blocks until connectivity returns.
func (m *Machine) taskAwaitNetwork(ctx context.Context) event {
	restored := make(chan struct{}, 1)
	unsubscribe := m.deps.Net.Subscribe(func(s netcheck.Status) {
		if s.Connected {
			select {
			case restored <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if m.deps.Net.CheckOnce(ctx).Connected {
		return event{typ: evNetworkRestored}
	}
	select {
	case <-ctx.Done():
		return event{typ: evNoop}
	case <-restored:
		return event{typ: evNetworkRestored}
	}
}

// taskAuthenticate drives the interactive authorization-code flow. The
// pending session is persisted before the browser opens so a killed process
// can resume the exchange, and deleted only once the exchange succeeds.
func (m *Machine) taskAuthenticate(ctx context.Context, method securestore.Method) event {
	req, err := m.deps.IDP.BuildAuthorizationRequest(method)
	if err != nil {
		return event{typ: evAuthFailed, err: err}
	}
	pending := &securestore.PendingSession{
		Method:       method,
		Timestamp:    time.Now().UnixMilli(),
		CodeVerifier: req.CodeVerifier,
	}
	if err := m.deps.Store.SetPendingSession(ctx, pending); err != nil {
		return event{typ: evAuthFailed, err: err}
	}

	result, err := m.deps.Consent.Prompt(ctx, req)
	if err != nil {
		return event{typ: evAuthFailed, err: err}
	}
	switch result.Type {
	case idp.ConsentSuccess:
	case idp.ConsentCancel, idp.ConsentDismiss:
		return event{typ: evAuthCancelled}
	default:
		return event{typ: evAuthFailed, err: errors.New("authorization session ended without a code")}
	}

	if err := m.deps.Store.DeletePendingSession(ctx); err != nil {
		logger.Warn("failed to delete pending session", "error", err)
	}
	pair, err := m.deps.IDP.Exchange(ctx, method, result.Code, req.CodeVerifier)
	if err != nil {
		return event{typ: evAuthFailed, err: err}
	}
	session := &securestore.Session{
		Method:       method,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if err := m.deps.Store.SetSession(ctx, session); err != nil {
		logger.Warn("failed to persist session", "error", err)
	}
	return event{typ: evAuthOK, session: session}
}

func (m *Machine) taskFetchProfile(ctx context.Context, storage *userstore.Handle) event {
	profile, err := m.deps.Profile.Profile(ctx)
	if err != nil {
		return event{typ: evProfileFailed, err: err}
	}
	if storage != nil {
		if err := storage.Set(ctx, "profile", profile); err != nil {
			logger.Warn("failed to store profile", "error", err)
		}
	}
	return event{typ: evProfileOK}
}
