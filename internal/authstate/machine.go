// Package authstate implements the process-wide authentication session
// lifecycle: startup verification, pending-session recovery, foreground and
// background token refresh, PIN gating and the interactive login/register
// pipeline. One Machine is started at application launch and lives for the
// process lifetime.
package authstate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jaktapp/fieldauth/internal/api"
	"github.com/jaktapp/fieldauth/internal/deeplink"
	"github.com/jaktapp/fieldauth/internal/idp"
	"github.com/jaktapp/fieldauth/internal/logger"
	"github.com/jaktapp/fieldauth/internal/netcheck"
	"github.com/jaktapp/fieldauth/internal/securestore"
	"github.com/jaktapp/fieldauth/internal/tokenclock"
	"github.com/jaktapp/fieldauth/internal/userstore"
)

// Context is the machine's working state. Snapshot returns a copy; readers
// must treat the referenced values as immutable.
type Context struct {
	Session            *securestore.Session
	PendingSession     *securestore.PendingSession
	FailedRefreshCount int
	Method             securestore.Method
	Storage            *userstore.Handle
}

// Snapshot is one observed machine state.
type Snapshot struct {
	State   State
	Context Context
}

// Config carries the machine's tunable parameters. The pending-session
// window and the refresh attempt limit are heuristics, configurable rather
// than baked in.
type Config struct {
	AppVersion         string
	RedirectURIPrefix  string
	PendingSessionTTL  time.Duration
	MaxRefreshAttempts int
	RefreshEarlyWindow time.Duration
	BackoffBase        time.Duration
	BackoffCap         time.Duration
}

// IdentityProvider is the slice of the idp client the machine needs.
type IdentityProvider interface {
	BuildAuthorizationRequest(method securestore.Method) (*idp.AuthorizationRequest, error)
	Exchange(ctx context.Context, method securestore.Method, code, codeVerifier string) (*idp.TokenPair, error)
	Refresh(ctx context.Context, method securestore.Method, refreshToken string) (*idp.TokenPair, error)
}

// StorageFactory opens the per-user data store.
type StorageFactory interface {
	Open(ctx context.Context, subject string) (*userstore.Handle, error)
}

// ProfileFetcher fetches the user profile during bootstrap.
type ProfileFetcher interface {
	Profile(ctx context.Context) (*api.Profile, error)
}

// QueryCache is cleared on logout so no fetched data outlives its session.
type QueryCache interface {
	Clear()
}

// Deps are the machine's collaborators.
type Deps struct {
	Store   securestore.Store
	IDP     IdentityProvider
	Consent idp.ConsentPrompt
	Net     netcheck.Checker
	Links   deeplink.Source
	Profile ProfileFetcher
	Storage StorageFactory
	Cache   QueryCache
}

// Machine is the authentication session state machine. All mutation happens
// on its single event loop; external callers interact through the event
// dispatchers and the snapshot accessors.
type Machine struct {
	cfg  Config
	deps Deps

	runCtx context.Context
	events chan event

	// Loop-owned: touched only by the run goroutine after Start.
	state      State
	mctx       Context
	epoch      uint64
	taskCancel context.CancelFunc

	// Snapshot mirror for readers.
	mu      sync.RWMutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates a machine. Call Start exactly once.
func New(cfg Config, deps Deps) *Machine {
	return &Machine{
		cfg:    cfg,
		deps:   deps,
		events: make(chan event, 16),
		state:  LoadingVerifyingVersion,
		epoch:  1,
		subs:   make(map[int]chan Snapshot),
	}
}

// Start launches the machine's event loop. ctx bounds every invoked task
// and should span the process lifetime; the machine has no teardown by
// design.
func (m *Machine) Start(ctx context.Context) {
	m.runCtx = ctx
	m.publish("start")
	go m.run()
	m.events <- event{typ: evNoop} // kick the loop so entry runs on it
}

func (m *Machine) run() {
	entered := false
	for {
		select {
		case <-m.runCtx.Done():
			return
		case ev := <-m.events:
			if !entered {
				entered = true
				m.enter(m.state)
			}
			if ev.typ == evNoop {
				continue
			}
			if ev.epoch != 0 && ev.epoch != m.epoch {
				logger.Debug("dropping stale task result", "event", ev.typ, "epoch", ev.epoch)
				continue
			}
			m.handle(ev)
		}
	}
}

// transition moves the machine to a new state: the current invoked task is
// cancelled, its epoch invalidated, the snapshot published, and the new
// state's task spawned.
func (m *Machine) transition(to State, cause eventType) {
	if m.taskCancel != nil {
		m.taskCancel()
		m.taskCancel = nil
	}
	m.epoch++
	m.state = to
	m.publish(string(cause))
	m.enter(to)
}

// publish refreshes the shared snapshot and notifies subscribers. Each
// subscriber channel coalesces to the latest snapshot so a slow reader
// never stalls the loop.
func (m *Machine) publish(cause string) {
	m.mu.Lock()
	m.snap = Snapshot{State: m.state, Context: m.mctx}
	snap := m.snap
	chans := make([]chan Snapshot, 0, len(m.subs))
	for _, ch := range m.subs {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	logger.Debug("auth state transition", "state", m.state, "event", cause)

	for _, ch := range chans {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// invoke spawns the current state's one asynchronous task. The task's
// terminal event carries the current epoch; if the machine has moved on by
// the time the result lands, the loop drops it.
func (m *Machine) invoke(fn func(ctx context.Context) event) {
	taskCtx, cancel := context.WithCancel(m.runCtx)
	m.taskCancel = cancel
	epoch := m.epoch
	go func() {
		ev := fn(taskCtx)
		ev.epoch = epoch
		select {
		case m.events <- ev:
		case <-m.runCtx.Done():
		}
	}()
}

// enter runs a state's entry action.
func (m *Machine) enter(s State) {
	switch s {
	case LoadingVerifyingVersion:
		m.invoke(m.taskVerifyVersion)
	case LoadingInitialSetup:
		m.invoke(m.taskInitialSetup)
	case LoadingVerifyingPending:
		m.invoke(m.taskVerifyPending)
	case LoadingResumingPending:
		pending := m.mctx.PendingSession
		m.invoke(func(ctx context.Context) event { return m.taskResumePending(ctx, pending) })
	case LoadingVerifyingSession:
		m.invoke(m.taskVerifySession)
	case LoadingVerifyingNetwork, LoggedInRefreshingVerifyingNetwork:
		m.invoke(m.taskCheckNetwork)
	case LoadingRefreshingSession, LoggedInRefreshingRefreshing:
		session := m.mctx.Session
		m.invoke(func(ctx context.Context) event { return m.taskRefresh(ctx, session) })
	case LoadingInitializingStorage, LoggedOutInitializingStorage:
		session := m.mctx.Session
		m.invoke(func(ctx context.Context) event { return m.taskInitStorage(ctx, session) })
	case LoadingVerifyingPin:
		m.invoke(m.taskVerifyPin)
	case LoggedInIdle:
		session := m.mctx.Session
		m.invoke(func(ctx context.Context) event { return m.taskIdleTimer(ctx, session) })
	case LoggedInRefreshingPendingRetry:
		delay := Backoff(m.cfg.BackoffBase, m.cfg.BackoffCap, m.mctx.FailedRefreshCount)
		m.invoke(func(ctx context.Context) event { return taskSleep(ctx, delay, evRetryDue) })
	case LoggedInRefreshingWaitingNetwork:
		m.invoke(m.taskAwaitNetwork)
	case LoggedOutAuthenticating:
		method := m.mctx.Method
		m.invoke(func(ctx context.Context) event { return m.taskAuthenticate(ctx, method) })
	case LoggedOutFetchingProfile:
		storage := m.mctx.Storage
		m.invoke(func(ctx context.Context) event { return m.taskFetchProfile(ctx, storage) })
	}
}

// handle applies one event to the current state.
func (m *Machine) handle(ev event) {
	// Global transitions, available at any depth of loggedIn.
	switch ev.typ {
	case evLogout:
		if m.state.Matches(LoggedIn) {
			m.teardownSession()
			m.transition(LoggedOutIdle, ev.typ)
		}
		// LOGOUT anywhere else is a no-op.
		return
	case evRefresh:
		if m.state == LoggedInIdle {
			m.transition(LoggedInRefreshingVerifyingNetwork, ev.typ)
		}
		// A refresh is already running (or the machine cannot refresh);
		// the event carries no information worth keeping.
		return
	}

	switch m.state {
	case LoadingVerifyingVersion:
		switch ev.typ {
		case evVersionMissing:
			m.transition(LoadingInitialSetup, ev.typ)
		case evVersionOK:
			m.transition(LoadingVerifyingPending, ev.typ)
		}

	case LoadingInitialSetup:
		if ev.typ == evSetupDone {
			m.transition(LoggedOutIdle, ev.typ)
		}

	case LoadingVerifyingPending:
		switch ev.typ {
		case evPendingFound:
			m.mctx.PendingSession = ev.pending
			m.transition(LoadingResumingPending, ev.typ)
		case evPendingNone:
			m.transition(LoadingVerifyingSession, ev.typ)
		}

	case LoadingResumingPending:
		switch ev.typ {
		case evResumeOK:
			m.mctx.Session = ev.session
			m.mctx.PendingSession = nil
			m.transition(LoadingInitializingStorage, ev.typ)
		case evResumeFailed:
			logger.Info("pending session not resumable", "error", ev.err)
			m.mctx.PendingSession = nil
			m.transition(LoggedOutIdle, ev.typ)
		}

	case LoadingVerifyingSession:
		switch ev.typ {
		case evSessionFound:
			m.mctx.Session = ev.session
			if tokenclock.IsTokenActive(ev.session.AccessToken) {
				m.transition(LoadingInitializingStorage, ev.typ)
			} else {
				m.transition(LoadingVerifyingNetwork, ev.typ)
			}
		case evSessionNone:
			m.transition(LoggedOutIdle, ev.typ)
		}

	case LoadingVerifyingNetwork:
		if ev.typ == evNetworkChecked {
			if ev.status.Connected {
				m.transition(LoadingRefreshingSession, ev.typ)
			} else {
				// Proceed offline with the stale token; the background
				// refresh logic takes over once loggedIn.
				m.transition(LoadingInitializingStorage, ev.typ)
			}
		}

	case LoadingRefreshingSession:
		switch ev.typ {
		case evRefreshOK:
			m.mctx.Session = ev.session
			m.mctx.FailedRefreshCount = 0
			m.transition(LoadingInitializingStorage, ev.typ)
		case evRefreshExpired:
			m.discardSession()
			m.transition(LoggedOutIdle, ev.typ)
		case evRefreshErr:
			// Do not block startup on a transient refresh error.
			m.mctx.FailedRefreshCount++
			m.transition(LoadingInitializingStorage, ev.typ)
		}

	case LoadingInitializingStorage:
		switch ev.typ {
		case evStorageOK:
			m.mctx.Storage = ev.storage
			m.transition(LoadingVerifyingPin, ev.typ)
		case evStorageFailed:
			logger.Error("storage initialization failed", "error", ev.err)
			m.discardSession()
			m.transition(LoggedOutIdle, ev.typ)
		}

	case LoadingVerifyingPin:
		switch ev.typ {
		case evPinFound:
			m.transition(ValidatingPin, ev.typ)
		case evPinNone:
			m.enterLoggedIn(ev.typ)
		}

	case ValidatingPin:
		switch ev.typ {
		case evPinValid:
			m.enterLoggedIn(ev.typ)
		case evPinInvalid:
			m.teardownSession()
			m.transition(LoggedOutIdle, ev.typ)
		}

	case LoggedInIdle:
		if ev.typ == evRefreshDue {
			m.transition(LoggedInRefreshingVerifyingNetwork, ev.typ)
		}

	case LoggedInRefreshingVerifyingNetwork:
		if ev.typ == evNetworkChecked {
			if ev.status.Connected {
				m.transition(LoggedInRefreshingRefreshing, ev.typ)
			} else {
				m.transition(LoggedInRefreshingWaitingNetwork, ev.typ)
			}
		}

	case LoggedInRefreshingRefreshing:
		switch ev.typ {
		case evRefreshOK:
			m.mctx.Session = ev.session
			m.mctx.FailedRefreshCount = 0
			m.transition(LoggedInIdle, ev.typ)
		case evRefreshExpired:
			m.teardownSession()
			m.transition(LoggedOutIdle, ev.typ)
		case evRefreshErr:
			if m.mctx.FailedRefreshCount >= m.cfg.MaxRefreshAttempts {
				logger.Warn("refresh attempt limit reached, treating session as expired")
				m.teardownSession()
				m.transition(LoggedOutIdle, ev.typ)
			} else {
				m.mctx.FailedRefreshCount++
				m.transition(LoggedInRefreshingPendingRetry, ev.typ)
			}
		}

	case LoggedInRefreshingPendingRetry:
		if ev.typ == evRetryDue {
			m.transition(LoggedInRefreshingVerifyingNetwork, ev.typ)
		}

	case LoggedInRefreshingWaitingNetwork:
		if ev.typ == evNetworkRestored {
			m.transition(LoggedInRefreshingRefreshing, ev.typ)
		}

	case LoggedOutIdle:
		switch ev.typ {
		case evLogin:
			m.mctx.Method = securestore.MethodLogin
			m.transition(LoggedOutAuthenticating, ev.typ)
		case evRegister:
			m.mctx.Method = securestore.MethodRegister
			m.transition(LoggedOutAuthenticating, ev.typ)
		}

	case LoggedOutAuthenticating:
		switch ev.typ {
		case evAuthOK:
			m.mctx.Session = ev.session
			m.mctx.Method = ""
			m.transition(LoggedOutInitializingStorage, ev.typ)
		case evAuthCancelled:
			m.mctx.Method = ""
			m.transition(LoggedOutIdle, ev.typ)
		case evAuthFailed:
			logger.Warn("authentication failed", "error", ev.err)
			m.mctx.Method = ""
			m.transition(LoggedOutIdle, ev.typ)
		}

	case LoggedOutInitializingStorage:
		switch ev.typ {
		case evStorageOK:
			m.mctx.Storage = ev.storage
			m.transition(LoggedOutFetchingProfile, ev.typ)
		case evStorageFailed:
			logger.Error("storage initialization failed", "error", ev.err)
			m.discardSession()
			m.transition(LoggedOutIdle, ev.typ)
		}

	case LoggedOutFetchingProfile:
		switch ev.typ {
		case evProfileOK:
			m.transition(LoggedInIdle, ev.typ)
		case evProfileFailed:
			logger.Error("profile bootstrap failed", "error", ev.err)
			m.teardownSession()
			m.transition(LoggedOutIdle, ev.typ)
		}

	default:
		logger.Debug("event not handled in state", "state", m.state, "event", ev.typ)
	}
}

// enterLoggedIn routes into loggedIn, going straight to a refresh when the
// access token is already stale.
func (m *Machine) enterLoggedIn(cause eventType) {
	if m.mctx.Session != nil && tokenclock.IsTokenActive(m.mctx.Session.AccessToken) {
		m.transition(LoggedInIdle, cause)
	} else {
		m.transition(LoggedInRefreshingVerifyingNetwork, cause)
	}
}

// discardSession drops the in-memory session and best-effort deletes the
// persisted copy.
func (m *Machine) discardSession() {
	m.mctx.Session = nil
	m.mctx.FailedRefreshCount = 0
	if err := m.deps.Store.DeleteSession(m.runCtx); err != nil {
		logger.Warn("failed to delete persisted session", "error", err)
	}
}

// teardownSession reverses everything a login set up: user storage side
// effects, the persisted session and the query cache.
func (m *Machine) teardownSession() {
	if m.mctx.Storage != nil {
		if err := m.mctx.Storage.Teardown(m.runCtx); err != nil {
			logger.Warn("failed to tear down user storage", "error", err)
		}
		m.mctx.Storage = nil
	}
	if m.deps.Cache != nil {
		m.deps.Cache.Clear()
	}
	m.discardSession()
}

// Backoff computes the retry delay for the nth consecutive refresh failure:
// base doubled per failure, capped.
func Backoff(base, limit time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if limit <= 0 {
		limit = 5 * time.Minute
	}
	d := base
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// redirectMatches reports whether a launch URL belongs to our redirect URI.
func redirectMatches(url, prefix string) bool {
	return prefix != "" && strings.HasPrefix(url, prefix)
}
