// Package accountlink links an external game-registry account to the
// logged-in user through a browser-based token exchange. It mirrors the
// authentication machine's actor shape at a smaller scale: one event loop,
// one invoked task per state, stale results dropped by epoch.
package accountlink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jaktapp/fieldauth/internal/api"
	"github.com/jaktapp/fieldauth/internal/logger"
	"github.com/jaktapp/fieldauth/internal/userstore"
)

// State names the pipeline stages.
type State string

const (
	Idle           State = "idle"
	Authenticating State = "authenticating"
	Exchanging     State = "exchanging"
	Connecting     State = "connecting"
	Updating       State = "updating"
	Success        State = "success"
	OtherFailure   State = "otherFailure"
	UpdateFailure  State = "updateFailure"
)

// successLinger is how long the terminal success state is shown before the
// machine returns to idle.
const successLinger = 3 * time.Second

type eventType string

const (
	evStart  eventType = "START"
	evRetry  eventType = "RETRY"
	evCancel eventType = "CANCEL"

	evAuthorized   eventType = "authorized"
	evAuthAborted  eventType = "authorization.aborted"
	evExchanged    eventType = "exchanged"
	evConnected    eventType = "connected"
	evUpdated      eventType = "updated"
	evStageFailed  eventType = "stage.failed"
	evUpdateFailed eventType = "update.failed"
	evLingerDone   eventType = "linger.done"
	evNoop         eventType = "noop"
)

type event struct {
	typ   eventType
	epoch uint64

	authToken string
	linkToken string
	err       error
}

// AuthorizeResultType categorizes the browser leg's outcome.
type AuthorizeResultType string

const (
	AuthorizeSuccess AuthorizeResultType = "success"
	AuthorizeCancel  AuthorizeResultType = "cancel"
	AuthorizeOther   AuthorizeResultType = "other"
)

// AuthorizeResult is the outcome of one external browser session. AuthToken
// is set only on success.
type AuthorizeResult struct {
	Type      AuthorizeResultType
	AuthToken string
}

// Authorizer opens the external provider's authorization page and waits for
// the redirect back. accessToken is the opaque token the provider echoes
// through the flow.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (*AuthorizeResult, error)
}

// Exchanger trades the opaque access token and the provider's auth token
// for a link token.
type Exchanger interface {
	ExchangeLink(ctx context.Context, accessToken, authToken string) (string, error)
}

// API is the authenticated backend surface the pipeline needs.
type API interface {
	ConnectLink(ctx context.Context, linkToken string) error
	Profile(ctx context.Context) (*api.Profile, error)
	Permits(ctx context.Context) ([]api.Permit, error)
	Memberships(ctx context.Context) ([]api.Membership, error)
	Districts(ctx context.Context) ([]api.District, error)
	Contracts(ctx context.Context) ([]api.Contract, error)
}

// StorageProvider yields the logged-in user's storage handle, nil when no
// session is active.
type StorageProvider interface {
	UserStorage() *userstore.Handle
}

// QueryCache receives the refetched resources alongside user storage.
type QueryCache interface {
	Set(key string, value any)
}

// Deps are the machine's collaborators.
type Deps struct {
	Authorizer Authorizer
	Exchanger  Exchanger
	API        API
	Storage    StorageProvider
	Cache      QueryCache
}

// Snapshot is one observed machine state. Err is set in the failure states.
type Snapshot struct {
	State State
	Err   error
}

// Machine drives the account-link pipeline.
type Machine struct {
	deps   Deps
	runCtx context.Context
	events chan event

	// Loop-owned.
	state       State
	accessToken string
	authToken   string
	linkToken   string
	lastErr     error
	epoch       uint64
	taskCancel  context.CancelFunc

	mu   sync.RWMutex
	snap Snapshot
}

func New(deps Deps) *Machine {
	return &Machine{
		deps:   deps,
		events: make(chan event, 8),
		state:  Idle,
		epoch:  1,
		snap:   Snapshot{State: Idle},
	}
}

// Start launches the event loop. ctx should span the process lifetime.
func (m *Machine) Start(ctx context.Context) {
	m.runCtx = ctx
	go m.run()
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Link starts the pipeline. Ignored unless the machine is idle.
func (m *Machine) Link() { m.send(evStart) }

// Retry re-runs the failed stage group.
func (m *Machine) Retry() { m.send(evRetry) }

// Cancel abandons a failed pipeline and returns to idle.
func (m *Machine) Cancel() { m.send(evCancel) }

func (m *Machine) send(typ eventType) {
	select {
	case m.events <- event{typ: typ}:
	case <-m.runCtx.Done():
	}
}

func (m *Machine) run() {
	for {
		select {
		case <-m.runCtx.Done():
			return
		case ev := <-m.events:
			if ev.typ == evNoop {
				continue
			}
			if ev.epoch != 0 && ev.epoch != m.epoch {
				logger.Debug("dropping stale link task result", "event", ev.typ)
				continue
			}
			m.handle(ev)
		}
	}
}

func (m *Machine) transition(to State) {
	if m.taskCancel != nil {
		m.taskCancel()
		m.taskCancel = nil
	}
	m.epoch++
	m.state = to

	m.mu.Lock()
	m.snap = Snapshot{State: to, Err: m.lastErr}
	m.mu.Unlock()
	logger.Debug("account link transition", "state", to)

	m.enter(to)
}

func (m *Machine) enter(s State) {
	switch s {
	case Idle:
		m.accessToken = ""
		m.authToken = ""
		m.linkToken = ""
		m.lastErr = nil
	case Authenticating:
		m.accessToken = uuid.NewString()
		token := m.accessToken
		m.invoke(func(ctx context.Context) event { return m.taskAuthorize(ctx, token) })
	case Exchanging:
		access, auth := m.accessToken, m.authToken
		m.invoke(func(ctx context.Context) event { return m.taskExchange(ctx, access, auth) })
	case Connecting:
		link := m.linkToken
		m.invoke(func(ctx context.Context) event { return m.taskConnect(ctx, link) })
	case Updating:
		m.invoke(m.taskUpdate)
	case Success:
		m.invoke(func(ctx context.Context) event {
			t := time.NewTimer(successLinger)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return event{typ: evNoop}
			case <-t.C:
				return event{typ: evLingerDone}
			}
		})
	}
}

func (m *Machine) handle(ev event) {
	switch m.state {
	case Idle:
		if ev.typ == evStart {
			m.transition(Authenticating)
		}

	case Authenticating:
		switch ev.typ {
		case evAuthorized:
			m.authToken = ev.authToken
			m.transition(Exchanging)
		case evAuthAborted:
			m.transition(Idle)
		case evStageFailed:
			m.fail(OtherFailure, ev.err)
		}

	case Exchanging:
		switch ev.typ {
		case evExchanged:
			m.linkToken = ev.linkToken
			m.transition(Connecting)
		case evStageFailed:
			m.fail(OtherFailure, ev.err)
		}

	case Connecting:
		switch ev.typ {
		case evConnected:
			m.transition(Updating)
		case evStageFailed:
			m.fail(OtherFailure, ev.err)
		}

	case Updating:
		switch ev.typ {
		case evUpdated:
			m.transition(Success)
		case evUpdateFailed:
			m.fail(UpdateFailure, ev.err)
		}

	case Success:
		if ev.typ == evLingerDone {
			m.transition(Idle)
		}

	case OtherFailure:
		switch ev.typ {
		case evRetry:
			m.transition(Authenticating)
		case evCancel:
			m.transition(Idle)
		}

	case UpdateFailure:
		switch ev.typ {
		case evRetry:
			m.transition(Updating)
		case evCancel:
			m.transition(Idle)
		}
	}
}

func (m *Machine) fail(to State, err error) {
	logger.Warn("account link stage failed", "state", m.state, "error", err)
	m.lastErr = err
	m.transition(to)
}

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

func (m *Machine) taskAuthorize(ctx context.Context, accessToken string) event {
	result, err := m.deps.Authorizer.Authorize(ctx, accessToken)
	if err != nil {
		return event{typ: evStageFailed, err: err}
	}
	switch result.Type {
	case AuthorizeSuccess:
		if result.AuthToken == "" {
			return event{typ: evStageFailed, err: errors.New("redirect carried no auth token")}
		}
		return event{typ: evAuthorized, authToken: result.AuthToken}
	case AuthorizeCancel:
		return event{typ: evAuthAborted}
	default:
		return event{typ: evStageFailed, err: errors.New("authorization session ended abnormally")}
	}
}

func (m *Machine) taskExchange(ctx context.Context, accessToken, authToken string) event {
	linkToken, err := m.deps.Exchanger.ExchangeLink(ctx, accessToken, authToken)
	if err != nil {
		return event{typ: evStageFailed, err: err}
	}
	return event{typ: evExchanged, linkToken: linkToken}
}

func (m *Machine) taskConnect(ctx context.Context, linkToken string) event {
	if err := m.deps.API.ConnectLink(ctx, linkToken); err != nil {
		return event{typ: evStageFailed, err: err}
	}
	return event{typ: evConnected}
}

// taskUpdate refetches everything the link may have changed and fans the
// results into user storage and the query cache. All five fetches must
// succeed; a partial update would leave the two stores disagreeing.
func (m *Machine) taskUpdate(ctx context.Context) event {
	storage := m.deps.Storage.UserStorage()
	if storage == nil {
		return event{typ: evUpdateFailed, err: errors.New("no active user storage")}
	}

	var (
		profile     *api.Profile
		permits     []api.Permit
		memberships []api.Membership
		districts   []api.District
		contracts   []api.Contract
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { profile, err = m.deps.API.Profile(gctx); return })
	g.Go(func() (err error) { permits, err = m.deps.API.Permits(gctx); return })
	g.Go(func() (err error) { memberships, err = m.deps.API.Memberships(gctx); return })
	g.Go(func() (err error) { districts, err = m.deps.API.Districts(gctx); return })
	g.Go(func() (err error) { contracts, err = m.deps.API.Contracts(gctx); return })
	if err := g.Wait(); err != nil {
		return event{typ: evUpdateFailed, err: err}
	}

	for key, value := range map[string]any{
		"profile":     profile,
		"permits":     permits,
		"memberships": memberships,
		"districts":   districts,
		"contracts":   contracts,
	} {
		if err := storage.Set(ctx, key, value); err != nil {
			return event{typ: evUpdateFailed, err: err}
		}
		m.deps.Cache.Set(key, value)
	}
	return event{typ: evUpdated}
}
