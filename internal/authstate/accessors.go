package authstate

import (
	"context"
	"errors"

	"github.com/jaktapp/fieldauth/internal/userstore"
)

// ErrLoggedOut is returned by AccessToken when the machine settles in
// loggedOut instead of producing a session.
var ErrLoggedOut = errors.New("authstate: not logged in")

// Snapshot returns the current state and context.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Subscribe registers an observer. The channel holds only the latest
// snapshot; intermediate states may be skipped. The returned function
// cancels the subscription.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// AccessToken blocks until the machine settles and returns the current
// access token, or ErrLoggedOut. Subscribing before the first check closes
// the window where a transition lands between them.
func (m *Machine) AccessToken(ctx context.Context) (string, error) {
	ch, cancel := m.Subscribe()
	defer cancel()

	settled := func(s Snapshot) (string, error, bool) {
		switch {
		case s.State == LoggedInIdle:
			return s.Context.Session.AccessToken, nil, true
		case s.State.Matches(LoggedOut):
			return "", ErrLoggedOut, true
		}
		return "", nil, false
	}

	if tok, err, ok := settled(m.Snapshot()); ok {
		return tok, err
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case s := <-ch:
			if tok, err, ok := settled(s); ok {
				return tok, err
			}
		}
	}
}

// UserStorage returns the logged-in user's data store, or nil outside a
// session.
func (m *Machine) UserStorage() *userstore.Handle {
	return m.Snapshot().Context.Storage
}

// Event dispatchers. Each is safe from any goroutine; events that do not
// apply to the current state are ignored by the loop.

func (m *Machine) Login()          { m.send(evLogin) }
func (m *Machine) Register()       { m.send(evRegister) }
func (m *Machine) Logout()         { m.send(evLogout) }
func (m *Machine) RefreshSession() { m.send(evRefresh) }
func (m *Machine) PinValid()       { m.send(evPinValid) }
func (m *Machine) PinInvalid()     { m.send(evPinInvalid) }

func (m *Machine) send(typ eventType) {
	select {
	case m.events <- event{typ: typ}:
	case <-m.runCtx.Done():
	}
}
