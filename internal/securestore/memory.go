package securestore

import (
	"context"
	"sync"
)

// Memory is a thread-safe in-memory Store. Suitable for tests and
// single-process demos; nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	session *Session
	pending *PendingSession
	pin     string
	version string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) GetSession(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *Memory) SetSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.session = &cp
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func (m *Memory) GetPendingSession(ctx context.Context) (*PendingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pending == nil {
		return nil, nil
	}
	p := *m.pending
	return &p, nil
}

func (m *Memory) SetPendingSession(ctx context.Context, p *PendingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pending = &cp
	return nil
}

func (m *Memory) DeletePendingSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	return nil
}

func (m *Memory) GetAppPin(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pin, nil
}

func (m *Memory) SetAppPin(ctx context.Context, pin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pin = pin
	return nil
}

func (m *Memory) GetLastUsedVersion(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

func (m *Memory) SetLastUsedVersion(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = version
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.pending = nil
	m.pin = ""
	m.version = ""
	return nil
}

func (m *Memory) Close() error {
	return nil
}
