// Package securestore persists the credential material the session machine
// owns: at most one session, at most one in-flight pending session, the
// last-used app version marker and the optional app-lock PIN. Values are
// sealed at rest in the production backend.
package securestore

import (
	"context"
	"errors"
)

// Method is the identity flow a session was produced by.
type Method string

const (
	MethodLogin    Method = "login"
	MethodRegister Method = "register"
)

// Session is a currently-held, possibly-expired credential pair.
type Session struct {
	Method       Method `json:"method"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// PendingSession records an authorization-code exchange that was handed to
// the external browser and may be resumed after a process restart. Timestamp
// is epoch milliseconds at creation; the resume window is enforced at read
// time, not here.
type PendingSession struct {
	Method       Method `json:"method"`
	Timestamp    int64  `json:"timestamp"`
	CodeVerifier string `json:"codeVerifier"`
}

// ErrSealedValue is returned when a stored value cannot be opened, e.g. the
// device secret changed underneath the store.
var ErrSealedValue = errors.New("securestore: cannot open sealed value")

// Store is the durable secure slot storage. Absent slots read as nil (or the
// zero string); writes are last-writer-wins, a single machine instance is
// the only writer.
type Store interface {
	GetSession(ctx context.Context) (*Session, error)
	SetSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context) error

	GetPendingSession(ctx context.Context) (*PendingSession, error)
	SetPendingSession(ctx context.Context, p *PendingSession) error
	DeletePendingSession(ctx context.Context) error

	GetAppPin(ctx context.Context) (string, error)
	SetAppPin(ctx context.Context, pin string) error

	GetLastUsedVersion(ctx context.Context) (string, error)
	SetLastUsedVersion(ctx context.Context, version string) error

	// Clear wipes every slot. Used only during first-launch initial setup.
	Clear(ctx context.Context) error

	Close() error
}
