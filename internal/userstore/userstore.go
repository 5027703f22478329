// Package userstore derives the namespaced local data store for one
// authenticated user. Each user gets their own SQLite key-value database,
// named by a stable hash of the identity claim so restarts land on the same
// file without recording the raw identifier on disk.
package userstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jaktapp/fieldauth/internal/logger"
)

// PushRegistrar reverses the push-notification side effect a logged-in
// session carries. Revoke is called during handle teardown on logout.
type PushRegistrar interface {
	Revoke(ctx context.Context, userKey string) error
}

// NopRegistrar is a PushRegistrar with no side effects.
type NopRegistrar struct{}

func (NopRegistrar) Revoke(context.Context, string) error { return nil }

// Factory opens per-user stores under a data directory.
type Factory struct {
	dir  string
	push PushRegistrar
}

// NewFactory creates a factory rooted at dir. A nil push registrar defaults
// to a no-op.
func NewFactory(dir string, push PushRegistrar) *Factory {
	if push == nil {
		push = NopRegistrar{}
	}
	return &Factory{dir: dir, push: push}
}

// UserKey is the stable storage key for an identity claim.
func UserKey(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])[:16]
}

// Open creates or reopens the store for the given identity claim.
func (f *Factory) Open(ctx context.Context, subject string) (*Handle, error) {
	if subject == "" {
		return nil, fmt.Errorf("userstore: empty subject")
	}
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating user data directory: %w", err)
	}
	key := UserKey(subject)
	db, err := sql.Open("sqlite3", filepath.Join(f.dir, "user-"+key+".db"))
	if err != nil {
		return nil, fmt.Errorf("opening user store: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing user store schema: %w", err)
	}
	return &Handle{db: db, key: key, push: f.push}, nil
}

// Handle is a namespaced key-value store scoped to one user. It is owned by
// the session machine for the duration of a login; callers must not cache it
// past a logout.
type Handle struct {
	db   *sql.DB
	key  string
	push PushRegistrar
}

// Key returns the user's storage key.
func (h *Handle) Key() string {
	return h.key
}

// Set stores v under key as JSON, replacing any previous value.
func (h *Handle) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	_, err = h.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, data)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Get decodes the value stored under key into out, reporting whether the key
// was present.
func (h *Handle) Get(ctx context.Context, key string, out any) (bool, error) {
	var data []byte
	err := h.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a single key.
func (h *Handle) Delete(ctx context.Context, key string) error {
	_, err := h.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Teardown reverses the handle's session-scoped side effects and releases
// it. The push revocation is best effort; a failure is logged and does not
// block logout.
func (h *Handle) Teardown(ctx context.Context) error {
	if err := h.push.Revoke(ctx, h.key); err != nil {
		logger.Warn("failed to revoke push registration", "user", h.key, "error", err)
	}
	return h.db.Close()
}
