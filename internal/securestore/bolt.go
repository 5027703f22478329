package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/hkdf"
)

const aesKeySize = 32

var (
	bucketName = []byte("securestore")

	slotSession        = []byte("session")
	slotPendingSession = []byte("pendingSession")
	slotAppPin         = []byte("appPin")
	slotLastVersion    = []byte("lastUsedVersion")
)

// Bolt is the production Store: a single-file bbolt database with every
// value sealed under AES-256-GCM. The sealing key is derived from a device
// secret with HKDF-SHA256.
type Bolt struct {
	db  *bbolt.DB
	key []byte
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens (or creates) the secure store at path, sealing values with
// a key derived from secret.
func OpenBolt(path string, secret []byte) (*Bolt, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening secure store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating secure store bucket: %w", err)
	}
	return &Bolt{db: db, key: key}, nil
}

func deriveKey(secret []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, nil, []byte("fieldauth/securestore/v1"))
	k := make([]byte, aesKeySize)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("deriving store key: %w", err)
	}
	return k, nil
}

func (b *Bolt) GetSession(ctx context.Context) (*Session, error) {
	var s Session
	ok, err := b.get(ctx, slotSession, &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (b *Bolt) SetSession(ctx context.Context, s *Session) error {
	return b.put(ctx, slotSession, s)
}

func (b *Bolt) DeleteSession(ctx context.Context) error {
	return b.delete(ctx, slotSession)
}

func (b *Bolt) GetPendingSession(ctx context.Context) (*PendingSession, error) {
	var p PendingSession
	ok, err := b.get(ctx, slotPendingSession, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (b *Bolt) SetPendingSession(ctx context.Context, p *PendingSession) error {
	return b.put(ctx, slotPendingSession, p)
}

func (b *Bolt) DeletePendingSession(ctx context.Context) error {
	return b.delete(ctx, slotPendingSession)
}

func (b *Bolt) GetAppPin(ctx context.Context) (string, error) {
	var pin string
	ok, err := b.get(ctx, slotAppPin, &pin)
	if err != nil || !ok {
		return "", err
	}
	return pin, nil
}

func (b *Bolt) SetAppPin(ctx context.Context, pin string) error {
	return b.put(ctx, slotAppPin, pin)
}

func (b *Bolt) GetLastUsedVersion(ctx context.Context) (string, error) {
	var v string
	ok, err := b.get(ctx, slotLastVersion, &v)
	if err != nil || !ok {
		return "", err
	}
	return v, nil
}

func (b *Bolt) SetLastUsedVersion(ctx context.Context, version string) error {
	return b.put(ctx, slotLastVersion, version)
}

func (b *Bolt) Clear(ctx context.Context) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) put(ctx context.Context, slot []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", slot, err)
	}
	sealed, err := seal(plain, b.key, slot)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(slot, sealed)
	})
}

// get reports whether the slot was present. A value that cannot be opened or
// decoded is indistinguishable from corruption and surfaces ErrSealedValue.
func (b *Bolt) get(ctx context.Context, slot []byte, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var sealed []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketName).Get(slot); data != nil {
			sealed = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if sealed == nil {
		return false, nil
	}
	plain, err := open(sealed, b.key, slot)
	if err != nil {
		return false, fmt.Errorf("%s: %w", slot, ErrSealedValue)
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return false, fmt.Errorf("%s: %w", slot, ErrSealedValue)
	}
	return true, nil
}

func (b *Bolt) delete(ctx context.Context, slot []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(slot)
	})
}

// seal encrypts plain under key with AES-256-GCM, binding the ciphertext to
// its slot name so values cannot be swapped between slots.
func seal(plain, key, slot []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, slot), nil
}

func open(sealed, key, slot []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed value shorter than nonce")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, slot)
}
