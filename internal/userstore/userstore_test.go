package userstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserKeyStable(t *testing.T) {
	a := UserKey("user-123")
	b := UserKey("user-123")
	c := UserKey("user-456")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestHandleRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(t.TempDir(), nil)

	h, err := f.Open(ctx, "user-123")
	require.NoError(t, err)
	defer func() { _ = h.Teardown(ctx) }()

	type profile struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	var out profile
	ok, err := h.Get(ctx, "profile", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	want := profile{Name: "Kari Nordmann", Email: "kari@example.com"}
	require.NoError(t, h.Set(ctx, "profile", want))

	ok, err = h.Get(ctx, "profile", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, out)

	require.NoError(t, h.Set(ctx, "profile", profile{Name: "Ola"}))
	_, err = h.Get(ctx, "profile", &out)
	require.NoError(t, err)
	assert.Equal(t, "Ola", out.Name)

	require.NoError(t, h.Delete(ctx, "profile"))
	ok, err = h.Get(ctx, "profile", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRejectsEmptySubject(t *testing.T) {
	f := NewFactory(t.TempDir(), nil)
	_, err := f.Open(context.Background(), "")
	assert.Error(t, err)
}

type recordingRegistrar struct {
	revoked []string
}

func (r *recordingRegistrar) Revoke(_ context.Context, userKey string) error {
	r.revoked = append(r.revoked, userKey)
	return nil
}

func TestTeardownRevokesPush(t *testing.T) {
	ctx := context.Background()
	reg := &recordingRegistrar{}
	f := NewFactory(t.TempDir(), reg)

	h, err := f.Open(ctx, "user-123")
	require.NoError(t, err)
	require.NoError(t, h.Teardown(ctx))

	assert.Equal(t, []string{UserKey("user-123")}, reg.revoked)
}

func TestReopenSameSubjectSameData(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(t.TempDir(), nil)

	h1, err := f.Open(ctx, "user-123")
	require.NoError(t, err)
	require.NoError(t, h1.Set(ctx, "districts", []string{"north", "south"}))
	require.NoError(t, h1.Teardown(ctx))

	h2, err := f.Open(ctx, "user-123")
	require.NoError(t, err)
	defer func() { _ = h2.Teardown(ctx) }()

	var districts []string
	ok, err := h2.Get(ctx, "districts", &districts)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"north", "south"}, districts)
}
