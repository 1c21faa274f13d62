package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryConnectTokenStore_TakeIsOneShot(t *testing.T) {
	store := NewMemoryConnectTokenStore()
	ctx := context.Background()

	data := ConnectTokenData{
		UserID:         "u1",
		OrganizationID: "org-1",
		Nonce:          "n1",
		ExpiresAt:      time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, store.Put(ctx, "tok-1", data))

	got, err := store.Take(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "org-1", got.OrganizationID)

	// Second redemption misses
	got, err = store.Take(ctx, "tok-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryConnectTokenStore_UnknownToken(t *testing.T) {
	store := NewMemoryConnectTokenStore()

	got, err := store.Take(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryConnectTokenStore_SweepsExpired(t *testing.T) {
	store := NewMemoryConnectTokenStore()
	ctx := context.Background()

	expired := ConnectTokenData{UserID: "u1", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.Put(ctx, "tok-old", expired))

	// The next Put sweeps anything past its expiry
	fresh := ConnectTokenData{UserID: "u2", ExpiresAt: time.Now().Add(5 * time.Minute)}
	require.NoError(t, store.Put(ctx, "tok-new", fresh))

	got, err := store.Take(ctx, "tok-old")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Take(ctx, "tok-new")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u2", got.UserID)
}
