package auth

import (
	"context"
	"testing"
	"time"

	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGateway(t *testing.T) (*Gateway, *persistence.MemoryPersist) {
	t.Helper()
	cfg := &config.Config{}
	cfg.AuthConfig.JWTSecret = "test-secret"
	persister := persistence.NewMemoryPersister()
	gateway, err := NewGateway(cfg, persister)
	require.NoError(t, err)

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, persister.StoreUser(&types.User{
		Id:           "u1",
		Email:        "alice@example.com",
		Name:         "Alice",
		PasswordHash: hash,
		IsActive:     true,
	}))
	return gateway, persister
}

func TestLoginAndResolve(t *testing.T) {
	gateway, _ := setupGateway(t)

	token, user, err := gateway.Login("alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.Id)
	require.NotEmpty(t, token)

	resolved, err := gateway.ResolveIdentity(context.Background(), Credentials{Token: token})
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "u1", resolved.Id)

	// the token stays verifiable after logout evicts the cache entry
	gateway.Logout(token)
	resolved, err = gateway.ResolveIdentity(context.Background(), Credentials{Token: token})
	require.NoError(t, err)
	require.NotNil(t, resolved)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	gateway, _ := setupGateway(t)

	_, _, err := gateway.Login("alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, _, err = gateway.Login("nobody@example.com", "hunter2")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	gateway, persister := setupGateway(t)
	user, err := persister.GetUserByEmail("alice@example.com")
	require.NoError(t, err)
	user.IsActive = false
	require.NoError(t, persister.StoreUser(user))

	_, _, err = gateway.Login("alice@example.com", "hunter2")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveIdentityAnonymous(t *testing.T) {
	gateway, _ := setupGateway(t)

	// no credentials at all
	user, err := gateway.ResolveIdentity(context.Background(), Credentials{})
	require.NoError(t, err)
	assert.Nil(t, user)

	// garbage token
	user, err = gateway.ResolveIdentity(context.Background(), Credentials{Token: "not-a-jwt"})
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestResolveIdentityCacheHonorsExpiry(t *testing.T) {
	gateway, _ := setupGateway(t)

	// a warm entry only answers while the token it stands for is valid; the
	// token string here is garbage, so the cache is the only possible source
	gateway.cache.Add("warm-token", cachedIdentity{userId: "u1", expiresAt: time.Now().Add(time.Hour)})
	user, err := gateway.ResolveIdentity(context.Background(), Credentials{Token: "warm-token"})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.Id)

	// once the entry's expiry has passed it must fall through to token
	// verification, which fails, no matter how warm the cache is
	gateway.cache.Add("stale-token", cachedIdentity{userId: "u1", expiresAt: time.Now().Add(-time.Minute)})
	user, err = gateway.ResolveIdentity(context.Background(), Credentials{Token: "stale-token"})
	require.NoError(t, err)
	assert.Nil(t, user)
	_, ok := gateway.cache.Get("stale-token")
	assert.False(t, ok, "the expired entry is evicted")
}

func TestGuestUser(t *testing.T) {
	cfg := &config.Config{}
	persister := persistence.NewMemoryPersister()
	gateway, err := NewGateway(cfg, persister)
	require.NoError(t, err)

	assert.Nil(t, gateway.GuestUser(), "guests are disabled by default")

	cfg.AuthConfig.AllowGuests = true
	guest := gateway.GuestUser()
	require.NotNil(t, guest)
	assert.Contains(t, guest.Name, "(guest)")
	assert.True(t, guest.IsActive)
}
