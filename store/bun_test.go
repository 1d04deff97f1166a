package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/goliatone/go-link"
	"github.com/goliatone/go-link/store"
)

func newTestStore(t *testing.T) *store.BunStore {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, sqlitedialect.New())

	s := store.NewBunStore(db)
	require.NoError(t, s.Setup(context.Background()))

	return s
}

func TestBunStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	loaded, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing session loads as nil, not an error")

	session := &link.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Identity: link.Identity{
			ProviderUserID: "123",
			ProviderName:   "discord",
			DisplayName:    "Player",
			Provider:       link.ProviderChatPlatform,
		},
	}

	require.NoError(t, s.SaveSession(ctx, session))

	loaded, err = s.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "access", loaded.AccessToken)
	assert.Equal(t, "123", loaded.Identity.ProviderUserID)
	assert.True(t, session.ExpiresAt.Equal(loaded.ExpiresAt))

	// save is an upsert on the single session row
	session.AccessToken = "rotated"
	require.NoError(t, s.SaveSession(ctx, session))

	loaded, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated", loaded.AccessToken)

	require.NoError(t, s.DeleteSession(ctx))

	loaded, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBunStore_AdminOverride(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	enabled, err := s.AdminOverride(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, s.SetAdminOverride(ctx, true))

	enabled, err = s.AdminOverride(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, s.SetAdminOverride(ctx, false))

	enabled, err = s.AdminOverride(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, s.SetAdminOverride(ctx, true))
	require.NoError(t, s.ClearAdminOverride(ctx))

	enabled, err = s.AdminOverride(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestBunStore_VerificationRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	found, err := s.FindByPlatformUser(ctx, "123")
	require.NoError(t, err)
	assert.Nil(t, found)

	record := link.NewVerificationRecord("123", "player_one")
	require.NoError(t, s.Save(ctx, record))

	found, err = s.FindByPlatformUser(ctx, "123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, "player_one", found.ClaimedIdentity)
	assert.False(t, found.RoleGranted)

	verified := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record.RoleGranted = true
	record.NotificationSent = true
	record.VerifiedAt = &verified
	require.NoError(t, s.Save(ctx, record))

	found, err = s.FindByPlatformUser(ctx, "123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.RoleGranted)
	assert.True(t, found.NotificationSent)
	require.NotNil(t, found.VerifiedAt)
	assert.True(t, verified.Equal(*found.VerifiedAt))
}

func TestMemoryStore_ImplementsSameContracts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	var _ link.DurableStore = s
	var _ link.OverrideStore = s
	var _ link.VerificationRecords = s

	loaded, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	record := link.NewVerificationRecord("123", "player_one")
	require.NoError(t, s.Save(ctx, record))

	found, err := s.FindByPlatformUser(ctx, "123")
	require.NoError(t, err)
	require.NotNil(t, found)

	// the stored record is a copy, mutations do not leak back
	found.RoleGranted = true
	again, err := s.FindByPlatformUser(ctx, "123")
	require.NoError(t, err)
	assert.False(t, again.RoleGranted)
}
