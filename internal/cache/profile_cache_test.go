package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
)

func TestCachedUserRepository_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Users().Create(ctx, &domain.User{ID: "u-1", Name: "Alice", Email: "alice@example.com", Role: domain.RoleTech, Active: true}))

	profiles := NewProfileCache(16, time.Minute, observability.NewMetrics(prometheus.NewRegistry()))
	repo := NewCachedUserRepository(store.Users(), profiles)

	first, err := repo.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", first.Name)

	// A write that bypasses the decorator is not visible until the entry is dropped.
	bypass := *first
	bypass.Name = "Alice B."
	require.NoError(t, store.Users().Update(ctx, &bypass))
	cached, err := repo.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", cached.Name)

	update := *cached
	update.Active = false
	require.NoError(t, repo.Update(ctx, &update))

	fresh, err := repo.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, fresh.Active)
}

func TestProfileCache_ReturnsCopies(t *testing.T) {
	profiles := NewProfileCache(4, time.Minute, nil)
	profiles.Set(&domain.User{ID: "u-1", Role: domain.RoleAdmin})

	got, ok := profiles.Get("u-1")
	require.True(t, ok)
	got.Role = domain.RoleCustomer

	again, ok := profiles.Get("u-1")
	require.True(t, ok)
	assert.Equal(t, domain.RoleAdmin, again.Role)
}

func TestProfileCache_RecordsHitsAndMisses(t *testing.T) {
	reg := prometheus.NewRegistry()
	profiles := NewProfileCache(4, time.Minute, observability.NewMetrics(reg))

	_, ok := profiles.Get("missing")
	assert.False(t, ok)
	profiles.Set(&domain.User{ID: "u-1"})
	_, ok = profiles.Get("u-1")
	assert.True(t, ok)

	count, err := testutil.GatherAndCount(reg, "helpdesk_profile_cache_hits_total", "helpdesk_profile_cache_misses_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewCachedUserRepository_NilCache(t *testing.T) {
	store := memory.NewStore()
	assert.Equal(t, store.Users(), NewCachedUserRepository(store.Users(), nil))
}
