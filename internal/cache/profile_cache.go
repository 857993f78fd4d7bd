// Package cache keeps recently loaded profiles in memory so the auth
// middleware and assignment checks avoid a store round trip per request.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// ProfileCache is an LRU of profiles keyed by user id with a per-entry TTL.
type ProfileCache struct {
	cache   *expirable.LRU[string, domain.User]
	metrics *observability.Metrics
}

// NewProfileCache creates a cache holding at most size profiles for ttl each.
func NewProfileCache(size int, ttl time.Duration, metrics *observability.Metrics) *ProfileCache {
	if size <= 0 {
		size = 1024
	}
	return &ProfileCache{
		cache:   expirable.NewLRU[string, domain.User](size, nil, ttl),
		metrics: metrics,
	}
}

// Get returns a copy of the cached profile.
func (c *ProfileCache) Get(id string) (*domain.User, bool) {
	user, ok := c.cache.Get(id)
	c.metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false
	}
	return &user, true
}

func (c *ProfileCache) Set(user *domain.User) {
	if user == nil {
		return
	}
	c.cache.Add(user.ID, *user)
}

func (c *ProfileCache) Invalidate(id string) {
	c.cache.Remove(id)
}

// cachedUserRepository reads profiles through the cache and drops entries on
// writes. GetByIDLocked is not overridden and always reads the store.
type cachedUserRepository struct {
	repository.UserRepository
	cache *ProfileCache
}

// NewCachedUserRepository decorates repo with cache.
func NewCachedUserRepository(repo repository.UserRepository, cache *ProfileCache) repository.UserRepository {
	if cache == nil {
		return repo
	}
	return &cachedUserRepository{UserRepository: repo, cache: cache}
}

func (r *cachedUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := r.cache.Get(id); ok {
		return user, nil
	}
	user, err := r.UserRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(user)
	return user, nil
}

// Update drops the entry on both sides of the write so a concurrent read
// cannot re-cache the old profile past the write.
func (r *cachedUserRepository) Update(ctx context.Context, user *domain.User) error {
	r.cache.Invalidate(user.ID)
	err := r.UserRepository.Update(ctx, user)
	r.cache.Invalidate(user.ID)
	return err
}
