// Package cache provides the small ambient TTL cache shared by
// collaborators that need to remember a value for a bounded time — today
// that is solely the OAuth access token held by a client_credentials
// TokenProvider between refreshes.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Config tunes the underlying ttlcache instance.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: 10 * time.Minute,
	}
}

// TokenCache holds OAuth access tokens keyed by a caller-chosen hash
// (typically a hash of client_id+tenant_id+scope), evicting them once
// their TTL — normally the token's own expires_in — elapses.
type TokenCache struct {
	cache *ttlcache.Cache[string, string]
}

func NewTokenCache(cfg Config) *TokenCache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}

	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](cfg.DefaultTTL),
	)
	go c.Start()

	return &TokenCache{cache: c}
}

func (t *TokenCache) GetToken(tokenHash string) (string, bool) {
	item := t.cache.Get(tokenHash)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

func (t *TokenCache) SetToken(tokenHash, token string, ttl time.Duration) {
	t.cache.Set(tokenHash, token, ttl)
}

func (t *TokenCache) InvalidateToken(tokenHash string) {
	t.cache.Delete(tokenHash)
}

func (t *TokenCache) InvalidateAllTokens() {
	t.cache.DeleteAll()
}

func (t *TokenCache) Len() int {
	return t.cache.Len()
}

func (t *TokenCache) Stop() {
	t.cache.Stop()
}
