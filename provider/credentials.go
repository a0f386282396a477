package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/metrics"
)

const credentialsKey = "credentials"

// credentialLoadTimeout bounds a shared load, which runs detached from the
// context of whichever caller started it.
const credentialLoadTimeout = 10 * time.Second

type cachedCredentials struct {
	creds    Credentials
	loadedAt time.Time
}

// CredentialsCache holds the master credentials for a short TTL so each
// provider call does not cost a database round trip. It is owned by whoever
// builds the client; there is no package-level instance.
type CredentialsCache struct {
	source ConfigSource
	ttl    time.Duration
	now    func() time.Time
	logger *zap.SugaredLogger

	store *ristretto.Cache
	group singleflight.Group
	// generation is bumped by Invalidate so a load that started earlier
	// cannot write its stale result back afterwards.
	generation atomic.Uint64
}

// CacheOption configures a CredentialsCache.
type CacheOption func(*CredentialsCache)

// WithCacheClock replaces time.Now for TTL checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CredentialsCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(l *zap.SugaredLogger) CacheOption {
	return func(c *CredentialsCache) {
		c.logger = logger.OrNop(l)
	}
}

// NewCredentialsCache returns a cache over source. ttl must be positive.
func NewCredentialsCache(source ConfigSource, ttl time.Duration, opts ...CacheOption) (*CredentialsCache, error) {
	if ttl <= 0 {
		return nil, errors.Newf("credentials ttl must be positive, got %s", ttl)
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create credentials cache")
	}

	c := &CredentialsCache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
		store:  store,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns cached credentials, loading them when absent or older than the TTL.
// Concurrent loads share one call to the source, and a caller that gives up
// does not cancel it for the others.
func (c *CredentialsCache) Get(ctx context.Context) (Credentials, error) {
	if v, ok := c.store.Get(credentialsKey); ok {
		entry := v.(cachedCredentials)
		if c.now().Sub(entry.loadedAt) < c.ttl {
			return entry.creds, nil
		}
	}

	ch := c.group.DoChan(credentialsKey, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), credentialLoadTimeout)
		defer cancel()

		gen := c.generation.Load()
		creds, err := c.source.Load(loadCtx)
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				metrics.RecordCredentialLoad(metrics.ResultMissing)
			} else {
				metrics.RecordCredentialLoad(metrics.ResultError)
			}
			return Credentials{}, err
		}
		metrics.RecordCredentialLoad(metrics.ResultOK)
		if c.generation.Load() == gen {
			c.store.Set(credentialsKey, cachedCredentials{creds: creds, loadedAt: c.now()}, 1)
			c.store.Wait()
		}
		c.logger.Debugw("Provider credentials loaded", "ttl", c.ttl.String())
		return creds, nil
	})
	select {
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credentials{}, res.Err
		}
		return res.Val.(Credentials), nil
	}
}

// Invalidate drops the cached credentials; the next Get reloads.
func (c *CredentialsCache) Invalidate() {
	c.generation.Add(1)
	c.store.Del(credentialsKey)
	c.store.Wait()
}

// Refresh invalidates and reloads immediately.
func (c *CredentialsCache) Refresh(ctx context.Context) (Credentials, error) {
	c.Invalidate()
	return c.Get(ctx)
}

// Configured reports whether credentials are available. Source failures other
// than missing configuration are returned as errors.
func (c *CredentialsCache) Configured(ctx context.Context) (bool, error) {
	_, err := c.Get(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotConfigured) {
		return false, nil
	}
	return false, err
}

// Close releases the cache's background goroutines.
func (c *CredentialsCache) Close() {
	c.store.Close()
}
