package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	qtest "github.com/AlessioChianetta/Coachale-sub034/internal/testing"
)

type countingSource struct {
	mu    sync.Mutex
	creds Credentials
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (s *countingSource) Load(ctx context.Context) (Credentials, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.err
}

func (s *countingSource) set(c Credentials, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds, s.err = c, err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(t *testing.T, src ConfigSource, ttl time.Duration, clock *testClock) *CredentialsCache {
	t.Helper()
	cache, err := NewCredentialsCache(src, ttl, WithCacheClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return cache
}

func TestCredentialsCache_TTL(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{creds: Credentials{APIKey: "KEY1", ConnectionID: "conn"}}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	cache := newCache(t, src, time.Minute, clock)

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "KEY1", got.APIKey)

	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load(), "second read is served from cache")

	src.set(Credentials{APIKey: "KEY2"}, nil)
	clock.Advance(59 * time.Second)
	got, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "KEY1", got.APIKey, "still fresh")

	clock.Advance(time.Second)
	got, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "KEY2", got.APIKey, "expired entry is reloaded")
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCredentialsCache_InvalidateAndRefresh(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{creds: Credentials{APIKey: "OLD"}}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	cache := newCache(t, src, time.Hour, clock)

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	src.set(Credentials{APIKey: "NEW"}, nil)
	cache.Invalidate()
	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NEW", got.APIKey)

	src.set(Credentials{APIKey: "NEWER"}, nil)
	got, err = cache.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NEWER", got.APIKey)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestCredentialsCache_CollapsesConcurrentLoads(t *testing.T) {
	src := &countingSource{creds: Credentials{APIKey: "KEY"}, gate: make(chan struct{})}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	cache := newCache(t, src, time.Minute, clock)

	const readers = 8
	var wg sync.WaitGroup
	results := make(chan string, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := cache.Get(context.Background())
			if err == nil {
				results <- c.APIKey
			}
		}()
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	// let late goroutines join the in-flight call before it completes
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), src.calls.Load())
	n := 0
	for key := range results {
		assert.Equal(t, "KEY", key)
		n++
	}
	assert.Equal(t, readers, n)
}

// ctxSource reports whether the context it loaded under was cancelled.
type ctxSource struct {
	gate    chan struct{}
	started chan struct{}
	calls   atomic.Int32
	loadErr atomic.Value
}

func (s *ctxSource) Load(ctx context.Context) (Credentials, error) {
	if s.calls.Add(1) == 1 {
		close(s.started)
	}
	<-s.gate
	if err := ctx.Err(); err != nil {
		s.loadErr.Store(err)
		return Credentials{}, err
	}
	return Credentials{APIKey: "KEY"}, nil
}

func TestCredentialsCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	src := &ctxSource{gate: make(chan struct{}), started: make(chan struct{})}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	cache := newCache(t, src, time.Minute, clock)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(first)
		firstErr <- err
	}()
	<-src.started

	second := make(chan Credentials, 1)
	go func() {
		c, err := cache.Get(context.Background())
		if err == nil {
			second <- c
		}
		close(second)
	}()
	// let the second caller join the in-flight load
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the load")
	}

	close(src.gate)
	select {
	case c, ok := <-second:
		require.True(t, ok, "second caller failed")
		assert.Equal(t, "KEY", c.APIKey)
	case <-time.After(time.Second):
		t.Fatal("second caller did not get credentials")
	}
	assert.Nil(t, src.loadErr.Load())
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCredentialsCache_NotConfigured(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{err: ErrNotConfigured}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	cache := newCache(t, src, time.Minute, clock)

	_, err := cache.Get(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	ok, err := cache.Configured(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	src.set(Credentials{APIKey: "KEY"}, nil)
	ok, err = cache.Configured(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "missing configuration is not cached")
}

func TestCredentialsCache_SourceFailure(t *testing.T) {
	src := &countingSource{err: errors.New("database is locked")}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	cache := newCache(t, src, time.Minute, clock)

	ok, err := cache.Configured(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewCredentialsCache_RejectsZeroTTL(t *testing.T) {
	_, err := NewCredentialsCache(StaticConfigSource{}, 0)
	assert.Error(t, err)
}

func TestStaticConfigSource(t *testing.T) {
	_, err := StaticConfigSource{}.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	c, err := StaticConfigSource{Credentials: Credentials{APIKey: "K"}}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "K", c.APIKey)
}

func TestSQLConfigSource(t *testing.T) {
	ctx := context.Background()
	src := NewSQLConfigSource(qtest.CreateTestDB(t), "telnyx")

	_, err := src.Load(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.Error(t, src.Save(ctx, Credentials{}), "empty key is refused")

	require.NoError(t, src.Save(ctx, Credentials{APIKey: "KEY1", ConnectionID: "conn-1"}))
	require.NoError(t, src.Save(ctx, Credentials{APIKey: "KEY2", ConnectionID: "conn-2", OutboundVoiceProfileID: "ovp"}))

	got, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credentials{APIKey: "KEY2", ConnectionID: "conn-2", OutboundVoiceProfileID: "ovp"}, got)

	other, err := NewSQLConfigSource(src.db, "messagenet").Load(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, other.APIKey)
}
