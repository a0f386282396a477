package lease

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// Each lease is a hash {holder, acquired_at, expires_at} whose key TTL is the
// lease length. Redis removes expired keys itself, so "no key" and "expired"
// are the same state and acquire only needs EXISTS.
var (
	acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "holder", ARGV[1], "acquired_at", ARGV[2], "expires_at", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

	extendScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "holder") == ARGV[1] then
    redis.call("HSET", KEYS[1], "expires_at", ARGV[2])
    redis.call("PEXPIRE", KEYS[1], ARGV[3])
    return 1
end
return 0
`)

	releaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "holder") == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// RedisStore keeps leases in Redis. Expiry is enforced by Redis key TTLs, so
// the now passed by the manager only feeds the stored timestamps.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store that namespaces keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(jobName string) string {
	return s.prefix + jobName
}

func (s *RedisStore) Acquire(ctx context.Context, jobName, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client, []string{s.key(jobName)},
		holderID, now.UnixMilli(), now.Add(ttl).UnixMilli(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrapf(err, "acquire lease %s", jobName)
	}
	return n == 1, nil
}

func (s *RedisStore) Extend(ctx context.Context, jobName, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, s.client, []string{s.key(jobName)},
		holderID, now.Add(ttl).UnixMilli(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrapf(err, "extend lease %s", jobName)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, jobName, holderID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.key(jobName)}, holderID).Int()
	if err != nil {
		return false, errors.Wrapf(err, "release lease %s", jobName)
	}
	return n == 1, nil
}

func (s *RedisStore) ForceRelease(ctx context.Context, jobName string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(jobName)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "force release lease %s", jobName)
	}
	return n == 1, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Lock, error) {
	var locks []Lock
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "read lease %s", key)
		}
		if len(fields) == 0 {
			// expired between SCAN and HGETALL
			continue
		}
		locks = append(locks, Lock{
			JobName:    strings.TrimPrefix(key, s.prefix),
			HolderID:   fields["holder"],
			AcquiredAt: parseMillis(fields["acquired_at"]),
			ExpiresAt:  parseMillis(fields["expires_at"]),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "scan leases")
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].JobName < locks[j].JobName })
	return locks, nil
}

// DeleteExpired is a no-op: Redis drops expired keys on its own.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
