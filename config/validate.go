package config

import "github.com/AlessioChianetta/Coachale-sub034/errors"

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	switch c.Lock.Backend {
	case LockBackendSQL:
	case LockBackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr cannot be empty when lock.backend = \"redis\"")
		}
	default:
		return errors.WithHint(
			errors.Newf("unknown lock.backend %q", c.Lock.Backend),
			"use \"sql\" or \"redis\"")
	}
	if c.Lock.SweepIntervalSeconds < 0 {
		return errors.Newf("lock.sweep_interval_seconds must be >= 0, got %d", c.Lock.SweepIntervalSeconds)
	}

	switch c.Provider.CredentialSource {
	case CredentialSourceDatabase, CredentialSourceConfig:
	default:
		return errors.Newf("unknown provider.credential_source %q", c.Provider.CredentialSource)
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url cannot be empty")
	}
	if c.Provider.CacheTTLSeconds <= 0 {
		return errors.Newf("provider.cache_ttl_seconds must be > 0, got %d", c.Provider.CacheTTLSeconds)
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return errors.Newf("provider.timeout_seconds must be > 0, got %d", c.Provider.TimeoutSeconds)
	}
	if c.Provider.RequestsPerSecond < 0 {
		return errors.Newf("provider.requests_per_second must be >= 0, got %f", c.Provider.RequestsPerSecond)
	}

	if c.Poller.Enabled && c.Poller.IntervalSeconds <= 0 {
		return errors.Newf("poller.interval_seconds must be > 0 when enabled, got %d", c.Poller.IntervalSeconds)
	}
	if c.Poller.LockSeconds <= 0 {
		return errors.Newf("poller.lock_seconds must be > 0, got %d", c.Poller.LockSeconds)
	}
	if c.Poller.HeartbeatSeconds < 0 {
		return errors.Newf("poller.heartbeat_seconds must be >= 0, got %d", c.Poller.HeartbeatSeconds)
	}
	// A heartbeat at or past the lease length would let the lease lapse between beats
	if c.Poller.HeartbeatSeconds > 0 && c.Poller.HeartbeatSeconds >= c.Poller.LockSeconds {
		return errors.Newf("poller.heartbeat_seconds (%d) must be shorter than poller.lock_seconds (%d)",
			c.Poller.HeartbeatSeconds, c.Poller.LockSeconds)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return errors.Newf("server.max_upload_bytes must be > 0, got %d", c.Server.MaxUploadBytes)
	}
	return nil
}
