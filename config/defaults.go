package config

import (
	"github.com/spf13/viper"
)

// Default values shared by SetDefaults and callers that need them directly.
const (
	DefaultDatabasePath      = "coachale.db"
	DefaultProviderBaseURL   = "https://api.telnyx.com"
	DefaultServerAddr        = ":8087"
	DefaultPollerInterval    = 300 // seconds
	DefaultPollerLock        = 120 // seconds, one full pass
	DefaultPollerHeartbeat   = 30  // seconds
	DefaultCredentialTTL     = 60  // seconds
	DefaultMaxUploadBytes    = 10 << 20
	DefaultDirPermissions    = 0750
	DefaultConfigFileName    = "coachale.toml"
	DefaultRedisLockKeyspace = "coachale:lock:"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("lock.backend", LockBackendSQL)
	v.SetDefault("lock.holder_id", "")
	v.SetDefault("lock.sweep_interval_seconds", 600)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", DefaultRedisLockKeyspace)

	v.SetDefault("provider.name", "telnyx")
	v.SetDefault("provider.base_url", DefaultProviderBaseURL)
	v.SetDefault("provider.credential_source", CredentialSourceDatabase)
	v.SetDefault("provider.cache_ttl_seconds", DefaultCredentialTTL)
	v.SetDefault("provider.timeout_seconds", 30)
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.country_code", "IT")
	v.SetDefault("provider.number_type", "local")

	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.interval_seconds", DefaultPollerInterval)
	v.SetDefault("poller.lock_seconds", DefaultPollerLock)
	v.SetDefault("poller.heartbeat_seconds", DefaultPollerHeartbeat)

	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 60)
	v.SetDefault("server.max_upload_bytes", DefaultMaxUploadBytes)
	v.SetDefault("server.shutdown_timeout_seconds", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars binds secrets to explicit environment variable names so
// they work even when no config file mentions the key.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("provider.api_key", "COACHALE_PROVIDER_API_KEY", "TELNYX_API_KEY")
	v.BindEnv("provider.connection_id", "COACHALE_PROVIDER_CONNECTION_ID")
	v.BindEnv("provider.outbound_voice_profile_id", "COACHALE_PROVIDER_OUTBOUND_VOICE_PROFILE_ID")
	v.BindEnv("redis.password", "COACHALE_REDIS_PASSWORD")
	v.BindEnv("database.path", "COACHALE_DATABASE_PATH", "DB_PATH")
}
