// Package config loads coordinator configuration through viper.
//
// Sources merge in increasing precedence: built-in defaults, /etc/coachale/coachale.toml,
// ~/.coachale/coachale.toml, the nearest coachale.toml walking up from the working
// directory, then COACHALE_* environment variables (COACHALE_PROVIDER_API_KEY etc).
package config

import "time"

// Config is the full coordinator configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Lock     LockConfig     `mapstructure:"lock" toml:"lock"`
	Redis    RedisConfig    `mapstructure:"redis" toml:"redis"`
	Provider ProviderConfig `mapstructure:"provider" toml:"provider"`
	Poller   PollerConfig   `mapstructure:"poller" toml:"poller"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// Lock backends
const (
	LockBackendSQL   = "sql"
	LockBackendRedis = "redis"
)

// LockConfig selects and tunes the lease backend.
type LockConfig struct {
	Backend              string `mapstructure:"backend" toml:"backend"`     // sql or redis
	HolderID             string `mapstructure:"holder_id" toml:"holder_id"` // prefix; host-pid-random is always appended
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds" toml:"sweep_interval_seconds"`
}

// RedisConfig is only read when lock.backend = "redis".
type RedisConfig struct {
	Addr      string `mapstructure:"addr" toml:"addr"`
	Password  string `mapstructure:"password" toml:"password"`
	DB        int    `mapstructure:"db" toml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" toml:"key_prefix"`
}

// Provider credential sources
const (
	CredentialSourceDatabase = "database"
	CredentialSourceConfig   = "config"
)

// ProviderConfig configures the telephony provider client.
type ProviderConfig struct {
	Name                   string  `mapstructure:"name" toml:"name"`
	BaseURL                string  `mapstructure:"base_url" toml:"base_url"`
	CredentialSource       string  `mapstructure:"credential_source" toml:"credential_source"` // database or config
	APIKey                 string  `mapstructure:"api_key" toml:"api_key"`
	ConnectionID           string  `mapstructure:"connection_id" toml:"connection_id"`
	OutboundVoiceProfileID string  `mapstructure:"outbound_voice_profile_id" toml:"outbound_voice_profile_id"`
	CacheTTLSeconds        int     `mapstructure:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	RequestsPerSecond      float64 `mapstructure:"requests_per_second" toml:"requests_per_second"` // 0 = unlimited
	CountryCode            string  `mapstructure:"country_code" toml:"country_code"`
	NumberType             string  `mapstructure:"number_type" toml:"number_type"`

	// Requirements maps local document types and business fields to the
	// provider's requirement ids. Unmapped keys are sent as-is.
	Requirements map[string]string `mapstructure:"requirements" toml:"requirements"`
}

// PollerConfig configures the reconciliation poller.
type PollerConfig struct {
	Enabled          bool `mapstructure:"enabled" toml:"enabled"`
	IntervalSeconds  int  `mapstructure:"interval_seconds" toml:"interval_seconds"`
	LockSeconds      int  `mapstructure:"lock_seconds" toml:"lock_seconds"`
	HeartbeatSeconds int  `mapstructure:"heartbeat_seconds" toml:"heartbeat_seconds"` // 0 = no heartbeat
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr                   string `mapstructure:"addr" toml:"addr"`
	ReadTimeoutSeconds     int    `mapstructure:"read_timeout_seconds" toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `mapstructure:"write_timeout_seconds" toml:"write_timeout_seconds"`
	MaxUploadBytes         int64  `mapstructure:"max_upload_bytes" toml:"max_upload_bytes"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `mapstructure:"level" toml:"level"`
	JSON  bool   `mapstructure:"json" toml:"json"`
}

// Interval returns the poller tick interval.
func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSeconds) * time.Second
}

// LockDuration returns the lease length for one reconciliation pass.
func (p PollerConfig) LockDuration() time.Duration {
	return time.Duration(p.LockSeconds) * time.Second
}

// Heartbeat returns the lease heartbeat interval, zero when disabled.
func (p PollerConfig) Heartbeat() time.Duration {
	return time.Duration(p.HeartbeatSeconds) * time.Second
}

// CacheTTL returns how long loaded provider credentials stay fresh.
func (p ProviderConfig) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// Timeout returns the per-call HTTP timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// SweepInterval returns how often expired leases are deleted, zero when disabled.
func (l LockConfig) SweepInterval() time.Duration {
	return time.Duration(l.SweepIntervalSeconds) * time.Second
}
