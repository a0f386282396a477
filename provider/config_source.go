package provider

import (
	"context"
	"database/sql"
	"time"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// ConfigSource loads master credentials. Load returns ErrNotConfigured when no
// API key is stored.
type ConfigSource interface {
	Load(ctx context.Context) (Credentials, error)
}

// StaticConfigSource serves credentials from the config file or environment.
type StaticConfigSource struct {
	Credentials Credentials
}

func (s StaticConfigSource) Load(ctx context.Context) (Credentials, error) {
	if s.Credentials.APIKey == "" {
		return Credentials{}, ErrNotConfigured
	}
	return s.Credentials, nil
}

// SQLConfigSource reads the provider_config row for one provider.
type SQLConfigSource struct {
	db       *sql.DB
	provider string
	now      func() time.Time
}

// NewSQLConfigSource returns a source for the named provider ("telnyx").
func NewSQLConfigSource(db *sql.DB, provider string) *SQLConfigSource {
	return &SQLConfigSource{db: db, provider: provider, now: time.Now}
}

func (s *SQLConfigSource) Load(ctx context.Context) (Credentials, error) {
	var c Credentials
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key, connection_id, outbound_voice_profile_id
		 FROM provider_config WHERE provider = ?`, s.provider,
	).Scan(&c.APIKey, &c.ConnectionID, &c.OutboundVoiceProfileID)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNotConfigured
	}
	if err != nil {
		return Credentials{}, errors.Wrapf(err, "load %s config", s.provider)
	}
	if c.APIKey == "" {
		return Credentials{}, ErrNotConfigured
	}
	return c, nil
}

// Save upserts the provider's credentials. Callers invalidate their
// CredentialsCache afterwards.
func (s *SQLConfigSource) Save(ctx context.Context, c Credentials) error {
	if c.APIKey == "" {
		return errors.NewInvalidRequestf("api key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_config (provider, api_key, connection_id, outbound_voice_profile_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET
		     api_key = excluded.api_key,
		     connection_id = excluded.connection_id,
		     outbound_voice_profile_id = excluded.outbound_voice_profile_id,
		     updated_at = excluded.updated_at`,
		s.provider, c.APIKey, c.ConnectionID, c.OutboundVoiceProfileID, s.now().UnixMilli())
	return errors.Wrapf(err, "save %s config", s.provider)
}
