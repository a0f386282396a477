package commands

import (
	"database/sql"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/config"
	"github.com/AlessioChianetta/Coachale-sub034/db"
	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/internal/httpclient"
	"github.com/AlessioChianetta/Coachale-sub034/lease"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
	"github.com/AlessioChianetta/Coachale-sub034/provisioning"
	"github.com/AlessioChianetta/Coachale-sub034/reconcile"
)

// app is the set of components one command invocation works with.
type app struct {
	cfg        *config.Config
	configPath string

	db         *sql.DB
	redis      *redis.Client
	leaseStore lease.Store
	leases     *lease.Manager

	source   provider.ConfigSource
	creds    *provider.CredentialsCache
	client   *provider.Client
	store    *provisioning.Store
	workflow *provisioning.Workflow
	poller   *reconcile.Poller
}

// loadConfig reads --config when given, otherwise the merged config cascade.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
		if files := config.MergedFiles(); len(files) > 0 {
			path = files[len(files)-1]
		}
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", errors.Wrap(err, "invalid configuration")
	}
	return cfg, path, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", cfg.Database.Path)
	}
	a := &app{cfg: cfg, configPath: path, db: database}

	if err := a.initLeases(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initProvider(); err != nil {
		a.Close()
		return nil, err
	}

	a.store = provisioning.NewStore(database)
	a.workflow = provisioning.NewWorkflow(a.store, a.client, provisioning.Options{
		CountryCode:  cfg.Provider.CountryCode,
		NumberType:   cfg.Provider.NumberType,
		Requirements: cfg.Provider.Requirements,
	}, provisioning.WithWorkflowLogger(logger.ComponentLogger("workflow")))
	a.poller = reconcile.NewPoller(a.leases, a.store, a.workflow, a.client, reconcile.Config{
		Interval:          cfg.Poller.Interval(),
		LockDuration:      cfg.Poller.LockDuration(),
		HeartbeatInterval: cfg.Poller.Heartbeat(),
	}, logger.ComponentLogger("reconcile"))
	return a, nil
}

func (a *app) initLeases() error {
	switch a.cfg.Lock.Backend {
	case config.LockBackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.leaseStore = lease.NewRedisStore(a.redis, a.cfg.Redis.KeyPrefix)
	default:
		a.leaseStore = lease.NewSQLStore(a.db)
	}
	a.leases = lease.NewManager(a.leaseStore,
		lease.WithHolderID(lease.PrefixedHolderID(a.cfg.Lock.HolderID)),
		lease.WithLogger(logger.ComponentLogger("lease")))
	return nil
}

func (a *app) initProvider() error {
	pc := a.cfg.Provider
	switch pc.CredentialSource {
	case config.CredentialSourceConfig:
		a.source = provider.StaticConfigSource{Credentials: provider.Credentials{
			APIKey:                 pc.APIKey,
			ConnectionID:           pc.ConnectionID,
			OutboundVoiceProfileID: pc.OutboundVoiceProfileID,
		}}
	default:
		a.source = provider.NewSQLConfigSource(a.db, pc.Name)
	}

	creds, err := provider.NewCredentialsCache(a.source, pc.CacheTTL(),
		provider.WithCacheLogger(logger.ComponentLogger("credentials")))
	if err != nil {
		return errors.Wrap(err, "failed to create credentials cache")
	}
	a.creds = creds

	hc, err := httpclient.New(pc.BaseURL, httpclient.Options{
		Timeout:       pc.Timeout(),
		AllowInsecure: strings.HasPrefix(strings.ToLower(pc.BaseURL), "http://"),
	})
	if err != nil {
		return errors.Wrap(err, "invalid provider.base_url")
	}
	a.client = provider.NewClient(pc.BaseURL, creds,
		provider.WithHTTPClient(hc.Client),
		provider.WithRateLimit(pc.RequestsPerSecond, 1),
		provider.WithClientLogger(logger.ComponentLogger("provider")))
	return nil
}

// sqlSource returns the database credential source, or an error when
// credentials come from the config file.
func (a *app) sqlSource() (*provider.SQLConfigSource, error) {
	src, ok := a.source.(*provider.SQLConfigSource)
	if !ok {
		return nil, errors.WithHint(
			errors.New("provider credentials are read from the config file"),
			"set provider.api_key in coachale.toml, or provider.credential_source = \"database\"")
	}
	return src, nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.creds != nil {
		a.creds.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
