package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/gzhole/eduguard/internal/access"
	"github.com/gzhole/eduguard/internal/audit"
	"github.com/gzhole/eduguard/internal/audit/filestore"
	"github.com/gzhole/eduguard/internal/audit/sqlstore"
	"github.com/gzhole/eduguard/internal/catalog"
	"github.com/gzhole/eduguard/internal/config"
	"github.com/gzhole/eduguard/internal/guard"
	"github.com/gzhole/eduguard/internal/logging"
	"github.com/gzhole/eduguard/internal/metrics"
	"github.com/gzhole/eduguard/internal/quota"
	"github.com/gzhole/eduguard/internal/redact"
)

// app is a fully wired guard and the resources it owns.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	audit  *audit.Logger
	guard  *guard.Guard
	quota  *quota.RedisSource
	checks *access.Checker
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// openStore opens the configured audit backend.
func openStore(ctx context.Context, cfg config.AuditConfig) (audit.Store, error) {
	switch cfg.Store {
	case config.StoreFile:
		var opts []filestore.Option
		if cfg.MaxFileBytes > 0 {
			opts = append(opts, filestore.WithMaxBytes(cfg.MaxFileBytes))
		}
		return filestore.New(cfg.Path, opts...)
	case config.StoreSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.DSN)
	case config.StorePostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DSN)
	case config.StoreMemory:
		return audit.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown audit store %q", cfg.Store)
	}
}

// buildCatalog applies the operator's overrides to the built-in catalog.
func buildCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	overrides, err := cfg.CatalogOverrides()
	if err != nil {
		return nil, err
	}
	return catalog.New(overrides.Apply(catalog.DefaultSpec()))
}

func buildAccess(cfg *config.Config) (*access.Checker, error) {
	table, err := access.LoadTable(cfg.AccessPath)
	if err != nil {
		return nil, err
	}
	return access.NewChecker(table)
}

// alerter reports unconfirmed audit writes to the log and to metrics.
func alerter(log zerolog.Logger) audit.Alerter {
	return audit.Alerts{
		audit.LogAlerter{Log: log},
		audit.AlertFunc(func(_ context.Context, ev audit.Event, _ error) {
			metrics.AuditAlerts.WithLabelValues(ev.Severity.String()).Inc()
		}),
	}
}

// newApp wires the guard from cfg. store overrides the configured audit
// backend when non-nil.
func newApp(ctx context.Context, cfg *config.Config, store audit.Store, logOut io.Writer) (*app, error) {
	log := logging.New(cfg.LogLevel, logOut)

	cat, err := buildCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	checks, err := buildAccess(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load access policy: %w", err)
	}

	if store == nil {
		if store, err = openStore(ctx, cfg.Audit); err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
	}
	auditLog, err := audit.New(ctx, store, cfg.Audit.Config,
		audit.WithLog(log),
		audit.WithRedactor(redact.New(cat, 0)),
		audit.WithAlerter(alerter(log)),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to start audit logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, audit: auditLog, checks: checks}
	gcfg := guard.Config{
		Catalog:             cat,
		Access:              checks,
		Audit:               auditLog,
		QuotaTimeout:        cfg.Quota.Timeout,
		QuotaBurst:          cfg.Quota.Burst,
		Strategy:            cfg.Detection.Strategy,
		Weights:             cfg.Detection.Weights,
		EscalationScore:     cfg.Detection.EscalationScore,
		MaxScanLength:       cfg.Detection.MaxScanLength,
		StricterDelta:       cfg.Output.StricterDelta,
		MaxRedactedFraction: cfg.Output.MaxRedactedFraction,
		Refusal:             cfg.Output.Refusal,
		Log:                 &a.log,
	}
	if cfg.Quota.Addr != "" {
		a.quota = quota.NewRedisSourceFromConfig(quota.RedisConfig{
			Addr:     cfg.Quota.Addr,
			Password: cfg.Quota.Password,
			DB:       cfg.Quota.DB,
		}, quota.WithKeyPrefix(cfg.Quota.KeyPrefix))
		gcfg.Quota = a.quota
	}

	if a.guard, err = guard.New(gcfg); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	log.Debug().
		Str("catalog_version", cat.Version()).
		Str("audit_store", cfg.Audit.Store).
		Bool("quota", a.quota != nil).
		Msg("guard ready")
	return a, nil
}

// Close drains the audit logger and releases the quota client.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.audit.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing audit log: %w", err))
	}
	if a.quota != nil {
		if err := a.quota.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing quota client: %w", err))
		}
	}
	return errors.Join(errs...)
}
