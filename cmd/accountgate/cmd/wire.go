package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/prometheus/client_golang/prometheus"

	apihttp "github.com/swiftdrop/accountgate/internal/adapter/inbound/http"
	celadapter "github.com/swiftdrop/accountgate/internal/adapter/outbound/cel"
	"github.com/swiftdrop/accountgate/internal/adapter/outbound/idp"
	"github.com/swiftdrop/accountgate/internal/adapter/outbound/localidp"
	"github.com/swiftdrop/accountgate/internal/adapter/outbound/memory"
	"github.com/swiftdrop/accountgate/internal/adapter/outbound/sqlite"
	"github.com/swiftdrop/accountgate/internal/adapter/outbound/state"
	"github.com/swiftdrop/accountgate/internal/config"
	"github.com/swiftdrop/accountgate/internal/domain/guard"
	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/port/outbound"
	"github.com/swiftdrop/accountgate/internal/service"
	"github.com/swiftdrop/accountgate/internal/telemetry"
)

// Development user created when dev mode runs the local provider without
// configured users.
const (
	devEmail    = "dev@accountgate.local"
	devPassword = "dev"
)

// grantStore is a role.GrantStore that can be health-checked.
type grantStore interface {
	role.GrantStore
	apihttp.Pinger
}

// app holds the wired components for one client instance.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	provider  session.IdentityProvider
	cache     outbound.LocalCache
	grants    grantStore
	store     *session.Store
	refresher *guard.Refresher
	account   *service.AccountService
	metrics   *apihttp.Metrics
	registry  *prometheus.Registry
	health    *apihttp.HealthChecker

	closers []func() error
}

// buildApp wires every component from cfg and restores the persisted
// session, if any.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.provider, err = newIdentityProvider(cfg, logger); err != nil {
		return nil, err
	}
	if a.grants, err = a.newGrantStore(ctx); err != nil {
		return nil, err
	}
	if a.cache, err = a.newLocalCache(ctx); err != nil {
		return nil, err
	}

	compiler, err := celadapter.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("create condition compiler: %w", err)
	}
	table, err := guard.NewTable(cfg.Guard.TableConfig(), compiler)
	if err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = apihttp.NewMetrics(a.registry)
	instruments, err := telemetry.NewInstruments()
	if err != nil {
		return nil, fmt.Errorf("create telemetry instruments: %w", err)
	}

	resolver := role.NewResolver(a.grants, logger)
	storeOpts := []session.Option{
		session.WithPersister(a.cache),
		session.WithLogger(logger),
	}
	if cfg.Guard.KeepSessionOnNetworkFailure {
		storeOpts = append(storeOpts, session.WithKeepSessionOnNetworkFailure())
	}
	a.store = session.NewStore(a.provider, resolver, storeOpts...)
	a.store.Subscribe(a.metrics.ObserveTransition)

	retry := cfg.Guard.Retry
	a.refresher = guard.NewRefresher(a.store,
		guard.WithBackoff(
			config.Duration(retry.InitialInterval, 0),
			config.Duration(retry.MaxInterval, 0),
			uint(retry.MaxAttempts),
		),
		guard.WithRefreshRecorder(a.metrics),
		guard.WithRefreshRecorder(instruments),
		guard.WithRefresherLogger(logger),
	)
	g := guard.New(a.store, table,
		guard.WithRefreshTrigger(a.refresher),
		guard.WithDecisionRecorder(a.metrics),
		guard.WithStaleness(
			config.Duration(cfg.Guard.RefreshWindow, 0),
			config.Duration(cfg.Guard.MaxStaleness, 0),
		),
		guard.WithGuardLogger(logger),
	)

	logout := service.NewLogoutCoordinator(a.provider, a.store, a.cache, logger,
		service.WithRetryDelay(config.Duration(cfg.Logout.RetryDelay, 0)),
		service.WithLogoutRecorder(a.metrics),
		service.WithLogoutRecorder(instruments),
	)
	logout.OnReset(a.metrics.RecordReset)
	logout.OnReset(func() {
		logger.Debug("dependent state reset", "scoped_cache", cfg.Cache.Backend)
	})
	a.account = service.NewAccountService(
		a.store,
		service.NewSignInService(a.provider, a.store, logger),
		a.refresher,
		service.NewSwitchWorkflow(a.store, resolver, a.metrics, logger),
		g,
		logout,
	)

	a.health = apihttp.NewHealthChecker(map[string]apihttp.Pinger{
		"cache":  a.cache,
		"grants": a.grants,
	}, a.store, Version)

	if _, err := a.store.Restore(ctx); err != nil {
		// A corrupt or unreadable record is not fatal: the user signs in again.
		logger.Warn("could not restore persisted session", "error", err)
	}
	return a, nil
}

// Close releases backend resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func newIdentityProvider(cfg *config.Config, logger *slog.Logger) (session.IdentityProvider, error) {
	id := cfg.Identity
	if id.Mode == config.IdentityModeHTTP {
		client, err := idp.NewClient(id.BaseURL, id.APIKey,
			idp.WithTimeout(config.Duration(id.Timeout, 0)),
			idp.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create identity provider client: %w", err)
		}
		return client, nil
	}

	users := make([]localidp.User, 0, len(id.Local.Users))
	for _, u := range id.Local.Users {
		users = append(users, localidp.User{SubjectID: u.SubjectID, Email: u.Email, PasswordHash: u.PasswordHash})
	}
	if len(users) == 0 && cfg.DevMode {
		hash, err := argon2id.CreateHash(devPassword, argon2id.DefaultParams)
		if err != nil {
			return nil, fmt.Errorf("hash development password: %w", err)
		}
		users = append(users, localidp.User{SubjectID: config.DevSubjectID, Email: devEmail, PasswordHash: hash})
		logger.Debug("development user available", "email", devEmail, "subject_id", config.DevSubjectID)
	}
	provider, err := localidp.New(localidp.Config{
		Secret:     []byte(id.Local.Secret),
		AccessTTL:  config.Duration(id.Local.AccessTTL, 0),
		RefreshTTL: config.Duration(id.Local.RefreshTTL, 0),
		Users:      users,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create local identity provider: %w", err)
	}
	return provider, nil
}

func (a *app) newGrantStore(ctx context.Context) (grantStore, error) {
	gc := a.cfg.Grants
	switch gc.Backend {
	case config.BackendHTTP:
		client, err := idp.NewGrantClient(gc.BaseURL, a.cfg.Identity.APIKey, nil, a.logger)
		if err != nil {
			return nil, fmt.Errorf("create grant client: %w", err)
		}
		return client, nil
	case config.BackendSQLite:
		db, err := a.openSQLite(ctx, gc.DSN)
		if err != nil {
			return nil, err
		}
		store := sqlite.NewGrantStore(db)
		for subject, roles := range gc.Seed {
			for _, r := range role.ParseSet(roles...).Roles() {
				if err := store.Grant(ctx, subject, r); err != nil {
					return nil, fmt.Errorf("seed grants for %s: %w", subject, err)
				}
			}
		}
		return store, nil
	default:
		return memory.NewGrantStore(gc.Seed), nil
	}
}

func (a *app) newLocalCache(ctx context.Context) (outbound.LocalCache, error) {
	cc := a.cfg.Cache
	var cache outbound.LocalCache
	switch cc.Backend {
	case config.BackendSQLite:
		db, err := a.openSQLite(ctx, cc.Path)
		if err != nil {
			return nil, err
		}
		// The database handle is closed by openSQLite's closer.
		return sqlite.NewLocalCache(db), nil
	case config.BackendMemory:
		mc, err := memory.NewLocalCache(cc.Capacity)
		if err != nil {
			return nil, fmt.Errorf("create memory cache: %w", err)
		}
		cache = mc
	default:
		cache = state.NewFileCache(cc.Path, a.logger)
	}
	a.closers = append(a.closers, cache.Close)
	return cache, nil
}

func (a *app) openSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sqlite.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// telemetryWriter opens the configured telemetry output. The returned close
// function is a no-op for stdout and stderr.
func telemetryWriter(output string) (io.Writer, func() error, error) {
	switch {
	case output == "" || output == "stderr":
		return os.Stderr, func() error { return nil }, nil
	case output == "stdout":
		return os.Stdout, func() error { return nil }, nil
	case strings.HasPrefix(output, "file://"):
		f, err := os.OpenFile(strings.TrimPrefix(output, "file://"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open telemetry output: %w", err)
		}
		return f, f.Close, nil
	default:
		return nil, nil, errors.New("unsupported telemetry output " + output)
	}
}
