package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/credential"
	"github.com/pharmalink/provider-sync/internal/normalize"
	"github.com/pharmalink/provider-sync/internal/provsync"
	"github.com/pharmalink/provider-sync/internal/store"
)

// appEnv is everything a command needs to talk to providers.
type appEnv struct {
	Store  store.Store
	Wiring *provsync.Wiring
	Engine *provsync.Engine
	// Runs is nil unless the store is Postgres.
	Runs *provsync.SyncLog
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	columns := store.EnabledColumns(credential.DefaultSchemas())
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath, columns)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		}, columns)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func loadTemplates() (*normalize.Templates, error) {
	if cfg.Normalize.TemplatesFile == "" {
		return normalize.Default(), nil
	}
	return normalize.Load(cfg.Normalize.TemplatesFile)
}

// initEnv validates the config for mode, opens and migrates the store and
// wires the engine.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}
	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if err := env.wire(st); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// initStatelessEnv wires the engine without a database; credentials must
// come from overrides and configured defaults.
func initStatelessEnv() (*appEnv, error) {
	if err := cfg.Validate("probe"); err != nil {
		return nil, err
	}
	env := &appEnv{}
	if err := env.wire(nil); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *appEnv) wire(st store.Store) error {
	tpls, err := loadTemplates()
	if err != nil {
		return err
	}
	w, err := provsync.Build(cfg, tpls, time.Now)
	if err != nil {
		return err
	}
	e.Wiring = w

	opts := provsync.Options{
		Registry:    w.Registry,
		Tokens:      w.Tokens,
		Concurrency: cfg.Sync.Concurrency,
		MaxBranches: cfg.Sync.MaxBranches,
	}
	if st != nil {
		opts.Resolver = credential.NewResolver(credential.DefaultSchemas(), cfg.CredentialDefaults(), st)
		opts.Records = st
		opts.Directory = st
		if pg, ok := st.(*store.PostgresStore); ok {
			e.Runs = provsync.NewSyncLog(pg.Pool())
			opts.Runs = e.Runs
		}
	} else {
		opts.Resolver = credential.NewResolver(credential.DefaultSchemas(), cfg.CredentialDefaults(), nil)
	}
	e.Engine = provsync.NewEngine(opts)

	zap.L().Debug("engine wired",
		zap.Strings("providers", w.Registry.Names()),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("run_log", e.Runs != nil),
	)
	return nil
}
