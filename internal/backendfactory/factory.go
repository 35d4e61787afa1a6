// Package backendfactory opens the ledger backend selected by configuration.
package backendfactory

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/aqasim81/migration-ledger/internal/config"
	"github.com/aqasim81/migration-ledger/internal/database"
	"github.com/aqasim81/migration-ledger/internal/ledger"
	ledgeretcd "github.com/aqasim81/migration-ledger/internal/ledger/etcd"
	"github.com/aqasim81/migration-ledger/internal/ledger/memory"
	"github.com/aqasim81/migration-ledger/internal/ledger/postgres"
	ledgerredis "github.com/aqasim81/migration-ledger/internal/ledger/redis"
	"github.com/aqasim81/migration-ledger/internal/ledger/sqlite"
)

// Handle owns an open backend and the Ledger built on it.
type Handle struct {
	Ledger  *ledger.Ledger
	Backend ledger.Backend
	closers []func() error
}

// Close releases the backend's connections.
func (h *Handle) Close() error {
	var errs []error

	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Open connects to the configured backend, prepares its storage, and wraps
// it in a Ledger using the configured step policy.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy, err := ledger.ParseStepPolicy(cfg.StepPolicy)
	if err != nil {
		return nil, err
	}

	h := &Handle{}

	h.Backend, err = openBackend(ctx, cfg, h)
	if err != nil {
		_ = h.Close()

		return nil, err
	}

	opts := []ledger.Option{ledger.WithStepPolicy(policy)}
	if log != nil {
		opts = append(opts, ledger.WithLogger(log.WithField("backend", cfg.Backend)))
	}

	h.Ledger = ledger.New(h.Backend, opts...)

	return h, nil
}

func openBackend(ctx context.Context, cfg *config.Config, h *Handle) (ledger.Backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, h)
	case config.BackendSQLite:
		return openSQLite(ctx, cfg, h)
	case config.BackendEtcd:
		return openEtcd(ctx, cfg, h)
	case config.BackendRedis:
		return openRedis(ctx, cfg, h)
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, h *Handle) (ledger.Backend, error) {
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.WithMaxConns(cfg.MaxConns))
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	h.closers = append(h.closers, func() error {
		pool.Close()
		return nil
	})

	b, err := postgres.New(pool, cfg.Table)
	if err != nil {
		return nil, err
	}

	if err := b.EnsureTable(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func openSQLite(ctx context.Context, cfg *config.Config, h *Handle) (ledger.Backend, error) {
	db, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	h.closers = append(h.closers, db.Close)

	b, err := sqlite.New(db, cfg.Table)
	if err != nil {
		return nil, err
	}

	if err := b.EnsureTable(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func openEtcd(ctx context.Context, cfg *config.Config, h *Handle) (ledger.Backend, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: cfg.EtcdDialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating etcd client: %w", ledger.ErrStoreUnavailable, err)
	}

	h.closers = append(h.closers, client.Close)

	statusCtx, cancel := context.WithTimeout(ctx, cfg.EtcdDialTimeout)
	defer cancel()

	if _, err := client.Status(statusCtx, cfg.EtcdEndpoints[0]); err != nil {
		return nil, fmt.Errorf("%w: reaching etcd at %s: %w", ledger.ErrStoreUnavailable, cfg.EtcdEndpoints[0], err)
	}

	return ledgeretcd.New(client, cfg.EtcdPrefix), nil
}

func openRedis(ctx context.Context, cfg *config.Config, h *Handle) (ledger.Backend, error) {
	// Retries are disabled: a retried script could append a step twice.
	client := goredis.NewClient(&goredis.Options{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: -1,
	})

	h.closers = append(h.closers, client.Close)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: reaching redis at %s: %w", ledger.ErrStoreUnavailable, cfg.RedisAddr, err)
	}

	return ledgerredis.New(client, cfg.RedisPrefix), nil
}
