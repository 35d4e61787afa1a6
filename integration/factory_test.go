//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-ledger/internal/backendfactory"
	"github.com/aqasim81/migration-ledger/internal/config"
)

// TestBackendFactory_networkBackends opens each networked backend through
// configuration and drives one full migration lifecycle.
func TestBackendFactory_networkBackends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "postgres",
			setup: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				cfg.Backend = config.BackendPostgres
				cfg.DatabaseURL = SetupPostgresDSN(t)
				cfg.MaxConns = 2
			},
		},
		{
			name: "etcd",
			setup: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				cfg.Backend = config.BackendEtcd
				cfg.EtcdEndpoints = []string{SetupEtcdEndpoint(t)}
			},
		},
		{
			name: "redis",
			setup: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				cfg.Backend = config.BackendRedis
				cfg.RedisAddr = SetupRedisAddr(t)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			cfg := config.New()
			tt.setup(t, cfg)

			h, err := backendfactory.Open(ctx, cfg, nil)
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, h.Close()) })

			id, err := h.Ledger.Begin(ctx, "0001_init", "CREATE TABLE t (id INT);")
			require.NoError(t, err)
			require.NoError(t, h.Ledger.RecordSuccessfulStep(ctx, id, "created t\n"))
			require.NoError(t, h.Ledger.RecordFailedStep(ctx, id, "retrying\n"))
			require.NoError(t, h.Ledger.RecordSuccessfulStep(ctx, id, "done\n"))
			require.NoError(t, h.Ledger.RecordMigrationFinished(ctx, id))

			records, err := h.Ledger.List(ctx)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, uint32(2), records[0].AppliedStepsCount)
			assert.Equal(t, "created t\nretrying\ndone\n", records[0].Logs)
			assert.True(t, records[0].Finished())
			assert.True(t, records[0].ChecksumValid())
		})
	}
}
