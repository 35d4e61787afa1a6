package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-ledger/internal/config"
	"github.com/aqasim81/migration-ledger/internal/ledger"
)

func TestNew_returnsDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.New()

	assert.Equal(t, config.DefaultBackend, cfg.Backend)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, config.DefaultSQLitePath, cfg.SQLitePath)
	assert.Equal(t, config.DefaultTable, cfg.Table)
	assert.Equal(t, []string{config.DefaultEtcdEndpoint}, cfg.EtcdEndpoints)
	assert.Equal(t, config.DefaultEtcdDialTimeout, cfg.EtcdDialTimeout)
	assert.Equal(t, config.DefaultRedisAddr, cfg.RedisAddr)
	assert.Equal(t, config.DefaultStepPolicy, cfg.StepPolicy)
	assert.Equal(t, config.DefaultMigrationsDir, cfg.MigrationsDir)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultLogFormat, cfg.LogFormat)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		content      string
		allowMissing bool
		writeFile    bool
		wantErr      bool
		errContains  string
		check        func(t *testing.T, cfg *config.Config)
	}{
		{
			name:      "valid file parses all fields",
			writeFile: true,
			content: `backend: "etcd"
database_url: "postgres://localhost:5432/testdb"
max_conns: 8
sqlite_path: "/var/lib/ledger.db"
table: "ledger"
etcd_endpoints: ["etcd-1:2379", "etcd-2:2379"]
etcd_prefix: "/team/"
etcd_dial_timeout: "2s"
redis_addr: "cache:6379"
redis_password: "secret"
redis_db: 3
redis_prefix: "team:"
step_policy: "suppress-repeat"
migrations_dir: "./db/migrations"
log_level: "debug"
log_format: "json"
http_addr: "127.0.0.1:9000"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, config.BackendEtcd, cfg.Backend)
				assert.Equal(t, "postgres://localhost:5432/testdb", cfg.DatabaseURL)
				assert.Equal(t, int32(8), cfg.MaxConns)
				assert.Equal(t, "/var/lib/ledger.db", cfg.SQLitePath)
				assert.Equal(t, "ledger", cfg.Table)
				assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.EtcdEndpoints)
				assert.Equal(t, "/team/", cfg.EtcdPrefix)
				assert.Equal(t, 2*time.Second, cfg.EtcdDialTimeout)
				assert.Equal(t, "cache:6379", cfg.RedisAddr)
				assert.Equal(t, "secret", cfg.RedisPassword)
				assert.Equal(t, 3, cfg.RedisDB)
				assert.Equal(t, "team:", cfg.RedisPrefix)
				assert.Equal(t, string(ledger.StepPolicySuppressRepeat), cfg.StepPolicy)
				assert.Equal(t, "./db/migrations", cfg.MigrationsDir)
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "json", cfg.LogFormat)
				assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
			},
		},
		{
			name:      "partial file applies defaults",
			writeFile: true,
			content:   `database_url: "postgres://localhost/mydb"`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, "postgres://localhost/mydb", cfg.DatabaseURL)
				assert.Equal(t, config.DefaultBackend, cfg.Backend)
				assert.Equal(t, config.DefaultTable, cfg.Table)
				assert.Equal(t, config.DefaultEtcdDialTimeout, cfg.EtcdDialTimeout)
			},
		},
		{
			name:      "empty file returns defaults",
			writeFile: true,
			content:   "",
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, config.DefaultBackend, cfg.Backend)
				assert.Equal(t, config.DefaultMigrationsDir, cfg.MigrationsDir)
			},
		},
		{
			name:         "missing file with allowMissing returns defaults",
			allowMissing: true,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, config.DefaultBackend, cfg.Backend)
			},
		},
		{
			name:        "missing file without allowMissing returns error",
			wantErr:     true,
			errContains: "reading config file",
		},
		{
			name:        "invalid YAML returns error",
			writeFile:   true,
			content:     "{{{invalid yaml",
			wantErr:     true,
			errContains: "parsing config file",
		},
		{
			name:      "zero etcd_dial_timeout parses and is left to Validate",
			writeFile: true,
			content:   "backend: etcd\netcd_dial_timeout: 0s\n",
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Zero(t, cfg.EtcdDialTimeout)
				require.ErrorIs(t, cfg.Validate(), config.ErrInvalidDialTimeout)
			},
		},
		{
			name:        "invalid etcd_dial_timeout returns error",
			writeFile:   true,
			content:     `etcd_dial_timeout: "soon"`,
			wantErr:     true,
			errContains: "parsing etcd_dial_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			path := filepath.Join(dir, "ledger.yml")

			if tt.writeFile {
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			}

			cfg, err := config.Load(path, tt.allowMissing)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)

				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestMergeEnv_overridesFields(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "overrides backend and database URL",
			env: map[string]string{
				"LEDGER_BACKEND":      "postgres",
				"LEDGER_DATABASE_URL": "postgres://env-host/db",
			},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, config.BackendPostgres, cfg.Backend)
				assert.Equal(t, "postgres://env-host/db", cfg.DatabaseURL)
			},
		},
		{
			name: "splits etcd endpoints",
			env:  map[string]string{"LEDGER_ETCD_ENDPOINTS": "a:2379, b:2379,,"},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.EtcdEndpoints)
			},
		},
		{
			name: "overrides etcd dial timeout",
			env:  map[string]string{"LEDGER_ETCD_DIAL_TIMEOUT": "15s"},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, 15*time.Second, cfg.EtcdDialTimeout)
			},
		},
		{
			name: "overrides redis db",
			env:  map[string]string{"LEDGER_REDIS_DB": "7"},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, 7, cfg.RedisDB)
			},
		},
		{
			name: "overrides max conns",
			env:  map[string]string{"LEDGER_MAX_CONNS": "12"},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, int32(12), cfg.MaxConns)
			},
		},
		{
			name: "overrides step policy",
			env:  map[string]string{"LEDGER_STEP_POLICY": "suppress-repeat"},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, "suppress-repeat", cfg.StepPolicy)
			},
		},
		{
			name: "invalid values preserve original",
			env: map[string]string{
				"LEDGER_ETCD_DIAL_TIMEOUT": "not-valid",
				"LEDGER_REDIS_DB":          "two",
				"LEDGER_MAX_CONNS":         "many",
			},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, config.DefaultEtcdDialTimeout, cfg.EtcdDialTimeout)
				assert.Zero(t, cfg.RedisDB)
				assert.Zero(t, cfg.MaxConns)
			},
		},
		{
			name: "unset env vars preserve original",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, config.DefaultBackend, cfg.Backend)
				assert.Equal(t, config.DefaultMigrationsDir, cfg.MigrationsDir)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := config.New()
			config.MergeEnv(cfg)

			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr error
	}{
		{name: "defaults are valid", mutate: func(_ *config.Config) {}},
		{
			name:    "unknown backend",
			mutate:  func(cfg *config.Config) { cfg.Backend = "mongodb" },
			wantErr: config.ErrUnknownBackend,
		},
		{
			name:    "postgres without URL",
			mutate:  func(cfg *config.Config) { cfg.Backend = config.BackendPostgres },
			wantErr: config.ErrDatabaseURLRequired,
		},
		{
			name: "postgres with URL",
			mutate: func(cfg *config.Config) {
				cfg.Backend = config.BackendPostgres
				cfg.DatabaseURL = "postgres://localhost/db"
			},
		},
		{
			name: "etcd without endpoints",
			mutate: func(cfg *config.Config) {
				cfg.Backend = config.BackendEtcd
				cfg.EtcdEndpoints = nil
			},
			wantErr: config.ErrEtcdEndpointsRequired,
		},
		{
			name: "postgres with negative max conns",
			mutate: func(cfg *config.Config) {
				cfg.Backend = config.BackendPostgres
				cfg.DatabaseURL = "postgres://localhost/db"
				cfg.MaxConns = -1
			},
			wantErr: config.ErrInvalidMaxConns,
		},
		{
			name: "etcd with zero dial timeout",
			mutate: func(cfg *config.Config) {
				cfg.Backend = config.BackendEtcd
				cfg.EtcdDialTimeout = 0
			},
			wantErr: config.ErrInvalidDialTimeout,
		},
		{
			name: "etcd with negative dial timeout",
			mutate: func(cfg *config.Config) {
				cfg.Backend = config.BackendEtcd
				cfg.EtcdDialTimeout = -time.Second
			},
			wantErr: config.ErrInvalidDialTimeout,
		},
		{
			name: "zero dial timeout ignored for other backends",
			mutate: func(cfg *config.Config) {
				cfg.Backend = config.BackendSQLite
				cfg.EtcdDialTimeout = 0
			},
		},
		{
			name:    "unknown step policy",
			mutate:  func(cfg *config.Config) { cfg.StepPolicy = "exactly-once" },
			wantErr: ledger.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.New()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
		})
	}
}
