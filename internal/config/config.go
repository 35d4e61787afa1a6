package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aqasim81/migration-ledger/internal/database"
	"github.com/aqasim81/migration-ledger/internal/ledger"
)

// Supported ledger backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendEtcd     = "etcd"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Default values for configuration fields.
const (
	DefaultBackend         = BackendSQLite
	DefaultSQLitePath      = "./migration_ledger.db"
	DefaultTable           = database.DefaultLedgerTable
	DefaultEtcdEndpoint    = "localhost:2379"
	DefaultEtcdPrefix      = "/migration-ledger/"
	DefaultEtcdDialTimeout = 5 * time.Second
	DefaultRedisAddr       = "localhost:6379"
	DefaultRedisPrefix     = "migration_ledger:"
	DefaultStepPolicy      = string(ledger.StepPolicyAppend)
	DefaultMigrationsDir   = "./migrations"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultHTTPAddr        = ":8080"
)

// ErrUnknownBackend indicates the configured backend is not supported.
var ErrUnknownBackend = errors.New("unknown ledger backend")

// ErrDatabaseURLRequired is returned when the postgres backend has no URL.
var ErrDatabaseURLRequired = errors.New(
	"database URL is required for the postgres backend " +
		"(set --database-url, LEDGER_DATABASE_URL, or database_url in config)",
)

// ErrEtcdEndpointsRequired is returned when the etcd backend has no endpoints.
var ErrEtcdEndpointsRequired = errors.New("at least one etcd endpoint is required for the etcd backend")

// ErrInvalidDialTimeout is returned when the etcd dial timeout is not positive.
var ErrInvalidDialTimeout = errors.New("etcd dial timeout must be positive")

// ErrInvalidMaxConns is returned when the postgres pool size is negative.
var ErrInvalidMaxConns = errors.New("max_conns must not be negative")

// Config holds the application configuration loaded from file, environment, and flags.
type Config struct {
	Backend         string
	DatabaseURL     string
	MaxConns        int32
	SQLitePath      string
	Table           string
	EtcdEndpoints   []string
	EtcdPrefix      string
	EtcdDialTimeout time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	StepPolicy      string
	MigrationsDir   string
	LogLevel        string
	LogFormat       string
	HTTPAddr        string
}

// yamlConfig is the raw YAML file representation with string durations.
type yamlConfig struct {
	Backend         string   `yaml:"backend"`
	DatabaseURL     string   `yaml:"database_url"`
	MaxConns        int32    `yaml:"max_conns"`
	SQLitePath      string   `yaml:"sqlite_path"`
	Table           string   `yaml:"table"`
	EtcdEndpoints   []string `yaml:"etcd_endpoints"`
	EtcdPrefix      string   `yaml:"etcd_prefix"`
	EtcdDialTimeout string   `yaml:"etcd_dial_timeout"`
	RedisAddr       string   `yaml:"redis_addr"`
	RedisPassword   string   `yaml:"redis_password"`
	RedisDB         int      `yaml:"redis_db"`
	RedisPrefix     string   `yaml:"redis_prefix"`
	StepPolicy      string   `yaml:"step_policy"`
	MigrationsDir   string   `yaml:"migrations_dir"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	HTTPAddr        string   `yaml:"http_addr"`
}

// New returns a Config populated with default values.
func New() *Config {
	return &Config{
		Backend:         DefaultBackend,
		SQLitePath:      DefaultSQLitePath,
		Table:           DefaultTable,
		EtcdEndpoints:   []string{DefaultEtcdEndpoint},
		EtcdPrefix:      DefaultEtcdPrefix,
		EtcdDialTimeout: DefaultEtcdDialTimeout,
		RedisAddr:       DefaultRedisAddr,
		RedisPrefix:     DefaultRedisPrefix,
		StepPolicy:      DefaultStepPolicy,
		MigrationsDir:   DefaultMigrationsDir,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		HTTPAddr:        DefaultHTTPAddr,
	}
}

// Load reads a YAML configuration file and returns a Config.
// If allowMissing is true and the file does not exist, defaults are returned.
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return New(), nil
		}

		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return fromYAML(&raw)
}

// fromYAML converts the raw YAML representation to a Config with defaults applied.
func fromYAML(raw *yamlConfig) (*Config, error) {
	cfg := New()

	setString(&cfg.Backend, raw.Backend)
	setString(&cfg.DatabaseURL, raw.DatabaseURL)
	setString(&cfg.SQLitePath, raw.SQLitePath)
	setString(&cfg.Table, raw.Table)
	setString(&cfg.EtcdPrefix, raw.EtcdPrefix)
	setString(&cfg.RedisAddr, raw.RedisAddr)
	setString(&cfg.RedisPassword, raw.RedisPassword)
	setString(&cfg.RedisPrefix, raw.RedisPrefix)
	setString(&cfg.StepPolicy, raw.StepPolicy)
	setString(&cfg.MigrationsDir, raw.MigrationsDir)
	setString(&cfg.LogLevel, raw.LogLevel)
	setString(&cfg.LogFormat, raw.LogFormat)
	setString(&cfg.HTTPAddr, raw.HTTPAddr)

	if len(raw.EtcdEndpoints) > 0 {
		cfg.EtcdEndpoints = raw.EtcdEndpoints
	}

	if raw.EtcdDialTimeout != "" {
		d, err := time.ParseDuration(raw.EtcdDialTimeout)
		if err != nil {
			return nil, fmt.Errorf("parsing etcd_dial_timeout %q: %w", raw.EtcdDialTimeout, err)
		}

		cfg.EtcdDialTimeout = d
	}

	if raw.RedisDB != 0 {
		cfg.RedisDB = raw.RedisDB
	}

	if raw.MaxConns != 0 {
		cfg.MaxConns = raw.MaxConns
	}

	return cfg, nil
}

// MergeEnv overrides config fields from LEDGER_* environment variables.
func MergeEnv(cfg *Config) {
	setString(&cfg.Backend, os.Getenv("LEDGER_BACKEND"))
	setString(&cfg.DatabaseURL, os.Getenv("LEDGER_DATABASE_URL"))
	setString(&cfg.SQLitePath, os.Getenv("LEDGER_SQLITE_PATH"))
	setString(&cfg.Table, os.Getenv("LEDGER_TABLE"))
	setString(&cfg.EtcdPrefix, os.Getenv("LEDGER_ETCD_PREFIX"))
	setString(&cfg.RedisAddr, os.Getenv("LEDGER_REDIS_ADDR"))
	setString(&cfg.RedisPassword, os.Getenv("LEDGER_REDIS_PASSWORD"))
	setString(&cfg.RedisPrefix, os.Getenv("LEDGER_REDIS_PREFIX"))
	setString(&cfg.StepPolicy, os.Getenv("LEDGER_STEP_POLICY"))
	setString(&cfg.MigrationsDir, os.Getenv("LEDGER_MIGRATIONS_DIR"))
	setString(&cfg.LogLevel, os.Getenv("LEDGER_LOG_LEVEL"))
	setString(&cfg.LogFormat, os.Getenv("LEDGER_LOG_FORMAT"))
	setString(&cfg.HTTPAddr, os.Getenv("LEDGER_HTTP_ADDR"))

	if v := os.Getenv("LEDGER_ETCD_ENDPOINTS"); v != "" {
		cfg.EtcdEndpoints = splitList(v)
	}

	if v := os.Getenv("LEDGER_ETCD_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.EtcdDialTimeout = d
		}
	}

	if v := os.Getenv("LEDGER_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}

	if v := os.Getenv("LEDGER_MAX_CONNS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
}

// Validate checks the fields that select behavior at startup.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return ErrDatabaseURLRequired
		}

		if c.MaxConns < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidMaxConns, c.MaxConns)
		}
	case BackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return ErrEtcdEndpointsRequired
		}

		if c.EtcdDialTimeout <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDialTimeout, c.EtcdDialTimeout)
		}
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}

	if _, err := ledger.ParseStepPolicy(c.StepPolicy); err != nil {
		return err
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
