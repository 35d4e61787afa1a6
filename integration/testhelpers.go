//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/aqasim81/migration-ledger/internal/database"
)

const (
	postgresImage = "postgres:16-alpine"
	etcdImage     = "quay.io/coreos/etcd:v3.5.17"
	redisImage    = "redis:7-alpine"
	testDB        = "ledger_test"
	testUser      = "ledger"
	testPassword  = "ledger"
)

var nameSeq atomic.Int64 //nolint:gochecknoglobals // unique names across parallel subtests

// uniqueName returns base with a process-unique suffix, for tables and key
// prefixes shared by parallel tests on one container.
func uniqueName(base string) string {
	return fmt.Sprintf("%s_%d", base, nameSeq.Add(1))
}

// startContainer starts req and terminates it when the test completes.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	return host + ":" + mapped.Port()
}

// SetupPostgresDSN starts a PostgreSQL 16 container and returns its DSN.
func SetupPostgresDSN(t *testing.T) string {
	t.Helper()

	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDB,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")

	return "postgres://" + testUser + ":" + testPassword + "@" + addr + "/" + testDB + "?sslmode=disable"
}

// SetupPostgres starts a PostgreSQL 16 container and returns a connection pool.
// The container and pool are automatically cleaned up when the test completes.
func SetupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool, err := database.NewPool(context.Background(), SetupPostgresDSN(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
	})

	return pool
}

// SetupEtcdEndpoint starts a single-member etcd and returns its client endpoint.
func SetupEtcdEndpoint(t *testing.T) string {
	t.Helper()

	return startContainer(t, testcontainers.ContainerRequest{
		Image:        etcdImage,
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--name", "ledger-test",
			"--data-dir", "/tmp/etcd-data",
			"--listen-client-urls", "http://0.0.0.0:2379",
			"--advertise-client-urls", "http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForListeningPort("2379/tcp").WithStartupTimeout(60 * time.Second),
	}, "2379/tcp")
}

// SetupEtcd starts etcd and returns a connected client.
func SetupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{SetupEtcdEndpoint(t)},
		DialTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = client.Status(ctx, client.Endpoints()[0])
	require.NoError(t, err)

	return client
}

// SetupRedisAddr starts Redis 7 and returns its address.
func SetupRedisAddr(t *testing.T) string {
	t.Helper()

	return startContainer(t, testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}, "6379/tcp")
}

// SetupRedis starts Redis and returns a client with retries disabled.
func SetupRedis(t *testing.T) *goredis.Client {
	t.Helper()

	client := goredis.NewClient(&goredis.Options{Addr: SetupRedisAddr(t), MaxRetries: -1})

	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	require.NoError(t, client.Ping(context.Background()).Err())

	return client
}
