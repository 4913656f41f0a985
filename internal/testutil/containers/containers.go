// Package containers starts disposable backing services for integration
// tests. Every container is terminated when the test finishes. In -short
// mode the calling test is skipped instead.
package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres starts a Postgres server and returns a DSN accepting connections.
func Postgres(tb testing.TB) string {
	ctx := start(tb, "postgres")
	c, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("postgres"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	terminateOnCleanup(tb, "postgres", c, err)

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("postgres connection string: %v", err)
	}
	ready(tb, "postgres", 20*time.Second, func(ctx context.Context) error {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)
		return conn.Ping(ctx)
	})
	return dsn
}

// Mongo starts a MongoDB server and returns its connection URI.
func Mongo(tb testing.TB) string {
	ctx := start(tb, "mongodb")
	c, err := mongodb.Run(ctx, "mongo:7")
	terminateOnCleanup(tb, "mongodb", c, err)

	uri, err := c.ConnectionString(ctx)
	if err != nil {
		tb.Fatalf("mongodb connection string: %v", err)
	}
	return uri
}

// Redis starts a Redis server and returns a redis:// URL.
func Redis(tb testing.TB) string {
	ctx := start(tb, "redis")
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	terminateOnCleanup(tb, "redis", c, err)
	return "redis://" + endpoint(tb, c, "6379")
}

// Infinispan describes a running Infinispan server's RESP endpoint.
type Infinispan struct {
	Host     string // host:port
	Username string
	Password string
}

// StartInfinispan starts an Infinispan server and waits until its RESP
// connector answers PING.
func StartInfinispan(tb testing.TB) Infinispan {
	ispn := Infinispan{Username: "admin", Password: "password"}

	ctx := start(tb, "infinispan")
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/infinispan/server:15.2",
			ExposedPorts: []string{"11222/tcp"},
			Env:          map[string]string{"USER": ispn.Username, "PASS": ispn.Password},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("11222/tcp"),
				wait.ForLog("Started connector Resp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	terminateOnCleanup(tb, "infinispan", c, err)
	ispn.Host = endpoint(tb, c, "11222")

	// the RESP connector only speaks RESP2
	client := goredis.NewClient(&goredis.Options{
		Addr:     ispn.Host,
		Username: ispn.Username,
		Password: ispn.Password,
		Protocol: 2,
	})
	defer client.Close()
	ready(tb, "infinispan", 60*time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return ispn
}

func start(tb testing.TB, name string) context.Context {
	tb.Helper()
	if testing.Short() {
		tb.Skipf("skipping %s container in short mode", name)
	}
	return context.Background()
}

func terminateOnCleanup(tb testing.TB, name string, c testcontainers.Container, err error) {
	tb.Helper()
	if err != nil {
		tb.Fatalf("start %s container: %v", name, err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Terminate(ctx); err != nil {
			tb.Errorf("terminate %s container: %v", name, err)
		}
	})
}

func endpoint(tb testing.TB, c testcontainers.Container, port nat.Port) string {
	tb.Helper()
	ctx := context.Background()
	host, err := c.Host(ctx)
	if err != nil {
		tb.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		tb.Fatalf("container port %s: %v", port, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// ready polls check until it succeeds or timeout elapses.
func ready(tb testing.TB, name string, timeout time.Duration, check func(ctx context.Context) error) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := check(ctx)
		cancel()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("%s not ready after %s: %v", name, timeout, err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
