package testutils

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Siddarth2230/url-shortener/internal/repository"
)

// TestEnvironment is a migrated Postgres plus a Redis, both in containers.
type TestEnvironment struct {
	DB          *sql.DB
	SessionPool *pgxpool.Pool
	RedisClient *redis.Client
	PostgresDSN string
	RedisAddr   string
	Logger      *slog.Logger
	pgContainer tc.Container
	rdContainer tc.Container
}

// SetupTestEnvironment starts the containers, or skips the test unless
// INTEGRATION=1.
func SetupTestEnvironment(t testing.TB) *TestEnvironment {
	t.Helper()
	if os.Getenv("INTEGRATION") != "1" {
		t.Skip("set INTEGRATION=1 to run container-backed tests")
	}

	ctx := context.Background()
	env := &TestEnvironment{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	t.Cleanup(env.Cleanup)

	env.setupPostgres(ctx, t)
	env.setupRedis(ctx, t)
	return env
}

func (env *TestEnvironment) setupPostgres(ctx context.Context, t testing.TB) {
	t.Helper()

	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shortener"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	env.pgContainer = pg

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	m, err := repository.NewMigrator(dsn, env.Logger)
	if err != nil {
		t.Fatalf("create migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_ = m.Close()

	if env.DB, err = sql.Open("postgres", dsn); err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if env.SessionPool, err = repository.OpenSessionPool(ctx, dsn); err != nil {
		t.Fatalf("open session pool: %v", err)
	}
}

func (env *TestEnvironment) setupRedis(ctx context.Context, t testing.TB) {
	t.Helper()

	rd, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	env.rdContainer = rd

	endpoint, err := rd.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint
	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:        endpoint,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
}

// Reset empties every table and the Redis keyspace.
func (env *TestEnvironment) Reset(t testing.TB) {
	t.Helper()
	ctx := context.Background()
	if _, err := env.DB.ExecContext(ctx,
		`TRUNCATE links_by_alias, links_by_owner, link_clicks, reconcile_tasks, sessions`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := env.RedisClient.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
}

func (env *TestEnvironment) Cleanup() {
	ctx := context.Background()
	if env.RedisClient != nil {
		_ = env.RedisClient.Close()
	}
	if env.SessionPool != nil {
		env.SessionPool.Close()
	}
	if env.DB != nil {
		_ = env.DB.Close()
	}
	if env.rdContainer != nil {
		_ = env.rdContainer.Terminate(ctx)
	}
	if env.pgContainer != nil {
		_ = env.pgContainer.Terminate(ctx)
	}
}
