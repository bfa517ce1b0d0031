package testhelper

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/SirClappington/fscmd/internal/storage"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type TestPostgres struct {
	Store     *storage.Store
	DSN       string
	Container testcontainers.Container
}

// MigrationsDir is the absolute path of the repository's db/migrations.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "migrations")
}

func SetupTestPostgres(t *testing.T) *TestPostgres {
	ctx := context.Background()

	container, err := postgrescontainer.Run(ctx,
		"postgres:15",
		postgrescontainer.WithDatabase("testdb"),
		postgrescontainer.WithUsername("testuser"),
		postgrescontainer.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	store, err := storage.Connect(ctx, storage.Options{URL: dsn}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect store: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(ctx, MigrationsDir()); err != nil {
		t.Fatalf("could not run migrations: %v", err)
	}

	return &TestPostgres{Store: store, DSN: dsn, Container: container}
}
