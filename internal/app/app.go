package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/SirClappington/fscmd/internal/config"
	"github.com/SirClappington/fscmd/internal/consumer"
	"github.com/SirClappington/fscmd/internal/dispatch"
	"github.com/SirClappington/fscmd/internal/executor"
	"github.com/SirClappington/fscmd/internal/logging"
	"github.com/SirClappington/fscmd/internal/queue"
	"github.com/SirClappington/fscmd/internal/storage"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// App is the process-wide context built once in main and closed on exit.
type App struct {
	Config config.Config
	Log    *zap.Logger

	mu       sync.Mutex
	migrated bool
	shared   *storage.Store
	rdb      *r.Client
}

// Load reads the configuration and builds the logger.
func Load() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return New(cfg, log), nil
}

func New(cfg config.Config, log *zap.Logger) *App {
	return &App{Config: cfg, Log: log}
}

func (a *App) storeOptions(maxConns int32) storage.Options {
	return storage.Options{
		URL:       a.Config.PostgresDSN,
		Namespace: a.Config.StoreNamespace,
		Database:  a.Config.StoreDatabase,
		User:      a.Config.StoreUser,
		Password:  a.Config.StorePassword,
		Token:     a.Config.StoreToken,
		MaxConns:  maxConns,
	}
}

// Connect opens a new store. The first successful connect of the process
// also applies migrations when MIGRATE_ON_START is set.
func (a *App) Connect(ctx context.Context, maxConns int32) (*storage.Store, error) {
	s, err := storage.Connect(ctx, a.storeOptions(maxConns), a.Log.Named("storage"))
	if err != nil {
		return nil, err
	}
	if err := a.migrate(ctx, s); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (a *App) migrate(ctx context.Context, s *storage.Store) error {
	if !a.Config.MigrateOnStart {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.migrated {
		return nil
	}
	if err := s.Migrate(ctx, a.Config.MigrationsDir); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.migrated = true
	a.Log.Info("migrations applied", zap.String("dir", a.Config.MigrationsDir))
	return nil
}

// Connector opens a dedicated small pool per call; each consumer task owns
// and closes what it gets.
func (a *App) Connector() consumer.Connector {
	return func(ctx context.Context) (consumer.Store, error) {
		s, err := a.Connect(ctx, 2)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Store returns the shared store used by request handlers and sinks,
// connecting with retry on first use. It is closed by Close.
func (a *App) Store(ctx context.Context) (*storage.Store, error) {
	a.mu.Lock()
	s := a.shared
	a.mu.Unlock()
	if s != nil {
		return s, nil
	}

	s, err := consumer.ConnectWithRetry(ctx, func(ctx context.Context) (*storage.Store, error) {
		return a.Connect(ctx, 0)
	}, a.Config.ConnectBackoff, a.Log)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shared != nil {
		s.Close()
		return a.shared, nil
	}
	a.shared = s
	return s, nil
}

// Redis returns the shared Redis client, creating it on first use.
func (a *App) Redis() *r.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rdb == nil {
		a.rdb = r.NewClient(&r.Options{Addr: a.Config.RedisAddr, Password: a.Config.RedisPassword})
	}
	return a.rdb
}

func (a *App) Queue() *queue.RedisQ { return queue.New(a.Redis(), a.Config.RedisPrefix) }

func (a *App) Dispatcher() *dispatch.Dispatcher {
	return dispatch.New(executor.NewFsCli(a.Config.FsCli, a.Config.ExecTimeout), a.Log.Named("dispatch"))
}

func (a *App) Claimer() *consumer.Claimer {
	return consumer.NewClaimer(a.Config.ClaimMode, a.Log.Named("claim"))
}

func (a *App) Acker() *consumer.Acker {
	return consumer.NewAcker(a.Config.ResultMaxLen, a.Log.Named("ack"))
}

// Close releases the shared store and the Redis client.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.shared != nil {
		a.shared.Close()
		a.shared = nil
	}
	if a.rdb != nil {
		err = multierr.Append(err, a.rdb.Close())
		a.rdb = nil
	}
	return err
}
