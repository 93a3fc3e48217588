package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/studyhub/internal/config"
	"github.com/studyhub/internal/handler"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/startup"
	"github.com/studyhub/internal/storage"
	"github.com/studyhub/internal/storage/memory"
	mongostore "github.com/studyhub/internal/storage/mongo"
	"github.com/studyhub/internal/storage/postgres"
)

// openedStore: выбранный бэкенд хранилища, его проверки для /health и закрытие.
type openedStore struct {
	store  storage.Store
	checks map[string]handler.Pinger
	close  func()
}

func openStore(cfg *config.Config) (*openedStore, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Info("store: in-memory (данные не переживут перезапуск)")
		return &openedStore{store: memory.New(), checks: map[string]handler.Pinger{}, close: func() {}}, nil

	case config.StoreBackendMongo:
		client := startup.ConnectMongoWithRetry(cfg.Mongo.URL, 60*time.Second, "")
		st := mongostore.New(client.Database(cfg.Mongo.Database))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		logger.Infof("store: mongo, database %s", cfg.Mongo.Database)
		return &openedStore{
			store: st,
			checks: map[string]handler.Pinger{
				"mongo": handler.PingFunc(func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }),
			},
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := client.Disconnect(ctx); err != nil {
					logger.Errorf("mongo disconnect: %v", err)
				}
			},
		}, nil

	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 4

		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database connected, migrations applied")
		return &openedStore{
			store:  postgres.New(pool),
			checks: map[string]handler.Pinger{"postgres": pool},
			close:  pool.Close,
		}, nil
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "studyhub"
		password = "studyhub_secret"
		database = "studyhub"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	// -dev всегда работает на встроенном Postgres.
	cfg.StoreBackend = config.StoreBackendPostgres
	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
