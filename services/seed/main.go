package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyhub/internal/config"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/seed"
	"github.com/studyhub/internal/startup"
	"github.com/studyhub/internal/storage"
	mongostore "github.com/studyhub/internal/storage/mongo"
	"github.com/studyhub/internal/storage/postgres"
)

func main() {
	logger.SetPrefix("seed")
	path := flag.String("file", "data/universities.yaml", "YAML file with universities")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var store storage.Store
	switch cfg.StoreBackend {
	case config.StoreBackendMongo:
		client := startup.ConnectMongoWithRetry(cfg.Mongo.URL, 30*time.Second, "seed: ")
		defer client.Disconnect(context.Background())
		ms := mongostore.New(client.Database(cfg.Mongo.Database))
		if err := ms.EnsureIndexes(ctx); err != nil {
			logger.Errorf("mongo indexes: %v", err)
			os.Exit(1)
		}
		store = ms
	case config.StoreBackendMemory:
		logger.Error("seed: store_backend=memory не имеет смысла для отдельного процесса (api сам подгружает файл)")
		os.Exit(1)
	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		pool := startup.ConnectDBWithRetry(poolCfg, 30*time.Second, "seed: ")
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Errorf("migrate: %v", err)
			os.Exit(1)
		}
		store = postgres.New(pool)
	}

	res, err := seed.ApplyFile(ctx, store, *path, time.Now().UTC())
	if err != nil {
		logger.Errorf("seed: %v", err)
		os.Exit(1)
	}
	logger.Infof("seed: готово, добавлено %d, пропущено %d", res.Created, res.Skipped)
}
