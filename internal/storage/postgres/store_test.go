package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/storage"
	"github.com/studyhub/internal/storage/postgres"
	"github.com/studyhub/internal/storage/storagetest"
)

// Требует TEST_DATABASE_URL (отдельная БД: таблицы очищаются перед каждым подтестом).
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	logger.Use(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE chat_messages, chats, study_groups, classes, universities CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestStoreContract(t *testing.T) {
	pool := setupPool(t)
	storagetest.Run(t, func(t *testing.T) storage.Store {
		truncate(t, pool)
		return postgres.New(pool)
	})
}

func TestMigrateIdempotent(t *testing.T) {
	pool := setupPool(t)
	if err := postgres.Migrate(context.Background(), pool); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
