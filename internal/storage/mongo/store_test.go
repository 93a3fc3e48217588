package mongo_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/storage"
	mongostore "github.com/studyhub/internal/storage/mongo"
	"github.com/studyhub/internal/storage/storagetest"
)

var dbSeq atomic.Int64

// Требует TEST_MONGO_URL; каждый подтест работает в отдельной базе, которая удаляется после него.
func TestStoreContract(t *testing.T) {
	url := os.Getenv("TEST_MONGO_URL")
	if url == "" {
		t.Skip("TEST_MONGO_URL not set")
	}
	logger.Use(zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	storagetest.Run(t, func(t *testing.T) storage.Store {
		name := fmt.Sprintf("studyhub_test_%d_%d", time.Now().UnixNano(), dbSeq.Add(1))
		db := client.Database(name)
		t.Cleanup(func() { _ = db.Drop(context.Background()) })
		s := mongostore.New(db)
		if err := s.EnsureIndexes(context.Background()); err != nil {
			t.Fatalf("EnsureIndexes: %v", err)
		}
		return s
	})
}
