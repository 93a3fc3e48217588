package startup

import (
	"context"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/studyhub/internal/logger"
)

// ConnectMongoWithRetry подключается к MongoDB с повторами и проверяет соединение Ping.
func ConnectMongoWithRetry(uri string, maxWait time.Duration, logPrefix string) *mongo.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		client, err := connectMongo(uri)
		if err == nil {
			return client
		}
		if time.Now().After(deadline) {
			logger.Errorf("%smongo (gave up after %v): %v", logPrefix, maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("%smongo connect failed, retry in %v: %v", logPrefix, backoff, err)
		time.Sleep(backoff)
		backoff = nextBackoff(backoff)
	}
}

func connectMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
