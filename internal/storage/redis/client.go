package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client: подключение к Redis, используемое шиной событий между экземплярами API.
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping используется проверкой /health.
func (c *Client) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx).Err()
}
