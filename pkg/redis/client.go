package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Client wraps the Redis client with logging
type Client struct {
	rdb    *redis.Client
	logger ectologger.Logger
}

// NewClient connects to Redis and verifies the connection with a ping
func NewClient(ctx context.Context, cfg Config, logger ectologger.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Infof("Connected to Redis at %s", addr)

	return NewClientFromRedis(rdb, logger), nil
}

// NewClientFromRedis wraps an existing connection
func NewClientFromRedis(rdb *redis.Client, logger ectologger.Logger) *Client {
	return &Client{
		rdb:    rdb,
		logger: logger,
	}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis returns the underlying client, used by the health checker
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
