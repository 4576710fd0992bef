package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// UserChannel is the pub/sub channel carrying trust and run updates for
// one user's devices.
func UserChannel(userID string) string {
	return fmt.Sprintf("user:%s:events", userID)
}

// PresenceKey is the hash holding per-viewer liveness observations for a run.
func PresenceKey(runID string) string {
	return fmt.Sprintf("presence:run:%s", runID)
}
