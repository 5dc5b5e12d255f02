package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Manager provides Redis-backed fixed-window rate limiting for API keys.
type Manager struct {
	redis *redis.Client
}

// NewManager connects to redisURL and verifies the connection.
func NewManager(redisURL string) (*Manager, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Manager{redis: client}, nil
}

// Client exposes the shared connection for other Redis-backed components.
func (m *Manager) Client() *redis.Client { return m.redis }

func (m *Manager) Close() error { return m.redis.Close() }

// CheckRate counts one request for key in the current minute window. It returns
// allowed=false with the seconds until the window resets once rpm is exceeded.
func (m *Manager) CheckRate(ctx context.Context, key, route string, rpm int) (allowed bool, resetSec int, err error) {
	now := time.Now().UTC()
	window := now.Unix() / 60
	rk := fmt.Sprintf("rl:%s:%s:%d", key, route, window)

	pipe := m.redis.TxPipeline()
	incr := pipe.Incr(ctx, rk)
	pipe.Expire(ctx, rk, time.Minute)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	if int(incr.Val()) > rpm {
		return false, 60 - int(now.Unix()%60), nil
	}
	return true, 0, nil
}
