// Package cache memoizes analysis results in front of the document store.
// The room document stays authoritative; the memo only saves a store read
// (and a participant check) on repeated analyze calls.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-fluency-battle/internal/domain"
)

// DefaultTTL bounds how long a memoized result lives.
const DefaultTTL = 24 * time.Hour

// Results is the memo consumed by the analysis flow.
type Results interface {
	// Get returns the memoized result, or nil on a miss.
	Get(ctx context.Context, roomID string) (*domain.AnalysisResult, error)
	// Put memoizes a result already committed to the store.
	Put(ctx context.Context, roomID string, res *domain.AnalysisResult) error
}

// Noop never hits.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.AnalysisResult, error) { return nil, nil }
func (Noop) Put(context.Context, string, *domain.AnalysisResult) error  { return nil }

type redisResults struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResults creates a Redis-backed memo.
func NewRedisResults(client *redis.Client, ttl time.Duration) Results {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisResults{client: client, ttl: ttl}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (c *redisResults) key(roomID string) string {
	return fmt.Sprintf("results:%s", roomID)
}

func (c *redisResults) Get(ctx context.Context, roomID string) (*domain.AnalysisResult, error) {
	data, err := c.client.Get(ctx, c.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res domain.AnalysisResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Put uses SET NX: the first memoized value for a room is never replaced.
func (c *redisResults) Put(ctx context.Context, roomID string, res *domain.AnalysisResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, c.key(roomID), data, c.ttl).Err()
}
