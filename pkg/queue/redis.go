package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/timechange/internal/models"
)

const defaultResultKey = "timechange:results"

// RedisResults keeps results in a redis list so a worker process and the
// API process can share them.
type RedisResults struct {
	client *redis.Client
	key    string
	// block bounds each BLPOP so Wait notices ctx cancellation
	block time.Duration
}

func NewRedisResults(client *redis.Client, key string) *RedisResults {
	if key == "" {
		key = defaultResultKey
	}
	return &RedisResults{client: client, key: key, block: time.Second}
}

func (r *RedisResults) Publish(ctx context.Context, res models.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := r.client.RPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

func (r *RedisResults) Poll(ctx context.Context) (*models.Result, error) {
	data, err := r.client.LPop(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to poll result: %w", err)
	}
	return decodeResult(data)
}

func (r *RedisResults) Wait(ctx context.Context) (*models.Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals, err := r.client.BLPop(ctx, r.block, r.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to wait for result: %w", err)
		}
		// BLPOP replies with [key, value]
		return decodeResult([]byte(vals[1]))
	}
}

func (r *RedisResults) Close() error {
	return r.client.Close()
}

func decodeResult(data []byte) (*models.Result, error) {
	var res models.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &res, nil
}
