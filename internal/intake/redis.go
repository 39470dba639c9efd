package intake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/programme-lv/runner/api"
	"github.com/programme-lv/runner/internal/pool"
	"github.com/redis/go-redis/v9"
)

// ServeRedis pops JSON submission requests from the right end of list
// until ctx is done. When the pool is full the request is pushed back.
func (in *Intake) ServeRedis(ctx context.Context, rdb *redis.Client, list string) error {
	in.log.Info("popping submissions from redis", "list", list)
	for {
		result, err := rdb.BRPop(ctx, 5*time.Second, list).Result()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			in.log.Warn("failed to pop submission", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		// result is [list, value]
		data := result[1]
		if in.handleRedisMsg(ctx, data) {
			continue
		}
		if err := rdb.RPush(ctx, list, data).Err(); err != nil {
			in.log.Error("failed to push back submission", "error", err)
		}
		sleepCtx(ctx, 500*time.Millisecond)
	}
}

// handleRedisMsg reports whether the request was consumed.
func (in *Intake) handleRedisMsg(ctx context.Context, data string) bool {
	var req api.SubmitReq
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		in.log.Warn("failed to unmarshal submission", "error", err)
		return true
	}
	_, err := in.Accept(ctx, req)
	if errors.Is(err, pool.ErrQueueFull) {
		return false
	}
	if err != nil {
		in.log.Warn("rejected submission", "error", err)
	}
	return true
}
