package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/programme-lv/runner/api"
	"github.com/redis/go-redis/v9"
)

// Redis appends results to a stream.
type Redis struct {
	rdb    *redis.Client
	stream string
}

func NewRedis(rdb *redis.Client, stream string) *Redis {
	return &Redis{rdb: rdb, stream: stream}
}

func (r *Redis) Persist(ctx context.Context, res api.Result) error {
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: streamValues(res.TrimForMessage()),
		ID:     "*",
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add result to stream %s: %w", r.stream, err)
	}
	return nil
}

func streamValues(res api.Result) map[string]any {
	values := map[string]any{
		"submission_id":    res.ID,
		"output":           res.Output,
		"verdict":          res.Verdict,
		"status":           res.Status,
		"stderr":           res.Stderr,
		"exit_code":        strconv.Itoa(res.ExitCode),
		"wall_ms":          strconv.FormatInt(res.WallMillis, 10),
		"mem_kib":          strconv.FormatInt(res.MemoryKiBytes, 10),
		"output_truncated": strconv.FormatBool(res.OutputTruncated),
		"completed_at":     res.FinishedAt.Format(time.RFC3339),
	}
	if res.Message != nil {
		values["message"] = *res.Message
	}
	return values
}
