package events

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisEmitter appends every event to a Redis stream so external consumers
// (dashboards, alerting) can tail executions without touching the engine.
type RedisEmitter struct {
	rdb    *redis.Client
	stream string
	log    *zap.Logger
}

func NewRedisEmitter(rdb *redis.Client, stream string, log *zap.Logger) *RedisEmitter {
	return &RedisEmitter{rdb: rdb, stream: stream, log: log}
}

func (r *RedisEmitter) Emit(ctx context.Context, ev Event) {
	err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"type":       string(ev.Type),
			"attempt":    ev.Attempt,
			"strategy":   ev.Strategy,
			"token":      ev.Token,
			"reason":     ev.Reason,
			"profit_usd": strconv.FormatFloat(ev.ProfitUSD, 'f', -1, 64),
			"amount_usd": strconv.FormatFloat(ev.AmountUSD, 'f', -1, 64),
			"ts_ms":      ev.At.UnixMilli(),
		},
	}).Err()
	if err != nil {
		r.log.Warn("events: redis XADD failed", zap.Error(err))
	}
}
