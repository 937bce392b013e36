package ledger

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/you/flasharb/internal/types"
)

// RedisSink mirrors settled trades into a Redis stream and keeps the running
// total under a plain key so dashboards can read it without the API.
type RedisSink struct {
	rdb      *redis.Client
	stream   string
	totalKey string
}

func NewRedisSink(rdb *redis.Client, stream, totalKey string) *RedisSink {
	return &RedisSink{rdb: rdb, stream: stream, totalKey: totalKey}
}

func (s *RedisSink) Append(ctx context.Context, rec types.Receipt, totalUSD float64) error {
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"attempt":    rec.Attempt,
			"strategy":   string(rec.Strategy),
			"token_in":   rec.TokenIn,
			"token_out":  rec.TokenOut,
			"profit_usd": strconv.FormatFloat(rec.ProfitUSD, 'f', -1, 64),
			"tx":         rec.TxHash,
			"super":      strconv.FormatBool(rec.Super),
			"ts_ms":      rec.Ts.UnixMilli(),
		},
	}).Err(); err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.totalKey, strconv.FormatFloat(totalUSD, 'f', -1, 64), 0).Err()
}
