package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flasharb/internal/types"
)

func TestRedisSink_Append(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSink(rdb, "arb:trades", "arb:ledger:total")
	ctx := context.Background()

	err = sink.Append(ctx, types.Receipt{
		Attempt:   "a1",
		Strategy:  types.StrategyFlashloan,
		TokenIn:   "WETH",
		TokenOut:  "USDC",
		ProfitUSD: 6.0,
		TxHash:    "0xdeadbeef",
		Super:     true,
		Ts:        time.Now(),
	}, 6.0)
	require.NoError(t, err)

	entries, err := rdb.XRange(ctx, "arb:trades", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].Values["attempt"])
	assert.Equal(t, "FLASHLOAN", entries[0].Values["strategy"])
	assert.Equal(t, "6", entries[0].Values["profit_usd"])
	assert.Equal(t, "true", entries[0].Values["super"])

	total, err := rdb.Get(ctx, "arb:ledger:total").Result()
	require.NoError(t, err)
	assert.Equal(t, "6", total)
}

func TestRedisSink_TotalTracksLatest(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSink(rdb, "arb:trades", "arb:ledger:total")
	ctx := context.Background()

	require.NoError(t, sink.Append(ctx, types.Receipt{Attempt: "a1", ProfitUSD: 1.5}, 1.5))
	require.NoError(t, sink.Append(ctx, types.Receipt{Attempt: "a2", ProfitUSD: 2.0}, 3.5))

	total, err := rdb.Get(ctx, "arb:ledger:total").Result()
	require.NoError(t, err)
	assert.Equal(t, "3.5", total)
}
