package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemory_CapAndOrder(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Emit(ctx, Event{Type: TradeFailed, Attempt: fmt.Sprintf("a%d", i)})
	}

	evs := m.All()
	require.Len(t, evs, 3) // oldest dropped
	assert.Equal(t, "a2", evs[0].Attempt)
	assert.Equal(t, "a4", evs[2].Attempt)
}

func TestMemory_ByType(t *testing.T) {
	m := NewMemory(16)
	ctx := context.Background()

	m.Emit(ctx, Event{Type: TradeExecuted, Attempt: "a1"})
	m.Emit(ctx, Event{Type: TradeFailed, Attempt: "a2"})
	m.Emit(ctx, Event{Type: TradeExecuted, Attempt: "a3"})

	execs := m.ByType(TradeExecuted)
	require.Len(t, execs, 2)
	assert.Equal(t, "a1", execs[0].Attempt)
	assert.Equal(t, "a3", execs[1].Attempt)
	assert.Empty(t, m.ByType(Paused))
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a, b := NewMemory(8), NewMemory(8)
	f := Fanout{a, b, LogEmitter{Log: zap.NewNop()}}

	f.Emit(context.Background(), Event{Type: Paused})

	assert.Len(t, a.All(), 1)
	assert.Len(t, b.All(), 1)
}

func TestRedisEmitter(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	em := NewRedisEmitter(rdb, "arb:events", zap.NewNop())
	ctx := context.Background()

	em.Emit(ctx, Event{
		Type:      SuperProfitConverted,
		At:        time.Now(),
		Attempt:   "a1",
		Strategy:  "FLASHLOAN",
		AmountUSD: 6.0,
	})

	entries, err := rdb.XRange(ctx, "arb:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "superprofit_converted", entries[0].Values["type"])
	assert.Equal(t, "a1", entries[0].Values["attempt"])
	assert.Equal(t, "6", entries[0].Values["amount_usd"])
}

func TestRedisEmitter_FailureIsSilent(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	em := NewRedisEmitter(rdb, "arb:events", zap.NewNop())
	mr.Close() // sink gone before the emit

	// must not panic or block; events never drive control flow
	em.Emit(context.Background(), Event{Type: TradeFailed, Attempt: "a1"})
}
