// Package events carries the observability notifications the executor emits.
// Events never drive control flow; a sink that fails is logged and skipped.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	TradeExecuted        Type = "trade_executed"
	TradeFailed          Type = "trade_failed"
	SuperProfitConverted Type = "superprofit_converted"
	Paused               Type = "paused"
	Unpaused             Type = "unpaused"
	TokenApproved        Type = "token_approved"
	TokenBlacklisted     Type = "token_blacklisted"
)

type Event struct {
	Type      Type
	At        time.Time
	Attempt   string
	Strategy  string
	Token     string
	Reason    string
	ProfitUSD float64
	AmountUSD float64
}

type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Fanout delivers each event to every sink in order.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, ev Event) {
	for _, e := range f {
		e.Emit(ctx, ev)
	}
}

type LogEmitter struct{ Log *zap.Logger }

func (l LogEmitter) Emit(_ context.Context, ev Event) {
	l.Log.Info("event",
		zap.String("type", string(ev.Type)),
		zap.String("attempt", ev.Attempt),
		zap.String("strategy", ev.Strategy),
		zap.String("token", ev.Token),
		zap.String("reason", ev.Reason),
		zap.Float64("profit_usd", ev.ProfitUSD),
		zap.Float64("amount_usd", ev.AmountUSD),
		zap.Time("at", ev.At),
	)
}

// Memory keeps emitted events in order; used by tests and the HTTP status page.
type Memory struct {
	mu  sync.Mutex
	evs []Event
	cap int
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{cap: capacity}
}

func (m *Memory) Emit(_ context.Context, ev Event) {
	m.mu.Lock()
	m.evs = append(m.evs, ev)
	if len(m.evs) > m.cap {
		m.evs = m.evs[len(m.evs)-m.cap:]
	}
	m.mu.Unlock()
}

func (m *Memory) All() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.evs))
	copy(out, m.evs)
	return out
}

// ByType returns the emitted events of one type, oldest first.
func (m *Memory) ByType(t Type) []Event {
	var out []Event
	for _, ev := range m.All() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
