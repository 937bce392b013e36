// Package ledger accumulates realized profit. The total only ever grows:
// failed attempts never touch it, and a settled attempt advances it exactly
// once, after repayment obligations are satisfied.
package ledger

import (
	"context"
	"fmt"
	"sync"

	imetrics "github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

// Sink receives settled trade records for durable storage. Sink failures are
// reported, not fatal: the in-memory total is the book of record for the
// running process.
type Sink interface {
	Append(ctx context.Context, rec types.Receipt, totalUSD float64) error
}

type Ledger struct {
	mu    sync.RWMutex
	total float64
	recs  []types.Receipt
	sinks []Sink
	log   *zap.Logger
}

func New(log *zap.Logger, sinks ...Sink) *Ledger {
	return &Ledger{sinks: sinks, log: log}
}

// Record books the realized profit of a settled attempt. Negative profit is
// refused: a losing sequence must have been rolled back, not booked.
func (l *Ledger) Record(ctx context.Context, rec types.Receipt) error {
	if rec.ProfitUSD < 0 {
		return fmt.Errorf("negative profit %f for attempt %s", rec.ProfitUSD, rec.Attempt)
	}

	l.mu.Lock()
	l.total += rec.ProfitUSD
	l.recs = append(l.recs, rec)
	total := l.total
	l.mu.Unlock()

	imetrics.LedgerTotalUSD.Set(total)

	for _, s := range l.sinks {
		if err := s.Append(ctx, rec, total); err != nil {
			l.log.Warn("ledger sink append failed",
				zap.String("attempt", rec.Attempt), zap.Error(err))
		}
	}
	return nil
}

func (l *Ledger) TotalUSD() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Recent returns up to n latest records, newest last.
func (l *Ledger) Recent(n int) []types.Receipt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.recs) {
		n = len(l.recs)
	}
	out := make([]types.Receipt, n)
	copy(out, l.recs[len(l.recs)-n:])
	return out
}
