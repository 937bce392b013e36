// Package pricefeed folds one or more external price sources into a single
// validated read. A price is usable only if it is positive and fresh; anything
// else is an oracle failure that aborts the current attempt, never a guess.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	imetrics "github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

type Price struct {
	Value float64 // USD per whole token
	Ts    time.Time
}

// Source is one oracle backend. Latest returns the most recent observation
// for the token, with its own timestamp; validation happens in the Feed.
type Source interface {
	Latest(ctx context.Context, token common.Address) (Price, error)
}

type Feed struct {
	sources []Source
	maxAge  time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func New(sources []Source, maxAge time.Duration, log *zap.Logger) *Feed {
	return &Feed{sources: sources, maxAge: maxAge, log: log, now: time.Now}
}

// PriceUSD walks the sources in registration order and returns the first
// valid reading. A reading is rejected when non-positive or older than the
// staleness window. All sources exhausted means the read is invalid.
func (f *Feed) PriceUSD(ctx context.Context, token common.Address) (float64, error) {
	var lastErr error
	for _, s := range f.sources {
		p, err := s.Latest(ctx, token)
		if err != nil {
			lastErr = err
			continue
		}
		if p.Value <= 0 {
			lastErr = fmt.Errorf("%w: non-positive price %f for %s", types.ErrOracleInvalid, p.Value, token.Hex())
			continue
		}
		if f.maxAge > 0 && f.now().Sub(p.Ts) > f.maxAge {
			lastErr = fmt.Errorf("%w: price for %s is %s old", types.ErrOracleInvalid, token.Hex(), f.now().Sub(p.Ts))
			continue
		}
		return p.Value, nil
	}
	imetrics.OracleErrors.Inc()
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no sources configured", types.ErrOracleInvalid)
	}
	f.log.Debug("pricefeed: all sources failed", zap.String("token", token.Hex()), zap.Error(lastErr))
	if !errors.Is(lastErr, types.ErrOracleInvalid) {
		lastErr = fmt.Errorf("%w: %v", types.ErrOracleInvalid, lastErr)
	}
	return 0, lastErr
}
