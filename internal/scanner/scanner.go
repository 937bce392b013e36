// Package scanner enumerates the monitored pair space and picks the first
// admissible opportunity. First match, not best match: the scan stops at the
// first pair clearing the profit threshold, trading optimality for a bounded
// cost per attempt. Which pair wins therefore depends on monitored-set
// insertion order, outer loop then inner loop over the same ordered list.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/dex/core"
	imetrics "github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/risk"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

type Gate interface {
	Monitored() []types.TokenRef
	IsEligible(addr common.Address) bool
	Thresholds() risk.Thresholds
}

type Prices interface {
	PriceUSD(ctx context.Context, token common.Address) (float64, error)
}

type Scanner struct {
	gate   Gate
	prices Prices
	quoter core.Quoter
	log    *zap.Logger
}

func New(gate Gate, prices Prices, quoter core.Quoter, log *zap.Logger) *Scanner {
	return &Scanner{gate: gate, prices: prices, quoter: quoter, log: log}
}

// FindOpportunity returns the first pair whose expected profit for trading
// amountUSD clears the profit threshold, or (nil, nil) when the pair space is
// exhausted — no opportunity is a normal negative result, not an error. An
// oracle or venue failure skips that pair; the scan only errors when no pair
// could be evaluated at all.
func (s *Scanner) FindOpportunity(ctx context.Context, amountUSD float64) (*types.Opportunity, error) {
	return s.find(ctx, amountUSD, common.Address{})
}

// FindOpportunityFrom restricts the outer loop to a single funding token.
// The flash-loan path uses it: borrowed funds arrive in the base asset, so
// only opportunities spending that asset are executable.
func (s *Scanner) FindOpportunityFrom(ctx context.Context, amountUSD float64, from common.Address) (*types.Opportunity, error) {
	return s.find(ctx, amountUSD, from)
}

func (s *Scanner) find(ctx context.Context, amountUSD float64, from common.Address) (*types.Opportunity, error) {
	start := time.Now()
	defer func() { imetrics.ScanLatency.Observe(time.Since(start).Seconds()) }()

	if amountUSD <= 0 {
		return nil, fmt.Errorf("%w: non-positive trade amount", types.ErrRiskRejected)
	}

	th := s.gate.Thresholds()
	set := s.gate.Monitored()

	evaluated := 0
	var lastErr error

	for _, tokenIn := range set {
		if from != (common.Address{}) && tokenIn.Addr != from {
			continue
		}
		if !s.gate.IsEligible(tokenIn.Addr) {
			continue
		}
		pxIn, err := s.prices.PriceUSD(ctx, tokenIn.Addr)
		if err != nil {
			lastErr = err
			continue
		}

		for _, tokenOut := range set {
			if tokenOut.Addr == tokenIn.Addr {
				continue
			}
			if !s.gate.IsEligible(tokenOut.Addr) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			pxOut, err := s.prices.PriceUSD(ctx, tokenOut.Addr)
			if err != nil {
				lastErr = err
				continue
			}

			outUSD, gasUSD, meta, err := s.quoter.QuoteOutUSD(ctx, tokenIn.Addr, tokenOut.Addr, amountUSD, pxIn, pxOut)
			if err != nil {
				lastErr = fmt.Errorf("%w: quote %s->%s: %v", types.ErrCollaborator, tokenIn.Symbol, tokenOut.Symbol, err)
				continue
			}
			evaluated++

			if th.LiquidityThresholdUSD > 0 && meta.LiquidityUSD < th.LiquidityThresholdUSD {
				s.log.Debug("scanner: pool below liquidity floor",
					zap.String("in", tokenIn.Symbol), zap.String("out", tokenOut.Symbol),
					zap.Float64("liquidity_usd", meta.LiquidityUSD))
				continue
			}

			profit := outUSD - amountUSD - gasUSD
			if profit <= th.ProfitThresholdUSD {
				continue
			}

			s.log.Info("scanner: opportunity found",
				zap.String("in", tokenIn.Symbol), zap.String("out", tokenOut.Symbol),
				zap.Float64("amount_usd", amountUSD),
				zap.Float64("quoted_out_usd", outUSD),
				zap.Float64("gas_usd", gasUSD),
				zap.Float64("expected_profit_usd", profit),
				zap.Uint32("fee_tier", meta.FeeTier))

			return &types.Opportunity{
				TokenIn:           tokenIn,
				TokenOut:          tokenOut,
				AmountUSD:         amountUSD,
				QuotedOutUSD:      outUSD,
				GasUSD:            gasUSD,
				ExpectedProfitUSD: profit,
				FeeTier:           meta.FeeTier,
				Ts:                time.Now(),
			}, nil
		}
	}

	if evaluated == 0 && lastErr != nil {
		if errors.Is(lastErr, types.ErrOracleInvalid) || errors.Is(lastErr, types.ErrCollaborator) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %v", types.ErrCollaborator, lastErr)
	}
	return nil, nil
}
