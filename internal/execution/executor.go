// Package execution performs the value-moving trade sequence for a chosen
// opportunity: the direct swap path and the borrow-swap-repay flash-loan path
// with its callback. Nothing here retries; a failed sequence reports and
// leaves ledger and balances untouched.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/dex/core"
	"github.com/you/flasharb/internal/events"
	"github.com/you/flasharb/internal/ledger"
	"github.com/you/flasharb/internal/lending"
	"github.com/you/flasharb/internal/risk"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

type Gate interface {
	IsEligible(addr common.Address) bool
	Thresholds() risk.Thresholds
}

type Prices interface {
	PriceUSD(ctx context.Context, token common.Address) (float64, error)
}

type Executor struct {
	gate     Gate
	prices   Prices
	router   core.Router
	lender   lending.Provider
	ledger   *ledger.Ledger
	emit     events.Emitter
	log      *zap.Logger
	self     common.Address // initiator identity inside the callback
	base     types.TokenRef // flash-loan funding asset
	stable   types.TokenRef // superprofit settlement asset
	slipBps  int
	decimals func(common.Address) uint8

	// outcome handed from the callback back to ExecuteFlashloan; safe because
	// the engine serializes attempts
	pending *flashOutcome
}

type flashOutcome struct {
	profitUSD float64
	txHash    string
}

// loanParams rides inside FlashLoanRequest.Params so the callback knows what
// trade the borrowed funds are for.
type loanParams struct {
	Attempt   string         `json:"attempt"`
	TokenOut  common.Address `json:"token_out"`
	FeeTier   uint32         `json:"fee_tier"`
	AmountUSD float64        `json:"amount_usd"`
}

func NewExecutor(
	gate Gate,
	prices Prices,
	router core.Router,
	lender lending.Provider,
	led *ledger.Ledger,
	emit events.Emitter,
	self common.Address,
	base, stable types.TokenRef,
	slippageBps int,
	decimals func(common.Address) uint8,
	log *zap.Logger,
) *Executor {
	if decimals == nil {
		decimals = func(common.Address) uint8 { return 18 }
	}
	return &Executor{
		gate:     gate,
		prices:   prices,
		router:   router,
		lender:   lender,
		ledger:   led,
		emit:     emit,
		log:      log,
		self:     self,
		base:     base,
		stable:   stable,
		slipBps:  slippageBps,
		decimals: decimals,
	}
}

// BaseAddr is the flash-loan funding asset.
func (e *Executor) BaseAddr() common.Address { return e.base.Addr }

// ExecuteDirect swaps opp.AmountUSD of TokenIn into TokenOut with a hard
// minimum output derived from the quote, the slippage bound and the profit
// threshold. Ledger and events fire only after the swap settled.
func (e *Executor) ExecuteDirect(ctx context.Context, attempt string, opp *types.Opportunity) (types.Receipt, error) {
	// eligibility is re-checked at execution time; scan-time checks are stale
	if !e.gate.IsEligible(opp.TokenIn.Addr) || !e.gate.IsEligible(opp.TokenOut.Addr) {
		return types.Receipt{}, fmt.Errorf("%w: token no longer eligible", types.ErrRiskRejected)
	}

	pxIn, err := e.prices.PriceUSD(ctx, opp.TokenIn.Addr)
	if err != nil {
		return types.Receipt{}, err
	}
	pxOut, err := e.prices.PriceUSD(ctx, opp.TokenOut.Addr)
	if err != nil {
		return types.Receipt{}, err
	}

	decIn := e.decimals(opp.TokenIn.Addr)
	decOut := e.decimals(opp.TokenOut.Addr)

	amountIn := usdToUnits(opp.AmountUSD, pxIn, decIn)
	minOutUSD := e.minProceedsUSD(opp)
	minOut := usdToUnits(minOutUSD, pxOut, decOut)
	if amountIn.Sign() <= 0 || minOut.Sign() <= 0 {
		return types.Receipt{}, fmt.Errorf("%w: degenerate trade size", types.ErrRiskRejected)
	}

	out, txHash, err := e.router.SwapExactInput(ctx, opp.TokenIn.Addr, opp.TokenOut.Addr, amountIn, minOut, opp.FeeTier)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("%w: swap: %v", types.ErrCollaborator, err)
	}

	proceedsUSD := unitsToUSD(out, pxOut, decOut)
	profit := proceedsUSD - opp.AmountUSD - opp.GasUSD
	if profit < 0 {
		// minOut should make this unreachable; refuse to book a loss
		return types.Receipt{}, fmt.Errorf("%w: proceeds %f below cost", types.ErrCollaborator, proceedsUSD)
	}

	rec := types.Receipt{
		Attempt:   attempt,
		Strategy:  types.StrategyDirect,
		TokenIn:   opp.TokenIn.Symbol,
		TokenOut:  opp.TokenOut.Symbol,
		ProfitUSD: profit,
		TxHash:    txHash,
		Ts:        time.Now(),
	}
	return e.settle(ctx, rec, opp.TokenOut)
}

// ExecuteFlashloan funds the trade with a flash loan of the base asset sized
// to the opportunity, runs the borrowed-funds path via OnLoanReceived, and
// books profit only after the provider confirmed full repayment.
func (e *Executor) ExecuteFlashloan(ctx context.Context, attempt string, opp *types.Opportunity) (types.Receipt, error) {
	if opp.TokenIn.Addr != e.base.Addr {
		return types.Receipt{}, fmt.Errorf("%w: flash loans fund trades from the base asset %s", types.ErrRiskRejected, e.base.Symbol)
	}

	pxBase, err := e.prices.PriceUSD(ctx, e.base.Addr)
	if err != nil {
		return types.Receipt{}, err
	}
	principal := usdToUnits(opp.AmountUSD, pxBase, e.decimals(e.base.Addr))
	if principal.Sign() <= 0 {
		return types.Receipt{}, fmt.Errorf("%w: degenerate principal", types.ErrRiskRejected)
	}

	params, err := json.Marshal(loanParams{
		Attempt:   attempt,
		TokenOut:  opp.TokenOut.Addr,
		FeeTier:   opp.FeeTier,
		AmountUSD: opp.AmountUSD,
	})
	if err != nil {
		return types.Receipt{}, fmt.Errorf("marshal loan params: %w", err)
	}

	req := types.FlashLoanRequest{
		Assets:  []common.Address{e.base.Addr},
		Amounts: []*big.Int{principal},
		Modes:   []uint8{0},
		Params:  params,
	}

	e.pending = nil
	if err := e.lender.FlashLoan(ctx, req, e, e.self); err != nil {
		return types.Receipt{}, err
	}

	rec := types.Receipt{
		Attempt:  attempt,
		Strategy: types.StrategyFlashloan,
		TokenIn:  e.base.Symbol,
		TokenOut: opp.TokenOut.Symbol,
		Ts:       time.Now(),
	}
	if e.pending != nil {
		rec.ProfitUSD = e.pending.profitUSD
		rec.TxHash = e.pending.txHash
	}
	return e.settle(ctx, rec, e.base)
}

// OnLoanReceived is the single entry point the lending provider invokes while
// the borrowed funds are held. It must leave principal + fee available for
// every borrowed asset before returning nil, or fail the whole sequence.
func (e *Executor) OnLoanReceived(ctx context.Context, caller common.Address, assets []common.Address, amounts, fees []*big.Int, initiator common.Address, params []byte) error {
	if caller != e.lender.Addr() {
		return fmt.Errorf("%w: callback caller %s is not the lending pool", types.ErrUnauthorized, caller.Hex())
	}
	if initiator != e.self {
		return fmt.Errorf("%w: loan initiated by %s, not this executor", types.ErrUnauthorized, initiator.Hex())
	}
	if len(assets) != 1 || len(amounts) != 1 || len(fees) != 1 {
		return fmt.Errorf("%w: unexpected loan shape (%d assets)", types.ErrCollaborator, len(assets))
	}
	if assets[0] != e.base.Addr {
		return fmt.Errorf("%w: borrowed %s, expected base asset", types.ErrCollaborator, assets[0].Hex())
	}

	var lp loanParams
	if err := json.Unmarshal(params, &lp); err != nil {
		return fmt.Errorf("%w: bad loan params: %v", types.ErrCollaborator, err)
	}

	if !e.gate.IsEligible(e.base.Addr) || !e.gate.IsEligible(lp.TokenOut) {
		return fmt.Errorf("%w: token no longer eligible", types.ErrRiskRejected)
	}

	pxBase, err := e.prices.PriceUSD(ctx, e.base.Addr)
	if err != nil {
		return err
	}
	pxOut, err := e.prices.PriceUSD(ctx, lp.TokenOut)
	if err != nil {
		return err
	}

	decBase := e.decimals(e.base.Addr)
	decOut := e.decimals(lp.TokenOut)
	principal, fee := amounts[0], fees[0]
	owed := new(big.Int).Add(principal, fee)

	// leg 1: base -> target, bounded by the slippage window
	minOut1 := usdToUnits(lp.AmountUSD*(1-float64(e.slipBps)/10000.0), pxOut, decOut)
	out1, _, err := e.router.SwapExactInput(ctx, e.base.Addr, lp.TokenOut, principal, minOut1, lp.FeeTier)
	if err != nil {
		return fmt.Errorf("%w: loan leg 1: %v", types.ErrCollaborator, err)
	}

	// leg 2: target -> base, floored at principal + fee so a fill that cannot
	// repay the loan reverts instead of settling short
	out2, txHash, err := e.router.SwapExactInput(ctx, lp.TokenOut, e.base.Addr, out1, owed, lp.FeeTier)
	if err != nil {
		return fmt.Errorf("%w: loan leg 2: %v", types.ErrCollaborator, err)
	}
	if out2.Cmp(owed) < 0 {
		return fmt.Errorf("%w: proceeds %s cannot cover principal+fee %s", types.ErrCollaborator, out2, owed)
	}

	profitUnits := new(big.Int).Sub(out2, owed)
	e.pending = &flashOutcome{
		profitUSD: unitsToUSD(profitUnits, pxBase, decBase),
		txHash:    txHash,
	}

	e.log.Debug("flash loan callback complete",
		zap.String("attempt", lp.Attempt),
		zap.String("owed", owed.String()),
		zap.String("proceeds", out2.String()))
	return nil
}

// settle applies the superprofit overlay and then advances the ledger exactly
// once. profitAsset is the token the profit is currently held in.
func (e *Executor) settle(ctx context.Context, rec types.Receipt, profitAsset types.TokenRef) (types.Receipt, error) {
	th := e.gate.Thresholds()

	if rec.ProfitUSD > th.SuperProfitThresholdUSD {
		rec.Super = e.convertSuperProfit(ctx, rec, profitAsset)
	}

	if err := e.ledger.Record(ctx, rec); err != nil {
		return types.Receipt{}, fmt.Errorf("ledger: %w", err)
	}
	e.emit.Emit(ctx, events.Event{
		Type:      events.TradeExecuted,
		At:        rec.Ts,
		Attempt:   rec.Attempt,
		Strategy:  string(rec.Strategy),
		ProfitUSD: rec.ProfitUSD,
	})
	return rec, nil
}

// convertSuperProfit routes the realized profit into the stable reserve
// asset. The trade already settled, so a failed conversion downgrades to a
// warning rather than unwinding the attempt.
func (e *Executor) convertSuperProfit(ctx context.Context, rec types.Receipt, profitAsset types.TokenRef) bool {
	if profitAsset.Addr != e.stable.Addr {
		pxAsset, err1 := e.prices.PriceUSD(ctx, profitAsset.Addr)
		pxStable, err2 := e.prices.PriceUSD(ctx, e.stable.Addr)
		if err1 != nil || err2 != nil {
			e.log.Warn("superprofit conversion skipped: oracle unavailable", zap.String("attempt", rec.Attempt))
			return false
		}
		amountIn := usdToUnits(rec.ProfitUSD, pxAsset, e.decimals(profitAsset.Addr))
		minOut := usdToUnits(rec.ProfitUSD*(1-float64(e.slipBps)/10000.0), pxStable, e.decimals(e.stable.Addr))
		if amountIn.Sign() <= 0 || minOut.Sign() <= 0 {
			return false
		}
		if _, _, err := e.router.SwapExactInput(ctx, profitAsset.Addr, e.stable.Addr, amountIn, minOut, 0); err != nil {
			e.log.Warn("superprofit conversion failed", zap.String("attempt", rec.Attempt), zap.Error(err))
			return false
		}
	}
	e.emit.Emit(ctx, events.Event{
		Type:      events.SuperProfitConverted,
		At:        time.Now(),
		Attempt:   rec.Attempt,
		Strategy:  string(rec.Strategy),
		AmountUSD: rec.ProfitUSD,
	})
	return true
}

// minProceedsUSD is the minimum-acceptable output for the direct swap: the
// quote less the slippage window, but never below cost plus the profit
// threshold.
func (e *Executor) minProceedsUSD(opp *types.Opportunity) float64 {
	th := e.gate.Thresholds()
	slipped := opp.QuotedOutUSD * (1 - float64(e.slipBps)/10000.0)
	floor := opp.AmountUSD + opp.GasUSD + th.ProfitThresholdUSD
	if slipped < floor {
		return floor
	}
	return slipped
}

func usdToUnits(amountUSD, px float64, dec uint8) *big.Int {
	if px <= 0 || amountUSD <= 0 {
		return big.NewInt(0)
	}
	f := new(big.Float).Quo(big.NewFloat(amountUSD), big.NewFloat(px))
	f.Mul(f, pow10(dec))
	out, _ := f.Int(nil)
	return out
}

func unitsToUSD(units *big.Int, px float64, dec uint8) float64 {
	if units == nil {
		return 0
	}
	f := new(big.Float).SetInt(units)
	f.Quo(f, pow10(dec))
	f.Mul(f, big.NewFloat(px))
	out, _ := f.Float64()
	return out
}

func pow10(n uint8) *big.Float {
	out := big.NewFloat(1)
	for i := uint8(0); i < n; i++ {
		out.Mul(out, big.NewFloat(10))
	}
	return out
}
