// Package engine is the top-level execution driver: one trigger runs a fresh
// Idle → Scanning → Executing → Settled/Failed cycle, serialized by an
// attempt-scoped lock. No state survives between attempts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/you/flasharb/internal/events"
	"github.com/you/flasharb/internal/execution"
	imetrics "github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/pricefeed"
	"github.com/you/flasharb/internal/risk"
	"github.com/you/flasharb/internal/scanner"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

type State int32

const (
	StateIdle State = iota
	StateScanning
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateExecuting:
		return "executing"
	default:
		return "idle"
	}
}

// Result reports how one trigger ended. Rejections and negative scans are
// normal results, not errors; Err carries hard faults only.
type Result struct {
	Attempt string
	Settled bool
	Reason  string
	Receipt types.Receipt
	Err     error
}

type Engine struct {
	gate    *risk.Gate
	scan    *scanner.Scanner
	exec    *execution.Executor
	gas     pricefeed.GasOracle
	emit    events.Emitter
	log     *zap.Logger
	timeout time.Duration

	// attempt-scoped lock: the whole Scanning→Settled/Failed sequence holds
	// it, so a nested trigger is rejected, never interleaved
	mu    sync.Mutex
	state atomic.Int32
}

func New(gate *risk.Gate, scan *scanner.Scanner, exec *execution.Executor, gas pricefeed.GasOracle, emit events.Emitter, timeout time.Duration, log *zap.Logger) *Engine {
	return &Engine{
		gate:    gate,
		scan:    scan,
		exec:    exec,
		gas:     gas,
		emit:    emit,
		log:     log,
		timeout: timeout,
	}
}

func (e *Engine) State() State { return State(e.state.Load()) }

// TriggerDirect runs one direct-execution attempt for amountUSD.
func (e *Engine) TriggerDirect(ctx context.Context, cred string, amountUSD float64) Result {
	return e.run(ctx, cred, amountUSD, types.StrategyDirect)
}

// TriggerFlashloan runs one flash-loan-funded attempt for amountUSD.
func (e *Engine) TriggerFlashloan(ctx context.Context, cred string, amountUSD float64) Result {
	return e.run(ctx, cred, amountUSD, types.StrategyFlashloan)
}

func (e *Engine) run(parent context.Context, cred string, amountUSD float64, strategy types.Strategy) Result {
	attempt := uuid.NewString()

	// authorization surfaces immediately, before any lock or event
	if err := e.gate.Authorize(cred); err != nil {
		return Result{Attempt: attempt, Err: err}
	}

	if !e.mu.TryLock() {
		imetrics.RiskRejections.Inc()
		return e.fail(parent, attempt, strategy,
			fmt.Errorf("%w: another attempt is in flight", types.ErrRiskRejected))
	}
	defer e.mu.Unlock()

	ctx := parent
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, e.timeout)
		defer cancel()
	}

	defer e.state.Store(int32(StateIdle))

	// admission: fresh gas read against the ceiling, before scanning
	gasPrice, err := e.gas.GasPrice(ctx)
	if err != nil {
		imetrics.AttemptsFailed.Inc()
		return e.fail(ctx, attempt, strategy, err)
	}
	gasF, _ := new(big.Float).SetInt(gasPrice).Float64()
	imetrics.GasPriceWei.Set(gasF)

	if err := e.gate.Admit(gasPrice); err != nil {
		imetrics.RiskRejections.Inc()
		return e.fail(ctx, attempt, strategy, err)
	}

	imetrics.AttemptsStarted.Inc()
	e.state.Store(int32(StateScanning))
	log := e.log.With(zap.String("attempt", attempt), zap.String("strategy", string(strategy)))
	log.Info("attempt admitted", zap.String("gas_price", gasPrice.String()))

	var opp *types.Opportunity
	if strategy == types.StrategyFlashloan {
		opp, err = e.scan.FindOpportunityFrom(ctx, amountUSD, e.exec.BaseAddr())
	} else {
		opp, err = e.scan.FindOpportunity(ctx, amountUSD)
	}
	if err != nil {
		imetrics.AttemptsFailed.Inc()
		return e.fail(ctx, attempt, strategy, err)
	}
	if opp == nil {
		// a clean negative scan: reported via trade-failed, never raised
		imetrics.NoOpportunity.Inc()
		reason := fmt.Sprintf("no profitable opportunity for %.2f USD", amountUSD)
		e.emit.Emit(ctx, events.Event{
			Type:     events.TradeFailed,
			At:       time.Now(),
			Attempt:  attempt,
			Strategy: string(strategy),
			Reason:   reason,
		})
		log.Info("scan exhausted", zap.String("reason", reason))
		return Result{Attempt: attempt, Reason: reason}
	}

	e.state.Store(int32(StateExecuting))

	var rec types.Receipt
	if strategy == types.StrategyFlashloan {
		rec, err = e.exec.ExecuteFlashloan(ctx, attempt, opp)
	} else {
		rec, err = e.exec.ExecuteDirect(ctx, attempt, opp)
	}
	if err != nil {
		imetrics.AttemptsFailed.Inc()
		return e.fail(ctx, attempt, strategy, err)
	}

	imetrics.AttemptsSettled.Inc()
	log.Info("attempt settled",
		zap.Float64("profit_usd", rec.ProfitUSD),
		zap.String("tx", rec.TxHash),
		zap.Bool("super", rec.Super))
	return Result{Attempt: attempt, Settled: true, Receipt: rec}
}

// fail reports a non-settled attempt. Risk rejections and negative scans are
// events, not raised faults; hard faults ride in Result.Err as well.
func (e *Engine) fail(ctx context.Context, attempt string, strategy types.Strategy, err error) Result {
	reason := err.Error()
	e.emit.Emit(ctx, events.Event{
		Type:     events.TradeFailed,
		At:       time.Now(),
		Attempt:  attempt,
		Strategy: string(strategy),
		Reason:   reason,
	})
	e.log.Warn("attempt failed", zap.String("attempt", attempt), zap.String("reason", reason))

	res := Result{Attempt: attempt, Reason: reason}
	if !errors.Is(err, types.ErrRiskRejected) {
		res.Err = err
	}
	return res
}
