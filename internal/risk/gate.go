// Package risk holds the mutable risk configuration and gates every
// execution path through it. All mutators require the operator credential and
// emit a state-change event on success.
package risk

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/events"
	"github.com/you/flasharb/internal/types"
)

type Thresholds struct {
	GasPriceLimitWei        *big.Int
	ProfitThresholdUSD      float64
	SuperProfitThresholdUSD float64
	LiquidityThresholdUSD   float64
}

type Gate struct {
	mu       sync.RWMutex
	operator string
	paused   bool
	th       Thresholds
	tokens   *registry
	emit     events.Emitter
}

func NewGate(operatorToken string, th Thresholds, emit events.Emitter) (*Gate, error) {
	if operatorToken == "" {
		return nil, fmt.Errorf("%w: empty operator token", types.ErrConfiguration)
	}
	if err := validate(th); err != nil {
		return nil, err
	}
	return &Gate{operator: operatorToken, th: th, tokens: newRegistry(), emit: emit}, nil
}

func validate(th Thresholds) error {
	if th.ProfitThresholdUSD < 0 || th.SuperProfitThresholdUSD < 0 || th.LiquidityThresholdUSD < 0 {
		return fmt.Errorf("%w: negative threshold", types.ErrConfiguration)
	}
	if th.SuperProfitThresholdUSD < th.ProfitThresholdUSD {
		return fmt.Errorf("%w: superprofit threshold below profit threshold", types.ErrConfiguration)
	}
	if th.GasPriceLimitWei != nil && th.GasPriceLimitWei.Sign() < 0 {
		return fmt.Errorf("%w: negative gas price limit", types.ErrConfiguration)
	}
	return nil
}

// Authorize compares the caller's credential to the operator token.
func (g *Gate) Authorize(cred string) error {
	if subtle.ConstantTimeCompare([]byte(cred), []byte(g.operator)) != 1 {
		return fmt.Errorf("%w: bad operator credential", types.ErrUnauthorized)
	}
	return nil
}

// Admit decides whether an execution attempt may proceed past initial checks.
func (g *Gate) Admit(gasPrice *big.Int) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.paused {
		return fmt.Errorf("%w: executor paused", types.ErrRiskRejected)
	}
	if g.th.GasPriceLimitWei != nil && gasPrice != nil && gasPrice.Cmp(g.th.GasPriceLimitWei) > 0 {
		return fmt.Errorf("%w: gas price %s over limit %s", types.ErrRiskRejected, gasPrice, g.th.GasPriceLimitWei)
	}
	return nil
}

// IsEligible reports whether a token may be traded: approved and not
// blacklisted, with blacklist winning over approval.
func (g *Gate) IsEligible(addr common.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tokens.get(addr)
	return ok && t.Eligible()
}

func (g *Gate) Pause(ctx context.Context, cred string) error {
	if err := g.Authorize(cred); err != nil {
		return err
	}
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
	g.emit.Emit(ctx, events.Event{Type: events.Paused, At: time.Now()})
	return nil
}

func (g *Gate) Unpause(ctx context.Context, cred string) error {
	if err := g.Authorize(cred); err != nil {
		return err
	}
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	g.emit.Emit(ctx, events.Event{Type: events.Unpaused, At: time.Now()})
	return nil
}

func (g *Gate) SetThresholds(ctx context.Context, cred string, th Thresholds) error {
	if err := g.Authorize(cred); err != nil {
		return err
	}
	if err := validate(th); err != nil {
		return err
	}
	g.mu.Lock()
	g.th = th
	g.mu.Unlock()
	return nil
}

func (g *Gate) Approve(ctx context.Context, cred, symbol string, addr common.Address) error {
	if err := g.Authorize(cred); err != nil {
		return err
	}
	g.mu.Lock()
	err := g.tokens.approve(symbol, addr)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.emit.Emit(ctx, events.Event{Type: events.TokenApproved, Token: addr.Hex(), At: time.Now()})
	return nil
}

func (g *Gate) Blacklist(ctx context.Context, cred string, addr common.Address) error {
	if err := g.Authorize(cred); err != nil {
		return err
	}
	g.mu.Lock()
	err := g.tokens.blacklist(addr)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.emit.Emit(ctx, events.Event{Type: events.TokenBlacklisted, Token: addr.Hex(), At: time.Now()})
	return nil
}

func (g *Gate) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

func (g *Gate) Thresholds() Thresholds {
	g.mu.RLock()
	defer g.mu.RUnlock()
	th := g.th
	if th.GasPriceLimitWei != nil {
		th.GasPriceLimitWei = new(big.Int).Set(th.GasPriceLimitWei)
	}
	return th
}

// Monitored returns the monitored set in insertion order.
func (g *Gate) Monitored() []types.TokenRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tokens.snapshot()
}
