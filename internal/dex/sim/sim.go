// Package sim is an in-process venue for dry-run mode and tests. It holds
// its own execution prices, so a gap between venue and oracle prices is what
// creates (or destroys) the arbitrage the rest of the system reacts to.
package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/dex/core"
	"github.com/you/flasharb/internal/treasury"
)

type Venue struct {
	mu           sync.RWMutex
	pxUSD        map[common.Address]float64 // venue's own execution price
	decimals     map[common.Address]uint8
	book         *treasury.Book // balances the swaps move; may be nil
	feeBps       float64
	gasUSD       float64
	liquidityUSD float64
	swapErr      error // forced failure for tests
}

func NewVenue(book *treasury.Book, feeBps, gasUSD, liquidityUSD float64) *Venue {
	return &Venue{
		pxUSD:        make(map[common.Address]float64, 8),
		decimals:     make(map[common.Address]uint8, 8),
		book:         book,
		feeBps:       feeBps,
		gasUSD:       gasUSD,
		liquidityUSD: liquidityUSD,
	}
}

func (v *Venue) SetPrice(token common.Address, pxUSD float64, decimals uint8) {
	v.mu.Lock()
	v.pxUSD[token] = pxUSD
	v.decimals[token] = decimals
	v.mu.Unlock()
}

func (v *Venue) SetLiquidityUSD(l float64) {
	v.mu.Lock()
	v.liquidityUSD = l
	v.mu.Unlock()
}

// FailSwaps makes every subsequent swap return err (nil restores normality).
func (v *Venue) FailSwaps(err error) {
	v.mu.Lock()
	v.swapErr = err
	v.mu.Unlock()
}

func (v *Venue) price(token common.Address) (float64, uint8, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	px, ok := v.pxUSD[token]
	if !ok || px <= 0 {
		return 0, 0, fmt.Errorf("sim venue: no price for %s", token.Hex())
	}
	return px, v.decimals[token], nil
}

func (v *Venue) QuoteOutUSD(_ context.Context, tokenIn, tokenOut common.Address, amountUSD, pxIn, pxOut float64) (float64, float64, core.QuoteMeta, error) {
	vin, _, err := v.price(tokenIn)
	if err != nil {
		return 0, 0, core.QuoteMeta{}, err
	}
	vout, _, err := v.price(tokenOut)
	if err != nil {
		return 0, 0, core.QuoteMeta{}, err
	}
	if pxIn <= 0 || pxOut <= 0 {
		return 0, 0, core.QuoteMeta{}, fmt.Errorf("sim venue: bad oracle prices")
	}

	// qty sized at oracle prices, executed at venue prices
	qtyIn := amountUSD / pxIn
	qtyOut := qtyIn * vin / vout * (1 - v.feeBps/10000.0)
	outUSD := qtyOut * pxOut

	v.mu.RLock()
	gas, liq := v.gasUSD, v.liquidityUSD
	v.mu.RUnlock()
	return outUSD, gas, core.QuoteMeta{FeeTier: 3000, LiquidityUSD: liq}, nil
}

func (v *Venue) SwapExactInput(_ context.Context, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, _ uint32) (*big.Int, string, error) {
	v.mu.RLock()
	forced := v.swapErr
	v.mu.RUnlock()
	if forced != nil {
		return nil, "", forced
	}
	if minOut == nil || minOut.Sign() <= 0 {
		return nil, "", fmt.Errorf("sim venue: refusing swap with unbounded slippage")
	}

	pin, din, err := v.price(tokenIn)
	if err != nil {
		return nil, "", err
	}
	pout, dout, err := v.price(tokenOut)
	if err != nil {
		return nil, "", err
	}

	// value in at venue price, net of the swap fee, back to out units
	fin := new(big.Float).SetInt(amountIn)
	fin.Quo(fin, pow10(din))
	usd := new(big.Float).Mul(fin, big.NewFloat(pin))
	usd.Mul(usd, big.NewFloat(1-v.feeBps/10000.0))
	fout := new(big.Float).Quo(usd, big.NewFloat(pout))
	fout.Mul(fout, pow10(dout))
	out, _ := fout.Int(nil)

	if out.Cmp(minOut) < 0 {
		return nil, "", fmt.Errorf("sim venue: output %s below minimum %s", out, minOut)
	}

	if v.book != nil {
		if err := v.book.Debit(tokenIn, amountIn); err != nil {
			return nil, "", err
		}
		v.book.Credit(tokenOut, out)
	}
	return out, fmt.Sprintf("sim-%s-%s", tokenIn.Hex()[:10], tokenOut.Hex()[:10]), nil
}

func pow10(n uint8) *big.Float {
	out := big.NewFloat(1)
	for i := uint8(0); i < n; i++ {
		out.Mul(out, big.NewFloat(10))
	}
	return out
}
