// Package core defines the venue collaborator surface the executor composes:
// a Quoter for scan-time pricing and a Router for the value-moving swap.
package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type VenueID string

const (
	VenueUniswapV3 VenueID = "uniswap_v3"
	VenueSim       VenueID = "sim"
)

type QuoteMeta struct {
	FeeTier      uint32
	LiquidityUSD float64
}

// Quoter prices a trade of amountUSD worth of tokenIn into tokenOut.
// pxIn and pxOut are validated oracle prices (USD per whole token) used for
// unit conversion; the quote itself comes from the venue.
type Quoter interface {
	QuoteOutUSD(ctx context.Context, tokenIn, tokenOut common.Address, amountUSD, pxIn, pxOut float64) (outUSD, gasUSD float64, meta QuoteMeta, err error)
}

// Router performs the swap. minOut is mandatory and never zero: the venue
// must revert rather than fill below it.
type Router interface {
	SwapExactInput(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, feeTier uint32) (out *big.Int, txHash string, err error)
}

type Venue struct {
	ID     VenueID
	Quoter Quoter
	Router Router
}
