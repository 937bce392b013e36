// Package univ3 is the Uniswap V3 venue adapter: QuoterV2 for scan-time
// quotes and SwapRouter for execution.
package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/you/flasharb/internal/config"
	"github.com/you/flasharb/internal/dex/core"
	"go.uber.org/zap"
)

const quoterV2ABI = `[
    {"inputs":[{"components":[{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint24","name":"fee","type":"uint24"},{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct IQuoterV2.QuoteExactInputSingleParams","name":"params","type":"tuple"}],"name":"quoteExactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"},{"internalType":"uint160","name":"sqrtPriceX96After","type":"uint160"},{"internalType":"uint32","name":"initializedTicksCrossed","type":"uint32"},{"internalType":"uint256","name":"gasEstimate","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

const erc20ABI = `[
    {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
    {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

const factoryABI = `[
    {"inputs":[{"internalType":"address","name":"tokenA","type":"address"},{"internalType":"address","name":"tokenB","type":"address"},{"internalType":"uint24","name":"fee","type":"uint24"}],"name":"getPool","outputs":[{"internalType":"address","name":"pool","type":"address"}],"stateMutability":"view","type":"function"}
]`

const v3FactoryAddr = "0x1F98431c8aD98523631AE4a59f267346ea31F984"

// OnchainQuoter prices trades through QuoterV2 and derives a pool-depth
// proxy from the pool's token balances.
type OnchainQuoter struct {
	cfg     *config.Config
	log     *zap.Logger
	ec      *ethclient.Client
	qabi    abi.ABI
	eabi    abi.ABI
	fabi    abi.ABI
	quoter  common.Address
	factory common.Address

	// priced in USD per whole native token, for gas conversion
	nativeUSD func(ctx context.Context) (float64, error)

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

func NewOnchainQuoter(cfg *config.Config, ec *ethclient.Client, nativeUSD func(ctx context.Context) (float64, error), log *zap.Logger) (*OnchainQuoter, error) {
	qabi, err := abi.JSON(strings.NewReader(quoterV2ABI))
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}
	eabi, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	fabi, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	return &OnchainQuoter{
		cfg:       cfg,
		log:       log,
		ec:        ec,
		qabi:      qabi,
		eabi:      eabi,
		fabi:      fabi,
		quoter:    common.HexToAddress(cfg.DEX.QuoterV2),
		factory:   common.HexToAddress(v3FactoryAddr),
		nativeUSD: nativeUSD,
		decimals:  make(map[common.Address]uint8, 16),
	}, nil
}

func (q *OnchainQuoter) QuoteOutUSD(ctx context.Context, tokenIn, tokenOut common.Address, amountUSD, pxIn, pxOut float64) (float64, float64, core.QuoteMeta, error) {
	decIn, err := q.tokenDecimals(ctx, tokenIn)
	if err != nil {
		return 0, 0, core.QuoteMeta{}, err
	}
	decOut, err := q.tokenDecimals(ctx, tokenOut)
	if err != nil {
		return 0, 0, core.QuoteMeta{}, err
	}

	amountIn := usdToUnits(amountUSD, pxIn, decIn)
	if amountIn.Sign() <= 0 {
		return 0, 0, core.QuoteMeta{}, fmt.Errorf("amount %f too small for %s", amountUSD, tokenIn.Hex())
	}

	var (
		bestOut  *big.Int
		bestGas  *big.Int
		bestTier uint32
	)
	for _, tier := range q.cfg.DEX.FeeTiers {
		out, gasEst, err := q.quoteSingle(ctx, tokenIn, tokenOut, amountIn, tier)
		if err != nil {
			continue // tier without a pool
		}
		if bestOut == nil || out.Cmp(bestOut) > 0 {
			bestOut, bestGas, bestTier = out, gasEst, tier
		}
	}
	if bestOut == nil {
		return 0, 0, core.QuoteMeta{}, fmt.Errorf("no pool for %s/%s on any fee tier", tokenIn.Hex(), tokenOut.Hex())
	}

	outUSD := unitsToUSD(bestOut, pxOut, decOut)

	gasUSD := 0.0
	if q.nativeUSD != nil {
		if nUSD, err := q.nativeUSD(ctx); err == nil && nUSD > 0 {
			gasPrice, gerr := q.ec.SuggestGasPrice(ctx)
			if gerr == nil && bestGas != nil {
				wei := new(big.Int).Mul(bestGas, gasPrice)
				gasUSD = unitsToUSD(wei, nUSD, 18)
			}
		}
	}

	liqUSD, err := q.poolDepthUSD(ctx, tokenIn, tokenOut, bestTier, pxIn, pxOut, decIn, decOut)
	if err != nil {
		q.log.Debug("univ3: pool depth read failed", zap.Error(err))
	}

	return outUSD, gasUSD, core.QuoteMeta{FeeTier: bestTier, LiquidityUSD: liqUSD}, nil
}

func (q *OnchainQuoter) quoteSingle(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, tier uint32) (*big.Int, *big.Int, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{tokenIn, tokenOut, amountIn, big.NewInt(int64(tier)), big.NewInt(0)}

	data, err := q.qabi.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, nil, fmt.Errorf("pack quote: %w", err)
	}
	raw, err := q.ec.CallContract(ctx, ethereum.CallMsg{To: &q.quoter, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("quote call: %w", err)
	}
	vals, err := q.qabi.Unpack("quoteExactInputSingle", raw)
	if err != nil || len(vals) < 4 {
		return nil, nil, fmt.Errorf("unpack quote: %w", err)
	}
	out, _ := vals[0].(*big.Int)
	gasEst, _ := vals[3].(*big.Int)
	if out == nil || out.Sign() <= 0 {
		return nil, nil, fmt.Errorf("zero quote")
	}
	return out, gasEst, nil
}

// poolDepthUSD sums the pool's balances of both tokens at oracle prices.
// Crude TVL, good enough for the liquidity floor.
func (q *OnchainQuoter) poolDepthUSD(ctx context.Context, tokenIn, tokenOut common.Address, tier uint32, pxIn, pxOut float64, decIn, decOut uint8) (float64, error) {
	data, err := q.fabi.Pack("getPool", tokenIn, tokenOut, big.NewInt(int64(tier)))
	if err != nil {
		return 0, err
	}
	raw, err := q.ec.CallContract(ctx, ethereum.CallMsg{To: &q.factory, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	vals, err := q.fabi.Unpack("getPool", raw)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("unpack getPool: %w", err)
	}
	pool, _ := vals[0].(common.Address)
	if pool == (common.Address{}) {
		return 0, fmt.Errorf("no pool")
	}

	balIn, err := q.balanceOf(ctx, tokenIn, pool)
	if err != nil {
		return 0, err
	}
	balOut, err := q.balanceOf(ctx, tokenOut, pool)
	if err != nil {
		return 0, err
	}
	return unitsToUSD(balIn, pxIn, decIn) + unitsToUSD(balOut, pxOut, decOut), nil
}

func (q *OnchainQuoter) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := q.eabi.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	raw, err := q.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := q.eabi.Unpack("balanceOf", raw)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	b, _ := vals[0].(*big.Int)
	return b, nil
}

func (q *OnchainQuoter) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	q.mu.Lock()
	if d, ok := q.decimals[token]; ok {
		q.mu.Unlock()
		return d, nil
	}
	q.mu.Unlock()

	data, err := q.eabi.Pack("decimals")
	if err != nil {
		return 0, err
	}
	raw, err := q.ec.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals call: %w", err)
	}
	vals, err := q.eabi.Unpack("decimals", raw)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("bad decimals type")
	}

	q.mu.Lock()
	q.decimals[token] = d
	q.mu.Unlock()
	return d, nil
}

func usdToUnits(amountUSD, px float64, dec uint8) *big.Int {
	if px <= 0 {
		return big.NewInt(0)
	}
	f := new(big.Float).Quo(big.NewFloat(amountUSD), big.NewFloat(px))
	f.Mul(f, pow10f(dec))
	out, _ := f.Int(nil)
	return out
}

func unitsToUSD(units *big.Int, px float64, dec uint8) float64 {
	if units == nil {
		return 0
	}
	f := new(big.Float).SetInt(units)
	f.Quo(f, pow10f(dec))
	f.Mul(f, big.NewFloat(px))
	out, _ := f.Float64()
	return out
}

func pow10f(n uint8) *big.Float {
	out := big.NewFloat(1)
	ten := big.NewFloat(10)
	for i := uint8(0); i < n; i++ {
		out.Mul(out, ten)
	}
	return out
}
