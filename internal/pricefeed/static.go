package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/types"
)

// StaticSource serves fixed prices from configuration. Dry-run only: it keeps
// the whole pipeline runnable without a chain or a ticker feed behind it.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[common.Address]float64
}

func NewStaticSource(prices map[common.Address]float64) *StaticSource {
	cp := make(map[common.Address]float64, len(prices))
	for a, p := range prices {
		cp[a] = p
	}
	return &StaticSource{prices: cp}
}

func (s *StaticSource) Set(token common.Address, pxUSD float64) {
	s.mu.Lock()
	s.prices[token] = pxUSD
	s.mu.Unlock()
}

func (s *StaticSource) Latest(_ context.Context, token common.Address) (Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	px, ok := s.prices[token]
	if !ok {
		return Price{}, fmt.Errorf("no static price for %s", token.Hex())
	}
	return Price{Value: px, Ts: time.Now()}, nil
}

// StaticGasOracle reports a fixed gas price; dry-run counterpart of the
// chain-backed oracle.
type StaticGasOracle struct {
	mu    sync.RWMutex
	price *big.Int
}

func NewStaticGasOracle(wei *big.Int) *StaticGasOracle {
	return &StaticGasOracle{price: new(big.Int).Set(wei)}
}

func (g *StaticGasOracle) Set(wei *big.Int) {
	g.mu.Lock()
	g.price = new(big.Int).Set(wei)
	g.mu.Unlock()
}

func (g *StaticGasOracle) GasPrice(_ context.Context) (*big.Int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.price == nil || g.price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive gas price", types.ErrOracleInvalid)
	}
	return new(big.Int).Set(g.price), nil
}
