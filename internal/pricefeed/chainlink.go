package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/multicall"
)

// Minimal AggregatorV3 surface: answer, decimals and the update timestamp.
const aggregatorABI = `[
    {"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
    {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// ChainlinkSource reads token prices from on-chain aggregator feeds, one
// aggregator per monitored token. Reads are batched through multicall and
// cached; Latest serves from the cache refreshed by Refresh.
type ChainlinkSource struct {
	mc       multicall.IClient
	abi      abi.ABI
	feeds    map[common.Address]common.Address // token -> aggregator
	decimals map[common.Address]uint8          // aggregator -> answer decimals

	mu    sync.RWMutex
	cache map[common.Address]Price
}

func NewChainlinkSource(mc multicall.IClient, feeds map[common.Address]common.Address) (*ChainlinkSource, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	return &ChainlinkSource{
		mc:       mc,
		abi:      parsed,
		feeds:    feeds,
		decimals: make(map[common.Address]uint8, len(feeds)),
		cache:    make(map[common.Address]Price, len(feeds)),
	}, nil
}

// Refresh pulls latestRoundData for every registered aggregator in one
// multicall round trip. Individual feed failures leave the stale cache entry
// in place; the Feed's staleness window rejects it from there.
func (s *ChainlinkSource) Refresh(ctx context.Context) error {
	if err := s.loadDecimals(ctx); err != nil {
		return err
	}

	tokens := make([]common.Address, 0, len(s.feeds))
	calls := make([]multicall.Call, 0, len(s.feeds))
	data, err := s.abi.Pack("latestRoundData")
	if err != nil {
		return fmt.Errorf("pack latestRoundData: %w", err)
	}
	for token, agg := range s.feeds {
		tokens = append(tokens, token)
		calls = append(calls, multicall.Call{Target: agg, CallData: data})
	}

	results, err := s.mc.TryAggregate(ctx, calls)
	if err != nil {
		return fmt.Errorf("refresh aggregators: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range results {
		if !r.Success || len(r.ReturnData) == 0 {
			continue
		}
		vals, err := s.abi.Unpack("latestRoundData", r.ReturnData)
		if err != nil || len(vals) < 5 {
			continue
		}
		answer, ok1 := vals[1].(*big.Int)
		updatedAt, ok2 := vals[3].(*big.Int)
		if !ok1 || !ok2 {
			continue
		}
		dec := s.decimals[s.feeds[tokens[i]]]
		price, _ := new(big.Float).Quo(
			new(big.Float).SetInt(answer),
			big.NewFloat(pow10(dec)),
		).Float64()
		s.cache[tokens[i]] = Price{
			Value: price,
			Ts:    time.Unix(updatedAt.Int64(), 0),
		}
	}
	return nil
}

func (s *ChainlinkSource) Latest(ctx context.Context, token common.Address) (Price, error) {
	s.mu.RLock()
	p, ok := s.cache[token]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}
	if err := s.Refresh(ctx); err != nil {
		return Price{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok = s.cache[token]
	if !ok {
		return Price{}, fmt.Errorf("no aggregator registered for %s", token.Hex())
	}
	return p, nil
}

func (s *ChainlinkSource) loadDecimals(ctx context.Context) error {
	s.mu.RLock()
	loaded := len(s.decimals) == len(s.feeds)
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	data, err := s.abi.Pack("decimals")
	if err != nil {
		return fmt.Errorf("pack decimals: %w", err)
	}
	aggs := make([]common.Address, 0, len(s.feeds))
	calls := make([]multicall.Call, 0, len(s.feeds))
	for _, agg := range s.feeds {
		aggs = append(aggs, agg)
		calls = append(calls, multicall.Call{Target: agg, CallData: data})
	}
	results, err := s.mc.TryAggregate(ctx, calls)
	if err != nil {
		return fmt.Errorf("load feed decimals: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range results {
		if !r.Success {
			continue
		}
		vals, err := s.abi.Unpack("decimals", r.ReturnData)
		if err != nil || len(vals) == 0 {
			continue
		}
		if d, ok := vals[0].(uint8); ok {
			s.decimals[aggs[i]] = d
		}
	}
	// default to 8 for feeds that did not answer; the standard USD feed width
	for _, agg := range aggs {
		if _, ok := s.decimals[agg]; !ok {
			s.decimals[agg] = 8
		}
	}
	return nil
}

func pow10(n uint8) float64 {
	out := 1.0
	for i := uint8(0); i < n; i++ {
		out *= 10
	}
	return out
}
