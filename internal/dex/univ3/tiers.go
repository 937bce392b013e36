package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// CheckFeeTiers reports which of the given fee tiers have a deployed pool for
// the pair, plus the pool address per tier. Dials its own client; meant for
// one-shot diagnostics, not the hot path.
func CheckFeeTiers(ctx context.Context, rpcURL string, tokenA, tokenB common.Address, tiers []uint32) ([]uint32, map[uint32]common.Address, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	defer ec.Close()

	fabi, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, nil, err
	}
	factory := common.HexToAddress(v3FactoryAddr)

	var present []uint32
	pools := make(map[uint32]common.Address, len(tiers))
	for _, tier := range tiers {
		data, err := fabi.Pack("getPool", tokenA, tokenB, big.NewInt(int64(tier)))
		if err != nil {
			return nil, nil, err
		}
		raw, err := ec.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("getPool fee=%d: %w", tier, err)
		}
		vals, err := fabi.Unpack("getPool", raw)
		if err != nil || len(vals) == 0 {
			return nil, nil, fmt.Errorf("unpack getPool fee=%d: %w", tier, err)
		}
		pool, _ := vals[0].(common.Address)
		if pool != (common.Address{}) {
			present = append(present, tier)
			pools[tier] = pool
		}
	}
	return present, pools, nil
}
