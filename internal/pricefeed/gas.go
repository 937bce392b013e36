package pricefeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/you/flasharb/internal/types"
)

// GasOracle reports the current gas price. A non-positive read is an oracle
// failure, never a free transaction.
type GasOracle interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

type EthGasOracle struct {
	ec *ethclient.Client
}

func NewEthGasOracle(ec *ethclient.Client) *EthGasOracle {
	return &EthGasOracle{ec: ec}
}

func (g *EthGasOracle) GasPrice(ctx context.Context) (*big.Int, error) {
	p, err := g.ec.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: suggest gas price: %v", types.ErrOracleInvalid, err)
	}
	if p == nil || p.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive gas price", types.ErrOracleInvalid)
	}
	return p, nil
}
