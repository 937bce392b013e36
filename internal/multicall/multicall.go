// Package multicall batches read-only contract calls into one eth_call.
// The price feed uses it to refresh every aggregator in a single round trip.
package multicall

import (
	"context"
	"fmt"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Multicall3 tryAggregate: individual calls may fail without failing the batch.
const multicall3ABI = `[
{
    "inputs": [
        {"name": "requireSuccess", "type": "bool"},
        {
            "components": [
                {"name": "target", "type": "address"},
                {"name": "callData", "type": "bytes"}
            ],
            "name": "calls",
            "type": "tuple[]"
        }
    ],
    "name": "tryAggregate",
    "outputs": [
        {
            "components": [
                {"name": "success", "type": "bool"},
                {"name": "returnData", "type": "bytes"}
            ],
            "name": "returnData",
            "type": "tuple[]"
        }
    ],
    "stateMutability": "payable",
    "type": "function"
}
]`

type Call struct {
	Target   common.Address
	CallData []byte
}

type Result struct {
	Success    bool
	ReturnData []byte
}

type IClient interface {
	TryAggregate(ctx context.Context, calls []Call) ([]Result, error)
}

type Client struct {
	c    *ethclient.Client
	addr common.Address
	abi  abi.ABI
}

func New(c *ethclient.Client, addr common.Address) (IClient, error) {
	parsed, err := abi.JSON(strings.NewReader(multicall3ABI))
	if err != nil {
		return nil, fmt.Errorf("bad abi: %w", err)
	}
	return &Client{c: c, addr: addr, abi: parsed}, nil
}

func (c *Client) TryAggregate(ctx context.Context, calls []Call) ([]Result, error) {
	payload, err := c.abi.Pack("tryAggregate", false, calls)
	if err != nil {
		return nil, fmt.Errorf("pack tryAggregate: %w", err)
	}

	raw, err := c.c.CallContract(ctx, ethereum.CallMsg{To: &c.addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call tryAggregate: %w", err)
	}

	var out []struct {
		Success    bool
		ReturnData []byte
	}
	if err := c.abi.UnpackIntoInterface(&out, "tryAggregate", raw); err != nil {
		return nil, fmt.Errorf("unpack tryAggregate: %w", err)
	}

	res := make([]Result, len(out))
	for i, r := range out {
		res[i] = Result{Success: r.Success, ReturnData: r.ReturnData}
	}
	return res, nil
}
