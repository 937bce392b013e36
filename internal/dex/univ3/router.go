package univ3

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/you/flasharb/internal/config"
	"go.uber.org/zap"
)

const routerABI = `[
    {"inputs":[{"components":[{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"},{"internalType":"uint24","name":"fee","type":"uint24"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMinimum","type":"uint256"},{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"internalType":"struct ISwapRouter.ExactInputSingleParams","name":"params","type":"tuple"}],"name":"exactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

// OnchainRouter submits exactInputSingle swaps and waits for the receipt.
// A reverted swap is a clean failure: the chain rolls the whole call back.
type OnchainRouter struct {
	cfg    *config.Config
	log    *zap.Logger
	ec     *ethclient.Client
	rabi   abi.ABI
	router common.Address
	pk     *ecdsa.PrivateKey
	sender common.Address
}

func NewOnchainRouter(cfg *config.Config, ec *ethclient.Client, log *zap.Logger) (*OnchainRouter, error) {
	rabi, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	pk, err := crypto.HexToECDSA(cfg.Chain.WalletPK)
	if err != nil {
		return nil, fmt.Errorf("bad private key: %w", err)
	}
	return &OnchainRouter{
		cfg:    cfg,
		log:    log,
		ec:     ec,
		rabi:   rabi,
		router: common.HexToAddress(cfg.DEX.Router),
		pk:     pk,
		sender: crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

func (r *OnchainRouter) Sender() common.Address { return r.sender }

// SwapExactInput swaps amountIn of tokenIn for tokenOut with a hard minimum
// output. The returned amount is the guaranteed floor (minOut): the router
// contract reverts below it, and the exact fill is only observable from logs.
func (r *OnchainRouter) SwapExactInput(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int, feeTier uint32) (*big.Int, string, error) {
	if minOut == nil || minOut.Sign() <= 0 {
		return nil, "", fmt.Errorf("refusing swap with unbounded slippage")
	}

	deadline := time.Now().Add(2 * time.Minute).Unix()
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               big.NewInt(int64(feeTier)),
		Recipient:         r.sender,
		Deadline:          big.NewInt(deadline),
		AmountIn:          amountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}

	input, err := r.rabi.Pack("exactInputSingle", params)
	if err != nil {
		return nil, "", fmt.Errorf("pack exactInputSingle: %w", err)
	}

	signedTx, err := r.signTx(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sign tx: %w", err)
	}
	if err := r.ec.SendTransaction(ctx, signedTx); err != nil {
		return nil, "", fmt.Errorf("send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, r.ec, signedTx)
	if err != nil {
		return nil, "", fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, "", fmt.Errorf("swap reverted: tx %s", signedTx.Hash().Hex())
	}

	return new(big.Int).Set(minOut), signedTx.Hash().Hex(), nil
}

func (r *OnchainRouter) signTx(ctx context.Context, input []byte) (*ethtypes.Transaction, error) {
	chainID, err := r.ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	nonce, err := r.ec.PendingNonceAt(ctx, r.sender)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	gasTipCap, err := r.ec.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	header, err := r.ec.HeaderByNumber(ctx, nil)
	if err != nil || header.BaseFee == nil {
		return nil, fmt.Errorf("get header/base fee: %w", err)
	}
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       r.cfg.Chain.GasLimitSwap,
		To:        &r.router,
		Value:     big.NewInt(0),
		Data:      input,
	})

	return ethtypes.SignTx(tx, ethtypes.NewLondonSigner(chainID), r.pk)
}
