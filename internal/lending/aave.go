package lending

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/you/flasharb/internal/config"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

const aavePoolABI = `[
    {"inputs":[{"internalType":"address","name":"receiverAddress","type":"address"},{"internalType":"address","name":"asset","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"bytes","name":"params","type":"bytes"},{"internalType":"uint16","name":"referralCode","type":"uint16"}],"name":"flashLoanSimple","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// AavePool submits the flash loan on-chain. The borrow, the callback and the
// repayment all happen inside the receiver contract's transaction: the chain
// is what guarantees the atomic borrow-swap-repay sequence, so this adapter
// never calls the Go receiver itself. A reverted transaction is the rollback.
type AavePool struct {
	cfg      *config.Config
	log      *zap.Logger
	ec       *ethclient.Client
	pabi     abi.ABI
	pool     common.Address
	receiver common.Address // on-chain receiver contract
	pk       *ecdsa.PrivateKey
	sender   common.Address
}

func NewAavePool(cfg *config.Config, ec *ethclient.Client, receiver common.Address, log *zap.Logger) (*AavePool, error) {
	pabi, err := abi.JSON(strings.NewReader(aavePoolABI))
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	pk, err := crypto.HexToECDSA(cfg.Chain.WalletPK)
	if err != nil {
		return nil, fmt.Errorf("bad private key: %w", err)
	}
	return &AavePool{
		cfg:      cfg,
		log:      log,
		ec:       ec,
		pabi:     pabi,
		pool:     common.HexToAddress(cfg.Lending.Pool),
		receiver: receiver,
		pk:       pk,
		sender:   crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

func (p *AavePool) Addr() common.Address { return p.pool }

func (p *AavePool) FlashLoan(ctx context.Context, req types.FlashLoanRequest, _ Receiver, _ common.Address) error {
	if !req.Valid() || len(req.Assets) != 1 {
		return fmt.Errorf("%w: flashLoanSimple takes exactly one asset", types.ErrCollaborator)
	}
	if req.Modes[0] != 0 {
		return fmt.Errorf("%w: only mode 0 is supported", types.ErrCollaborator)
	}

	input, err := p.pabi.Pack("flashLoanSimple", p.receiver, req.Assets[0], req.Amounts[0], req.Params, uint16(0))
	if err != nil {
		return fmt.Errorf("pack flashLoanSimple: %w", err)
	}

	signedTx, err := p.signTx(ctx, input)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	if err := p.ec.SendTransaction(ctx, signedTx); err != nil {
		return fmt.Errorf("%w: send flash loan tx: %v", types.ErrCollaborator, err)
	}

	receipt, err := bind.WaitMined(ctx, p.ec, signedTx)
	if err != nil {
		return fmt.Errorf("%w: wait mined: %v", types.ErrCollaborator, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: flash loan reverted: tx %s", types.ErrCollaborator, signedTx.Hash().Hex())
	}

	p.log.Info("flash loan settled on-chain", zap.String("tx", signedTx.Hash().Hex()))
	return nil
}

func (p *AavePool) signTx(ctx context.Context, input []byte) (*ethtypes.Transaction, error) {
	chainID, err := p.ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	nonce, err := p.ec.PendingNonceAt(ctx, p.sender)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}
	gasTipCap, err := p.ec.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	header, err := p.ec.HeaderByNumber(ctx, nil)
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
		Gas:       p.cfg.Chain.GasLimitSwap * 3, // borrow + two swaps + repay
		To:        &p.pool,
		Value:     big.NewInt(0),
		Data:      input,
	})

	return ethtypes.SignTx(tx, ethtypes.NewLondonSigner(chainID), p.pk)
}
