package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/treasury"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

// SimPool is an in-process lending pool used in dry-run mode and in tests.
// It enforces the full loan protocol: fund the borrower, invoke the callback
// once, collect principal plus fee per asset, and unwind the borrower's book
// to its exact pre-loan state on any failure.
type SimPool struct {
	addr      common.Address
	feeBps    float64
	liquidity *treasury.Book // the pool's own funds
	borrower  *treasury.Book // the executor's balance book
	log       *zap.Logger
}

func NewSimPool(addr common.Address, feeBps float64, liquidity, borrower *treasury.Book, log *zap.Logger) *SimPool {
	return &SimPool{addr: addr, feeBps: feeBps, liquidity: liquidity, borrower: borrower, log: log}
}

func (p *SimPool) Addr() common.Address { return p.addr }

// Fee computes the flash premium for a principal.
func (p *SimPool) Fee(principal *big.Int) *big.Int {
	fee := new(big.Int).Mul(principal, big.NewInt(int64(p.feeBps*100)))
	return fee.Div(fee, big.NewInt(1_000_000))
}

func (p *SimPool) FlashLoan(ctx context.Context, req types.FlashLoanRequest, recv Receiver, initiator common.Address) error {
	if !req.Valid() {
		return fmt.Errorf("%w: malformed flash loan request", types.ErrCollaborator)
	}
	for _, m := range req.Modes {
		if m != 0 {
			return fmt.Errorf("%w: only mode 0 (full repayment) is supported", types.ErrCollaborator)
		}
	}
	for i, amt := range req.Amounts {
		if amt == nil || amt.Sign() <= 0 {
			return fmt.Errorf("%w: non-positive principal for asset %d", types.ErrCollaborator, i)
		}
		if p.liquidity.Balance(req.Assets[i]).Cmp(amt) < 0 {
			return fmt.Errorf("%w: pool lacks liquidity for %s", types.ErrCollaborator, req.Assets[i].Hex())
		}
	}

	fees := make([]*big.Int, len(req.Amounts))
	for i, amt := range req.Amounts {
		fees[i] = p.Fee(amt)
	}

	// snapshot both books so an aborting callback leaves no trace
	poolSnap := p.liquidity.Snapshot()
	borrowerSnap := p.borrower.Snapshot()

	for i, asset := range req.Assets {
		if err := p.liquidity.Debit(asset, req.Amounts[i]); err != nil {
			p.liquidity.Restore(poolSnap)
			return fmt.Errorf("%w: %v", types.ErrCollaborator, err)
		}
		p.borrower.Credit(asset, req.Amounts[i])
	}

	unwind := func() {
		p.liquidity.Restore(poolSnap)
		p.borrower.Restore(borrowerSnap)
	}

	if err := recv.OnLoanReceived(ctx, p.addr, req.Assets, req.Amounts, fees, initiator, req.Params); err != nil {
		unwind()
		return err
	}

	// collect principal + fee for every asset, or undo the whole sequence
	for i, asset := range req.Assets {
		owed := new(big.Int).Add(req.Amounts[i], fees[i])
		if err := p.borrower.Debit(asset, owed); err != nil {
			unwind()
			return fmt.Errorf("%w: repayment shortfall on %s: %v", types.ErrCollaborator, asset.Hex(), err)
		}
		p.liquidity.Credit(asset, owed)
	}

	p.log.Debug("sim pool: loan settled", zap.Int("assets", len(req.Assets)))
	return nil
}
