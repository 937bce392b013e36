// Package lending defines the flash-loan collaborator surface. The provider
// lends, invokes the receiver exactly once mid-sequence, and the sequence
// either ends with principal plus fee made available for every asset or it is
// undone entirely.
package lending

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/types"
)

// Receiver is the single callback entry point the provider invokes while the
// borrowed funds are held. Returning an error aborts the loan and the whole
// atomic sequence with it.
type Receiver interface {
	OnLoanReceived(ctx context.Context, caller common.Address, assets []common.Address, amounts, fees []*big.Int, initiator common.Address, params []byte) error
}

type Provider interface {
	// Addr is the identity the receiver must see as the callback caller.
	Addr() common.Address
	// FlashLoan lends req.Amounts of req.Assets to the receiver. It returns
	// nil only when the receiver succeeded and repayment was collected in
	// full; any other outcome leaves no residual debt and no transfer.
	FlashLoan(ctx context.Context, req types.FlashLoanRequest, recv Receiver, initiator common.Address) error
}
