package risk

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/types"
)

// registry is the monitored token set. Order is insertion order and it is
// load-bearing: the scanner's first-match policy walks tokens in exactly this
// order. There is no removal; blacklisting is the only way out, and it is
// logical, not physical.
type registry struct {
	ordered []types.TokenRef
	index   map[common.Address]int
}

func newRegistry() *registry {
	return &registry{index: make(map[common.Address]int, 16)}
}

func (r *registry) approve(symbol string, addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("%w: zero token address", types.ErrConfiguration)
	}
	if i, ok := r.index[addr]; ok {
		if r.ordered[i].Blacklisted {
			return fmt.Errorf("%w: token %s is blacklisted", types.ErrRiskRejected, addr.Hex())
		}
		if r.ordered[i].Approved {
			return fmt.Errorf("%w: token %s already approved", types.ErrRiskRejected, addr.Hex())
		}
		r.ordered[i].Approved = true
		return nil
	}
	r.index[addr] = len(r.ordered)
	r.ordered = append(r.ordered, types.TokenRef{Symbol: symbol, Addr: addr, Approved: true})
	return nil
}

func (r *registry) blacklist(addr common.Address) error {
	i, ok := r.index[addr]
	if !ok {
		return fmt.Errorf("%w: token %s not monitored", types.ErrRiskRejected, addr.Hex())
	}
	if r.ordered[i].Blacklisted {
		return fmt.Errorf("%w: token %s already blacklisted", types.ErrRiskRejected, addr.Hex())
	}
	// approved and blacklisted never hold together
	r.ordered[i].Approved = false
	r.ordered[i].Blacklisted = true
	return nil
}

func (r *registry) get(addr common.Address) (types.TokenRef, bool) {
	i, ok := r.index[addr]
	if !ok {
		return types.TokenRef{}, false
	}
	return r.ordered[i], true
}

func (r *registry) snapshot() []types.TokenRef {
	out := make([]types.TokenRef, len(r.ordered))
	copy(out, r.ordered)
	return out
}
