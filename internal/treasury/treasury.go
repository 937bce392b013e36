// Package treasury is the in-process balance book used when the executor
// runs against simulated collaborators. One attempt at a time mutates it;
// the lock only protects concurrent readers (API, metrics).
package treasury

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type Book struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

func NewBook() *Book {
	return &Book{balances: make(map[common.Address]*big.Int, 8)}
}

func (b *Book) Balance(asset common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.balances[asset]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (b *Book) Credit(asset common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.balances[asset]
	if !ok {
		cur = big.NewInt(0)
		b.balances[asset] = cur
	}
	cur.Add(cur, amount)
}

// Debit removes amount from the asset balance, failing without effect when
// the balance does not cover it.
func (b *Book) Debit(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bad debit amount")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.balances[asset]
	if !ok || cur.Cmp(amount) < 0 {
		have := big.NewInt(0)
		if ok {
			have = cur
		}
		return fmt.Errorf("insufficient %s: have %s, need %s", asset.Hex(), have, amount)
	}
	cur.Sub(cur, amount)
	return nil
}

// Snapshot captures every balance so a failed attempt can be unwound exactly.
func (b *Book) Snapshot() map[common.Address]*big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[common.Address]*big.Int, len(b.balances))
	for a, v := range b.balances {
		out[a] = new(big.Int).Set(v)
	}
	return out
}

func (b *Book) Restore(snap map[common.Address]*big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = make(map[common.Address]*big.Int, len(snap))
	for a, v := range snap {
		b.balances[a] = new(big.Int).Set(v)
	}
}
