package treasury

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weth = common.BytesToAddress([]byte{0x01})

func TestCreditDebit(t *testing.T) {
	b := NewBook()

	b.Credit(weth, big.NewInt(100))
	assert.Equal(t, int64(100), b.Balance(weth).Int64())

	require.NoError(t, b.Debit(weth, big.NewInt(40)))
	assert.Equal(t, int64(60), b.Balance(weth).Int64())

	// a shortfall debit fails without effect
	err := b.Debit(weth, big.NewInt(100))
	require.Error(t, err)
	assert.Equal(t, int64(60), b.Balance(weth).Int64())
}

func TestCredit_IgnoresNonPositive(t *testing.T) {
	b := NewBook()
	b.Credit(weth, nil)
	b.Credit(weth, big.NewInt(0))
	b.Credit(weth, big.NewInt(-5))
	assert.Zero(t, b.Balance(weth).Int64())
}

func TestBalance_ReturnsCopy(t *testing.T) {
	b := NewBook()
	b.Credit(weth, big.NewInt(100))

	bal := b.Balance(weth)
	bal.SetInt64(0) // mutating the copy must not touch the book
	assert.Equal(t, int64(100), b.Balance(weth).Int64())
}

func TestSnapshotRestore(t *testing.T) {
	b := NewBook()
	b.Credit(weth, big.NewInt(100))

	snap := b.Snapshot()
	require.NoError(t, b.Debit(weth, big.NewInt(70)))
	b.Credit(common.BytesToAddress([]byte{0x02}), big.NewInt(9))

	b.Restore(snap)
	assert.Equal(t, int64(100), b.Balance(weth).Int64())
	assert.Zero(t, b.Balance(common.BytesToAddress([]byte{0x02})).Int64())
}

func TestConcurrentReaders(t *testing.T) {
	b := NewBook()
	b.Credit(weth, big.NewInt(1000))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.Balance(weth)
				_ = b.Snapshot()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			b.Credit(weth, big.NewInt(1))
			_ = b.Debit(weth, big.NewInt(1))
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(1000), b.Balance(weth).Int64())
}
