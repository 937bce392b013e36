package execution

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flasharb/internal/dex/sim"
	"github.com/you/flasharb/internal/events"
	"github.com/you/flasharb/internal/ledger"
	"github.com/you/flasharb/internal/lending"
	"github.com/you/flasharb/internal/pricefeed"
	"github.com/you/flasharb/internal/risk"
	"github.com/you/flasharb/internal/treasury"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

const operator = "test-operator"

var (
	baseAddr   = common.BytesToAddress([]byte{0xAA}) // loan funding asset
	outAddr    = common.BytesToAddress([]byte{0xBB})
	stableAddr = common.BytesToAddress([]byte{0xCC})
	selfAddr   = common.BytesToAddress([]byte{0xEE})
	poolAddr   = common.BytesToAddress([]byte{0xFF})
)

var (
	baseRef   = types.TokenRef{Symbol: "WETH", Addr: baseAddr}
	outRef    = types.TokenRef{Symbol: "TOK", Addr: outAddr}
	stableRef = types.TokenRef{Symbol: "USDC", Addr: stableAddr}
)

type fixture struct {
	gate   *risk.Gate
	feed   *pricefeed.Feed
	venue  *sim.Venue
	book   *treasury.Book // executor's balances
	pool   *treasury.Book // lending pool liquidity
	lender *lending.SimPool
	led    *ledger.Ledger
	mem    *events.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := events.NewMemory(64)
	gate, err := risk.NewGate(operator, risk.Thresholds{
		ProfitThresholdUSD:      1.0,
		SuperProfitThresholdUSD: 5.0,
	}, mem)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gate.Approve(ctx, operator, "WETH", baseAddr))
	require.NoError(t, gate.Approve(ctx, operator, "TOK", outAddr))
	require.NoError(t, gate.Approve(ctx, operator, "USDC", stableAddr))

	static := pricefeed.NewStaticSource(map[common.Address]float64{
		baseAddr: 1.0, outAddr: 1.0, stableAddr: 1.0,
	})
	feed := pricefeed.New([]pricefeed.Source{static}, time.Minute, zap.NewNop())

	book := treasury.NewBook()
	pool := treasury.NewBook()
	pool.Credit(baseAddr, units(1_000_000)) // deep pool

	venue := sim.NewVenue(book, 0, 0.5, 1_000_000)
	venue.SetPrice(baseAddr, 1.0, 18)
	venue.SetPrice(outAddr, 1.0, 18)
	venue.SetPrice(stableAddr, 1.0, 18)

	return &fixture{
		gate:   gate,
		feed:   feed,
		venue:  venue,
		book:   book,
		pool:   pool,
		lender: lending.NewSimPool(poolAddr, 100, pool, book, zap.NewNop()), // 1% flash fee
		led:    ledger.New(zap.NewNop()),
		mem:    mem,
	}
}

func (f *fixture) executor() *Executor {
	return NewExecutor(f.gate, f.feed, f.venue, f.lender, f.led, f.mem,
		selfAddr, baseRef, stableRef, 50, nil, zap.NewNop())
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func opp(amountUSD, quotedOutUSD float64) *types.Opportunity {
	return &types.Opportunity{
		TokenIn:           baseRef,
		TokenOut:          outRef,
		AmountUSD:         amountUSD,
		QuotedOutUSD:      quotedOutUSD,
		GasUSD:            0.5,
		ExpectedProfitUSD: quotedOutUSD - amountUSD - 0.5,
		FeeTier:           3000,
		Ts:                time.Now(),
	}
}

func TestExecuteDirect_Settles(t *testing.T) {
	f := newFixture(t)
	f.venue.SetPrice(baseAddr, 1.05, 18) // venue pays 5% over oracle parity
	f.book.Credit(baseAddr, units(1000))
	e := f.executor()

	rec, err := e.ExecuteDirect(context.Background(), "a1", opp(100, 105))
	require.NoError(t, err)

	assert.Equal(t, types.StrategyDirect, rec.Strategy)
	assert.InDelta(t, 4.5, rec.ProfitUSD, 0.01) // 105 - 100 - 0.5 gas
	assert.False(t, rec.Super)
	assert.NotEmpty(t, rec.TxHash)
	assert.InDelta(t, 4.5, f.led.TotalUSD(), 0.01)
	assert.Len(t, f.mem.ByType(events.TradeExecuted), 1)
}

func TestExecuteDirect_IneligibleToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gate.Blacklist(context.Background(), operator, outAddr))
	e := f.executor()

	_, err := e.ExecuteDirect(context.Background(), "a1", opp(100, 105))
	assert.ErrorIs(t, err, types.ErrRiskRejected)
	assert.Zero(t, f.led.TotalUSD())
}

func TestExecuteDirect_SlippageRefusesThinFill(t *testing.T) {
	f := newFixture(t)
	// quoted 105 but the venue only pays parity: fill below min-out must fail
	f.book.Credit(baseAddr, units(1000))
	e := f.executor()

	_, err := e.ExecuteDirect(context.Background(), "a1", opp(100, 105))
	assert.ErrorIs(t, err, types.ErrCollaborator)
	assert.Zero(t, f.led.TotalUSD())
	assert.Empty(t, f.mem.ByType(events.TradeExecuted))
}

func TestExecuteDirect_Superprofit(t *testing.T) {
	f := newFixture(t)
	f.venue.SetPrice(baseAddr, 1.07, 18) // 107 - 100 - 0.5 = 6.5, over the 5.0 bar
	f.book.Credit(baseAddr, units(1000))
	e := f.executor()

	rec, err := e.ExecuteDirect(context.Background(), "a1", opp(100, 107))
	require.NoError(t, err)
	assert.True(t, rec.Super)
	assert.InDelta(t, 6.5, rec.ProfitUSD, 0.01)
	assert.InDelta(t, 6.5, f.led.TotalUSD(), 0.01)

	// conversion event precedes the settlement event
	evs := f.mem.All()
	var idxConv, idxExec int = -1, -1
	for i, ev := range evs {
		switch ev.Type {
		case events.SuperProfitConverted:
			idxConv = i
		case events.TradeExecuted:
			idxExec = i
		}
	}
	require.NotEqual(t, -1, idxConv)
	require.NotEqual(t, -1, idxExec)
	assert.Less(t, idxConv, idxExec)
}

func TestExecuteDirect_ZeroSuperThresholdStillConverts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gate.SetThresholds(context.Background(), operator, risk.Thresholds{}))
	f.venue.SetPrice(baseAddr, 1.02, 18) // 102 - 100 - 0.5 = 1.5, over a zero bar
	f.book.Credit(baseAddr, units(1000))
	e := f.executor()

	rec, err := e.ExecuteDirect(context.Background(), "a1", opp(100, 102))
	require.NoError(t, err)
	assert.True(t, rec.Super)
	assert.InDelta(t, 1.5, rec.ProfitUSD, 0.01)
	assert.Len(t, f.mem.ByType(events.SuperProfitConverted), 1)
}

func TestExecuteDirect_SuperprofitConversionFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.venue.SetPrice(baseAddr, 1.07, 18)
	f.book.Credit(baseAddr, units(1000))

	// the stable leg has no venue price, so the conversion swap fails
	unknownStable := types.TokenRef{Symbol: "DAI", Addr: common.BytesToAddress([]byte{0xDD})}
	require.NoError(t, f.gate.Approve(context.Background(), operator, "DAI", unknownStable.Addr))
	f.feed = pricefeed.New([]pricefeed.Source{pricefeed.NewStaticSource(map[common.Address]float64{
		baseAddr: 1.0, outAddr: 1.0, unknownStable.Addr: 1.0,
	})}, time.Minute, zap.NewNop())

	e := NewExecutor(f.gate, f.feed, f.venue, f.lender, f.led, f.mem,
		selfAddr, baseRef, unknownStable, 50, nil, zap.NewNop())

	rec, err := e.ExecuteDirect(context.Background(), "a1", opp(100, 107))
	require.NoError(t, err)
	assert.False(t, rec.Super) // conversion failed, settlement still stands
	assert.InDelta(t, 6.5, f.led.TotalUSD(), 0.01)
	assert.Empty(t, f.mem.ByType(events.SuperProfitConverted))
	assert.Len(t, f.mem.ByType(events.TradeExecuted), 1)
}

func TestExecuteFlashloan_RequiresBaseFunding(t *testing.T) {
	f := newFixture(t)
	e := f.executor()

	o := opp(100, 105)
	o.TokenIn = outRef // not the base asset
	_, err := e.ExecuteFlashloan(context.Background(), "a1", o)
	assert.ErrorIs(t, err, types.ErrRiskRejected)
}

func TestExecuteFlashloan_RepaymentShortfallFailsClosed(t *testing.T) {
	f := newFixture(t)
	// parity venue: the round trip returns exactly the principal, which cannot
	// cover principal plus the 1% premium
	f.book.Credit(baseAddr, units(10))
	e := f.executor()

	poolBefore := f.pool.Balance(baseAddr)
	bookBefore := f.book.Balance(baseAddr)

	_, err := e.ExecuteFlashloan(context.Background(), "a1", opp(100, 105))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCollaborator)

	// nothing settled and both books are back to their pre-loan state
	assert.Zero(t, f.led.TotalUSD())
	assert.Empty(t, f.mem.ByType(events.TradeExecuted))
	assert.Zero(t, f.pool.Balance(baseAddr).Cmp(poolBefore))
	assert.Zero(t, f.book.Balance(baseAddr).Cmp(bookBefore))
}

// scriptedRouter plays back fixed outputs per swap so the profitable flash
// round trip can be exercised without a price gap the sim venue cannot model.
type scriptedRouter struct {
	outs []*big.Int
	call int
}

func (r *scriptedRouter) SwapExactInput(_ context.Context, _, _ common.Address, _, minOut *big.Int, _ uint32) (*big.Int, string, error) {
	if r.call >= len(r.outs) {
		return nil, "", fmt.Errorf("unexpected swap %d", r.call)
	}
	out := r.outs[r.call]
	r.call++
	if out.Cmp(minOut) < 0 {
		return nil, "", fmt.Errorf("output %s below minimum %s", out, minOut)
	}
	return out, fmt.Sprintf("scripted-%d", r.call), nil
}

func TestExecuteFlashloan_Settles(t *testing.T) {
	f := newFixture(t)
	// borrow 100, swap out and back for 107; owed is 101, leaving 6 profit
	router := &scriptedRouter{outs: []*big.Int{units(100), units(107)}}
	f.book.Credit(baseAddr, units(10)) // working capital covering the premium

	// stable == base: settlement skips the conversion swap
	e := NewExecutor(f.gate, f.feed, router, f.lender, f.led, f.mem,
		selfAddr, baseRef, baseRef, 50, nil, zap.NewNop())

	rec, err := e.ExecuteFlashloan(context.Background(), "a1", opp(100, 107))
	require.NoError(t, err)

	assert.Equal(t, types.StrategyFlashloan, rec.Strategy)
	assert.InDelta(t, 6.0, rec.ProfitUSD, 0.01)
	assert.True(t, rec.Super) // 6 > 5 superprofit bar
	assert.InDelta(t, 6.0, f.led.TotalUSD(), 0.01)
	assert.Len(t, f.mem.ByType(events.SuperProfitConverted), 1)
	assert.Len(t, f.mem.ByType(events.TradeExecuted), 1)

	// pool collected principal + 1% premium
	assert.Zero(t, f.pool.Balance(baseAddr).Cmp(new(big.Int).Add(units(1_000_000), units(1))))
}

func TestOnLoanReceived_RejectsUnknownCaller(t *testing.T) {
	f := newFixture(t)
	e := f.executor()

	err := e.OnLoanReceived(context.Background(), common.BytesToAddress([]byte{0x01}),
		[]common.Address{baseAddr}, []*big.Int{units(1)}, []*big.Int{big.NewInt(0)}, selfAddr, nil)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestOnLoanReceived_RejectsForeignInitiator(t *testing.T) {
	f := newFixture(t)
	e := f.executor()

	err := e.OnLoanReceived(context.Background(), poolAddr,
		[]common.Address{baseAddr}, []*big.Int{units(1)}, []*big.Int{big.NewInt(0)},
		common.BytesToAddress([]byte{0x02}), nil)
	assert.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestOnLoanReceived_RejectsUnexpectedShape(t *testing.T) {
	f := newFixture(t)
	e := f.executor()

	err := e.OnLoanReceived(context.Background(), poolAddr,
		[]common.Address{baseAddr, outAddr},
		[]*big.Int{units(1), units(1)},
		[]*big.Int{big.NewInt(0), big.NewInt(0)}, selfAddr, nil)
	assert.ErrorIs(t, err, types.ErrCollaborator)
}
