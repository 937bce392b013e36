package pricefeed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

var weth = common.BytesToAddress([]byte{0x01})

// fixedSource serves one canned observation for every token.
type fixedSource struct {
	px  Price
	err error
}

func (s fixedSource) Latest(context.Context, common.Address) (Price, error) {
	return s.px, s.err
}

func TestPriceUSD_FirstValidSourceWins(t *testing.T) {
	f := New([]Source{
		fixedSource{err: fmt.Errorf("backend down")},
		fixedSource{px: Price{Value: 2000, Ts: time.Now()}},
		fixedSource{px: Price{Value: 9999, Ts: time.Now()}}, // never reached
	}, time.Minute, zap.NewNop())

	px, err := f.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, px)
}

func TestPriceUSD_RejectsNonPositive(t *testing.T) {
	f := New([]Source{
		fixedSource{px: Price{Value: 0, Ts: time.Now()}},
		fixedSource{px: Price{Value: -3, Ts: time.Now()}},
	}, time.Minute, zap.NewNop())

	_, err := f.PriceUSD(context.Background(), weth)
	assert.ErrorIs(t, err, types.ErrOracleInvalid)
}

func TestPriceUSD_RejectsStale(t *testing.T) {
	f := New([]Source{
		fixedSource{px: Price{Value: 2000, Ts: time.Now().Add(-2 * time.Minute)}},
	}, time.Minute, zap.NewNop())

	_, err := f.PriceUSD(context.Background(), weth)
	assert.ErrorIs(t, err, types.ErrOracleInvalid)
}

func TestPriceUSD_StaleFallsThroughToFresherSource(t *testing.T) {
	f := New([]Source{
		fixedSource{px: Price{Value: 2000, Ts: time.Now().Add(-time.Hour)}},
		fixedSource{px: Price{Value: 1990, Ts: time.Now()}},
	}, time.Minute, zap.NewNop())

	px, err := f.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.Equal(t, 1990.0, px)
}

func TestPriceUSD_NoSources(t *testing.T) {
	f := New(nil, time.Minute, zap.NewNop())

	_, err := f.PriceUSD(context.Background(), weth)
	assert.ErrorIs(t, err, types.ErrOracleInvalid)
}

func TestPriceUSD_ZeroMaxAgeDisablesStalenessCheck(t *testing.T) {
	f := New([]Source{
		fixedSource{px: Price{Value: 2000, Ts: time.Now().Add(-time.Hour)}},
	}, 0, zap.NewNop())

	px, err := f.PriceUSD(context.Background(), weth)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, px)
}

func TestStaticSource(t *testing.T) {
	s := NewStaticSource(map[common.Address]float64{weth: 1234.5})

	px, err := s.Latest(context.Background(), weth)
	require.NoError(t, err)
	assert.Equal(t, 1234.5, px.Value)

	_, err = s.Latest(context.Background(), common.BytesToAddress([]byte{0x09}))
	assert.Error(t, err)

	s.Set(weth, 1300)
	px, err = s.Latest(context.Background(), weth)
	require.NoError(t, err)
	assert.Equal(t, 1300.0, px.Value)
}
