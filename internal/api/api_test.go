package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flasharb/internal/dex/sim"
	"github.com/you/flasharb/internal/engine"
	"github.com/you/flasharb/internal/events"
	"github.com/you/flasharb/internal/execution"
	"github.com/you/flasharb/internal/ledger"
	"github.com/you/flasharb/internal/lending"
	"github.com/you/flasharb/internal/pricefeed"
	"github.com/you/flasharb/internal/risk"
	"github.com/you/flasharb/internal/scanner"
	"github.com/you/flasharb/internal/treasury"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

const operator = "test-operator"

var (
	baseAddr = common.BytesToAddress([]byte{0xAA})
	tokAddr  = common.BytesToAddress([]byte{0xBB})
)

func newTestServer(t *testing.T) (*httptest.Server, *sim.Venue, *ledger.Ledger, *pricefeed.StaticGasOracle) {
	t.Helper()
	mem := events.NewMemory(64)
	gate, err := risk.NewGate(operator, risk.Thresholds{
		ProfitThresholdUSD:      1.0,
		SuperProfitThresholdUSD: 5.0,
	}, mem)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gate.Approve(ctx, operator, "WETH", baseAddr))
	require.NoError(t, gate.Approve(ctx, operator, "TOK", tokAddr))

	static := pricefeed.NewStaticSource(map[common.Address]float64{baseAddr: 1.0, tokAddr: 1.0})
	feed := pricefeed.New([]pricefeed.Source{static}, time.Minute, zap.NewNop())

	book := treasury.NewBook()
	book.Credit(baseAddr, new(big.Int).Mul(big.NewInt(10_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))

	venue := sim.NewVenue(book, 0, 0.5, 1_000_000)
	venue.SetPrice(baseAddr, 1.0, 18)
	venue.SetPrice(tokAddr, 1.0, 18)

	led := ledger.New(zap.NewNop())
	baseRef := types.TokenRef{Symbol: "WETH", Addr: baseAddr}
	exec := execution.NewExecutor(gate, feed, venue,
		lending.NewSimPool(common.BytesToAddress([]byte{0xFF}), 100, treasury.NewBook(), book, zap.NewNop()),
		led, mem, common.BytesToAddress([]byte{0xEE}), baseRef, baseRef, 50, nil, zap.NewNop())
	scan := scanner.New(gate, feed, venue, zap.NewNop())
	gas := pricefeed.NewStaticGasOracle(big.NewInt(1))
	eng := engine.New(gate, scan, exec, gas, mem, 5*time.Second, zap.NewNop())

	srv := httptest.NewServer(NewServer(eng, gate, led, gas, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, venue, led, gas
}

func do(t *testing.T, method, url, token, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestStatus(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, out := do(t, http.MethodGet, srv.URL+"/status", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", out["state"])
	assert.Equal(t, false, out["paused"])
	assert.Equal(t, 1.0, out["profit_threshold_usd"])
	assert.Equal(t, "1", out["gas_price_wei"]) // fresh oracle read, not a cached value
}

func TestStatus_GasOracleDown(t *testing.T) {
	srv, _, _, gas := newTestServer(t)
	gas.Set(big.NewInt(0))

	resp, out := do(t, http.MethodGet, srv.URL+"/status", "", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, out["error"], "gas price")
}

func TestTrigger_Settles(t *testing.T) {
	srv, venue, led, _ := newTestServer(t)
	venue.SetPrice(baseAddr, 1.05, 18)

	resp, out := do(t, http.MethodPost, srv.URL+"/trigger/direct", operator, `{"amount_usd":100}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["settled"])
	assert.InDelta(t, 4.5, out["profit"].(float64), 0.01)
	assert.InDelta(t, 4.5, led.TotalUSD(), 0.01)
}

func TestTrigger_NoOpportunityIsOK(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, out := do(t, http.MethodPost, srv.URL+"/trigger/direct", operator, `{"amount_usd":100}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["settled"])
	assert.Contains(t, out["reason"], "no profitable opportunity")
}

func TestTrigger_Unauthorized(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/trigger/direct", "wrong", `{"amount_usd":100}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPauseUnpause(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/pause", operator, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, out := do(t, http.MethodGet, srv.URL+"/status", "", "")
	assert.Equal(t, true, out["paused"])

	resp, _ = do(t, http.MethodPost, srv.URL+"/unpause", operator, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokens_ApproveAndBlacklist(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	newTok := common.BytesToAddress([]byte{0xCC}).Hex()

	resp, _ := do(t, http.MethodPost, srv.URL+"/tokens/approve", operator,
		`{"symbol":"NEW","addr":"`+newTok+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// duplicate approval maps to 409
	resp, _ = do(t, http.MethodPost, srv.URL+"/tokens/approve", operator,
		`{"symbol":"NEW","addr":"`+newTok+`"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/tokens/blacklist", operator,
		`{"addr":"`+newTok+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/tokens", nil)
	require.NoError(t, err)
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer r.Body.Close()
	var toks []map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&toks))
	require.Len(t, toks, 3)
	assert.Equal(t, "NEW", toks[2]["symbol"]) // insertion order preserved
	assert.Equal(t, true, toks[2]["blacklisted"])
	assert.Equal(t, false, toks[2]["approved"])
}

func TestTokens_BadAddress(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/tokens/approve", operator,
		`{"symbol":"X","addr":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestThresholds(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	// invariant violation maps to 400
	resp, _ := do(t, http.MethodPost, srv.URL+"/thresholds", operator,
		`{"profit_threshold_usd":5,"super_profit_threshold_usd":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/thresholds", operator,
		`{"profit_threshold_usd":2,"super_profit_threshold_usd":10,"gas_price_limit_wei":"100000000000"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, out := do(t, http.MethodGet, srv.URL+"/status", "", "")
	assert.Equal(t, 2.0, out["profit_threshold_usd"])
	assert.Equal(t, "100000000000", out["gas_price_limit_wei"])
}
