// Package api is the operator surface: read endpoints for the current risk
// configuration, ledger and token sets, and command endpoints for triggers
// and risk mutations. Commands carry the operator bearer token; the token is
// forwarded as the credential, so authorization lives in one place (the risk
// gate), not here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flasharb/internal/engine"
	"github.com/you/flasharb/internal/ledger"
	"github.com/you/flasharb/internal/pricefeed"
	"github.com/you/flasharb/internal/risk"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
)

type Server struct {
	eng  *engine.Engine
	gate *risk.Gate
	led  *ledger.Ledger
	gas  pricefeed.GasOracle
	log  *zap.Logger
}

func NewServer(eng *engine.Engine, gate *risk.Gate, led *ledger.Ledger, gas pricefeed.GasOracle, log *zap.Logger) *Server {
	return &Server{eng: eng, gate: gate, led: led, gas: gas, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /tokens", s.handleTokens)
	mux.HandleFunc("GET /ledger", s.handleLedger)

	mux.HandleFunc("POST /trigger/direct", s.handleTrigger(types.StrategyDirect))
	mux.HandleFunc("POST /trigger/flashloan", s.handleTrigger(types.StrategyFlashloan))
	mux.HandleFunc("POST /pause", s.handlePause(true))
	mux.HandleFunc("POST /unpause", s.handlePause(false))
	mux.HandleFunc("POST /tokens/approve", s.handleApprove)
	mux.HandleFunc("POST /tokens/blacklist", s.handleBlacklist)
	mux.HandleFunc("POST /thresholds", s.handleThresholds)

	return mux
}

// Serve runs the operator server until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) {
	if addr == "" {
		s.log.Info("operator api disabled: empty addr")
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.log.Info("operator api starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("operator api error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func credential(r *http.Request) string {
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, types.ErrRiskRejected):
		code = http.StatusConflict
	case errors.Is(err, types.ErrConfiguration):
		code = http.StatusBadRequest
	case errors.Is(err, types.ErrOracleInvalid), errors.Is(err, types.ErrCollaborator):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	th := s.gate.Thresholds()
	gasLimit := ""
	if th.GasPriceLimitWei != nil {
		gasLimit = th.GasPriceLimitWei.String()
	}
	// live oracle read, not the value cached by the last attempt
	gp, err := s.gas.GasPrice(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":                      s.eng.State().String(),
		"paused":                     s.gate.Paused(),
		"gas_price_wei":              gp.String(),
		"gas_price_limit_wei":        gasLimit,
		"profit_threshold_usd":       th.ProfitThresholdUSD,
		"super_profit_threshold_usd": th.SuperProfitThresholdUSD,
		"liquidity_threshold_usd":    th.LiquidityThresholdUSD,
		"ledger_total_usd":           s.led.TotalUSD(),
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, _ *http.Request) {
	type tok struct {
		Symbol      string `json:"symbol"`
		Addr        string `json:"addr"`
		Approved    bool   `json:"approved"`
		Blacklisted bool   `json:"blacklisted"`
	}
	set := s.gate.Monitored()
	out := make([]tok, 0, len(set))
	for _, t := range set {
		out = append(out, tok{t.Symbol, t.Addr.Hex(), t.Approved, t.Blacklisted})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_usd": s.led.TotalUSD(),
		"recent":    s.led.Recent(20),
	})
}

func (s *Server) handleTrigger(strategy types.Strategy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AmountUSD float64 `json:"amount_usd"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
			return
		}

		var res engine.Result
		if strategy == types.StrategyFlashloan {
			res = s.eng.TriggerFlashloan(r.Context(), credential(r), body.AmountUSD)
		} else {
			res = s.eng.TriggerDirect(r.Context(), credential(r), body.AmountUSD)
		}

		if res.Err != nil {
			writeErr(w, res.Err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"attempt": res.Attempt,
			"settled": res.Settled,
			"reason":  res.Reason,
			"profit":  res.Receipt.ProfitUSD,
			"tx":      res.Receipt.TxHash,
		})
	}
}

func (s *Server) handlePause(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		if pause {
			err = s.gate.Pause(r.Context(), credential(r))
		} else {
			err = s.gate.Unpause(r.Context(), credential(r))
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"paused": pause})
	}
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Symbol string `json:"symbol"`
		Addr   string `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !common.IsHexAddress(body.Addr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad token address"})
		return
	}
	if err := s.gate.Approve(r.Context(), credential(r), body.Symbol, common.HexToAddress(body.Addr)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"approved": body.Addr})
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Addr string `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !common.IsHexAddress(body.Addr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad token address"})
		return
	}
	if err := s.gate.Blacklist(r.Context(), credential(r), common.HexToAddress(body.Addr)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"blacklisted": body.Addr})
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GasPriceLimitWei        string  `json:"gas_price_limit_wei"`
		ProfitThresholdUSD      float64 `json:"profit_threshold_usd"`
		SuperProfitThresholdUSD float64 `json:"super_profit_threshold_usd"`
		LiquidityThresholdUSD   float64 `json:"liquidity_threshold_usd"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	th := risk.Thresholds{
		ProfitThresholdUSD:      body.ProfitThresholdUSD,
		SuperProfitThresholdUSD: body.SuperProfitThresholdUSD,
		LiquidityThresholdUSD:   body.LiquidityThresholdUSD,
	}
	if body.GasPriceLimitWei != "" {
		limit, ok := new(big.Int).SetString(body.GasPriceLimitWei, 10)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad gas price limit"})
			return
		}
		th.GasPriceLimitWei = limit
	}

	if err := s.gate.SetThresholds(r.Context(), credential(r), th); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"thresholds": "updated"})
}
