// oraclecheck is a one-shot diagnostic: reads every configured price oracle
// through multicall and checks which Uniswap V3 fee tiers have a pool against
// the stable token. Run it before pointing the executor at a new chain.
package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/you/flasharb/internal/config"
	"github.com/you/flasharb/internal/dex/univ3"
	"github.com/you/flasharb/internal/multicall"
	"github.com/you/flasharb/internal/pricefeed"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	tiersStr := flag.String("tiers", "", "fee tiers to test, comma-separated (default: config fee tiers)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
	if err != nil {
		panic(err)
	}
	defer ec.Close()

	fmt.Printf("RPC:    %s\n", cfg.Chain.RPCHTTP)
	fmt.Printf("Quoter: %s\n", cfg.DEX.QuoterV2)
	fmt.Printf("Stable: %s (%s)\n\n", cfg.StableToken.Symbol, cfg.StableToken.Addr)

	checkOracles(ctx, cfg, ec)
	checkPools(ctx, cfg, parseTiers(*tiersStr, cfg.DEX.FeeTiers))
}

func checkOracles(ctx context.Context, cfg *config.Config, ec *ethclient.Client) {
	mcAddr := cfg.Oracles.Multicall
	if mcAddr == "" {
		mcAddr = "0xcA11bde05977b3631167028862bE2a173976CA11"
	}
	mc, err := multicall.New(ec, common.HexToAddress(mcAddr))
	if err != nil {
		panic(err)
	}

	feeds := make(map[common.Address]common.Address)
	for _, t := range cfg.AllTokens() {
		if t.Oracle != "" {
			feeds[common.HexToAddress(t.Addr)] = common.HexToAddress(t.Oracle)
		}
	}
	if len(feeds) == 0 {
		fmt.Println("no per-token oracles configured, skipping oracle check")
		return
	}

	src, err := pricefeed.NewChainlinkSource(mc, feeds)
	if err != nil {
		panic(err)
	}
	if err := src.Refresh(ctx); err != nil {
		fmt.Printf("oracle refresh failed: %v\n", err)
		return
	}

	for _, t := range cfg.AllTokens() {
		if t.Oracle == "" {
			fmt.Printf("%-10s no oracle\n", t.Symbol)
			continue
		}
		px, err := src.Latest(ctx, common.HexToAddress(t.Addr))
		if err != nil {
			fmt.Printf("%-10s oracle error: %v\n", t.Symbol, err)
			continue
		}
		fmt.Printf("%-10s $%.6f  (age %s)\n", t.Symbol, px.Value, time.Since(px.Ts).Round(time.Second))
	}
	fmt.Println()
}

func checkPools(ctx context.Context, cfg *config.Config, tiers []uint32) {
	stable := common.HexToAddress(cfg.StableToken.Addr)
	fmt.Printf("Testing tiers: %v\n", tiers)

	for _, t := range cfg.AllTokens() {
		addr := common.HexToAddress(t.Addr)
		if addr == stable {
			continue
		}
		present, pools, err := univ3.CheckFeeTiers(ctx, cfg.Chain.RPCHTTP, addr, stable, tiers)
		if err != nil {
			fmt.Printf("%-10s error: %v\n", t.Symbol, err)
			continue
		}
		if len(present) == 0 {
			fmt.Printf("%-10s no pools on given tiers\n", t.Symbol)
			continue
		}
		fmt.Printf("%-10s tiers: %v", t.Symbol, present)
		for _, f := range present {
			fmt.Printf("  [fee=%d] %s", f, pools[f].Hex())
		}
		fmt.Println()
	}
}

func parseTiers(s string, fallback []uint32) []uint32 {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	var out []uint32
	for _, p := range strings.Split(s, ",") {
		var v uint32
		fmt.Sscanf(strings.TrimSpace(p), "%d", &v)
		if v > 0 {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
