package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/you/flasharb/internal/api"
	"github.com/you/flasharb/internal/config"
	"github.com/you/flasharb/internal/dex/core"
	"github.com/you/flasharb/internal/dex/sim"
	"github.com/you/flasharb/internal/dex/univ3"
	"github.com/you/flasharb/internal/engine"
	"github.com/you/flasharb/internal/events"
	"github.com/you/flasharb/internal/execution"
	"github.com/you/flasharb/internal/ledger"
	"github.com/you/flasharb/internal/lending"
	"github.com/you/flasharb/internal/metrics"
	"github.com/you/flasharb/internal/multicall"
	"github.com/you/flasharb/internal/pricefeed"
	"github.com/you/flasharb/internal/risk"
	"github.com/you/flasharb/internal/scanner"
	"github.com/you/flasharb/internal/treasury"
	"github.com/you/flasharb/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMulticall3 = "0xcA11bde05977b3631167028862bE2a173976CA11"

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	logger, err := engine.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("flasharb exited", zap.Error(err))
	}
	logger.Info("flasharb finished")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// event sinks: zap always, redis when configured, memory for the API
	emitters := events.Fanout{events.LogEmitter{Log: logger}, events.NewMemory(256)}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
		})
		emitters = append(emitters, events.NewRedisEmitter(rdb, cfg.Redis.Stream, logger))
	}

	gate, err := risk.NewGate(cfg.API.OperatorToken, risk.Thresholds{
		GasPriceLimitWei:        gweiToWei(cfg.Risk.GasPriceLimitGwei),
		ProfitThresholdUSD:      cfg.Risk.ProfitThresholdUSD,
		SuperProfitThresholdUSD: cfg.Risk.SuperProfitThresholdUSD,
		LiquidityThresholdUSD:   cfg.Risk.LiquidityThresholdUSD,
	}, emitters)
	if err != nil {
		return err
	}

	op := cfg.API.OperatorToken
	for _, t := range cfg.AllTokens() {
		if err := gate.Approve(ctx, op, t.Symbol, common.HexToAddress(t.Addr)); err != nil {
			return fmt.Errorf("seed monitored set: %w", err)
		}
	}

	var sinks []ledger.Sink
	if rdb != nil {
		sinks = append(sinks, ledger.NewRedisSink(rdb, cfg.Redis.Stream+":trades", cfg.Redis.LedgerKey))
	}
	if cfg.Postgres.DSN != "" {
		pg, err := ledger.NewPostgresSink(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres sink: %w", err)
		}
		defer pg.Close()
		sinks = append(sinks, pg)
	}
	led := ledger.New(logger, sinks...)

	var (
		feed   *pricefeed.Feed
		gasOrc pricefeed.GasOracle
		venue  *core.Venue
		lender lending.Provider
		self   common.Address
	)

	base := types.TokenRef{Symbol: cfg.BaseToken.Symbol, Addr: common.HexToAddress(cfg.BaseToken.Addr)}
	stable := types.TokenRef{Symbol: cfg.StableToken.Symbol, Addr: common.HexToAddress(cfg.StableToken.Addr)}

	if cfg.DryRun {
		logger.Warn("DRY-RUN: simulated venue and lending pool, no real transactions")

		static := pricefeed.NewStaticSource(staticPrices(cfg))
		feed = pricefeed.New([]pricefeed.Source{static}, cfg.OracleMaxAge(), logger)
		gasOrc = pricefeed.NewStaticGasOracle(big.NewInt(1_000_000_000))

		book := treasury.NewBook()
		poolBook := treasury.NewBook()
		v := sim.NewVenue(book, 30, 0.5, cfg.Risk.LiquidityThresholdUSD*10+1_000_000)
		for a, px := range staticPrices(cfg) {
			v.SetPrice(a, px, cfg.DecimalsOf(a))
		}
		seedDryRunBooks(cfg, book, poolBook, base)
		venue = &core.Venue{ID: core.VenueSim, Quoter: v, Router: v}
		self = common.BytesToAddress([]byte("flasharb-dry-run"))
		lender = lending.NewSimPool(
			common.HexToAddress(cfg.Lending.Pool),
			cfg.Lending.FlashFeeBps, poolBook, book, logger,
		)
	} else {
		ec, err := ethclient.Dial(cfg.Chain.RPCHTTP)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}

		mcAddr := cfg.Oracles.Multicall
		if mcAddr == "" {
			mcAddr = defaultMulticall3
		}
		mc, err := multicall.New(ec, common.HexToAddress(mcAddr))
		if err != nil {
			return err
		}
		chainlink, err := pricefeed.NewChainlinkSource(mc, oracleFeeds(cfg))
		if err != nil {
			return err
		}
		sources := []pricefeed.Source{chainlink}
		if cfg.Oracles.WsURL != "" {
			ws := pricefeed.NewWSSource(cfg.Oracles.WsURL, wsSymbols(cfg), logger)
			go ws.Run(ctx)
			sources = append(sources, ws)
		}
		feed = pricefeed.New(sources, cfg.OracleMaxAge(), logger)
		gasOrc = pricefeed.NewEthGasOracle(ec)

		router, err := univ3.NewOnchainRouter(cfg, ec, logger)
		if err != nil {
			return err
		}
		nativeUSD := func(ctx context.Context) (float64, error) {
			return feed.PriceUSD(ctx, base.Addr)
		}
		quoter, err := univ3.NewOnchainQuoter(cfg, ec, nativeUSD, logger)
		if err != nil {
			return err
		}
		venue = &core.Venue{ID: core.VenueUniswapV3, Quoter: quoter, Router: router}
		self = router.Sender()

		receiver := common.HexToAddress(cfg.Lending.Receiver)
		if receiver == (common.Address{}) {
			return fmt.Errorf("%w: lending.receiver contract required outside dry-run", types.ErrConfiguration)
		}
		lender, err = lending.NewAavePool(cfg, ec, receiver, logger)
		if err != nil {
			return err
		}
	}

	scan := scanner.New(gate, feed, venue.Quoter, logger)
	exec := execution.NewExecutor(
		gate, feed, venue.Router, lender, led, emitters,
		self, base, stable, cfg.Risk.MaxSlippageBps, cfg.DecimalsOf, logger,
	)
	eng := engine.New(gate, scan, exec, gasOrc, emitters, cfg.AttemptTimeout(), logger)

	api.NewServer(eng, gate, led, gasOrc, logger).Serve(ctx, cfg.API.ListenAddr)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Timings.TriggerEveryMs > 0 {
		g.Go(func() error { return triggerLoop(ctx, cfg, eng, logger) })
	}
	logger.Info("flasharb started",
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("venue", string(venue.ID)),
		zap.Int("monitored", len(cfg.AllTokens())),
	)

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// triggerLoop fires scheduled attempts with the configured strategy. Each
// tick is an independent trigger; a busy engine just rejects it.
func triggerLoop(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *zap.Logger) error {
	flash := strings.EqualFold(cfg.Trade.Strategy, string(types.StrategyFlashloan))
	t := time.NewTicker(time.Duration(cfg.Timings.TriggerEveryMs) * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			var res engine.Result
			if flash {
				res = eng.TriggerFlashloan(ctx, cfg.API.OperatorToken, cfg.Trade.AmountUSD)
			} else {
				res = eng.TriggerDirect(ctx, cfg.API.OperatorToken, cfg.Trade.AmountUSD)
			}
			if res.Err != nil {
				logger.Warn("scheduled attempt errored", zap.String("attempt", res.Attempt), zap.Error(res.Err))
			}
		}
	}
}

// seedDryRunBooks funds the simulated treasuries: working capital in every
// monitored token so the direct path can trade straight out of the book, and
// deep base liquidity so flash loans never fail on the pool side.
func seedDryRunBooks(cfg *config.Config, book, poolBook *treasury.Book, base types.TokenRef) {
	for a := range staticPrices(cfg) {
		u := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.DecimalsOf(a))), nil)
		book.Credit(a, u.Mul(u, big.NewInt(1_000_000)))
	}
	poolBook.Credit(base.Addr, new(big.Int).Lsh(big.NewInt(1), 96))
}

func staticPrices(cfg *config.Config) map[common.Address]float64 {
	out := make(map[common.Address]float64, len(cfg.Tokens)+2)
	for _, t := range cfg.AllTokens() {
		px := t.PxUSD
		if px <= 0 {
			px = 1.0
		}
		out[common.HexToAddress(t.Addr)] = px
	}
	return out
}

// oracleFeeds maps token -> aggregator. Per-token oracles win; tokens without
// one are zipped against the global oracle list in order.
func oracleFeeds(cfg *config.Config) map[common.Address]common.Address {
	out := make(map[common.Address]common.Address, len(cfg.Tokens)+2)
	i := 0
	for _, t := range cfg.AllTokens() {
		switch {
		case t.Oracle != "":
			out[common.HexToAddress(t.Addr)] = common.HexToAddress(t.Oracle)
		case i < len(cfg.Oracles.Price):
			out[common.HexToAddress(t.Addr)] = common.HexToAddress(cfg.Oracles.Price[i])
			i++
		}
	}
	return out
}

func wsSymbols(cfg *config.Config) map[common.Address]string {
	out := make(map[common.Address]string, len(cfg.Tokens)+2)
	for _, t := range cfg.AllTokens() {
		if t.WsSymbol != "" {
			out[common.HexToAddress(t.Addr)] = t.WsSymbol
		}
	}
	return out
}

func gweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	out, _ := f.Int(nil)
	return out
}
