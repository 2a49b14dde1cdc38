// Polytrader — an automated trading bot for Polymarket binary prediction
// markets. It scans listed markets, evaluates them with pluggable
// probability-estimation strategies, sizes and places orders under strict
// risk limits, tracks every order through its fill lifecycle, and exits
// positions via take-profit / stop-loss / trailing-stop / timeout rules.
//
// Architecture:
//
//	main.go              — entry point: subcommand dispatch, config, signals
//	engine/engine.go     — orchestrator: scan → signal → gate → place → monitor
//	strategy/*.go        — momentum, arbitrage, value_sports, mean_reversion,
//	                       favorites/underdogs signal generators + dispatcher
//	tracker/tracker.go   — polls order status; fills become positions only
//	                       once the exchange confirms them
//	autoorder/engine.go  — TP/SL/trailing/OCO exit triggers + monitor loop
//	risk/manager.go      — sizing, spread guard, kill switch, circuit breakers
//	portfolio/...        — in-memory positions + realized P&L, store-mirrored
//	market/scanner.go    — category fetch, resolution-window/liquidity filter
//	exchange/client.go   — REST client for the CLOB + Gamma APIs
//	exchange/auth.go     — L1 (EIP-712) and L2 (HMAC) authentication
//	store/store.go       — SQLite persistence for all durable state
//
// Modes:
//
//	trader scan        one-shot market listing (read-only)
//	trader track       periodic price polling with move alerts
//	trader portfolio   position and P&L summary
//	trader arbitrage   one-shot arbitrage scan
//	trader trade       the full trading loop (default)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"polytrader/internal/api"
	"polytrader/internal/config"
	"polytrader/internal/engine"
	"polytrader/internal/exchange"
	"polytrader/internal/market"
	"polytrader/internal/oddsapi"
	"polytrader/internal/portfolio"
	"polytrader/internal/store"
	"polytrader/internal/strategy"
	"polytrader/pkg/types"
)

func main() {
	mode := "trade"
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		mode = os.Args[1]
	}

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	var code int
	switch mode {
	case "scan":
		code = runScan(cfg, logger)
	case "track":
		code = runTrack(cfg, logger)
	case "portfolio":
		code = runPortfolio(cfg, logger)
	case "arbitrage":
		code = runArbitrage(cfg, logger)
	case "trade":
		code = runTrade(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\nusage: trader [scan|track|portfolio|arbitrage|trade]\n", mode)
		code = 2
	}
	os.Exit(code)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// readOnlyClient builds an exchange client without trading credentials.
// Read surfaces (books, midpoints, market listings) work without a wallet.
func readOnlyClient(cfg *config.Config, logger *slog.Logger) *exchange.Client {
	auth, err := exchange.NewAuth(*cfg)
	if err != nil {
		auth = nil
	}
	return exchange.NewClient(*cfg, auth, logger)
}

// runScan prints a one-shot ranked market listing.
func runScan(cfg *config.Config, logger *slog.Logger) int {
	client := readOnlyClient(cfg, logger)
	scanner := market.NewScanner(client, cfg.Scanner, logger)

	result, err := scanner.Scan(context.Background())
	if err != nil {
		logger.Error("scan failed", "error", err)
		return 1
	}

	fmt.Printf("%-40s %-6s %-6s %12s %12s %s\n", "MARKET", "YES", "NO", "VOLUME", "LIQUIDITY", "ENDS")
	for _, rm := range result.Markets {
		m := rm.Market
		fmt.Printf("%-40s %-6.2f %-6.2f %12.0f %12.0f %s\n",
			truncate(m.Question, 40), m.PriceYes, m.PriceNo, m.Volume, m.Liquidity, m.EndDate.Format("2006-01-02"))
	}
	fmt.Printf("\n%d markets after filters\n", len(result.Markets))
	return 0
}

// runTrack polls prices for the filtered universe and prints moves above
// one percent between polls. Runs until interrupted.
func runTrack(cfg *config.Config, logger *slog.Logger) int {
	client := readOnlyClient(cfg, logger)
	scanner := market.NewScanner(client, cfg.Scanner, logger)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := cfg.Scanner.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}

	last := make(map[string]float64)
	for {
		result, err := scanner.Scan(ctx)
		if err == nil {
			now := time.Now()
			for _, rm := range result.Markets {
				m := rm.Market
				if err := st.AppendSnapshot(types.PriceSnapshot{
					TokenID: m.YesTokenID, Timestamp: now, PriceYes: m.PriceYes, PriceNo: m.PriceNo,
				}); err != nil {
					logger.Warn("append snapshot", "error", err)
				}
				if prev, ok := last[m.YesTokenID]; ok && prev > 0 {
					movePct := (m.PriceYes - prev) / prev * 100
					if movePct >= 1 || movePct <= -1 {
						fmt.Printf("[%s] MOVE %+.1f%%  %s  %.2f → %.2f\n",
							now.Format("15:04:05"), movePct, truncate(m.Question, 50), prev, m.PriceYes)
					}
				}
				last[m.YesTokenID] = m.PriceYes
			}
		}

		select {
		case <-ctx.Done():
			return 0
		case <-time.After(interval):
		}
	}
}

// runPortfolio prints open positions and P&L from the store.
func runPortfolio(cfg *config.Config, logger *slog.Logger) int {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer st.Close()

	pf, err := portfolio.New(st, logger, cfg.Risk.MaxTotalExposure, cfg.Risk.MaxTradeSize)
	if err != nil {
		logger.Error("load portfolio", "error", err)
		return 1
	}

	positions := pf.Snapshot()
	if len(positions) == 0 {
		fmt.Println("no open positions")
	}
	for _, p := range positions {
		fmt.Printf("%-40s %-4s %8.2f @ %.3f  now %.3f  upnl %+.2f\n",
			truncate(p.MarketQuestion, 40), p.Side, p.Size, p.AvgEntryPrice, p.CurrentPrice, p.UnrealizedPnL())
	}
	fmt.Printf("\nexposure:   $%.2f\n", pf.GetTotalExposure())
	fmt.Printf("unrealized: $%+.2f\n", pf.GetTotalUnrealizedPnL())
	fmt.Printf("realized:   $%+.2f\n", pf.RealizedPnL())
	for _, w := range pf.CheckRiskLimits() {
		fmt.Printf("WARNING: %s\n", w)
	}
	return 0
}

// runArbitrage performs a one-shot arbitrage sweep over the scan universe.
func runArbitrage(cfg *config.Config, logger *slog.Logger) int {
	client := readOnlyClient(cfg, logger)
	scanner := market.NewScanner(client, cfg.Scanner, logger)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer st.Close()

	ctx := context.Background()
	result, err := scanner.Scan(ctx)
	if err != nil {
		logger.Error("scan failed", "error", err)
		return 1
	}
	markets := make([]types.Market, 0, len(result.Markets))
	for _, rm := range result.Markets {
		markets = append(markets, rm.Market)
	}

	odds := oddsapi.NewClient(cfg.Odds, logger)
	strat := strategy.NewEngine(st, client, odds, cfg.Strategy, logger)
	signals := strat.FindSignals(ctx, markets, []types.StrategyName{types.StrategyArbitrage}, 0, 0)

	if len(signals) == 0 {
		fmt.Println("no arbitrage opportunities")
		return 0
	}
	for _, s := range signals {
		fmt.Printf("ARB %5.2f%%  %-50s  %s\n", s.EdgePct, truncate(s.Market.Question, 50), s.Reason)
	}
	return 0
}

// runTrade starts the full trading loop and blocks until SIGINT/SIGTERM.
func runTrade(cfg *config.Config, logger *slog.Logger) int {
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return 1
	}

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		return 1
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		return 1
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("polytrader started",
		"strategies", cfg.Strategy.Enabled,
		"bankroll", cfg.Risk.Bankroll,
		"max_bet", cfg.Risk.MaxBetSize,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
	eng.Stop()
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
