// Package engine is the AutoTrader orchestrator: the scan-cycle loop that
// turns market data into positions.
//
// Per cycle it:
//
//  1. Fetches and filters markets in the configured categories (Scanner).
//  2. Records price snapshots for the strategy layer's history queries.
//  3. Asks the strategy engine for ranked, deduplicated signals.
//  4. Evaluates circuit breakers (may flip the kill switch).
//  5. Gates each signal (existing position, kill switch, spread, bet size,
//     intent idempotency) and submits entries through the auto-order engine.
//  6. Ticks exit-trigger evaluation and force-closes positions held too long.
//  7. Emits a status report.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop(). Start launches
// three workers: this scan loop, the order tracker's fill poller, and the
// auto-order monitor.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polytrader/internal/autoorder"
	"polytrader/internal/config"
	"polytrader/internal/exchange"
	"polytrader/internal/market"
	"polytrader/internal/oddsapi"
	"polytrader/internal/portfolio"
	"polytrader/internal/risk"
	"polytrader/internal/store"
	"polytrader/internal/strategy"
	"polytrader/internal/tracker"
	"polytrader/pkg/types"
)

// Report is the per-cycle status summary shown to the operator and served
// by the dashboard.
type Report struct {
	Cycle          int       `json:"cycle"`
	ScannedAt      time.Time `json:"scanned_at"`
	MarketsScanned int       `json:"markets_scanned"`
	SignalsFound   int       `json:"signals_found"`
	BetsPlaced     int       `json:"bets_placed"`
	OpenPositions  int       `json:"open_positions"`
	PendingFills   int       `json:"pending_fills"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	KillSwitch     bool      `json:"kill_switch"`
}

// Engine wires all subsystems and owns the main scan loop.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	client     *exchange.Client
	store      *store.Store
	portfolio  *portfolio.Portfolio
	scanner    *market.Scanner
	strategies *strategy.Engine
	trk        *tracker.Tracker
	auto       *autoorder.Engine
	riskMgr    *risk.Manager

	mu         sync.Mutex
	lastReport Report
	cycle      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all components. If L2 credentials are missing they
// are derived via L1 auth; a derivation failure leaves the engine read-only
// rather than failing construction.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, err
	}
	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials, deriving API key via L1...")
		if _, err := client.DeriveAPIKey(context.Background()); err != nil {
			logger.Error("API key derivation failed; trading disabled, reads remain available", "error", err)
		}
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	pf, err := portfolio.New(st, logger, cfg.Risk.MaxTotalExposure, cfg.Risk.MaxTradeSize)
	if err != nil {
		st.Close()
		return nil, err
	}

	trk, err := tracker.New(st, client, cfg.Tracker, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	auto, err := autoorder.New(client, trk, st, cfg.AutoOrder, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	odds := oddsapi.NewClient(cfg.Odds, logger)
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		client:     client,
		store:      st,
		portfolio:  pf,
		scanner:    market.NewScanner(client, cfg.Scanner, logger),
		strategies: strategy.NewEngine(st, client, odds, cfg.Strategy, logger),
		trk:        trk,
		auto:       auto,
		riskMgr:    risk.NewManager(cfg.Risk, st, logger),
		ctx:        ctx,
		cancel:     cancel,
	}

	trk.SetHooks(e.onFill, e.onCancel)
	auto.SetHooks(e.onTriggered, e.onExitFailed)

	return e, nil
}

// onFill delivers a confirmed fill into the portfolio. BUY fills open or
// average into a position; SELL fills reduce it and realize P&L. Either way
// the auto-order engine's position map is refreshed so exit rules see the
// post-fill state.
func (e *Engine) onFill(o types.TrackedOrder, newFill, fillPrice float64) {
	switch o.OrderSide {
	case types.BUY:
		if err := e.portfolio.AddPosition(o.TokenID, o.Question, o.Side, newFill, fillPrice); err != nil {
			e.logger.Error("apply buy fill", "order_id", o.OrderID, "error", err)
			return
		}
	case types.SELL:
		realized, err := e.portfolio.ClosePosition(o.TokenID, o.Side, newFill, fillPrice)
		if err != nil {
			e.logger.Error("apply sell fill", "order_id", o.OrderID, "error", err)
			return
		}
		e.logger.Info("position reduced", "token", o.TokenID, "size", newFill, "price", fillPrice, "realized", realized)
		if realized < -25 {
			e.logger.Warn("LARGE LOSS REALIZED", "token", o.TokenID, "realized", realized, "question", o.Question)
		}
	}

	if pos, ok := e.portfolio.Get(o.TokenID, o.Side); ok {
		e.auto.RegisterPosition(pos)
	} else {
		e.auto.RegisterPosition(types.Position{TokenID: o.TokenID, Side: o.Side, Size: 0})
		e.auto.CancelAllOrders(o.TokenID)
	}
}

func (e *Engine) onCancel(o types.TrackedOrder) {
	e.logger.Warn("order cancelled", "order_id", o.OrderID, "token", o.TokenID,
		"filled", o.FilledSize, "requested", o.Size, "status", o.Status)
}

func (e *Engine) onTriggered(o types.AutoOrder, price float64) {
	e.logger.Warn("EXIT TRIGGERED", "type", o.OrderType, "token", o.TokenID, "price", price, "trigger", o.TriggerPrice)
}

func (e *Engine) onExitFailed(o types.AutoOrder, price float64) {
	e.logger.Error("EXIT EXECUTION FAILED — position still open", "type", o.OrderType, "token", o.TokenID, "price", price)
}

// Start launches the background workers: order tracker poller, auto-order
// monitor, and the main scan loop.
func (e *Engine) Start() error {
	e.riskMgr.Startup(e.ctx, e.client)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.trk.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.auto.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLoop()
	}()

	return nil
}

// Stop cancels all workers, best-effort cancels resting orders on the
// exchange, waits for in-flight work, and closes the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	if e.client.HasAuth() {
		cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := e.client.CancelAll(cancelCtx); err != nil {
			e.logger.Error("failed to cancel all orders on shutdown", "error", err)
		}
		cancelCancel()
	}

	e.wg.Wait()
	e.store.Close()
	e.logger.Info("shutdown complete")
}

func (e *Engine) runLoop() {
	interval := e.cfg.AutoOrder.ScanInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	e.RunCycle(e.ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(e.ctx)
		}
	}
}

// RunCycle performs one full scan-evaluate-trade pass. Exposed so the
// operator CLI's one-shot modes can drive single cycles.
func (e *Engine) RunCycle(ctx context.Context) {
	e.mu.Lock()
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()

	result, err := e.scanner.Scan(ctx)
	if err != nil {
		e.logger.Error("scan failed, skipping cycle", "cycle", cycle, "error", err)
		return
	}

	markets := make([]types.Market, 0, len(result.Markets))
	for _, rm := range result.Markets {
		markets = append(markets, rm.Market)
	}

	e.recordSnapshots(markets)

	signals := e.strategies.FindSignals(ctx, markets, e.enabledStrategies(), e.cfg.Strategy.MinEdgePct, e.cfg.Strategy.MaxResults)

	e.riskMgr.EvaluateBreakers(e.portfolio.RealizedPnL(), e.portfolio.GetTotalUnrealizedPnL())

	placed := e.placeSignals(ctx, signals)

	e.auto.MonitorTick(ctx)
	e.closeExpiredPositions(ctx)
	e.portfolio.UpdatePrices(ctx, e.client)

	report := Report{
		Cycle:          cycle,
		ScannedAt:      result.ScannedAt,
		MarketsScanned: len(markets),
		SignalsFound:   len(signals),
		BetsPlaced:     placed,
		OpenPositions:  len(e.portfolio.Snapshot()),
		PendingFills:   e.trk.PendingCount(),
		RealizedPnL:    e.portfolio.RealizedPnL(),
		UnrealizedPnL:  e.portfolio.GetTotalUnrealizedPnL(),
		KillSwitch:     e.riskMgr.KillSwitchActive(),
	}
	e.mu.Lock()
	e.lastReport = report
	e.mu.Unlock()

	e.logger.Info("cycle complete",
		"cycle", report.Cycle,
		"markets", report.MarketsScanned,
		"signals", report.SignalsFound,
		"bets", report.BetsPlaced,
		"positions", report.OpenPositions,
		"pending_fills", report.PendingFills,
		"realized_pnl", fmt.Sprintf("%.2f", report.RealizedPnL),
		"unrealized_pnl", fmt.Sprintf("%.2f", report.UnrealizedPnL),
		"kill_switch", report.KillSwitch,
	)
	for _, w := range e.portfolio.CheckRiskLimits() {
		e.logger.Warn("risk limit warning", "warning", w)
	}
}

func (e *Engine) enabledStrategies() []types.StrategyName {
	names := make([]types.StrategyName, 0, len(e.cfg.Strategy.Enabled))
	for _, n := range e.cfg.Strategy.Enabled {
		names = append(names, types.StrategyName(n))
	}
	if len(names) == 0 {
		names = []types.StrategyName{types.StrategyArbitrage, types.StrategyMomentum}
	}
	return names
}

// recordSnapshots appends one price observation per market so the momentum
// and mean-reversion strategies accumulate history, then prunes beyond the
// retention window.
func (e *Engine) recordSnapshots(markets []types.Market) {
	now := time.Now()
	for _, m := range markets {
		snap := types.PriceSnapshot{
			TokenID:   m.YesTokenID,
			Timestamp: now,
			PriceYes:  m.PriceYes,
			PriceNo:   m.PriceNo,
		}
		if err := e.store.AppendSnapshot(snap); err != nil {
			e.logger.Warn("append snapshot", "token", m.YesTokenID, "error", err)
		}
	}

	retention := e.cfg.Store.SnapshotRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if _, err := e.store.PruneSnapshotsOlderThan(retention); err != nil {
		e.logger.Warn("prune snapshots", "error", err)
	}
}

// placeSignals walks ranked signals and submits entries through the gates,
// stopping at the per-cycle cap.
func (e *Engine) placeSignals(ctx context.Context, signals []types.Signal) int {
	maxPerCycle := e.cfg.AutoOrder.MaxPerCycle
	if maxPerCycle <= 0 {
		maxPerCycle = 2
	}

	placed := 0
	for _, sig := range signals {
		if placed >= maxPerCycle {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if e.hasPositionOnMarket(sig.Market) {
			e.logger.Debug("skip signal: position exists", "market", sig.Market.Slug)
			continue
		}
		if e.riskMgr.KillSwitchActive() {
			e.logger.Warn("skip signal: kill switch", "market", sig.Market.Slug, "reason", e.riskMgr.KillReason())
			continue
		}
		if !e.client.HasAuth() {
			e.logger.Debug("skip signal: no trading credentials", "market", sig.Market.Slug)
			continue
		}

		ok := false
		if sig.Side == types.SignalArb {
			ok = e.placeArb(ctx, sig)
		} else {
			ok = e.placeDirectional(ctx, sig)
		}
		if ok {
			placed++
		}
	}
	return placed
}

func (e *Engine) hasPositionOnMarket(m types.Market) bool {
	for _, side := range []types.Side{types.YES, types.NO} {
		if _, ok := e.portfolio.Get(m.YesTokenID, side); ok {
			return true
		}
		if _, ok := e.portfolio.Get(m.NoTokenID, side); ok {
			return true
		}
	}
	return false
}

// placeDirectional submits a single-sided entry with TP/SL exits attached.
func (e *Engine) placeDirectional(ctx context.Context, sig types.Signal) bool {
	tokenID := sig.Market.YesTokenID
	side := types.YES
	if sig.Side == types.SignalNo {
		tokenID = sig.Market.NoTokenID
		side = types.NO
	}

	book, err := e.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return false
	}
	if err := e.riskMgr.CheckSpread(book); err != nil {
		e.logger.Debug("skip signal: spread guard", "market", sig.Market.Slug, "error", err)
		return false
	}

	bet, err := e.riskMgr.BetSize(e.portfolio.GetTotalExposure(), len(e.portfolio.Snapshot()))
	if err != nil {
		e.logger.Debug("skip signal: sizing", "market", sig.Market.Slug, "error", err)
		return false
	}

	price := sig.EntryPrice
	if price <= 0 || price >= 1 {
		return false
	}
	size := roundShares(bet / price)
	if size <= 0 {
		return false
	}

	strategyName := string(sig.Strategy)
	if err := e.riskMgr.RegisterIntent(tokenID, side, types.BUY, price, size, strategyName); err != nil {
		e.logger.Warn("skip signal: intent", "market", sig.Market.Slug, "error", err)
		return false
	}

	tp, sl := e.exitPrices(price)
	var trailing *float64
	if e.cfg.AutoOrder.DefaultTrailingPct > 0 {
		v := e.cfg.AutoOrder.DefaultTrailingPct
		trailing = &v
	}

	orderID, err := e.auto.BuyWithTPSL(ctx, tokenID, sig.Market.Question, side, size, price, sig.Market.TickSize, &strategyName, tp, sl, trailing)
	if err != nil {
		e.logger.Warn("entry failed", "market", sig.Market.Slug, "error", err)
		return false
	}

	e.logger.Info("BET PLACED",
		"market", sig.Market.Slug,
		"side", side,
		"strategy", sig.Strategy,
		"edge_pct", fmt.Sprintf("%.2f", sig.EdgePct),
		"confidence", fmt.Sprintf("%.2f", sig.Confidence),
		"size", size,
		"price", price,
		"order_id", orderID,
		"reason", sig.Reason,
	)
	return true
}

// placeArb splits the bet across both legs of a verified underpriced pair.
// Plain buys: the arbitrage locks in at resolution, so no exits are set.
func (e *Engine) placeArb(ctx context.Context, sig types.Signal) bool {
	m := sig.Market

	bet, err := e.riskMgr.BetSize(e.portfolio.GetTotalExposure(), len(e.portfolio.Snapshot()))
	if err != nil {
		e.logger.Debug("skip arb: sizing", "market", m.Slug, "error", err)
		return false
	}
	half := bet / 2

	yesBook, err := e.client.GetOrderBook(ctx, m.YesTokenID)
	if err != nil {
		return false
	}
	noBook, err := e.client.GetOrderBook(ctx, m.NoTokenID)
	if err != nil {
		return false
	}
	if yesBook == nil || noBook == nil {
		return false
	}
	_, yesAsk, yesOK := yesBook.BestBidAsk()
	_, noAsk, noOK := noBook.BestBidAsk()
	if !yesOK || !noOK || yesAsk <= 0 || noAsk <= 0 {
		return false
	}

	strategyName := string(types.StrategyArbitrage)
	legs := []struct {
		tokenID string
		side    types.Side
		price   float64
	}{
		{m.YesTokenID, types.YES, yesAsk},
		{m.NoTokenID, types.NO, noAsk},
	}

	for _, leg := range legs {
		size := roundShares(half / leg.price)
		if size <= 0 {
			return false
		}
		if err := e.riskMgr.RegisterIntent(leg.tokenID, leg.side, types.BUY, leg.price, size, strategyName); err != nil {
			e.logger.Warn("skip arb leg: intent", "market", m.Slug, "side", leg.side, "error", err)
			return false
		}
		if _, err := e.auto.Buy(ctx, leg.tokenID, m.Question, leg.side, size, leg.price, m.TickSize, &strategyName); err != nil {
			e.logger.Warn("arb leg failed", "market", m.Slug, "side", leg.side, "error", err)
			return false
		}
	}

	e.logger.Info("ARB PLACED", "market", m.Slug, "yes_ask", yesAsk, "no_ask", noAsk,
		"edge_pct", fmt.Sprintf("%.2f", sig.EdgePct), "notional", bet)
	return true
}

// exitPrices derives TP/SL triggers from the entry using the configured
// default percentages, clamped inside (0,1).
func (e *Engine) exitPrices(entry float64) (tp, sl *float64) {
	if pct := e.cfg.AutoOrder.DefaultTakeProfit; pct > 0 {
		v := clampPrice(entry * (1 + pct))
		tp = &v
	}
	if pct := e.cfg.AutoOrder.DefaultStopLoss; pct > 0 {
		v := clampPrice(entry * (1 - pct))
		sl = &v
	}
	return tp, sl
}

// closeExpiredPositions force-closes any position older than the configured
// max hold. The sell goes through the tracker like any other exit.
func (e *Engine) closeExpiredPositions(ctx context.Context) {
	maxHold := e.cfg.AutoOrder.MaxHoldHours
	if maxHold <= 0 {
		return
	}
	cutoff := time.Duration(maxHold * float64(time.Hour))

	for _, pos := range e.portfolio.Snapshot() {
		if time.Since(pos.OpenedAt) < cutoff {
			continue
		}
		e.logger.Warn("position exceeded max hold, closing at market",
			"token", pos.TokenID, "side", pos.Side, "age", time.Since(pos.OpenedAt).Round(time.Minute))
		if err := e.auto.CloseAtMarket(ctx, pos.TokenID, pos.MarketQuestion, pos.Side, pos.Size); err != nil {
			e.logger.Error("timeout close failed", "token", pos.TokenID, "error", err)
			continue
		}
		e.auto.CancelAllOrders(pos.TokenID)
	}
}

func roundShares(v float64) float64 {
	return float64(int(v*100)) / 100
}

func clampPrice(v float64) float64 {
	if v < 0.01 {
		return 0.01
	}
	if v > 0.99 {
		return 0.99
	}
	return v
}

// ————————————————————————————————————————————————————————————————————————
// Dashboard / CLI accessors
// ————————————————————————————————————————————————————————————————————————

// LastReport returns the most recent cycle summary.
func (e *Engine) LastReport() Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

// Positions returns a snapshot of open positions.
func (e *Engine) Positions() []types.Position {
	return e.portfolio.Snapshot()
}

// TrackedOrders returns a snapshot of all tracked orders.
func (e *Engine) TrackedOrders() []types.TrackedOrder {
	return e.trk.GetTrackedOrders()
}

// ActiveAutoOrders returns a snapshot of PENDING/ACTIVE exit triggers.
func (e *Engine) ActiveAutoOrders() []types.AutoOrder {
	return e.auto.ActiveOrders()
}

// RiskSnapshot returns the current risk posture.
func (e *Engine) RiskSnapshot() risk.Snapshot {
	return e.riskMgr.GetSnapshot()
}

// Portfolio exposes the portfolio for the operator CLI's summary mode.
func (e *Engine) Portfolio() *portfolio.Portfolio {
	return e.portfolio
}

// Scanner exposes the scanner for the operator CLI's scan mode.
func (e *Engine) Scanner() *market.Scanner {
	return e.scanner
}

// Strategies exposes the strategy engine for one-shot CLI modes.
func (e *Engine) Strategies() *strategy.Engine {
	return e.strategies
}

// Client exposes the exchange gateway for read-only CLI modes.
func (e *Engine) Client() *exchange.Client {
	return e.client
}
