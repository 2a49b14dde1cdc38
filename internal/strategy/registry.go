// Package strategy produces ranked, deduplicated trade signals from a set
// of pluggable strategy functions: momentum, arbitrage, value_sports,
// mean_reversion, and the favorites/underdogs heuristic filters.
//
// Each strategy is a pure-ish function of (markets) that consults the price
// history store and/or the live exchange gateway and returns zero or more
// Signals. Strategies never mutate shared state and never talk to each
// other; the Engine is the only thing that knows the full registered set.
package strategy

import (
	"context"
	"log/slog"
	"sort"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// PriceHistory is the subset of Store that strategies consult for recent
// price snapshots.
type PriceHistory interface {
	SnapshotsSince(tokenID string, hours float64, limit int) ([]types.PriceSnapshot, error)
}

// OrderBookGateway is the subset of the exchange gateway strategies need
// for live book reads (the arbitrage strategy's verification step).
type OrderBookGateway interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
}

// StrategyFunc is the signature every registered strategy implements.
type StrategyFunc func(ctx context.Context, markets []types.Market) ([]types.Signal, error)

// Engine holds the strategy registry and runs the dispatcher.
type Engine struct {
	registry map[types.StrategyName]StrategyFunc
	logger   *slog.Logger
}

// NewEngine builds the strategy registry, wiring each strategy's function
// to its configuration and the shared Store/Gateway/odds dependencies.
func NewEngine(store PriceHistory, gw OrderBookGateway, odds OddsProvider, cfg config.StrategyConfig, logger *slog.Logger) *Engine {
	logger = logger.With("component", "strategy")

	e := &Engine{
		registry: make(map[types.StrategyName]StrategyFunc),
		logger:   logger,
	}

	e.registry[types.StrategyMomentum] = newMomentumStrategy(store, cfg.Momentum)
	e.registry[types.StrategyArbitrage] = newArbitrageStrategy(gw, cfg.Arbitrage)
	e.registry[types.StrategyMeanReversion] = newMeanReversionStrategy(store, cfg.MeanReversion)
	e.registry[types.StrategyFavorites] = newFavoritesStrategy(cfg.Favorites)
	e.registry[types.StrategyUnderdogs] = newUnderdogsStrategy(cfg.Favorites)
	if odds != nil {
		e.registry[types.StrategyValueSports] = newValueSportsStrategy(odds, cfg.ValueSports)
	}

	return e
}

// Register adds or overrides a strategy by name. Exposed for tests and for
// operators wiring custom strategies without touching the orchestrator.
func (e *Engine) Register(name types.StrategyName, fn StrategyFunc) {
	e.registry[name] = fn
}

// FindSignals runs the named strategies over markets, concatenates their
// output, drops signals below minEdgePct, deduplicates by (market, side)
// keeping the higher-scoring signal, and returns the top maxResults sorted
// by score descending. Unknown strategy names are skipped with a warning.
// A panic or error inside one strategy is caught and logged; the dispatch
// continues with the remaining strategies.
func (e *Engine) FindSignals(ctx context.Context, markets []types.Market, names []types.StrategyName, minEdgePct float64, maxResults int) []types.Signal {
	var all []types.Signal

	for _, name := range names {
		fn, ok := e.registry[name]
		if !ok {
			e.logger.Warn("unknown strategy requested", "strategy", name)
			continue
		}

		signals, err := e.runSafely(ctx, fn, markets, name)
		if err != nil {
			e.logger.Error("strategy failed", "strategy", name, "error", err)
			continue
		}
		all = append(all, signals...)
	}

	filtered := make([]types.Signal, 0, len(all))
	for _, s := range all {
		if s.EdgePct >= minEdgePct {
			filtered = append(filtered, s)
		}
	}

	deduped := dedupe(filtered)

	sort.Slice(deduped, func(i, j int) bool {
		return deduped[i].Score() > deduped[j].Score()
	})

	if maxResults > 0 && len(deduped) > maxResults {
		deduped = deduped[:maxResults]
	}
	return deduped
}

// runSafely isolates exceptions raised inside a single strategy so that one
// misbehaving strategy cannot abort the dispatcher's sweep over the rest.
func (e *Engine) runSafely(ctx context.Context, fn StrategyFunc, markets []types.Market, name types.StrategyName) (signals []types.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panicked", "strategy", name, "panic", r)
			signals, err = nil, nil
		}
	}()
	return fn(ctx, markets)
}

func dedupe(signals []types.Signal) []types.Signal {
	best := make(map[string]types.Signal, len(signals))
	for _, s := range signals {
		k := s.Market.ID + "|" + string(s.Side)
		if existing, ok := best[k]; !ok || s.Score() > existing.Score() {
			best[k] = s
		}
	}

	out := make([]types.Signal, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	return out
}
