package strategy

import (
	"context"
	"math"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// newFavoritesStrategy is a heuristic, explicitly low-confidence filter: it
// bets that well-traded markets pricing a side as a clear favorite
// (0.65-0.85) tend to resolve that way. No price history or live book is
// consulted; it is a pure volume/price filter over the scan universe.
func newFavoritesStrategy(cfg config.FavoritesConfig) StrategyFunc {
	minVolume := cfg.MinVolume
	if minVolume <= 0 {
		minVolume = 100_000
	}

	return func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		var out []types.Signal
		for _, m := range markets {
			if !m.HasTokens() || m.Volume < minVolume {
				continue
			}
			volumeFactor := math.Min(m.Volume/500_000, 1.0)

			for _, side := range []types.Side{types.YES, types.NO} {
				price := m.PriceYes
				signalSide := types.SignalYes
				if side == types.NO {
					price = m.PriceNo
					signalSide = types.SignalNo
				}
				if price < 0.65 || price > 0.85 {
					continue
				}
				out = append(out, types.Signal{
					Market:     m,
					Side:       signalSide,
					Strategy:   types.StrategyFavorites,
					EdgePct:    (price - 0.50) * 100,
					Confidence: 0.35 + 0.15*volumeFactor,
					EntryPrice: price,
					Reason:     "heuristic: well-traded market favorite",
				})
			}
		}
		return out, nil
	}
}

// newUnderdogsStrategy is favorites' mirror: it bets on cheaply-priced
// sides (0.20-0.40) of well-traded markets, at even lower baseline
// confidence than favorites.
func newUnderdogsStrategy(cfg config.FavoritesConfig) StrategyFunc {
	minVolume := cfg.MinVolume
	if minVolume <= 0 {
		minVolume = 100_000
	}

	return func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		var out []types.Signal
		for _, m := range markets {
			if !m.HasTokens() || m.Volume < minVolume {
				continue
			}
			volumeFactor := math.Min(m.Volume/500_000, 1.0)

			for _, side := range []types.Side{types.YES, types.NO} {
				price := m.PriceYes
				signalSide := types.SignalYes
				if side == types.NO {
					price = m.PriceNo
					signalSide = types.SignalNo
				}
				if price < 0.20 || price > 0.40 {
					continue
				}
				out = append(out, types.Signal{
					Market:     m,
					Side:       signalSide,
					Strategy:   types.StrategyUnderdogs,
					EdgePct:    (0.50 - price) * 100,
					Confidence: 0.30 + 0.10*volumeFactor,
					EntryPrice: price,
					Reason:     "heuristic: well-traded market underdog",
				})
			}
		}
		return out, nil
	}
}
