package strategy

import (
	"context"
	"math"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// newMomentumStrategy detects consistent directional drift in a market's YES
// price over a recent lookback window and bets in the direction of the move.
func newMomentumStrategy(store PriceHistory, cfg config.MomentumConfig) StrategyFunc {
	lookback := cfg.LookbackHours
	if lookback <= 0 {
		lookback = 4
	}
	minSnapshots := cfg.MinSnapshots
	if minSnapshots <= 0 {
		minSnapshots = 3
	}
	minMovePct := cfg.MinMovePct
	if minMovePct <= 0 {
		minMovePct = 5
	}
	minConsistency := cfg.MinConsistency
	if minConsistency <= 0 {
		minConsistency = 0.65
	}

	return func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		var out []types.Signal

		for _, m := range markets {
			if !m.HasTokens() {
				continue
			}
			if m.PriceYes < 0.10 || m.PriceYes > 0.90 {
				continue
			}

			history, err := store.SnapshotsSince(m.YesTokenID, lookback, 1000)
			if err != nil {
				return nil, err
			}
			if len(history) < minSnapshots {
				continue
			}

			first := history[0].PriceYes
			last := history[len(history)-1].PriceYes
			if first == 0 {
				continue
			}
			totalMovePct := (last - first) / first * 100
			if math.Abs(totalMovePct) < minMovePct {
				continue
			}

			consistency := momentumConsistency(history, totalMovePct > 0)
			if consistency < minConsistency {
				continue
			}

			decay := math.Max(0.3, 1-math.Abs(totalMovePct)/50)
			edge := math.Abs(totalMovePct) * consistency * decay
			confidence := math.Min(consistency, 0.95)

			side := types.SignalNo
			entryPrice := m.PriceNo
			if totalMovePct > 0 {
				side = types.SignalYes
				entryPrice = m.PriceYes
			}

			out = append(out, types.Signal{
				Market:     m,
				Side:       side,
				Strategy:   types.StrategyMomentum,
				EdgePct:    edge,
				Confidence: confidence,
				EntryPrice: entryPrice,
				Reason:     "sustained price drift over lookback window",
			})
		}

		return out, nil
	}
}

// momentumConsistency returns the fraction of consecutive price deltas
// whose sign matches the direction of the net move (up if upMove is true).
func momentumConsistency(history []types.PriceSnapshot, upMove bool) float64 {
	if len(history) < 2 {
		return 0
	}

	matching := 0
	total := 0
	for i := 1; i < len(history); i++ {
		delta := history[i].PriceYes - history[i-1].PriceYes
		if delta == 0 {
			continue
		}
		total++
		if (delta > 0) == upMove {
			matching++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matching) / float64(total)
}
