package strategy

import (
	"context"
	"math"
	"time"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// newMeanReversionStrategy bets against a recent spike in the YES price,
// provided the deviation from the historical mean is large, recent, and
// the underlying price is still inside a tradeable band.
func newMeanReversionStrategy(store PriceHistory, cfg config.MeanReversionConfig) StrategyFunc {
	lookback := cfg.LookbackHours
	if lookback <= 0 {
		lookback = 12
	}
	minSnapshots := cfg.MinSnapshots
	if minSnapshots <= 0 {
		minSnapshots = 3
	}
	minSpikePct := cfg.MinSpikePct
	if minSpikePct <= 0 {
		minSpikePct = 10
	}
	reversionWindow := cfg.ReversionWindowHours
	if reversionWindow <= 0 {
		reversionWindow = 2
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

			history, err := store.SnapshotsSince(m.YesTokenID, lookback, 2000)
			if err != nil {
				return nil, err
			}
			if len(history) < minSnapshots {
				continue
			}

			var sum float64
			for _, snap := range history {
				sum += snap.PriceYes
			}
			avg := sum / float64(len(history))
			if avg == 0 {
				continue
			}

			current := m.PriceYes
			deviationPct := (current - avg) / avg * 100
			if math.Abs(deviationPct) < minSpikePct {
				continue
			}

			recentMovePct := recentMoveFraction(history, current, avg, reversionWindow)
			if math.Abs(recentMovePct) < 0.6*minSpikePct {
				continue
			}

			side := types.SignalYes
			entryPrice := m.PriceYes
			if deviationPct > 0 {
				side = types.SignalNo
				entryPrice = m.PriceNo
			}

			out = append(out, types.Signal{
				Market:     m,
				Side:       side,
				Strategy:   types.StrategyMeanReversion,
				EdgePct:    math.Abs(deviationPct) * 0.5,
				Confidence: 0.55,
				EntryPrice: entryPrice,
				Reason:     "betting against a recent spike away from the historical mean",
			})
		}

		return out, nil
	}
}

// recentMoveFraction measures how much of the total deviation from avg
// occurred within the last reversionWindow hours, using the last snapshot
// older than the window as the pre-spike reference point.
func recentMoveFraction(history []types.PriceSnapshot, current, avg, reversionWindowHours float64) float64 {
	cutoff := time.Now().Add(-time.Duration(reversionWindowHours * float64(time.Hour)))

	reference := history[0].PriceYes
	for _, snap := range history {
		if snap.Timestamp.Before(cutoff) {
			reference = snap.PriceYes
		} else {
			break
		}
	}

	if avg == 0 {
		return 0
	}
	return (current - reference) / avg * 100
}
