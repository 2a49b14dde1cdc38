package strategy

import (
	"context"
	"strconv"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// newArbitrageStrategy finds markets where YES-ask + NO-ask < $1 by more
// than fees, i.e. buying both legs locks in the residual. Only the
// guaranteed-buy-both side is emitted; selling both legs of an overpriced
// pair carries short-side margin risk and is never automated here.
func newArbitrageStrategy(gw OrderBookGateway, cfg config.ArbitrageConfig) StrategyFunc {
	preScreenMax := cfg.PreScreenMax
	if preScreenMax <= 0 {
		preScreenMax = 0.995
	}
	feeEstimate := cfg.FeeEstimate
	if feeEstimate <= 0 {
		feeEstimate = 0.002
	}
	minProfitPct := cfg.MinProfitPct
	if minProfitPct <= 0 {
		minProfitPct = 1.5
	}

	return func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		var out []types.Signal

		for _, m := range markets {
			if !m.HasTokens() {
				continue
			}
			// Cheap pre-screen before touching the network: markets already
			// priced near or above $1 combined have no arbitrage to verify.
			if m.PriceYes+m.PriceNo >= preScreenMax {
				continue
			}

			yesBook, err := gw.GetOrderBook(ctx, m.YesTokenID)
			if err != nil {
				return nil, err
			}
			noBook, err := gw.GetOrderBook(ctx, m.NoTokenID)
			if err != nil {
				return nil, err
			}
			if yesBook == nil || noBook == nil || len(yesBook.Asks) == 0 || len(noBook.Asks) == 0 {
				continue
			}

			yesAsk := parseAsk(yesBook.Asks[0].Price)
			noAsk := parseAsk(noBook.Asks[0].Price)
			if yesAsk <= 0 || noAsk <= 0 {
				continue
			}

			liveCombined := yesAsk + noAsk
			fees := (yesAsk + noAsk) * feeEstimate * 2
			netProfit := 1 - liveCombined - fees
			edgePct := netProfit * 100
			if edgePct < minProfitPct {
				continue
			}

			out = append(out, types.Signal{
				Market:     m,
				Side:       types.SignalArb,
				Strategy:   types.StrategyArbitrage,
				EdgePct:    edgePct,
				Confidence: 0.95,
				EntryPrice: liveCombined,
				Reason:     "verified guaranteed-buy-both arbitrage",
			})
		}

		return out, nil
	}
}

func parseAsk(priceStr string) float64 {
	f, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0
	}
	return f
}
