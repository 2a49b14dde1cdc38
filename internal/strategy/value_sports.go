package strategy

import (
	"context"
	"math"
	"strings"

	"polytrader/internal/config"
	"polytrader/internal/oddsapi"
	"polytrader/pkg/types"
)

// OddsProvider is the external bookmaker odds source the value_sports
// strategy consults.
type OddsProvider interface {
	HasKey() bool
	SportKeys() []string
	H2HOdds(ctx context.Context, sportKey string) ([]oddsapi.Event, error)
}

var resultVerbs = []string{" beats ", " beat ", " defeats ", " defeat ", " wins ", " win ", " win against "}

// newValueSportsStrategy fetches bookmaker consensus for each configured
// sport, removes the overround, fuzzy-matches each event to a Polymarket
// market by team name, and emits a signal when the market underprices the
// consensus-implied side. Returns empty silently when no odds API key is
// configured.
func newValueSportsStrategy(odds OddsProvider, cfg config.ValueSportsConfig) StrategyFunc {
	minEdgePct := cfg.MinEdgePct
	if minEdgePct <= 0 {
		minEdgePct = 8
	}

	return func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		if !odds.HasKey() {
			return nil, nil
		}

		var out []types.Signal

		for _, sportKey := range odds.SportKeys() {
			events, err := odds.H2HOdds(ctx, sportKey)
			if err != nil {
				return nil, err
			}

			for _, ev := range events {
				homeProb, awayProb, nBooks := consensusProbabilities(ev)
				if nBooks == 0 {
					continue
				}

				for _, m := range markets {
					if !m.HasTokens() {
						continue
					}
					yesIsHome, matched := matchMarketToEvent(m.Question, ev)
					if !matched {
						continue
					}

					consensusYesProb := awayProb
					if yesIsHome {
						consensusYesProb = homeProb
					}

					edgePct := (consensusYesProb - m.PriceYes) * 100
					if math.Abs(edgePct) < minEdgePct {
						continue
					}

					side := types.SignalYes
					entryPrice := m.PriceYes
					if edgePct < 0 {
						side = types.SignalNo
						entryPrice = m.PriceNo
						edgePct = -edgePct
					}

					out = append(out, types.Signal{
						Market:     m,
						Side:       side,
						Strategy:   types.StrategyValueSports,
						EdgePct:    edgePct,
						Confidence: math.Min(float64(nBooks)/8.0, 1.0),
						EntryPrice: entryPrice,
						Reason:     "bookmaker consensus diverges from market price",
					})
				}
			}
		}

		return out, nil
	}
}

// consensusProbabilities averages each bookmaker's implied win probability
// (1/decimal odds) per team across all books quoting the event, then
// normalizes the two team averages to sum to 1 (removing the overround).
func consensusProbabilities(ev oddsapi.Event) (homeProb, awayProb float64, nBooks int) {
	var homeSum, awaySum float64
	var homeCount, awayCount int

	for _, bm := range ev.Bookmakers {
		for _, mkt := range bm.Markets {
			if mkt.Key != "h2h" {
				continue
			}
			counted := false
			for _, o := range mkt.Outcomes {
				if o.Price <= 0 {
					continue
				}
				implied := 1 / o.Price
				switch {
				case strings.EqualFold(o.Name, ev.HomeTeam):
					homeSum += implied
					homeCount++
					counted = true
				case strings.EqualFold(o.Name, ev.AwayTeam):
					awaySum += implied
					awayCount++
					counted = true
				}
			}
			if counted {
				nBooks++
			}
		}
	}

	if homeCount == 0 || awayCount == 0 {
		return 0, 0, 0
	}

	homeAvg := homeSum / float64(homeCount)
	awayAvg := awaySum / float64(awayCount)
	total := homeAvg + awayAvg
	if total == 0 {
		return 0, 0, 0
	}

	return homeAvg / total, awayAvg / total, nBooks
}

// matchMarketToEvent reports whether either of the event's team names
// appears in the market question, and whether YES corresponds to the home team: YES is
// assigned to whichever team's name appears before a win/beat/defeat verb,
// falling back to whichever single team is mentioned if only one is.
func matchMarketToEvent(question string, ev oddsapi.Event) (yesIsHome, matched bool) {
	q := strings.ToLower(question)
	home := strings.ToLower(ev.HomeTeam)
	away := strings.ToLower(ev.AwayTeam)
	if home == "" || away == "" {
		return false, false
	}

	hasHome := strings.Contains(q, home)
	hasAway := strings.Contains(q, away)

	if hasHome && hasAway {
		homeIdx := strings.Index(q, home)
		awayIdx := strings.Index(q, away)
		for _, verb := range resultVerbs {
			if vi := strings.Index(q, verb); vi != -1 {
				// The team named before the verb is assigned YES.
				if homeIdx < vi && homeIdx < awayIdx {
					return true, true
				}
				if awayIdx < vi && awayIdx < homeIdx {
					return false, true
				}
			}
		}
		// No recognizable verb: fall back to whichever name appears first.
		return homeIdx < awayIdx, true
	}
	if hasHome {
		return true, true
	}
	if hasAway {
		return false, true
	}
	return false, false
}
