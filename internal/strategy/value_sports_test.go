package strategy

import (
	"context"
	"testing"

	"polytrader/internal/config"
	"polytrader/internal/oddsapi"
	"polytrader/pkg/types"
)

type fakeOddsProvider struct {
	hasKey bool
	sports []string
	events map[string][]oddsapi.Event
}

func (f *fakeOddsProvider) HasKey() bool         { return f.hasKey }
func (f *fakeOddsProvider) SportKeys() []string   { return f.sports }
func (f *fakeOddsProvider) H2HOdds(ctx context.Context, sportKey string) ([]oddsapi.Event, error) {
	return f.events[sportKey], nil
}

func consensusEvent() oddsapi.Event {
	return oddsapi.Event{
		HomeTeam: "Lions",
		AwayTeam: "Tigers",
		Bookmakers: []oddsapi.Bookmaker{
			{Markets: []oddsapi.H2HMarket{{Key: "h2h", Outcomes: []oddsapi.Outcome{
				{Name: "Lions", Price: 1.40},  // implied ~0.714
				{Name: "Tigers", Price: 3.20}, // implied ~0.3125
			}}}},
			{Markets: []oddsapi.H2HMarket{{Key: "h2h", Outcomes: []oddsapi.Outcome{
				{Name: "Lions", Price: 1.45},
				{Name: "Tigers", Price: 3.00},
			}}}},
		},
	}
}

func TestValueSportsNoKeyShortCircuits(t *testing.T) {
	t.Parallel()
	odds := &fakeOddsProvider{hasKey: false}
	strat := newValueSportsStrategy(odds, config.ValueSportsConfig{MinEdgePct: 8})
	signals, err := strat(context.Background(), []types.Market{{ID: "m1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals != nil {
		t.Fatalf("expected nil signals when no odds API key configured, got %v", signals)
	}
}

func TestValueSportsEmitsOnUnderpricedMarket(t *testing.T) {
	t.Parallel()
	odds := &fakeOddsProvider{
		hasKey: true,
		sports: []string{"basketball_nba"},
		events: map[string][]oddsapi.Event{"basketball_nba": {consensusEvent()}},
	}
	m := types.Market{
		ID: "m1", YesTokenID: "yes", NoTokenID: "no",
		Question: "Will the Lions beat the Tigers?",
		PriceYes: 0.55, PriceNo: 0.45,
	}
	strat := newValueSportsStrategy(odds, config.ValueSportsConfig{MinEdgePct: 8})
	signals, err := strat(context.Background(), []types.Market{m})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Side != types.SignalYes {
		t.Errorf("expected YES side (Lions is home team and favored), got %s", s.Side)
	}
	if s.EdgePct < 8 {
		t.Errorf("expected edge >= minEdgePct, got %f", s.EdgePct)
	}
}

func TestValueSportsBelowThresholdSkipped(t *testing.T) {
	t.Parallel()
	odds := &fakeOddsProvider{
		hasKey: true,
		sports: []string{"basketball_nba"},
		events: map[string][]oddsapi.Event{"basketball_nba": {consensusEvent()}},
	}
	// Market price already close to consensus, so edge stays under threshold.
	m := types.Market{
		ID: "m1", YesTokenID: "yes", NoTokenID: "no",
		Question: "Will the Lions beat the Tigers?",
		PriceYes: 0.70, PriceNo: 0.30,
	}
	strat := newValueSportsStrategy(odds, config.ValueSportsConfig{MinEdgePct: 8})
	signals, _ := strat(context.Background(), []types.Market{m})
	if len(signals) != 0 {
		t.Fatalf("expected no signal below edge threshold, got %d", len(signals))
	}
}

func TestConsensusProbabilitiesNormalizesOverround(t *testing.T) {
	t.Parallel()
	homeProb, awayProb, nBooks := consensusProbabilities(consensusEvent())
	if nBooks != 2 {
		t.Fatalf("expected 2 books counted, got %d", nBooks)
	}
	if sum := homeProb + awayProb; sum < 0.999 || sum > 1.001 {
		t.Errorf("expected normalized probabilities to sum to 1, got %f", sum)
	}
	if homeProb <= awayProb {
		t.Errorf("expected home team (shorter odds) to have higher implied probability")
	}
}

func TestMatchMarketToEventHomeBeforeVerb(t *testing.T) {
	t.Parallel()
	ev := consensusEvent()
	yesIsHome, matched := matchMarketToEvent("Will the Lions beat the Tigers?", ev)
	if !matched {
		t.Fatalf("expected match")
	}
	if !yesIsHome {
		t.Errorf("expected YES assigned to home team (Lions, named before 'beat')")
	}
}

func TestMatchMarketToEventAwayBeforeVerb(t *testing.T) {
	t.Parallel()
	ev := consensusEvent()
	yesIsHome, matched := matchMarketToEvent("Will the Tigers beat the Lions?", ev)
	if !matched {
		t.Fatalf("expected match")
	}
	if yesIsHome {
		t.Errorf("expected YES assigned to away team (Tigers, named before 'beat')")
	}
}

func TestMatchMarketToEventNoMatch(t *testing.T) {
	t.Parallel()
	ev := consensusEvent()
	_, matched := matchMarketToEvent("Will it rain in Seattle tomorrow?", ev)
	if matched {
		t.Fatalf("expected no match for unrelated question")
	}
}
