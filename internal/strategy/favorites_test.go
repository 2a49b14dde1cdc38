package strategy

import (
	"context"
	"testing"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

func TestFavoritesEmitsOnHighPrice(t *testing.T) {
	t.Parallel()
	m := types.Market{ID: "m1", YesTokenID: "yes", NoTokenID: "no", PriceYes: 0.75, PriceNo: 0.25, Volume: 200_000}

	strat := newFavoritesStrategy(config.FavoritesConfig{MinVolume: 100_000})
	signals, _ := strat(context.Background(), []types.Market{m})
	if len(signals) != 1 {
		t.Fatalf("expected one favorite signal, got %d", len(signals))
	}
	if signals[0].Side != types.SignalYes {
		t.Errorf("expected YES side for 0.75 favorite, got %s", signals[0].Side)
	}
}

func TestFavoritesSkipsLowVolume(t *testing.T) {
	t.Parallel()
	m := types.Market{ID: "m1", YesTokenID: "yes", NoTokenID: "no", PriceYes: 0.75, PriceNo: 0.25, Volume: 1000}
	strat := newFavoritesStrategy(config.FavoritesConfig{MinVolume: 100_000})
	signals, _ := strat(context.Background(), []types.Market{m})
	if len(signals) != 0 {
		t.Fatalf("expected no signal below min volume, got %d", len(signals))
	}
}

func TestUnderdogsEmitsOnLowPrice(t *testing.T) {
	t.Parallel()
	m := types.Market{ID: "m1", YesTokenID: "yes", NoTokenID: "no", PriceYes: 0.30, PriceNo: 0.70, Volume: 200_000}
	strat := newUnderdogsStrategy(config.FavoritesConfig{MinVolume: 100_000})
	signals, _ := strat(context.Background(), []types.Market{m})
	if len(signals) != 1 {
		t.Fatalf("expected one underdog signal, got %d", len(signals))
	}
	if signals[0].Side != types.SignalYes {
		t.Errorf("expected YES side for 0.30 underdog, got %s", signals[0].Side)
	}
	if signals[0].Confidence >= 0.40 {
		t.Errorf("underdog confidence should be lower than favorites baseline, got %f", signals[0].Confidence)
	}
}
