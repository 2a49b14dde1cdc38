package strategy

import (
	"context"
	"testing"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

type fakeBookGateway struct {
	books map[string]*types.BookResponse
}

func (f *fakeBookGateway) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	return f.books[tokenID], nil
}

func askBook(price string) *types.BookResponse {
	return &types.BookResponse{Asks: []types.PriceLevel{{Price: price, Size: "100"}}}
}

func arbitrageCfg() config.ArbitrageConfig {
	return config.ArbitrageConfig{PreScreenMax: 0.995, FeeEstimate: 0.002, MinProfitPct: 1.0}
}

func TestArbitrageVerifiedProfit(t *testing.T) {
	t.Parallel()
	gw := &fakeBookGateway{books: map[string]*types.BookResponse{
		"yes": askBook("0.45"),
		"no":  askBook("0.52"),
	}}
	m := types.Market{ID: "m1", YesTokenID: "yes", NoTokenID: "no", PriceYes: 0.44, PriceNo: 0.51}

	strat := newArbitrageStrategy(gw, arbitrageCfg())
	signals, err := strat(context.Background(), []types.Market{m})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected exactly one arb signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Side != types.SignalArb {
		t.Errorf("expected ARB side, got %s", s.Side)
	}
	if s.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", s.Confidence)
	}
	if s.EdgePct < 2.5 || s.EdgePct > 2.7 {
		t.Errorf("expected edge ~2.61, got %f", s.EdgePct)
	}
}

func TestArbitragePreScreenCutoff(t *testing.T) {
	t.Parallel()
	gw := &fakeBookGateway{books: map[string]*types.BookResponse{
		"yes": askBook("0.10"), // would be wildly profitable if reached
		"no":  askBook("0.10"),
	}}
	m := types.Market{ID: "m1", YesTokenID: "yes", NoTokenID: "no", PriceYes: 0.50, PriceNo: 0.495}

	strat := newArbitrageStrategy(gw, arbitrageCfg())
	signals, err := strat(context.Background(), []types.Market{m})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("price_yes+price_no=0.995 must pre-screen out regardless of orderbook, got %d signals", len(signals))
	}
}

func TestArbitrageMissingBookSkips(t *testing.T) {
	t.Parallel()
	gw := &fakeBookGateway{books: map[string]*types.BookResponse{
		"yes": askBook("0.45"),
		// "no" book missing
	}}
	m := types.Market{ID: "m1", YesTokenID: "yes", NoTokenID: "no", PriceYes: 0.44, PriceNo: 0.51}

	strat := newArbitrageStrategy(gw, arbitrageCfg())
	signals, _ := strat(context.Background(), []types.Market{m})
	if len(signals) != 0 {
		t.Fatalf("missing orderbook must be skipped, got %d signals", len(signals))
	}
}
