package strategy

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"polytrader/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleMarket(id string) types.Market {
	return types.Market{ID: id, YesTokenID: id + "_yes", NoTokenID: id + "_no", PriceYes: 0.5, PriceNo: 0.5}
}

func TestFindSignalsFiltersBelowMinEdge(t *testing.T) {
	t.Parallel()
	e := &Engine{registry: map[types.StrategyName]StrategyFunc{}, logger: testLogger()}
	e.Register("weak", func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		return []types.Signal{{Market: sampleMarket("m1"), Side: types.SignalYes, EdgePct: 2, Confidence: 0.9}}, nil
	})
	e.Register("strong", func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		return []types.Signal{{Market: sampleMarket("m2"), Side: types.SignalYes, EdgePct: 20, Confidence: 0.9}}, nil
	})

	out := e.FindSignals(context.Background(), []types.Market{sampleMarket("m1"), sampleMarket("m2")}, []types.StrategyName{"weak", "strong"}, 5, 10)
	if len(out) != 1 {
		t.Fatalf("expected one signal above min edge, got %d", len(out))
	}
	if out[0].Market.ID != "m2" {
		t.Errorf("expected the strong signal to survive, got market %s", out[0].Market.ID)
	}
}

func TestFindSignalsDedupesKeepingHigherScore(t *testing.T) {
	t.Parallel()
	e := &Engine{registry: map[types.StrategyName]StrategyFunc{}, logger: testLogger()}
	e.Register("low", func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		return []types.Signal{{Market: sampleMarket("m1"), Side: types.SignalYes, EdgePct: 10, Confidence: 0.4}}, nil
	})
	e.Register("high", func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		return []types.Signal{{Market: sampleMarket("m1"), Side: types.SignalYes, EdgePct: 10, Confidence: 0.9}}, nil
	})

	out := e.FindSignals(context.Background(), []types.Market{sampleMarket("m1")}, []types.StrategyName{"low", "high"}, 0, 10)
	if len(out) != 1 {
		t.Fatalf("expected dedupe down to one signal for (market, side), got %d", len(out))
	}
	if out[0].Confidence != 0.9 {
		t.Errorf("expected higher-scoring duplicate to survive, got confidence %f", out[0].Confidence)
	}
}

func TestFindSignalsIsolatesPanickingStrategy(t *testing.T) {
	t.Parallel()
	e := &Engine{registry: map[types.StrategyName]StrategyFunc{}, logger: testLogger()}
	e.Register("boom", func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		panic("simulated strategy failure")
	})
	e.Register("ok", func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		return []types.Signal{{Market: sampleMarket("m1"), Side: types.SignalYes, EdgePct: 10, Confidence: 0.9}}, nil
	})

	out := e.FindSignals(context.Background(), []types.Market{sampleMarket("m1")}, []types.StrategyName{"boom", "ok"}, 0, 10)
	if len(out) != 1 {
		t.Fatalf("expected the panicking strategy to be isolated and the other to survive, got %d signals", len(out))
	}
}

func TestFindSignalsSkipsErroringStrategy(t *testing.T) {
	t.Parallel()
	e := &Engine{registry: map[types.StrategyName]StrategyFunc{}, logger: testLogger()}
	e.Register("fails", func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		return nil, errors.New("boom")
	})
	out := e.FindSignals(context.Background(), []types.Market{sampleMarket("m1")}, []types.StrategyName{"fails"}, 0, 10)
	if len(out) != 0 {
		t.Fatalf("expected no signals when strategy errors, got %d", len(out))
	}
}

func TestFindSignalsSkipsUnknownStrategyName(t *testing.T) {
	t.Parallel()
	e := &Engine{registry: map[types.StrategyName]StrategyFunc{}, logger: testLogger()}
	out := e.FindSignals(context.Background(), []types.Market{sampleMarket("m1")}, []types.StrategyName{"nonexistent"}, 0, 10)
	if len(out) != 0 {
		t.Fatalf("expected no signals for unknown strategy name, got %d", len(out))
	}
}

func TestFindSignalsRespectsMaxResults(t *testing.T) {
	t.Parallel()
	e := &Engine{registry: map[types.StrategyName]StrategyFunc{}, logger: testLogger()}
	e.Register("many", func(ctx context.Context, markets []types.Market) ([]types.Signal, error) {
		return []types.Signal{
			{Market: sampleMarket("m1"), Side: types.SignalYes, EdgePct: 10, Confidence: 0.9},
			{Market: sampleMarket("m2"), Side: types.SignalYes, EdgePct: 20, Confidence: 0.9},
			{Market: sampleMarket("m3"), Side: types.SignalYes, EdgePct: 30, Confidence: 0.9},
		}, nil
	})
	out := e.FindSignals(context.Background(), []types.Market{sampleMarket("m1"), sampleMarket("m2"), sampleMarket("m3")}, []types.StrategyName{"many"}, 0, 2)
	if len(out) != 2 {
		t.Fatalf("expected maxResults to cap output at 2, got %d", len(out))
	}
	if out[0].Market.ID != "m3" {
		t.Errorf("expected highest-scoring signal first, got %s", out[0].Market.ID)
	}
}
