package strategy

import (
	"context"
	"testing"
	"time"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

func meanReversionCfg() config.MeanReversionConfig {
	return config.MeanReversionConfig{LookbackHours: 14, MinSnapshots: 3, MinSpikePct: 10, ReversionWindowHours: 2}
}

func TestMeanReversionOnSpike(t *testing.T) {
	t.Parallel()
	now := time.Now()

	var history []types.PriceSnapshot
	for i := 0; i < 15; i++ {
		history = append(history, types.PriceSnapshot{
			TokenID:   "m1_yes",
			Timestamp: now.Add(-time.Duration(14-i) * time.Hour),
			PriceYes:  0.50,
		})
	}
	spikes := []struct {
		hoursAgo float64
		price    float64
	}{{2, 0.55}, {1, 0.60}, {0, 0.65}}
	for _, sp := range spikes {
		history = append(history, types.PriceSnapshot{
			TokenID:   "m1_yes",
			Timestamp: now.Add(-time.Duration(sp.hoursAgo * float64(time.Hour))),
			PriceYes:  sp.price,
		})
	}

	store := &fakeStore{snapshots: map[string][]types.PriceSnapshot{"m1_yes": history}}
	m := types.Market{ID: "m1", YesTokenID: "m1_yes", NoTokenID: "m1_no", PriceYes: 0.65, PriceNo: 0.35}

	strat := newMeanReversionStrategy(store, meanReversionCfg())
	signals, err := strat(context.Background(), []types.Market{m})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected exactly one signal, got %d", len(signals))
	}
	s := signals[0]
	if s.Side != types.SignalNo {
		t.Errorf("expected NO side (betting against the upward spike), got %s", s.Side)
	}
	if s.Confidence != 0.55 {
		t.Errorf("expected confidence 0.55, got %f", s.Confidence)
	}
}

func TestMeanReversionNoSpikeIsEmpty(t *testing.T) {
	t.Parallel()
	now := time.Now()
	var history []types.PriceSnapshot
	for i := 0; i < 10; i++ {
		history = append(history, types.PriceSnapshot{
			TokenID:   "m1_yes",
			Timestamp: now.Add(-time.Duration(10-i) * time.Hour),
			PriceYes:  0.50,
		})
	}
	store := &fakeStore{snapshots: map[string][]types.PriceSnapshot{"m1_yes": history}}
	m := types.Market{ID: "m1", YesTokenID: "m1_yes", NoTokenID: "m1_no", PriceYes: 0.51, PriceNo: 0.49}

	strat := newMeanReversionStrategy(store, meanReversionCfg())
	signals, _ := strat(context.Background(), []types.Market{m})
	if len(signals) != 0 {
		t.Fatalf("expected no signal absent a spike, got %d", len(signals))
	}
}
