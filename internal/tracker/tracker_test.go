package tracker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

type fakeStore struct {
	persisted map[string]types.TrackedOrder
	recovered []types.TrackedOrder
}

func newFakeStore() *fakeStore {
	return &fakeStore{persisted: make(map[string]types.TrackedOrder)}
}

func (f *fakeStore) UpsertPendingOrder(o types.TrackedOrder) error {
	f.persisted[o.OrderID] = o
	return nil
}

func (f *fakeStore) NonTerminalOrders() ([]types.TrackedOrder, error) {
	return f.recovered, nil
}

// fakeGateway serves a scripted sequence of GetOrder responses per order.
type fakeGateway struct {
	responses map[string][]*types.OrderStatusResponse
	calls     map[string]int
	cancels   []string
	cancelErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: make(map[string][]*types.OrderStatusResponse),
		calls:     make(map[string]int),
	}
}

func (f *fakeGateway) GetOrder(_ context.Context, orderID string) (*types.OrderStatusResponse, error) {
	seq := f.responses[orderID]
	i := f.calls[orderID]
	f.calls[orderID]++
	if i >= len(seq) {
		if len(seq) == 0 {
			return nil, nil
		}
		return seq[len(seq)-1], nil
	}
	return seq[i], nil
}

func (f *fakeGateway) Cancel(_ context.Context, orderID string) (*types.CancelResponse, error) {
	f.cancels = append(f.cancels, orderID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &types.CancelResponse{Canceled: []string{orderID}}, nil
}

func testCfg() config.TrackerConfig {
	return config.TrackerConfig{PollInterval: 5 * time.Second, StaleAfter: 30 * time.Minute}
}

func newTestTracker(t *testing.T, store Store, gw Gateway) *Tracker {
	t.Helper()
	tr, err := New(store, gw, testCfg(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

type fillRecord struct {
	newFill   float64
	fillPrice float64
	total     float64
	avgPrice  float64
	status    types.TrackedOrderStatus
}

func TestPartialThenFullFill(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	gw := newFakeGateway()
	gw.responses["ord1"] = []*types.OrderStatusResponse{
		{Status: "LIVE", SizeMatched: 40, AssociateTrades: []types.AssociateTrade{{Size: 40, Price: 0.50}}},
		{Status: "MATCHED", SizeMatched: 100, AssociateTrades: []types.AssociateTrade{{Size: 40, Price: 0.50}, {Size: 60, Price: 0.48}}},
	}

	tr := newTestTracker(t, store, gw)
	var fills []fillRecord
	tr.SetHooks(func(o types.TrackedOrder, newFill, fillPrice float64) {
		fills = append(fills, fillRecord{newFill, fillPrice, o.FilledSize, o.AvgFillPrice, o.Status})
	}, nil)

	if err := tr.Track("ord1", "tok1", "q", types.YES, types.BUY, 100, 0.50, nil); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := tr.PollOnce(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill after first poll, got %d", len(fills))
	}
	if fills[0].newFill != 40 || fills[0].fillPrice != 0.50 {
		t.Errorf("first fill = %+v, want 40 @ 0.50", fills[0])
	}
	if o, _ := tr.GetOrder("ord1"); o.Status != types.StatusPartiallyFilled {
		t.Errorf("status after partial = %s, want PARTIALLY_FILLED", o.Status)
	}

	if err := tr.PollOnce(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills after second poll, got %d", len(fills))
	}
	second := fills[1]
	if math.Abs(second.newFill-60) > 1e-9 {
		t.Errorf("second new_fill = %v, want 60", second.newFill)
	}
	if math.Abs(second.fillPrice-0.48) > 1e-9 {
		// marginal price of the 60-share increment, not the blended average
		t.Errorf("second fill price = %v, want 0.48", second.fillPrice)
	}
	if math.Abs(second.avgPrice-0.488) > 1e-9 {
		t.Errorf("avg fill price = %v, want 0.488", second.avgPrice)
	}
	if second.status != types.StatusMatched {
		t.Errorf("final status = %s, want MATCHED", second.status)
	}
	if tr.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", tr.PendingCount())
	}

	persisted := store.persisted["ord1"]
	if persisted.FilledSize != 100 || persisted.Status != types.StatusMatched {
		t.Errorf("persisted = %+v, want filled 100 / MATCHED", persisted)
	}
}

func TestSizeMatchedFallbackWithoutTrades(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	gw := newFakeGateway()
	gw.responses["ord1"] = []*types.OrderStatusResponse{
		{Status: "LIVE", SizeMatched: 25, Price: 0.42},
	}

	tr := newTestTracker(t, store, gw)
	var gotPrice float64
	tr.SetHooks(func(_ types.TrackedOrder, _, fillPrice float64) { gotPrice = fillPrice }, nil)

	tr.Track("ord1", "tok1", "q", types.YES, types.BUY, 100, 0.45, nil)
	if err := tr.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotPrice != 0.42 {
		t.Errorf("fill price = %v, want api price 0.42 when trades absent", gotPrice)
	}
}

func TestFillRegressionIsFatal(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	gw := newFakeGateway()
	gw.responses["ord1"] = []*types.OrderStatusResponse{
		{Status: "LIVE", SizeMatched: 50, AssociateTrades: []types.AssociateTrade{{Size: 50, Price: 0.50}}},
		{Status: "LIVE", SizeMatched: 30, AssociateTrades: []types.AssociateTrade{{Size: 30, Price: 0.50}}},
	}

	tr := newTestTracker(t, store, gw)
	tr.Track("ord1", "tok1", "q", types.YES, types.BUY, 100, 0.50, nil)

	ctx := context.Background()
	if err := tr.PollOnce(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	err := tr.PollOnce(ctx)
	if !errors.Is(err, ErrFillRegression) {
		t.Fatalf("expected ErrFillRegression, got %v", err)
	}
}

func TestStaleCancelFiresOnce(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	gw := newFakeGateway()

	tr, err := New(store, gw, config.TrackerConfig{PollInterval: time.Second, StaleAfter: time.Millisecond}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	cancels := 0
	tr.SetHooks(nil, func(types.TrackedOrder) { cancels++ })

	tr.Track("ord1", "tok1", "q", types.YES, types.BUY, 100, 0.50, nil)
	time.Sleep(5 * time.Millisecond)

	ctx := context.Background()
	if err := tr.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tr.PollOnce(ctx); err != nil {
		t.Fatal(err)
	}

	if cancels != 1 {
		t.Errorf("on_cancel fired %d times, want exactly 1", cancels)
	}
	if len(gw.cancels) != 1 {
		t.Errorf("exchange cancel called %d times, want 1", len(gw.cancels))
	}
	if o, _ := tr.GetOrder("ord1"); o.Status != types.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", o.Status)
	}
}

func TestStaleCancelFailureExpires(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	gw := newFakeGateway()
	gw.cancelErr = errors.New("exchange down")

	tr, err := New(store, gw, config.TrackerConfig{PollInterval: time.Second, StaleAfter: time.Millisecond}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	tr.Track("ord1", "tok1", "q", types.YES, types.BUY, 100, 0.50, nil)
	time.Sleep(5 * time.Millisecond)

	if err := tr.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o, _ := tr.GetOrder("ord1"); o.Status != types.StatusExpired {
		t.Errorf("status = %s, want EXPIRED when cancel fails", o.Status)
	}
}

func TestExchangeCancelDoesNotRefire(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	gw := newFakeGateway()
	gw.responses["ord1"] = []*types.OrderStatusResponse{
		{Status: "CANCELLED", SizeMatched: 0},
		{Status: "CANCELLED", SizeMatched: 0},
	}

	tr := newTestTracker(t, store, gw)
	cancels := 0
	tr.SetHooks(nil, func(types.TrackedOrder) { cancels++ })

	tr.Track("ord1", "tok1", "q", types.YES, types.BUY, 100, 0.50, nil)
	ctx := context.Background()
	tr.PollOnce(ctx)
	tr.PollOnce(ctx)

	if cancels != 1 {
		t.Errorf("on_cancel fired %d times across re-observed CANCELLED, want 1", cancels)
	}
}

func TestCrashRecoveryResumesPolling(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.recovered = []types.TrackedOrder{
		{
			OrderID: "ord1", TokenID: "tok1", Question: "q", Side: types.YES, OrderSide: types.BUY,
			Size: 100, LimitPrice: 0.50, FilledSize: 40, AvgFillPrice: 0.50,
			Status: types.StatusPartiallyFilled, CreatedAt: time.Now(),
		},
	}
	gw := newFakeGateway()
	gw.responses["ord1"] = []*types.OrderStatusResponse{
		{Status: "MATCHED", SizeMatched: 100, AssociateTrades: []types.AssociateTrade{{Size: 40, Price: 0.50}, {Size: 60, Price: 0.48}}},
	}

	tr := newTestTracker(t, store, gw)
	if tr.PendingCount() != 1 {
		t.Fatalf("recovered pending count = %d, want 1", tr.PendingCount())
	}

	var newFill float64
	tr.SetHooks(func(_ types.TrackedOrder, nf, _ float64) { newFill = nf }, nil)
	if err := tr.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Only the delta beyond the persisted 40 is delivered after recovery.
	if math.Abs(newFill-60) > 1e-9 {
		t.Errorf("recovered fill delta = %v, want 60", newFill)
	}
}

func TestFilledSizeMonotonicAcrossPolls(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	gw := newFakeGateway()
	gw.responses["ord1"] = []*types.OrderStatusResponse{
		{Status: "LIVE", SizeMatched: 10},
		{Status: "LIVE", SizeMatched: 10}, // unchanged: no callback, no regression
		{Status: "LIVE", SizeMatched: 35},
	}

	tr := newTestTracker(t, store, gw)
	var seen []float64
	tr.SetHooks(func(o types.TrackedOrder, _, _ float64) { seen = append(seen, o.FilledSize) }, nil)

	tr.Track("ord1", "tok1", "q", types.YES, types.BUY, 100, 0.50, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := tr.PollOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 fill deliveries, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Errorf("filled_size decreased: %v", seen)
		}
	}
}

func TestCancelTrackingIsLocalOnly(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	gw := newFakeGateway()

	tr := newTestTracker(t, store, gw)
	tr.Track("ord1", "tok1", "q", types.YES, types.BUY, 100, 0.50, nil)
	tr.CancelTracking("ord1")

	if _, ok := tr.GetOrder("ord1"); ok {
		t.Error("order should be gone from local bookkeeping")
	}
	if len(gw.cancels) != 0 {
		t.Error("CancelTracking must not touch the exchange")
	}
}
