package risk

import (
	"errors"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/store"
	"polytrader/pkg/types"
)

type fakeStore struct {
	intents map[string]types.OrderIntent
	state   map[string]string
	pruned  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		intents: make(map[string]types.OrderIntent),
		state:   make(map[string]string),
	}
}

func (f *fakeStore) CreateIntentIfAbsent(intent types.OrderIntent) error {
	if _, ok := f.intents[intent.IntentID]; ok {
		return store.ErrDuplicateIntent
	}
	f.intents[intent.IntentID] = intent
	return nil
}

func (f *fakeStore) PruneIntentsOlderThan(time.Duration) (int64, error) {
	f.pruned++
	return 0, nil
}

func (f *fakeStore) GetState(key string) (string, bool, error) {
	v, ok := f.state[key]
	return v, ok, nil
}

func (f *fakeStore) SetState(key, value string) error {
	f.state[key] = value
	return nil
}

func (f *fakeStore) GetStateFloat(key string, def float64) float64 {
	raw, ok := f.state[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func testCfg() config.RiskConfig {
	return config.RiskConfig{
		Bankroll:         1000,
		ReservePct:       0.20,
		MaxBetSize:       50,
		MaxOpenPositions: 10,
		MaxSpreadBps:     150,
		MaxDailyLossUSD:  100,
		MaxDrawdownPct:   20,
		IntentTTLSeconds: 300,
	}
}

func newTestManager(cfg config.RiskConfig, st Store) *Manager {
	return NewManager(cfg, st, slog.New(slog.DiscardHandler))
}

func TestBetSizeCapsAndScaling(t *testing.T) {
	t.Parallel()
	m := newTestManager(testCfg(), newFakeStore())

	// available = 1000 − 200 − 0 = 800; 0.25·800 = 200 → capped at 50.
	bet, err := m.BetSize(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if bet != 50 {
		t.Errorf("bet = %v, want capped 50", bet)
	}

	// available = 1000 − 200 − 700 = 100; 0.25·100 = 25.
	bet, err = m.BetSize(700, 0)
	if err != nil {
		t.Fatal(err)
	}
	if bet != 25 {
		t.Errorf("bet = %v, want 25", bet)
	}
}

func TestBetSizeFloorRefusal(t *testing.T) {
	t.Parallel()
	m := newTestManager(testCfg(), newFakeStore())

	// available = 1000 − 200 − 790 = 10; 0.25·10 = 2.50 < $5.
	_, err := m.BetSize(790, 0)
	if !errors.Is(err, ErrBetTooSmall) {
		t.Errorf("err = %v, want ErrBetTooSmall", err)
	}
}

func TestBetSizePositionCap(t *testing.T) {
	t.Parallel()
	m := newTestManager(testCfg(), newFakeStore())

	_, err := m.BetSize(0, 10)
	if !errors.Is(err, ErrTooManyPositions) {
		t.Errorf("err = %v, want ErrTooManyPositions", err)
	}
}

func book(bid, ask string) *types.BookResponse {
	return &types.BookResponse{
		Bids: []types.PriceLevel{{Price: bid, Size: "100"}},
		Asks: []types.PriceLevel{{Price: ask, Size: "100"}},
	}
}

func TestSpreadGuard(t *testing.T) {
	t.Parallel()
	m := newTestManager(testCfg(), newFakeStore())

	// (0.51 − 0.50)/0.505 · 10000 ≈ 198 bps > 150.
	if err := m.CheckSpread(book("0.50", "0.51")); !errors.Is(err, ErrSpreadTooWide) {
		t.Errorf("wide spread: err = %v, want ErrSpreadTooWide", err)
	}
	// (0.503 − 0.50)/0.5015 · 10000 ≈ 60 bps.
	if err := m.CheckSpread(book("0.50", "0.503")); err != nil {
		t.Errorf("tight spread rejected: %v", err)
	}
	if err := m.CheckSpread(nil); !errors.Is(err, ErrNoBook) {
		t.Errorf("nil book: err = %v, want ErrNoBook", err)
	}
	// Inverted book.
	if err := m.CheckSpread(book("0.60", "0.50")); !errors.Is(err, ErrNoBook) {
		t.Errorf("inverted book: err = %v, want ErrNoBook", err)
	}
	// One-sided book.
	if err := m.CheckSpread(&types.BookResponse{Asks: []types.PriceLevel{{Price: "0.5", Size: "1"}}}); !errors.Is(err, ErrNoBook) {
		t.Errorf("one-sided book: err = %v, want ErrNoBook", err)
	}
}

func TestKillSwitchSeedsFromConfig(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	cfg.KillSwitch = true
	m := newTestManager(cfg, newFakeStore())
	if !m.KillSwitchActive() {
		t.Error("kill switch should seed from config")
	}
}

func TestDailyLossBreakerTripsAndLatches(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	m := newTestManager(testCfg(), st)

	m.EvaluateBreakers(0, 0) // rolls baseline at 0
	if m.KillSwitchActive() {
		t.Fatal("no breach yet")
	}

	m.EvaluateBreakers(-150, 0) // day P&L −150 ≤ −100
	if !m.KillSwitchActive() {
		t.Fatal("daily loss breach should trip the kill switch")
	}

	// Recovery of the P&L does not unset a latched breaker.
	m.EvaluateBreakers(0, 0)
	if !m.KillSwitchActive() {
		t.Error("breakers never auto-unset")
	}
	if snap := m.GetSnapshot(); snap.DailyLossState != "open" {
		t.Errorf("daily breaker state = %s, want open", snap.DailyLossState)
	}
}

func TestDrawdownBreakerTrips(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.state[types.KVCashStartUSD] = "1000"
	m := newTestManager(testCfg(), st)

	// equity = 1000 − 100 − 150 = 750 → drawdown 25% ≥ 20%.
	m.EvaluateBreakers(-100, -150)
	if !m.KillSwitchActive() {
		t.Error("drawdown breach should trip the kill switch")
	}
}

func TestDailyBaselineRollsOncePerDay(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	m := newTestManager(testCfg(), st)

	m.EvaluateBreakers(40, 0)
	if st.state[types.KVRealizedPnLDayStart] != "40" {
		t.Errorf("day start = %q, want 40", st.state[types.KVRealizedPnLDayStart])
	}

	// Same calendar day: the baseline holds even as realized P&L moves.
	m.EvaluateBreakers(75, 0)
	if st.state[types.KVRealizedPnLDayStart] != "40" {
		t.Errorf("day start moved within one day: %q", st.state[types.KVRealizedPnLDayStart])
	}
	if st.GetStateFloat(types.KVPnLDay, -1) != 35 {
		t.Errorf("pnl_day = %v, want 35", st.GetStateFloat(types.KVPnLDay, -1))
	}
}

func TestDuplicateIntentRefused(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	m := newTestManager(testCfg(), st)

	if err := m.RegisterIntent("tok1", types.YES, types.BUY, 0.50, 100, "momentum"); err != nil {
		t.Fatalf("first intent: %v", err)
	}
	err := m.RegisterIntent("tok1", types.YES, types.BUY, 0.50, 100, "momentum")
	if !errors.Is(err, ErrDuplicateIntent) {
		t.Errorf("second intent: err = %v, want ErrDuplicateIntent", err)
	}
	if len(st.intents) != 1 {
		t.Errorf("persisted %d intents, want 1", len(st.intents))
	}

	// A different price is a different intent.
	if err := m.RegisterIntent("tok1", types.YES, types.BUY, 0.51, 100, "momentum"); err != nil {
		t.Errorf("distinct intent refused: %v", err)
	}
}

func TestIntentFingerprintDeterministic(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 300 * time.Second

	a := IntentFingerprint("tok1", types.YES, types.BUY, 0.50, 100, "momentum", at, ttl)
	b := IntentFingerprint("tok1", types.YES, types.BUY, 0.50, 100, "momentum", at.Add(10*time.Second), ttl)
	if a != b {
		t.Error("same bucket should fingerprint identically")
	}

	c := IntentFingerprint("tok1", types.YES, types.BUY, 0.50, 100, "momentum", at.Add(ttl+time.Second), ttl)
	if a == c {
		t.Error("a later bucket should fingerprint differently")
	}
}

func TestStartupSeedsBaseline(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	m := newTestManager(testCfg(), st)

	m.Startup(t.Context(), nil)
	if st.state[types.KVCashStartUSD] != "1000" {
		t.Errorf("cash_start = %q, want 1000", st.state[types.KVCashStartUSD])
	}
	if st.pruned != 1 {
		t.Errorf("prune called %d times, want 1", st.pruned)
	}

	// A second boot must not clobber an operator-adjusted baseline.
	st.state[types.KVCashStartUSD] = "1234"
	m.Startup(t.Context(), nil)
	if st.state[types.KVCashStartUSD] != "1234" {
		t.Error("existing baseline overwritten on restart")
	}
}
