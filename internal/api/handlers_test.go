package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/engine"
	"polytrader/internal/risk"
	"polytrader/pkg/types"
)

type fakeProvider struct{}

func (fakeProvider) LastReport() engine.Report {
	return engine.Report{Cycle: 3, MarketsScanned: 12, SignalsFound: 2, BetsPlaced: 1, RealizedPnL: 4.2}
}

func (fakeProvider) Positions() []types.Position {
	return []types.Position{{
		TokenID: "tok1", Side: types.YES, MarketQuestion: "Will X happen?",
		Size: 100, AvgEntryPrice: 0.488, CurrentPrice: 0.55, OpenedAt: time.Now(),
	}}
}

func (fakeProvider) TrackedOrders() []types.TrackedOrder {
	return []types.TrackedOrder{{
		OrderID: "ord1", TokenID: "tok1", Side: types.YES, OrderSide: types.BUY,
		Size: 100, FilledSize: 40, Status: types.StatusPartiallyFilled,
	}}
}

func (fakeProvider) ActiveAutoOrders() []types.AutoOrder {
	return []types.AutoOrder{{
		OrderID: "tp-1", TokenID: "tok1", OrderType: types.TakeProfit,
		Side: types.YES, Size: 100, TriggerPrice: 0.70, State: types.StateActive,
	}}
}

func (fakeProvider) RiskSnapshot() risk.Snapshot {
	return risk.Snapshot{KillSwitchActive: true, KillReason: "circuit breaker: daily-loss", DailyLossState: "open"}
}

func newTestHandlers() *Handlers {
	logger := slog.New(slog.DiscardHandler)
	return NewHandlers(fakeProvider{}, config.Config{}, NewHub(logger), logger)
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	h := newTestHandlers()

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()
	h := newTestHandlers()

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap DashboardSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Report.Cycle != 3 {
		t.Errorf("report cycle = %d, want 3", snap.Report.Cycle)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].TokenID != "tok1" {
		t.Errorf("positions = %+v", snap.Positions)
	}
	if len(snap.PendingOrders) != 1 || snap.PendingOrders[0].FilledSize != 40 {
		t.Errorf("pending orders = %+v", snap.PendingOrders)
	}
	if len(snap.AutoOrders) != 1 || snap.AutoOrders[0].State != "ACTIVE" {
		t.Errorf("auto orders = %+v", snap.AutoOrders)
	}
	if !snap.Risk.KillSwitchActive || snap.Risk.DailyLossState != "open" {
		t.Errorf("risk = %+v", snap.Risk)
	}

	// Derived fields survive the conversion.
	if snap.Positions[0].CostBasis != 100*0.488 {
		t.Errorf("cost basis = %v, want 48.8", snap.Positions[0].CostBasis)
	}
}

func TestOriginAllowlist(t *testing.T) {
	t.Parallel()
	cfg := config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}}

	if !isOriginAllowed("https://dash.example.com", cfg, "ignored") {
		t.Error("allowlisted origin rejected")
	}
	if isOriginAllowed("https://evil.example.com", cfg, "ignored") {
		t.Error("non-allowlisted origin accepted")
	}
	// No allowlist: localhost and same-host pass.
	open := config.DashboardConfig{}
	if !isOriginAllowed("http://localhost:3000", open, "localhost:8080") {
		t.Error("localhost rejected without allowlist")
	}
	if !isOriginAllowed("", open, "anything") {
		t.Error("missing origin should pass for non-browser clients")
	}
}
