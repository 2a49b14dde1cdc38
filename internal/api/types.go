package api

import (
	"time"

	"polytrader/internal/config"
	"polytrader/internal/engine"
	"polytrader/internal/risk"
)

// DashboardEvent is the wrapper for every message pushed over the WebSocket.
type DashboardEvent struct {
	Type      string    `json:"type"` // "snapshot"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// DashboardSnapshot is the complete read-only state served to the dashboard.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Report engine.Report `json:"report"`

	Positions     []PositionStatus  `json:"positions"`
	PendingOrders []OrderStatus     `json:"pending_orders"`
	AutoOrders    []AutoOrderStatus `json:"auto_orders"`

	Risk   RiskStatus    `json:"risk"`
	Config ConfigSummary `json:"config"`
}

// PositionStatus is one open position with derived P&L.
type PositionStatus struct {
	TokenID       string    `json:"token_id"`
	Side          string    `json:"side"`
	Question      string    `json:"question"`
	Size          float64   `json:"size"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	CostBasis     float64   `json:"cost_basis"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	OpenedAt      time.Time `json:"opened_at"`
}

// OrderStatus is one tracked order's fill progress.
type OrderStatus struct {
	OrderID      string    `json:"order_id"`
	TokenID      string    `json:"token_id"`
	Question     string    `json:"question"`
	Side         string    `json:"side"`
	OrderSide    string    `json:"order_side"`
	Size         float64   `json:"size"`
	LimitPrice   float64   `json:"limit_price"`
	FilledSize   float64   `json:"filled_size"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// AutoOrderStatus is one active exit trigger.
type AutoOrderStatus struct {
	OrderID      string   `json:"order_id"`
	TokenID      string   `json:"token_id"`
	Question     string   `json:"question"`
	OrderType    string   `json:"order_type"`
	Side         string   `json:"side"`
	Size         float64  `json:"size"`
	TriggerPrice float64  `json:"trigger_price"`
	HighestPrice float64  `json:"highest_price,omitempty"`
	State        string   `json:"state"`
	LinkedOrder  *string  `json:"linked_order_id,omitempty"`
}

// RiskStatus mirrors the risk manager's posture.
type RiskStatus struct {
	KillSwitchActive bool    `json:"kill_switch_active"`
	KillReason       string  `json:"kill_reason,omitempty"`
	DailyLossState   string  `json:"daily_loss_breaker"`
	DrawdownState    string  `json:"drawdown_breaker"`
	Bankroll         float64 `json:"bankroll"`
	MaxBetSize       float64 `json:"max_bet_size"`
	MaxOpenPositions int     `json:"max_open_positions"`
	MaxSpreadBps     float64 `json:"max_spread_bps"`
	MaxDailyLossUSD  float64 `json:"max_daily_loss_usd"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	DayPnL           float64 `json:"day_pnl"`
}

// ConfigSummary is the operator-relevant slice of configuration.
type ConfigSummary struct {
	DryRun            bool     `json:"dry_run"`
	Strategies        []string `json:"strategies"`
	MinEdgePct        float64  `json:"min_edge_pct"`
	Categories        []string `json:"categories"`
	ScanInterval      string   `json:"scan_interval"`
	MaxPerCycle       int      `json:"max_per_cycle"`
	MaxHoldHours      float64  `json:"max_hold_hours"`
	TrackerInterval   string   `json:"tracker_poll_interval"`
	StaleAfter        string   `json:"stale_after"`
	MonitorInterval   string   `json:"monitor_interval"`
	DefaultTakeProfit float64  `json:"default_take_profit_pct"`
	DefaultStopLoss   float64  `json:"default_stop_loss_pct"`
}

// NewConfigSummary extracts the summary from full config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		DryRun:            cfg.DryRun,
		Strategies:        cfg.Strategy.Enabled,
		MinEdgePct:        cfg.Strategy.MinEdgePct,
		Categories:        cfg.Scanner.Categories,
		ScanInterval:      cfg.AutoOrder.ScanInterval.String(),
		MaxPerCycle:       cfg.AutoOrder.MaxPerCycle,
		MaxHoldHours:      cfg.AutoOrder.MaxHoldHours,
		TrackerInterval:   cfg.Tracker.PollInterval.String(),
		StaleAfter:        cfg.Tracker.StaleAfter.String(),
		MonitorInterval:   cfg.AutoOrder.MonitorInterval.String(),
		DefaultTakeProfit: cfg.AutoOrder.DefaultTakeProfit,
		DefaultStopLoss:   cfg.AutoOrder.DefaultStopLoss,
	}
}

func newRiskStatus(snap risk.Snapshot) RiskStatus {
	return RiskStatus{
		KillSwitchActive: snap.KillSwitchActive,
		KillReason:       snap.KillReason,
		DailyLossState:   snap.DailyLossState,
		DrawdownState:    snap.DrawdownState,
		Bankroll:         snap.Bankroll,
		MaxBetSize:       snap.MaxBetSize,
		MaxOpenPositions: snap.MaxOpenPositions,
		MaxSpreadBps:     snap.MaxSpreadBps,
		MaxDailyLossUSD:  snap.MaxDailyLossUSD,
		MaxDrawdownPct:   snap.MaxDrawdownPct,
		DayPnL:           snap.DayPnL,
	}
}
