package api

import (
	"time"

	"polytrader/internal/config"
	"polytrader/internal/engine"
	"polytrader/internal/risk"
	"polytrader/pkg/types"
)

// SnapshotProvider is the read-only surface the engine exposes to the
// dashboard. The trading path never depends on this package.
type SnapshotProvider interface {
	LastReport() engine.Report
	Positions() []types.Position
	TrackedOrders() []types.TrackedOrder
	ActiveAutoOrders() []types.AutoOrder
	RiskSnapshot() risk.Snapshot
}

// BuildSnapshot aggregates engine state into one dashboard payload.
func BuildSnapshot(provider SnapshotProvider, cfg config.Config) DashboardSnapshot {
	positions := provider.Positions()
	posOut := make([]PositionStatus, 0, len(positions))
	for _, p := range positions {
		posOut = append(posOut, PositionStatus{
			TokenID:       p.TokenID,
			Side:          string(p.Side),
			Question:      p.MarketQuestion,
			Size:          p.Size,
			AvgEntryPrice: p.AvgEntryPrice,
			CurrentPrice:  p.CurrentPrice,
			CostBasis:     p.CostBasis(),
			UnrealizedPnL: p.UnrealizedPnL(),
			OpenedAt:      p.OpenedAt,
		})
	}

	tracked := provider.TrackedOrders()
	orderOut := make([]OrderStatus, 0, len(tracked))
	for _, o := range tracked {
		orderOut = append(orderOut, OrderStatus{
			OrderID:      o.OrderID,
			TokenID:      o.TokenID,
			Question:     o.Question,
			Side:         string(o.Side),
			OrderSide:    string(o.OrderSide),
			Size:         o.Size,
			LimitPrice:   o.LimitPrice,
			FilledSize:   o.FilledSize,
			AvgFillPrice: o.AvgFillPrice,
			Status:       string(o.Status),
			CreatedAt:    o.CreatedAt,
		})
	}

	autos := provider.ActiveAutoOrders()
	autoOut := make([]AutoOrderStatus, 0, len(autos))
	for _, a := range autos {
		autoOut = append(autoOut, AutoOrderStatus{
			OrderID:      a.OrderID,
			TokenID:      a.TokenID,
			Question:     a.Question,
			OrderType:    string(a.OrderType),
			Side:         string(a.Side),
			Size:         a.Size,
			TriggerPrice: a.TriggerPrice,
			HighestPrice: a.HighestPrice,
			State:        string(a.State),
			LinkedOrder:  a.LinkedOrderID,
		})
	}

	return DashboardSnapshot{
		Timestamp:     time.Now(),
		Report:        provider.LastReport(),
		Positions:     posOut,
		PendingOrders: orderOut,
		AutoOrders:    autoOut,
		Risk:          newRiskStatus(provider.RiskSnapshot()),
		Config:        NewConfigSummary(cfg),
	}
}
