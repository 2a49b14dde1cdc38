// Package portfolio keeps an in-memory mirror of open positions and the
// running realized P&L, persisting every mutation to Store so the bot can
// resume after a restart without re-deriving state from trade history.
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polytrader/pkg/types"
)

// Store is the subset of store.Store that Portfolio needs.
type Store interface {
	LoadAllPositions() ([]types.Position, error)
	UpsertPosition(types.Position) error
	DeletePosition(tokenID string, side types.Side) error
	AppendTrade(types.Trade) (int64, error)
	GetStateFloat(key string, def float64) float64
	SetState(key, value string) error
}

// Gateway is the read-only surface Portfolio needs to refresh marks.
type Gateway interface {
	GetMidpoint(ctx context.Context, tokenID string) (float64, bool)
}

func key(tokenID string, side types.Side) string {
	return tokenID + "|" + string(side)
}

// Portfolio mirrors Store's positions table in memory. All methods are
// safe for concurrent use: both the main scan loop and OrderTracker fill
// callbacks mutate it.
type Portfolio struct {
	mu          sync.Mutex
	store       Store
	logger      *slog.Logger
	positions   map[string]types.Position
	realizedPnL float64

	maxExposureUSD float64 // risk cap used by CheckRiskLimits
	maxTradeSize   float64
}

// New loads existing positions and realized P&L from Store.
func New(store Store, logger *slog.Logger, maxExposureUSD, maxTradeSize float64) (*Portfolio, error) {
	p := &Portfolio{
		store:          store,
		logger:         logger.With("component", "portfolio"),
		positions:      make(map[string]types.Position),
		maxExposureUSD: maxExposureUSD,
		maxTradeSize:   maxTradeSize,
	}

	existing, err := store.LoadAllPositions()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	for _, pos := range existing {
		p.positions[key(pos.TokenID, pos.Side)] = pos
	}
	p.realizedPnL = store.GetStateFloat(types.KVRealizedPnL, 0)

	return p, nil
}

// AddPosition records a confirmed BUY fill, averaging into any existing
// position on the same (token, side).
func (p *Portfolio) AddPosition(tokenID, question string, side types.Side, size, entryPrice float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(tokenID, side)
	now := time.Now()
	pos, ok := p.positions[k]
	if !ok {
		pos = types.Position{
			TokenID:        tokenID,
			Side:           side,
			MarketQuestion: question,
			OpenedAt:       now,
		}
	}

	// Decimal arithmetic here: the average entry price accumulates across
	// every partial fill, and float64 drift compounds over thousands of them.
	oldSize := decimal.NewFromFloat(pos.Size)
	oldAvg := decimal.NewFromFloat(pos.AvgEntryPrice)
	fillSize := decimal.NewFromFloat(size)
	fillPrice := decimal.NewFromFloat(entryPrice)

	totalCost := oldAvg.Mul(oldSize).Add(fillPrice.Mul(fillSize))
	newSize := oldSize.Add(fillSize)
	pos.Size = newSize.InexactFloat64()
	if newSize.IsPositive() {
		pos.AvgEntryPrice = totalCost.Div(newSize).InexactFloat64()
	}
	pos.CurrentPrice = entryPrice
	pos.UpdatedAt = now
	p.positions[k] = pos

	if err := p.store.UpsertPosition(pos); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	if _, err := p.store.AppendTrade(types.Trade{
		Timestamp: now,
		TokenID:   tokenID,
		Question:  question,
		Side:      side,
		Action:    types.BUY,
		Size:      size,
		Price:     entryPrice,
	}); err != nil {
		return fmt.Errorf("append trade: %w", err)
	}

	return nil
}

// ClosePosition records a confirmed SELL fill, reducing the position and
// realizing P&L on the closed portion. Returns the realized amount for
// this call. The position is deleted once its size reaches zero.
func (p *Portfolio) ClosePosition(tokenID string, side types.Side, size, exitPrice float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(tokenID, side)
	pos, ok := p.positions[k]
	if !ok || pos.Size <= 0 {
		return 0, fmt.Errorf("no open position for %s/%s", tokenID, side)
	}

	closeSize := size
	if closeSize > pos.Size {
		closeSize = pos.Size
	}
	realized := decimal.NewFromFloat(closeSize).
		Mul(decimal.NewFromFloat(exitPrice).Sub(decimal.NewFromFloat(pos.AvgEntryPrice))).
		InexactFloat64()
	p.realizedPnL += realized

	pos.Size = decimal.NewFromFloat(pos.Size).Sub(decimal.NewFromFloat(closeSize)).InexactFloat64()
	pos.CurrentPrice = exitPrice
	pos.UpdatedAt = time.Now()

	if pos.Size <= 0 {
		delete(p.positions, k)
		if err := p.store.DeletePosition(tokenID, side); err != nil {
			return realized, fmt.Errorf("delete position: %w", err)
		}
	} else {
		p.positions[k] = pos
		if err := p.store.UpsertPosition(pos); err != nil {
			return realized, fmt.Errorf("persist position: %w", err)
		}
	}

	if _, err := p.store.AppendTrade(types.Trade{
		Timestamp: pos.UpdatedAt,
		TokenID:   tokenID,
		Question:  pos.MarketQuestion,
		Side:      side,
		Action:    types.SELL,
		Size:      closeSize,
		Price:     exitPrice,
	}); err != nil {
		return realized, fmt.Errorf("append trade: %w", err)
	}
	if err := p.store.SetState(types.KVRealizedPnL, fmt.Sprintf("%g", p.realizedPnL)); err != nil {
		return realized, fmt.Errorf("persist realized pnl: %w", err)
	}

	return realized, nil
}

// UpdatePrices refreshes CurrentPrice for every open position from the
// gateway's midpoint feed. Failures for a single token are logged and
// skipped — they don't block the rest of the refresh.
func (p *Portfolio) UpdatePrices(ctx context.Context, gw Gateway) {
	p.mu.Lock()
	tokens := make([]string, 0, len(p.positions))
	for _, pos := range p.positions {
		tokens = append(tokens, pos.TokenID)
	}
	p.mu.Unlock()

	for _, tokenID := range tokens {
		mid, ok := gw.GetMidpoint(ctx, tokenID)
		if !ok {
			continue
		}

		// A position's token ID is the outcome token it holds (a NO position
		// holds the NO token), so the fetched midpoint is already the price
		// of that side.
		p.mu.Lock()
		for _, side := range []types.Side{types.YES, types.NO} {
			k := key(tokenID, side)
			pos, exists := p.positions[k]
			if !exists {
				continue
			}
			pos.CurrentPrice = mid
			pos.UpdatedAt = time.Now()
			p.positions[k] = pos
			if err := p.store.UpsertPosition(pos); err != nil {
				p.logger.Warn("persist refreshed price", "token", tokenID, "error", err)
			}
		}
		p.mu.Unlock()
	}
}

// Snapshot returns a copy of every currently-open position.
func (p *Portfolio) Snapshot() []types.Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out
}

// Get returns the position for (token, side), if open.
func (p *Portfolio) Get(tokenID string, side types.Side) (types.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[key(tokenID, side)]
	return pos, ok
}

// RealizedPnL returns the accumulated realized P&L across all closes.
func (p *Portfolio) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realizedPnL
}

// GetTotalValue returns the mark-to-market USD value of all open positions.
func (p *Portfolio) GetTotalValue() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total float64
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

// GetTotalExposure is an alias for GetTotalValue: in this binary-outcome
// domain, mark-to-market value and capital-at-risk coincide.
func (p *Portfolio) GetTotalExposure() float64 {
	return p.GetTotalValue()
}

// GetTotalUnrealizedPnL sums unrealized P&L across all open positions.
func (p *Portfolio) GetTotalUnrealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var total float64
	for _, pos := range p.positions {
		total += pos.UnrealizedPnL()
	}
	return total
}

// export is the JSON shape for ExportJSON/ImportJSON.
type export struct {
	Positions   []types.Position `json:"positions"`
	RealizedPnL float64          `json:"realized_pnl"`
}

// ExportJSON serializes all open positions and the realized P&L scalar.
func (p *Portfolio) ExportJSON() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := export{RealizedPnL: p.realizedPnL}
	for _, pos := range p.positions {
		out.Positions = append(out.Positions, pos)
	}
	return json.MarshalIndent(out, "", "  ")
}

// ImportJSON replaces the in-memory positions map with the exported state
// and persists each position, restoring a backup made by ExportJSON.
func (p *Portfolio) ImportJSON(data []byte) error {
	var in export
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal portfolio export: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions = make(map[string]types.Position, len(in.Positions))
	for _, pos := range in.Positions {
		p.positions[key(pos.TokenID, pos.Side)] = pos
		if err := p.store.UpsertPosition(pos); err != nil {
			return fmt.Errorf("persist imported position: %w", err)
		}
	}
	p.realizedPnL = in.RealizedPnL
	return p.store.SetState(types.KVRealizedPnL, fmt.Sprintf("%g", p.realizedPnL))
}

// CheckRiskLimits returns human-readable warnings when aggregate exposure
// exceeds the configured cap, or any single position's cost basis exceeds
// twice the configured max trade size.
func (p *Portfolio) CheckRiskLimits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var warnings []string
	var totalExposure float64
	for _, pos := range p.positions {
		totalExposure += pos.MarketValue()
		if p.maxTradeSize > 0 && pos.CostBasis() > 2*p.maxTradeSize {
			warnings = append(warnings, fmt.Sprintf("position %s/%s cost basis %.2f exceeds 2x max trade size", pos.TokenID, pos.Side, pos.CostBasis()))
		}
	}
	if p.maxExposureUSD > 0 && totalExposure > p.maxExposureUSD {
		warnings = append(warnings, fmt.Sprintf("total exposure %.2f exceeds cap %.2f", totalExposure, p.maxExposureUSD))
	}
	return warnings
}
