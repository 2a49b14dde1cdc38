// Package autoorder manages client-side exit triggers: take-profit,
// stop-loss, trailing stops, linked OCO pairs, and standalone limit
// triggers. A background monitor evaluates every ACTIVE order against the
// token's midpoint each tick and fires market exits through the gateway.
//
// Entries placed through this package never mutate the portfolio directly:
// Buy submits and registers the order with the tracker, and only the
// tracker's confirmed-fill callback creates the position.
package autoorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// Gateway is the exchange surface the engine needs: midpoints for trigger
// evaluation, books for pricing marketable exits, and order submission.
type Gateway interface {
	GetMidpoint(ctx context.Context, tokenID string) (float64, bool)
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
	PostOrder(ctx context.Context, order types.UserOrder) (*types.OrderResponse, error)
}

// Tracker registers submitted orders for fill polling.
type Tracker interface {
	Track(orderID, tokenID, question string, side types.Side, orderSide types.OrderSide, size, limitPrice float64, strategy *string) error
}

// Store persists auto-orders for crash recovery and audit.
type Store interface {
	UpsertAutoOrder(types.AutoOrder) error
	ActiveAutoOrders() ([]types.AutoOrder, error)
}

// TriggerFunc observes trigger/failure transitions, mainly for operator
// reporting.
type TriggerFunc func(order types.AutoOrder, price float64)

// Engine owns the auto-order map and the token→position tracker used by
// exit rules. Only the monitor loop mutates order state; other goroutines
// read snapshots or enqueue via the thread-safe setters.
type Engine struct {
	gw     Gateway
	trk    Tracker
	store  Store
	cfg    config.AutoOrderConfig
	logger *slog.Logger

	mu        sync.Mutex
	orders    map[string]*types.AutoOrder
	positions map[string]types.Position // tokenID → last confirmed position
	seq       int64

	onTriggered TriggerFunc
	onFailed    TriggerFunc
}

// New builds the engine and reloads PENDING/ACTIVE auto-orders from Store.
func New(gw Gateway, trk Tracker, store Store, cfg config.AutoOrderConfig, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		gw:        gw,
		trk:       trk,
		store:     store,
		cfg:       cfg,
		logger:    logger.With("component", "autoorder"),
		orders:    make(map[string]*types.AutoOrder),
		positions: make(map[string]types.Position),
	}

	recovered, err := store.ActiveAutoOrders()
	if err != nil {
		return nil, fmt.Errorf("recover auto orders: %w", err)
	}
	for i := range recovered {
		o := recovered[i]
		e.orders[o.OrderID] = &o
	}
	if len(recovered) > 0 {
		e.logger.Info("recovered auto orders", "count", len(recovered))
	}

	return e, nil
}

// SetHooks installs optional trigger/failure observers.
func (e *Engine) SetHooks(onTriggered, onFailed TriggerFunc) {
	e.onTriggered = onTriggered
	e.onFailed = onFailed
}

// RegisterPosition records a confirmed position for exit-rule bookkeeping.
// Called from the tracker's fill callback.
func (e *Engine) RegisterPosition(pos types.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos.Size <= 0 {
		delete(e.positions, pos.TokenID)
		return
	}
	e.positions[pos.TokenID] = pos
}

// PositionFor returns the last confirmed position for a token.
func (e *Engine) PositionFor(tokenID string) (types.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[tokenID]
	return pos, ok
}

func (e *Engine) nextID(kind string) string {
	e.seq++
	return fmt.Sprintf("%s-%d-%d", kind, time.Now().UnixNano(), e.seq)
}

// Buy submits a BUY through the gateway and registers the acknowledged order
// with the tracker. It does not create a position; the fill callback does.
func (e *Engine) Buy(ctx context.Context, tokenID, question string, side types.Side, size, price float64, tickSize types.TickSize, strategy *string) (string, error) {
	resp, err := e.gw.PostOrder(ctx, types.UserOrder{
		TokenID:  tokenID,
		Price:    price,
		Size:     size,
		Side:     types.BUY,
		TIF:      types.GTC,
		TickSize: tickSize,
	})
	if err != nil {
		return "", fmt.Errorf("post buy: %w", err)
	}
	if resp == nil || !resp.Success {
		msg := "no response"
		if resp != nil {
			msg = resp.ErrorMsg
		}
		return "", fmt.Errorf("buy rejected: %s", msg)
	}

	if err := e.trk.Track(resp.OrderID, tokenID, question, side, types.BUY, size, price, strategy); err != nil {
		e.logger.Error("track buy failed", "order_id", resp.OrderID, "error", err)
	}
	return resp.OrderID, nil
}

// BuyWithTPSL issues the BUY, then registers the requested exit triggers as
// ACTIVE auto-orders. A take-profit and stop-loss on the same position are
// automatically linked OCO.
func (e *Engine) BuyWithTPSL(ctx context.Context, tokenID, question string, side types.Side, size, price float64, tickSize types.TickSize, strategy *string, tp, sl, trailingPct *float64) (string, error) {
	orderID, err := e.Buy(ctx, tokenID, question, side, size, price, tickSize, strategy)
	if err != nil {
		return "", err
	}

	if tp != nil && sl != nil {
		e.SetOCO(tokenID, question, side, size, *tp, *sl)
	} else if tp != nil {
		e.SetTakeProfit(tokenID, question, side, size, *tp)
	} else if sl != nil {
		e.SetStopLoss(tokenID, question, side, size, *sl)
	}
	if trailingPct != nil {
		e.SetTrailingStop(tokenID, question, side, size, price, *trailingPct)
	}

	return orderID, nil
}

// SetTakeProfit registers a standalone take-profit trigger.
func (e *Engine) SetTakeProfit(tokenID, question string, side types.Side, size, triggerPrice float64) string {
	return e.addOrder(types.AutoOrder{
		OrderID:      e.reserveID("tp"),
		TokenID:      tokenID,
		Question:     question,
		Side:         side,
		OrderType:    types.TakeProfit,
		Size:         size,
		TriggerPrice: triggerPrice,
		State:        types.StateActive,
		CreatedAt:    time.Now(),
	})
}

// SetStopLoss registers a standalone stop-loss trigger.
func (e *Engine) SetStopLoss(tokenID, question string, side types.Side, size, triggerPrice float64) string {
	return e.addOrder(types.AutoOrder{
		OrderID:      e.reserveID("sl"),
		TokenID:      tokenID,
		Question:     question,
		Side:         side,
		OrderType:    types.StopLoss,
		Size:         size,
		TriggerPrice: triggerPrice,
		State:        types.StateActive,
		CreatedAt:    time.Now(),
	})
}

// SetTrailingStop registers a trailing stop seeded at the entry price. The
// trigger ratchets up as the price makes new highs and never moves down.
func (e *Engine) SetTrailingStop(tokenID, question string, side types.Side, size, entryPrice, trailingPct float64) string {
	pct := trailingPct
	return e.addOrder(types.AutoOrder{
		OrderID:         e.reserveID("trail"),
		TokenID:         tokenID,
		Question:        question,
		Side:            side,
		OrderType:       types.TrailingStop,
		Size:            size,
		TriggerPrice:    entryPrice * (1 - pct),
		TrailingPercent: &pct,
		HighestPrice:    entryPrice,
		State:           types.StateActive,
		CreatedAt:       time.Now(),
	})
}

// SetOCO creates a linked take-profit/stop-loss pair. Executing or
// cancelling either cancels the other.
func (e *Engine) SetOCO(tokenID, question string, side types.Side, size, tpPrice, slPrice float64) (string, string) {
	tpID := e.reserveID("tp")
	slID := e.reserveID("sl")

	tp := types.AutoOrder{
		OrderID: tpID, TokenID: tokenID, Question: question, Side: side,
		OrderType: types.TakeProfit, Size: size, TriggerPrice: tpPrice,
		State: types.StateActive, CreatedAt: time.Now(), LinkedOrderID: &slID,
	}
	sl := types.AutoOrder{
		OrderID: slID, TokenID: tokenID, Question: question, Side: side,
		OrderType: types.StopLoss, Size: size, TriggerPrice: slPrice,
		State: types.StateActive, CreatedAt: time.Now(), LinkedOrderID: &tpID,
	}

	e.addOrder(tp)
	e.addOrder(sl)
	return tpID, slID
}

func (e *Engine) reserveID(kind string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextID(kind)
}

func (e *Engine) addOrder(o types.AutoOrder) string {
	e.mu.Lock()
	e.orders[o.OrderID] = &o
	e.mu.Unlock()

	if err := e.store.UpsertAutoOrder(o); err != nil {
		e.logger.Warn("persist auto order", "order_id", o.OrderID, "error", err)
	}
	e.logger.Info("auto order registered", "order_id", o.OrderID, "type", o.OrderType, "token", o.TokenID, "trigger", o.TriggerPrice)
	return o.OrderID
}

// CancelOrder transitions an ACTIVE or PENDING order to CANCELLED, taking
// down any still-active OCO partner with it.
func (e *Engine) CancelOrder(orderID string) error {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown auto order %q", orderID)
	}
	if o.State != types.StateActive && o.State != types.StatePending {
		e.mu.Unlock()
		return fmt.Errorf("auto order %q is %s, not cancellable", orderID, o.State)
	}
	o.State = types.StateCancelled
	cancelled := []types.AutoOrder{*o}
	if partner := e.cancelLinkedLocked(o); partner != nil {
		cancelled = append(cancelled, *partner)
	}
	e.mu.Unlock()

	for _, c := range cancelled {
		if err := e.store.UpsertAutoOrder(c); err != nil {
			e.logger.Warn("persist cancel", "order_id", c.OrderID, "error", err)
		}
	}
	return nil
}

// CancelAllOrders cancels every non-terminal auto-order, or only those on
// one token if tokenID is non-empty. Returns the number cancelled.
func (e *Engine) CancelAllOrders(tokenID string) int {
	e.mu.Lock()
	var cancelled []types.AutoOrder
	for _, o := range e.orders {
		if tokenID != "" && o.TokenID != tokenID {
			continue
		}
		if o.State == types.StateActive || o.State == types.StatePending {
			o.State = types.StateCancelled
			cancelled = append(cancelled, *o)
		}
	}
	e.mu.Unlock()

	for _, c := range cancelled {
		if err := e.store.UpsertAutoOrder(c); err != nil {
			e.logger.Warn("persist cancel", "order_id", c.OrderID, "error", err)
		}
	}
	return len(cancelled)
}

// cancelLinkedLocked transitions a still-active OCO partner to CANCELLED.
// Caller holds e.mu. Returns the partner snapshot for persistence.
func (e *Engine) cancelLinkedLocked(o *types.AutoOrder) *types.AutoOrder {
	if o.LinkedOrderID == nil {
		return nil
	}
	partner, ok := e.orders[*o.LinkedOrderID]
	if !ok || (partner.State != types.StateActive && partner.State != types.StatePending) {
		return nil
	}
	partner.State = types.StateCancelled
	snap := *partner
	return &snap
}

// Run is the background monitor loop. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.MonitorInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.MonitorTick(ctx)
		}
	}
}

// MonitorTick fetches each distinct token's midpoint once, then evaluates
// every ACTIVE order on that token against it.
func (e *Engine) MonitorTick(ctx context.Context) {
	e.mu.Lock()
	tokens := make(map[string][]string) // tokenID → order IDs
	for id, o := range e.orders {
		if o.State == types.StateActive {
			tokens[o.TokenID] = append(tokens[o.TokenID], id)
		}
	}
	e.mu.Unlock()

	for tokenID, ids := range tokens {
		if ctx.Err() != nil {
			return
		}
		mid, ok := e.gw.GetMidpoint(ctx, tokenID)
		if !ok {
			continue
		}
		for _, id := range ids {
			e.evaluate(ctx, id, mid)
		}
	}
}

// evaluate applies one midpoint observation to one order: ratchet trailing
// state, decide whether the trigger condition holds, and execute if so.
func (e *Engine) evaluate(ctx context.Context, orderID string, p float64) {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok || o.State != types.StateActive {
		e.mu.Unlock()
		return
	}

	if o.OrderType == types.TrailingStop {
		changed := false
		if p > o.HighestPrice {
			o.HighestPrice = p
			changed = true
		}
		if o.TrailingPercent != nil {
			if ratcheted := o.HighestPrice * (1 - *o.TrailingPercent); ratcheted > o.TriggerPrice {
				o.TriggerPrice = ratcheted
				changed = true
			}
		}
		if changed {
			snap := *o
			e.mu.Unlock()
			if err := e.store.UpsertAutoOrder(snap); err != nil {
				e.logger.Warn("persist trailing high-water", "order_id", orderID, "error", err)
			}
			e.mu.Lock()
			o, ok = e.orders[orderID]
			if !ok || o.State != types.StateActive {
				e.mu.Unlock()
				return
			}
		}
	}

	fire := false
	switch o.OrderType {
	case types.TakeProfit, types.LimitSell:
		fire = p >= o.TriggerPrice
	case types.StopLoss, types.TrailingStop:
		fire = p <= o.TriggerPrice
	case types.LimitBuy:
		fire = p <= o.TriggerPrice
	}
	if !fire {
		e.mu.Unlock()
		return
	}

	now := time.Now()
	o.State = types.StateTriggered
	o.TriggeredAt = &now
	triggered := *o
	e.mu.Unlock()

	if err := e.store.UpsertAutoOrder(triggered); err != nil {
		e.logger.Warn("persist trigger", "order_id", orderID, "error", err)
	}
	e.logger.Info("auto order triggered", "order_id", orderID, "type", triggered.OrderType, "price", p, "trigger", triggered.TriggerPrice)
	if e.onTriggered != nil {
		e.onTriggered(triggered, p)
	}

	e.execute(ctx, orderID, triggered, p)
}

// execute submits the exchange order for a TRIGGERED auto-order and settles
// its final state. Exits go out as marketable sells; LIMIT_BUY goes out as a
// buy at its limit price.
func (e *Engine) execute(ctx context.Context, orderID string, o types.AutoOrder, p float64) {
	var err error
	if o.OrderType == types.LimitBuy {
		_, err = e.Buy(ctx, o.TokenID, o.Question, o.Side, o.Size, o.TriggerPrice, types.Tick001, nil)
	} else {
		err = e.marketSell(ctx, o, p)
	}

	e.mu.Lock()
	cur, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	var partner *types.AutoOrder
	if err != nil {
		cur.State = types.StateFailed
	} else {
		cur.State = types.StateExecuted
		cur.ExecutedAt = &now
		// Recorded as the midpoint at trigger time; the actual fill price
		// follows through the tracker.
		cur.ExecutionPrice = &p
		partner = e.cancelLinkedLocked(cur)
	}
	final := *cur
	e.mu.Unlock()

	if persistErr := e.store.UpsertAutoOrder(final); persistErr != nil {
		e.logger.Warn("persist execution", "order_id", orderID, "error", persistErr)
	}
	if partner != nil {
		if persistErr := e.store.UpsertAutoOrder(*partner); persistErr != nil {
			e.logger.Warn("persist oco cancel", "order_id", partner.OrderID, "error", persistErr)
		}
		e.logger.Info("oco partner cancelled", "order_id", partner.OrderID, "executed", orderID)
	}

	if err != nil {
		e.logger.Error("auto order execution failed", "order_id", orderID, "error", err)
		if e.onFailed != nil {
			e.onFailed(final, p)
		}
		return
	}
	e.logger.Info("auto order executed", "order_id", orderID, "type", final.OrderType, "price", p)
}

// marketSell submits a sell priced to cross the book immediately: at the
// best bid when the book is readable, otherwise a small buffer under the
// observed midpoint.
func (e *Engine) marketSell(ctx context.Context, o types.AutoOrder, p float64) error {
	price := p - 0.02
	if book, err := e.gw.GetOrderBook(ctx, o.TokenID); err == nil && book != nil {
		if bid, _, ok := book.BestBidAsk(); ok {
			price = bid
		}
	}
	if price < 0.01 {
		price = 0.01
	}
	if price > 0.99 {
		price = 0.99
	}

	resp, err := e.gw.PostOrder(ctx, types.UserOrder{
		TokenID:  o.TokenID,
		Price:    price,
		Size:     o.Size,
		Side:     types.SELL,
		TIF:      types.GTC,
		TickSize: types.Tick001,
	})
	if err != nil {
		return fmt.Errorf("post sell: %w", err)
	}
	if resp == nil || !resp.Success {
		msg := "no response"
		if resp != nil {
			msg = resp.ErrorMsg
		}
		return fmt.Errorf("sell rejected: %s", msg)
	}

	if err := e.trk.Track(resp.OrderID, o.TokenID, o.Question, o.Side, types.SELL, o.Size, price, nil); err != nil {
		e.logger.Error("track sell failed", "order_id", resp.OrderID, "error", err)
	}
	return nil
}

// CloseAtMarket submits a marketable sell for an open position, outside of
// any trigger. Used by the orchestrator's max-hold timeout. The position
// itself is reduced only when the tracker confirms the fill.
func (e *Engine) CloseAtMarket(ctx context.Context, tokenID, question string, side types.Side, size float64) error {
	mid, ok := e.gw.GetMidpoint(ctx, tokenID)
	if !ok {
		return fmt.Errorf("close %s: midpoint unavailable", tokenID)
	}
	return e.marketSell(ctx, types.AutoOrder{
		TokenID:  tokenID,
		Question: question,
		Side:     side,
		Size:     size,
	}, mid)
}

// ActiveOrders returns a snapshot of every PENDING or ACTIVE auto-order.
func (e *Engine) ActiveOrders() []types.AutoOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.AutoOrder, 0, len(e.orders))
	for _, o := range e.orders {
		if o.State == types.StateActive || o.State == types.StatePending {
			out = append(out, *o)
		}
	}
	return out
}

// GetOrder returns a snapshot of one auto-order.
func (e *Engine) GetOrder(orderID string) (types.AutoOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return types.AutoOrder{}, false
	}
	return *o, true
}
