// Package tracker bridges the gap between "order acknowledged by the
// exchange" and "position in the portfolio". It polls per-order status,
// detects partial and full fills, computes volume-weighted fill prices, and
// fires fill/cancel callbacks.
//
// The invariant it enforces: a position is added to the portfolio only when,
// and in the exact amount that, the exchange has confirmed a fill. Order
// acknowledgement alone never mutates positions.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// fillEpsilon is the smallest fill delta worth delivering; anything below is
// floating-point noise from the exchange's string-encoded sizes.
const fillEpsilon = 0.001

// ErrFillRegression reports a decrease in an order's cumulative matched size.
// That is a contract violation on the exchange side and poisons every
// downstream position computation, so the poll loop treats it as fatal.
var ErrFillRegression = errors.New("tracked order filled_size decreased")

// Store is the persistence surface the tracker needs for crash recovery.
type Store interface {
	UpsertPendingOrder(types.TrackedOrder) error
	NonTerminalOrders() ([]types.TrackedOrder, error)
}

// Gateway is the exchange surface the tracker polls.
type Gateway interface {
	GetOrder(ctx context.Context, orderID string) (*types.OrderStatusResponse, error)
	Cancel(ctx context.Context, orderID string) (*types.CancelResponse, error)
}

// FillFunc is invoked once per confirmed fill increment, with a copy of the
// order after the increment was applied. Handlers must be idempotent: a crash
// between callback and persistence can re-deliver the same increment.
type FillFunc func(order types.TrackedOrder, newFill, fillPrice float64)

// CancelFunc is invoked exactly once when an order reaches CANCELLED or
// EXPIRED. Any partial fill delivered before the cancel stays recorded.
type CancelFunc func(order types.TrackedOrder)

// Tracker polls all non-terminal orders at a fixed interval from a single
// worker goroutine. External readers receive snapshots.
type Tracker struct {
	store  Store
	gw     Gateway
	logger *slog.Logger

	pollInterval time.Duration
	staleAfter   time.Duration

	mu     sync.Mutex
	orders map[string]*types.TrackedOrder

	onFill   FillFunc
	onCancel CancelFunc
}

// New builds a tracker and reloads every non-terminal order from Store so
// that polling resumes across restarts.
func New(store Store, gw Gateway, cfg config.TrackerConfig, logger *slog.Logger) (*Tracker, error) {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}

	t := &Tracker{
		store:        store,
		gw:           gw,
		logger:       logger.With("component", "tracker"),
		pollInterval: pollInterval,
		staleAfter:   staleAfter,
		orders:       make(map[string]*types.TrackedOrder),
	}

	recovered, err := store.NonTerminalOrders()
	if err != nil {
		return nil, fmt.Errorf("recover pending orders: %w", err)
	}
	for i := range recovered {
		o := recovered[i]
		if o.StaleAfter <= 0 {
			o.StaleAfter = staleAfter
		}
		t.orders[o.OrderID] = &o
	}
	if len(recovered) > 0 {
		t.logger.Info("recovered pending orders", "count", len(recovered))
	}

	return t, nil
}

// SetHooks installs the fill and cancel callbacks. Must be called before Run;
// the auto-order engine wires these during orchestrator construction.
func (t *Tracker) SetHooks(onFill FillFunc, onCancel CancelFunc) {
	t.onFill = onFill
	t.onCancel = onCancel
}

// Track registers an order after a successful post, persisting it as LIVE.
func (t *Tracker) Track(orderID, tokenID, question string, side types.Side, orderSide types.OrderSide, size, limitPrice float64, strategy *string) error {
	if orderID == "" {
		return errors.New("track order: empty order id")
	}

	order := types.TrackedOrder{
		OrderID:    orderID,
		TokenID:    tokenID,
		Question:   question,
		Side:       side,
		OrderSide:  orderSide,
		Size:       size,
		LimitPrice: limitPrice,
		Status:     types.StatusLive,
		CreatedAt:  time.Now(),
		StaleAfter: t.staleAfter,
		Strategy:   strategy,
	}

	if err := t.store.UpsertPendingOrder(order); err != nil {
		return fmt.Errorf("persist tracked order: %w", err)
	}

	t.mu.Lock()
	t.orders[orderID] = &order
	t.mu.Unlock()

	t.logger.Info("tracking order", "order_id", orderID, "token", tokenID, "order_side", orderSide, "size", size, "price", limitPrice)
	return nil
}

// Run is the background poll loop. Blocks until ctx is cancelled. A fill
// regression aborts the process: continuing would corrupt position state.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.PollOnce(ctx); err != nil {
				if errors.Is(err, ErrFillRegression) {
					t.logger.Error("FATAL: fill accounting contract violated", "error", err)
					os.Exit(1)
				}
				t.logger.Warn("poll cycle error", "error", err)
			}
		}
	}
}

// PollOnce walks every non-terminal tracked order once. Exposed so the
// orchestrator's tests (and the operator CLI) can drive the tracker
// synchronously.
func (t *Tracker) PollOnce(ctx context.Context) error {
	t.mu.Lock()
	pending := make([]string, 0, len(t.orders))
	for id, o := range t.orders {
		if !o.IsTerminal() {
			pending = append(pending, id)
		}
	}
	t.mu.Unlock()

	for _, id := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := t.pollOrder(ctx, id); err != nil {
			if errors.Is(err, ErrFillRegression) {
				return err
			}
			t.logger.Warn("poll order failed", "order_id", id, "error", err)
		}
	}
	return nil
}

func (t *Tracker) pollOrder(ctx context.Context, orderID string) error {
	t.mu.Lock()
	order, ok := t.orders[orderID]
	if !ok || order.IsTerminal() {
		t.mu.Unlock()
		return nil
	}
	snapshot := *order
	t.mu.Unlock()

	// Stale orders get cancelled rather than polled forever.
	if time.Since(snapshot.CreatedAt) > snapshot.StaleAfter {
		return t.cancelStale(ctx, orderID)
	}

	status, err := t.gw.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if status == nil {
		return nil // transport hiccup; retry next cycle
	}

	return t.applyStatus(orderID, status)
}

// cancelStale attempts an exchange-side cancel and transitions the order to
// CANCELLED (cancel acknowledged) or EXPIRED (cancel failed; the exchange may
// have already dropped it).
func (t *Tracker) cancelStale(ctx context.Context, orderID string) error {
	resp, err := t.gw.Cancel(ctx, orderID)

	next := types.StatusExpired
	if err == nil && resp != nil {
		next = types.StatusCancelled
	}

	t.mu.Lock()
	order, ok := t.orders[orderID]
	if !ok || order.Status.Terminal() {
		t.mu.Unlock()
		return nil
	}
	order.Status = next
	now := time.Now()
	order.LastChecked = &now
	done := *order
	t.mu.Unlock()

	t.logger.Warn("stale order cancelled", "order_id", orderID, "age", time.Since(done.CreatedAt), "status", next)
	if t.onCancel != nil {
		t.onCancel(done)
	}
	return t.store.UpsertPendingOrder(done)
}

// applyStatus folds one exchange status response into the tracked order:
// derive the cumulative matched size, deliver any new fill, transition the
// status, and persist.
func (t *Tracker) applyStatus(orderID string, status *types.OrderStatusResponse) error {
	var tradesTotal, tradesNotional float64
	for _, tr := range status.AssociateTrades {
		tradesTotal += tr.Size
		tradesNotional += tr.Size * tr.Price
	}

	sizeMatched := status.SizeMatched
	if tradesTotal > sizeMatched {
		sizeMatched = tradesTotal
	}

	t.mu.Lock()
	order, ok := t.orders[orderID]
	if !ok {
		t.mu.Unlock()
		return nil
	}

	prevFilled := order.FilledSize
	prevStatus := order.Status
	newFill := sizeMatched - prevFilled

	if newFill < -fillEpsilon {
		t.mu.Unlock()
		return fmt.Errorf("%w: order %s went from %.4f to %.4f", ErrFillRegression, orderID, prevFilled, sizeMatched)
	}

	filled := newFill > fillEpsilon
	var fillPrice float64
	if filled {
		switch {
		case tradesTotal > fillEpsilon:
			// The trades array covers every fill so far; back out the price
			// of just the new increment from the cumulative notional.
			fillPrice = (tradesNotional - order.AvgFillPrice*prevFilled) / newFill
			if fillPrice <= 0 || fillPrice >= 1 {
				fillPrice = tradesNotional / tradesTotal
			}
		case status.Price > 0:
			fillPrice = status.Price
		default:
			fillPrice = order.LimitPrice
		}

		order.FilledSize = sizeMatched
		// Size-weighted running average across all fills so far.
		order.AvgFillPrice = (order.AvgFillPrice*prevFilled + fillPrice*newFill) / sizeMatched
	}

	switch {
	case isMatchedStatus(status.Status) || (order.Size > 0 && order.FilledSize >= 0.999*order.Size):
		order.Status = types.StatusMatched
	case isCancelledStatus(status.Status):
		order.Status = types.StatusCancelled
	case order.FilledSize > 0:
		order.Status = types.StatusPartiallyFilled
	default:
		order.Status = types.StatusLive
	}

	now := time.Now()
	order.LastChecked = &now
	updated := *order
	t.mu.Unlock()

	if filled && t.onFill != nil {
		t.logger.Info("fill confirmed", "order_id", orderID, "new_fill", newFill, "fill_price", fillPrice,
			"filled_total", updated.FilledSize, "status", updated.Status)
		t.onFill(updated, newFill, fillPrice)
	}

	// Cancel observed from the exchange side (not our stale path): fire the
	// hook only on the first transition into CANCELLED.
	if updated.Status == types.StatusCancelled && prevStatus != types.StatusCancelled && t.onCancel != nil {
		t.onCancel(updated)
	}

	return t.store.UpsertPendingOrder(updated)
}

func isMatchedStatus(s string) bool {
	switch strings.ToUpper(s) {
	case "MATCHED", "FILLED":
		return true
	}
	return false
}

func isCancelledStatus(s string) bool {
	switch strings.ToUpper(s) {
	case "CANCELLED", "CANCELED":
		return true
	}
	return false
}

// GetTrackedOrders returns a snapshot of every order the tracker knows about.
func (t *Tracker) GetTrackedOrders() []types.TrackedOrder {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.TrackedOrder, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	return out
}

// GetOrder returns a snapshot of one tracked order.
func (t *Tracker) GetOrder(orderID string) (types.TrackedOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.orders[orderID]
	if !ok {
		return types.TrackedOrder{}, false
	}
	return *o, true
}

// PendingCount returns how many orders are still awaiting a terminal state.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, o := range t.orders {
		if !o.IsTerminal() {
			n++
		}
	}
	return n
}

// CancelTracking drops an order from local bookkeeping without touching the
// exchange.
func (t *Tracker) CancelTracking(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orders, orderID)
}
