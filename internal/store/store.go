// Package store provides durable, transactional persistence for positions,
// trades, price history, pending orders, order intents, auto-orders, and
// small key-value scalars, backed by SQLite.
//
// Every exported method is a single serializable transaction. The store is
// the sole cross-component source of truth for order and position state; it
// never holds a lock across an HTTP call since all operations are pure SQL.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"polytrader/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	market_question TEXT NOT NULL,
	size REAL NOT NULL,
	avg_entry_price REAL NOT NULL,
	current_price REAL NOT NULL,
	opened_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (token_id, side)
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	token_id TEXT NOT NULL,
	market_question TEXT NOT NULL,
	side TEXT NOT NULL,
	action TEXT NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL,
	fee REAL NOT NULL,
	order_id TEXT,
	strategy TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_token_ts ON trades(token_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(timestamp);

CREATE TABLE IF NOT EXISTS price_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	price_yes REAL NOT NULL,
	price_no REAL NOT NULL,
	best_bid REAL,
	best_ask REAL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_token_ts ON price_snapshots(token_id, timestamp);

CREATE TABLE IF NOT EXISTS bot_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS auto_orders (
	order_id TEXT PRIMARY KEY,
	token_id TEXT NOT NULL,
	market_question TEXT NOT NULL,
	order_type TEXT NOT NULL,
	side TEXT NOT NULL,
	size REAL NOT NULL,
	trigger_price REAL NOT NULL,
	limit_price REAL,
	trailing_percent REAL,
	highest_price REAL NOT NULL,
	state TEXT NOT NULL,
	linked_order_id TEXT,
	created_at TEXT NOT NULL,
	triggered_at TEXT,
	executed_at TEXT,
	execution_price REAL
);
CREATE INDEX IF NOT EXISTS idx_auto_orders_state ON auto_orders(state);

CREATE TABLE IF NOT EXISTS pending_orders (
	order_id TEXT PRIMARY KEY,
	token_id TEXT NOT NULL,
	market_question TEXT NOT NULL,
	side TEXT NOT NULL,
	order_side TEXT NOT NULL,
	size REAL NOT NULL,
	limit_price REAL NOT NULL,
	status TEXT NOT NULL,
	filled_size REAL NOT NULL,
	avg_fill_price REAL NOT NULL,
	strategy TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_orders_status ON pending_orders(status);

CREATE TABLE IF NOT EXISTS order_intents (
	intent_id TEXT PRIMARY KEY,
	token_id TEXT NOT NULL,
	side TEXT NOT NULL,
	order_side TEXT NOT NULL,
	limit_price REAL,
	size REAL,
	strategy TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_intents_token_ts ON order_intents(token_id, created_at);
`

// Store wraps a SQLite database. All writes funnel through a single mutex
// since modernc.org/sqlite's pure-Go driver serializes at the connection
// level anyway; the mutex documents the intended one-writer-at-a-time
// contract and keeps multi-statement operations atomic.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or attaches to a SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // pure-Go driver: avoid concurrent-writer lock contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullableTS(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: ts(*t), Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableStr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// UpsertPosition inserts or replaces a position row.
func (s *Store) UpsertPosition(p types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO positions (token_id, side, market_question, size, avg_entry_price, current_price, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_id, side) DO UPDATE SET
			market_question=excluded.market_question,
			size=excluded.size,
			avg_entry_price=excluded.avg_entry_price,
			current_price=excluded.current_price,
			updated_at=excluded.updated_at
	`, p.TokenID, string(p.Side), p.MarketQuestion, p.Size, p.AvgEntryPrice, p.CurrentPrice, ts(p.OpenedAt), ts(p.UpdatedAt))
	return err
}

// DeletePosition removes a position row (called when size reaches 0).
func (s *Store) DeletePosition(tokenID string, side types.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM positions WHERE token_id = ? AND side = ?`, tokenID, string(side))
	return err
}

// UpdatePositionPrice updates only current_price for a position.
func (s *Store) UpdatePositionPrice(tokenID string, side types.Side, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE positions SET current_price = ?, updated_at = ? WHERE token_id = ? AND side = ?`,
		price, ts(time.Now()), tokenID, string(side))
	return err
}

// LoadAllPositions returns every persisted position.
func (s *Store) LoadAllPositions() ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT token_id, side, market_question, size, avg_entry_price, current_price, opened_at, updated_at FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var p types.Position
		var side, opened, updated string
		if err := rows.Scan(&p.TokenID, &side, &p.MarketQuestion, &p.Size, &p.AvgEntryPrice, &p.CurrentPrice, &opened, &updated); err != nil {
			return nil, err
		}
		p.Side = types.Side(side)
		p.OpenedAt = parseTS(opened)
		p.UpdatedAt = parseTS(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// AppendTrade inserts an append-only trade ledger row.
func (s *Store) AppendTrade(t types.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO trades (timestamp, token_id, market_question, side, action, size, price, fee, order_id, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ts(t.Timestamp), t.TokenID, t.Question, string(t.Side), string(t.Action), t.Size, t.Price, t.Fee, nullableStr(t.OrderID), nullableStr(t.Strategy))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TradeHistory returns trades for a token since a timestamp, newest first, capped at limit.
func (s *Store) TradeHistory(tokenID string, since time.Time, limit int) ([]types.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, timestamp, token_id, market_question, side, action, size, price, fee, order_id, strategy
		FROM trades WHERE token_id = ? AND timestamp >= ? ORDER BY timestamp DESC LIMIT ?
	`, tokenID, ts(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]types.Trade, error) {
	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var tsStr, side, action string
		var orderID, strategy sql.NullString
		if err := rows.Scan(&t.ID, &tsStr, &t.TokenID, &t.Question, &side, &action, &t.Size, &t.Price, &t.Fee, &orderID, &strategy); err != nil {
			return nil, err
		}
		t.Timestamp = parseTS(tsStr)
		t.Side = types.Side(side)
		t.Action = types.TradeAction(action)
		if orderID.Valid {
			v := orderID.String
			t.OrderID = &v
		}
		if strategy.Valid {
			v := strategy.String
			t.Strategy = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TradeStats holds simple aggregate counts over the trade ledger.
type TradeStats struct {
	TotalTrades int
	BuyCount    int
	SellCount   int
	WinCount    int // SELLs with price > avg cost are approximated by caller
}

// TradeCounts returns aggregate BUY/SELL counts across the whole ledger.
func (s *Store) TradeCounts() (TradeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats TradeStats
	row := s.db.QueryRow(`
		SELECT COUNT(*),
			SUM(CASE WHEN action = 'BUY' THEN 1 ELSE 0 END),
			SUM(CASE WHEN action = 'SELL' THEN 1 ELSE 0 END)
		FROM trades
	`)
	var buy, sell sql.NullInt64
	if err := row.Scan(&stats.TotalTrades, &buy, &sell); err != nil {
		return stats, err
	}
	stats.BuyCount = int(buy.Int64)
	stats.SellCount = int(sell.Int64)
	return stats, nil
}

// ————————————————————————————————————————————————————————————————————————
// Price snapshots
// ————————————————————————————————————————————————————————————————————————

// AppendSnapshot records a price observation.
func (s *Store) AppendSnapshot(snap types.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO price_snapshots (token_id, timestamp, price_yes, price_no, best_bid, best_ask)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.TokenID, ts(snap.Timestamp), snap.PriceYes, snap.PriceNo, nullableFloat(snap.BestBid), nullableFloat(snap.BestAsk))
	return err
}

// SnapshotsSince returns up to limit snapshots for a token within the last N hours, oldest first.
func (s *Store) SnapshotsSince(tokenID string, hours float64, limit int) ([]types.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ts(time.Now().Add(-time.Duration(hours * float64(time.Hour))))
	rows, err := s.db.Query(`
		SELECT token_id, timestamp, price_yes, price_no, best_bid, best_ask
		FROM price_snapshots WHERE token_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC LIMIT ?
	`, tokenID, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PriceSnapshot
	for rows.Next() {
		var snap types.PriceSnapshot
		var tsStr string
		var bid, ask sql.NullFloat64
		if err := rows.Scan(&snap.TokenID, &tsStr, &snap.PriceYes, &snap.PriceNo, &bid, &ask); err != nil {
			return nil, err
		}
		snap.Timestamp = parseTS(tsStr)
		if bid.Valid {
			v := bid.Float64
			snap.BestBid = &v
		}
		if ask.Valid {
			v := ask.Float64
			snap.BestAsk = &v
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshotsOlderThan bulk-deletes snapshots beyond the retention window.
func (s *Store) PruneSnapshotsOlderThan(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ts(time.Now().Add(-retention))
	res, err := s.db.Exec(`DELETE FROM price_snapshots WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ————————————————————————————————————————————————————————————————————————
// KV bot state
// ————————————————————————————————————————————————————————————————————————

// SetState persists a string scalar.
func (s *Store) SetState(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
	`, key, value, ts(time.Now()))
	return err
}

// SetStateJSON marshals v and persists it under key.
func (s *Store) SetStateJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal state %q: %w", key, err)
	}
	return s.SetState(key, string(data))
}

// GetState returns the persisted value for key, or ("", false) if absent.
func (s *Store) GetState(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// GetStateJSON reads key and unmarshals into v. Returns false if absent.
func (s *Store) GetStateJSON(key string, v any) (bool, error) {
	raw, ok, err := s.GetState(key)
	if err != nil || !ok {
		return ok, err
	}
	return true, json.Unmarshal([]byte(raw), v)
}

// GetStateFloat reads a numeric scalar, returning def if absent or unparsable.
func (s *Store) GetStateFloat(key string, def float64) float64 {
	raw, ok, err := s.GetState(key)
	if err != nil || !ok {
		return def
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err != nil {
		return def
	}
	return f
}

// ————————————————————————————————————————————————————————————————————————
// Auto orders
// ————————————————————————————————————————————————————————————————————————

// UpsertAutoOrder inserts or replaces an auto-order row.
func (s *Store) UpsertAutoOrder(a types.AutoOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO auto_orders (order_id, token_id, market_question, order_type, side, size, trigger_price,
			limit_price, trailing_percent, highest_price, state, linked_order_id, created_at, triggered_at, executed_at, execution_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			highest_price=excluded.highest_price,
			state=excluded.state,
			linked_order_id=excluded.linked_order_id,
			triggered_at=excluded.triggered_at,
			executed_at=excluded.executed_at,
			execution_price=excluded.execution_price
	`, a.OrderID, a.TokenID, a.Question, string(a.OrderType), string(a.Side), a.Size, a.TriggerPrice,
		nullableFloat(a.LimitPrice), nullableFloat(a.TrailingPercent), a.HighestPrice, string(a.State),
		nullableStr(a.LinkedOrderID), ts(a.CreatedAt), nullableTS(a.TriggeredAt), nullableTS(a.ExecutedAt), nullableFloat(a.ExecutionPrice))
	return err
}

// ActiveAutoOrders returns every auto-order whose state is PENDING or ACTIVE.
func (s *Store) ActiveAutoOrders() ([]types.AutoOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT order_id, token_id, market_question, order_type, side, size, trigger_price,
			limit_price, trailing_percent, highest_price, state, linked_order_id, created_at, triggered_at, executed_at, execution_price
		FROM auto_orders WHERE state IN ('PENDING', 'ACTIVE')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAutoOrders(rows)
}

func scanAutoOrders(rows *sql.Rows) ([]types.AutoOrder, error) {
	var out []types.AutoOrder
	for rows.Next() {
		var a types.AutoOrder
		var orderType, side, state, createdAt string
		var limitPrice, trailingPct, execPrice sql.NullFloat64
		var linkedID, triggeredAt, executedAt sql.NullString
		if err := rows.Scan(&a.OrderID, &a.TokenID, &a.Question, &orderType, &side, &a.Size, &a.TriggerPrice,
			&limitPrice, &trailingPct, &a.HighestPrice, &state, &linkedID, &createdAt, &triggeredAt, &executedAt, &execPrice); err != nil {
			return nil, err
		}
		a.OrderType = types.AutoOrderType(orderType)
		a.Side = types.Side(side)
		a.State = types.AutoOrderState(state)
		a.CreatedAt = parseTS(createdAt)
		if limitPrice.Valid {
			v := limitPrice.Float64
			a.LimitPrice = &v
		}
		if trailingPct.Valid {
			v := trailingPct.Float64
			a.TrailingPercent = &v
		}
		if execPrice.Valid {
			v := execPrice.Float64
			a.ExecutionPrice = &v
		}
		if linkedID.Valid {
			v := linkedID.String
			a.LinkedOrderID = &v
		}
		if triggeredAt.Valid {
			v := parseTS(triggeredAt.String)
			a.TriggeredAt = &v
		}
		if executedAt.Valid {
			v := parseTS(executedAt.String)
			a.ExecutedAt = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Pending (tracked) orders
// ————————————————————————————————————————————————————————————————————————

// UpsertPendingOrder inserts or replaces a tracked-order row.
func (s *Store) UpsertPendingOrder(o types.TrackedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO pending_orders (order_id, token_id, market_question, side, order_side, size, limit_price,
			status, filled_size, avg_fill_price, strategy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status=excluded.status,
			filled_size=excluded.filled_size,
			avg_fill_price=excluded.avg_fill_price,
			updated_at=excluded.updated_at
	`, o.OrderID, o.TokenID, o.Question, string(o.Side), string(o.OrderSide), o.Size, o.LimitPrice,
		string(o.Status), o.FilledSize, o.AvgFillPrice, nullableStr(o.Strategy), ts(o.CreatedAt), ts(time.Now()))
	return err
}

// NonTerminalOrders returns every tracked order not yet in a terminal status.
func (s *Store) NonTerminalOrders() ([]types.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT order_id, token_id, market_question, side, order_side, size, limit_price, status,
			filled_size, avg_fill_price, strategy, created_at
		FROM pending_orders WHERE status NOT IN ('MATCHED', 'CANCELLED', 'EXPIRED')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrackedOrders(rows)
}

// OrdersByStatus returns tracked orders matching a specific status.
func (s *Store) OrdersByStatus(status types.TrackedOrderStatus) ([]types.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT order_id, token_id, market_question, side, order_side, size, limit_price, status,
			filled_size, avg_fill_price, strategy, created_at
		FROM pending_orders WHERE status = ?
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrackedOrders(rows)
}

// LiveOrderForToken returns the first non-terminal order for a token, if any.
func (s *Store) LiveOrderForToken(tokenID string) (*types.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT order_id, token_id, market_question, side, order_side, size, limit_price, status,
			filled_size, avg_fill_price, strategy, created_at
		FROM pending_orders WHERE token_id = ? AND status NOT IN ('MATCHED', 'CANCELLED', 'EXPIRED') LIMIT 1
	`, tokenID)

	o, err := scanTrackedOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func scanTrackedOrders(rows *sql.Rows) ([]types.TrackedOrder, error) {
	var out []types.TrackedOrder
	for rows.Next() {
		var o types.TrackedOrder
		var side, orderSide, status, createdAt string
		var strategy sql.NullString
		if err := rows.Scan(&o.OrderID, &o.TokenID, &o.Question, &side, &orderSide, &o.Size, &o.LimitPrice, &status,
			&o.FilledSize, &o.AvgFillPrice, &strategy, &createdAt); err != nil {
			return nil, err
		}
		o.Side = types.Side(side)
		o.OrderSide = types.OrderSide(orderSide)
		o.Status = types.TrackedOrderStatus(status)
		o.CreatedAt = parseTS(createdAt)
		if strategy.Valid {
			v := strategy.String
			o.Strategy = &v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackedOrder(row rowScanner) (*types.TrackedOrder, error) {
	var o types.TrackedOrder
	var side, orderSide, status, createdAt string
	var strategy sql.NullString
	if err := row.Scan(&o.OrderID, &o.TokenID, &o.Question, &side, &orderSide, &o.Size, &o.LimitPrice, &status,
		&o.FilledSize, &o.AvgFillPrice, &strategy, &createdAt); err != nil {
		return nil, err
	}
	o.Side = types.Side(side)
	o.OrderSide = types.OrderSide(orderSide)
	o.Status = types.TrackedOrderStatus(status)
	o.CreatedAt = parseTS(createdAt)
	if strategy.Valid {
		v := strategy.String
		o.Strategy = &v
	}
	return &o, nil
}

// ————————————————————————————————————————————————————————————————————————
// Order intents (idempotency)
// ————————————————————————————————————————————————————————————————————————

// ErrDuplicateIntent is returned when an intent fingerprint already exists.
var ErrDuplicateIntent = fmt.Errorf("duplicate order intent")

// CreateIntentIfAbsent inserts an intent row, failing with ErrDuplicateIntent
// if the fingerprint already exists. The primary-key constraint enforces
// idempotency atomically.
func (s *Store) CreateIntentIfAbsent(intent types.OrderIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO order_intents (intent_id, token_id, side, order_side, limit_price, size, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, intent.IntentID, intent.TokenID, string(intent.Side), string(intent.OrderSide), intent.LimitPrice, intent.Size, intent.Strategy, ts(intent.CreatedAt))
	if err != nil {
		// modernc.org/sqlite reports constraint violations as generic errors;
		// any failure on this insert is treated as a duplicate since the
		// primary key is the only constraint on the table.
		return ErrDuplicateIntent
	}
	return nil
}

// DeleteIntent removes an intent by fingerprint.
func (s *Store) DeleteIntent(intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM order_intents WHERE intent_id = ?`, intentID)
	return err
}

// PruneIntentsOlderThan bulk-deletes intents past their TTL.
func (s *Store) PruneIntentsOlderThan(ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ts(time.Now().Add(-ttl))
	res, err := s.db.Exec(`DELETE FROM order_intents WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
