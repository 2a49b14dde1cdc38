// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — markets, orders,
// positions, trades, tracked/auto orders, and strategy signals. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"math/big"
	"strconv"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents an outcome token: YES or NO.
type Side string

const (
	YES Side = "YES"
	NO  Side = "NO"
)

// Opposite returns the other side of the same market.
func (s Side) Opposite() Side {
	if s == YES {
		return NO
	}
	return YES
}

// OrderSide represents the direction of an order: BUY or SELL.
type OrderSide string

const (
	BUY  OrderSide = "BUY"
	SELL OrderSide = "SELL"
)

// TimeInForce enumerates the supported order lifecycles.
type TimeInForce string

const (
	GTC TimeInForce = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// TrackedOrderStatus is the lifecycle state of an order submitted to the exchange.
type TrackedOrderStatus string

const (
	StatusLive            TrackedOrderStatus = "LIVE"
	StatusPartiallyFilled TrackedOrderStatus = "PARTIALLY_FILLED"
	StatusMatched         TrackedOrderStatus = "MATCHED"
	StatusCancelled       TrackedOrderStatus = "CANCELLED"
	StatusExpired         TrackedOrderStatus = "EXPIRED"
)

// Terminal reports whether this is a final state the tracker stops polling.
func (s TrackedOrderStatus) Terminal() bool {
	switch s {
	case StatusMatched, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// AutoOrderType enumerates the exit-trigger and standalone order types the
// auto-order engine can manage.
type AutoOrderType string

const (
	TakeProfit   AutoOrderType = "TAKE_PROFIT"
	StopLoss     AutoOrderType = "STOP_LOSS"
	TrailingStop AutoOrderType = "TRAILING_STOP"
	LimitBuy     AutoOrderType = "LIMIT_BUY"
	LimitSell    AutoOrderType = "LIMIT_SELL"
)

// AutoOrderState is the lifecycle state of an auto-order trigger.
type AutoOrderState string

const (
	StatePending   AutoOrderState = "PENDING"
	StateActive    AutoOrderState = "ACTIVE"
	StateTriggered AutoOrderState = "TRIGGERED"
	StateExecuted  AutoOrderState = "EXECUTED"
	StateCancelled AutoOrderState = "CANCELLED"
	StateFailed    AutoOrderState = "FAILED"
)

// SignalSide is the outcome a strategy recommends trading, or ARB for the
// two-legged arbitrage signal which trades both sides at once.
type SignalSide string

const (
	SignalYes SignalSide = "YES"
	SignalNo  SignalSide = "NO"
	SignalArb SignalSide = "ARB"
)

// StrategyName identifies a registered strategy function.
type StrategyName string

const (
	StrategyMomentum      StrategyName = "momentum"
	StrategyArbitrage     StrategyName = "arbitrage"
	StrategyValueSports   StrategyName = "value_sports"
	StrategyMeanReversion StrategyName = "mean_reversion"
	StrategyFavorites     StrategyName = "favorites"
	StrategyUnderdogs     StrategyName = "underdogs"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Market is the internal representation of a Polymarket binary market.
// Populated from the Gamma API during scanning and passed to the strategy
// layer for signal evaluation. A binary market has exactly two tokens
// (YES and NO) whose prices always sum to ~$1.
type Market struct {
	ID          string // Gamma market ID
	ConditionID string // CTF condition ID (used for cancels + order status lookups)
	Slug        string // human-readable URL slug
	Question    string // the prediction question, e.g. "Will X happen by Y?"

	YesTokenID string // CLOB token ID for the YES outcome
	NoTokenID  string // CLOB token ID for the NO outcome

	PriceYes float64 // last observed YES price, in [0,1]
	PriceNo  float64 // last observed NO price, in [0,1]; ideally PriceYes+PriceNo≈1

	TickSize     TickSize // price granularity (determines rounding)
	MinOrderSize float64  // minimum order size in tokens
	NegRisk      bool     // true if this is a neg-risk market (affects CTF exchange)

	Category  string    // "crypto", "sports", etc — used for scan filtering
	Volume    float64   // total USD volume
	Liquidity float64   // total USD liquidity on the book
	EndDate   time.Time // when the market is scheduled to resolve
}

// HasTokens reports whether both outcome token IDs are populated. Every
// emitted signal must reference a market for which this is true.
func (m Market) HasTokens() bool {
	return m.YesTokenID != "" && m.NoTokenID != ""
}

// RankedMarket is emitted by the scanner: a market plus its opportunity score.
type RankedMarket struct {
	Market Market
	Score  float64
}

// ————————————————————————————————————————————————————————————————————————
// Price history
// ————————————————————————————————————————————————————————————————————————

// PriceSnapshot is an append-only observation of a token's price at a point
// in time, used by strategies that need recent price history.
type PriceSnapshot struct {
	TokenID   string
	Timestamp time.Time
	PriceYes  float64
	PriceNo   float64
	BestBid   *float64
	BestAsk   *float64
}

// ————————————————————————————————————————————————————————————————————————
// Positions & trades
// ————————————————————————————————————————————————————————————————————————

// Position is a held stake in one outcome token, keyed by (TokenID, Side).
type Position struct {
	TokenID        string
	Side           Side
	MarketQuestion string
	Size           float64 // shares >= 0
	AvgEntryPrice  float64 // in (0,1) while Size > 0
	CurrentPrice   float64
	OpenedAt       time.Time
	UpdatedAt      time.Time
}

// CostBasis returns the USD cost of the current position.
func (p Position) CostBasis() float64 {
	return p.Size * p.AvgEntryPrice
}

// MarketValue returns the mark-to-market USD value at CurrentPrice.
func (p Position) MarketValue() float64 {
	return p.Size * p.CurrentPrice
}

// UnrealizedPnL returns the mark-to-market gain/loss versus cost basis.
func (p Position) UnrealizedPnL() float64 {
	return p.Size * (p.CurrentPrice - p.AvgEntryPrice)
}

// TradeAction distinguishes ledger entries that open (BUY) versus close (SELL)
// exposure. Re-uses OrderSide's vocabulary since the actions coincide.
type TradeAction = OrderSide

// Trade is an append-only ledger row. Realized P&L is derived from this
// ledger and the ledger itself is never overwritten.
type Trade struct {
	ID        int64
	Timestamp time.Time
	TokenID   string
	Question  string
	Side      Side
	Action    TradeAction
	Size      float64
	Price     float64
	Fee       float64
	OrderID   *string
	Strategy  *string
}

// ————————————————————————————————————————————————————————————————————————
// Order tracking
// ————————————————————————————————————————————————————————————————————————

// TrackedOrder mirrors the lifecycle of a single order from acknowledgement
// through fill or cancellation. Keyed by exchange-assigned OrderID.
type TrackedOrder struct {
	OrderID      string
	TokenID      string
	Question     string
	Side         Side
	OrderSide    OrderSide
	Size         float64 // requested size
	LimitPrice   float64
	FilledSize   float64 // cumulative, never decreases
	AvgFillPrice float64 // size-weighted
	Status       TrackedOrderStatus
	CreatedAt    time.Time
	LastChecked  *time.Time
	StaleAfter   time.Duration
	Strategy     *string
}

// Remaining returns the unfilled quantity, never negative.
func (o TrackedOrder) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// IsTerminal reports whether this order will never change state again:
// either its status is terminal, or it is filled to within tolerance.
func (o TrackedOrder) IsTerminal() bool {
	if o.Status.Terminal() {
		return true
	}
	return o.Size > 0 && o.FilledSize >= 0.999*o.Size
}

// AssociateTrade is one fill contributing to an order's cumulative size_matched.
type AssociateTrade struct {
	Size  float64
	Price float64
}

// OrderStatusResponse is the normalized shape of the exchange's get_order response.
type OrderStatusResponse struct {
	Status          string
	SizeMatched     float64
	Price           float64
	OriginalSize    float64
	AssociateTrades []AssociateTrade
}

// ————————————————————————————————————————————————————————————————————————
// Auto orders (TP/SL/trailing/OCO)
// ————————————————————————————————————————————————————————————————————————

// AutoOrder is a client-side exit trigger (take-profit, stop-loss, trailing
// stop) or standalone limit order managed by the auto-order engine.
type AutoOrder struct {
	OrderID         string
	TokenID         string
	Question        string
	Side            Side
	OrderType       AutoOrderType
	Size            float64
	TriggerPrice    float64
	LimitPrice      *float64
	TrailingPercent *float64
	HighestPrice    float64 // trailing only; never decreases
	State           AutoOrderState
	CreatedAt       time.Time
	TriggeredAt     *time.Time
	ExecutedAt      *time.Time
	ExecutionPrice  *float64
	LinkedOrderID   *string // OCO partner, symmetric
}

// ————————————————————————————————————————————————————————————————————————
// Idempotency
// ————————————————————————————————————————————————————————————————————————

// OrderIntent is an idempotency record: submitting the same logical order
// twice within its TTL is refused as a duplicate.
type OrderIntent struct {
	IntentID   string
	TokenID    string
	Side       Side
	OrderSide  OrderSide
	LimitPrice float64
	Size       float64
	Strategy   string
	CreatedAt  time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// Signal is an ephemeral, strategy-produced trade proposal. Never persisted.
type Signal struct {
	Market     Market
	Side       SignalSide
	Strategy   StrategyName
	EdgePct    float64
	Confidence float64
	EntryPrice float64
	Reason     string
}

// Score is the ranking value used to order and deduplicate signals.
func (s Signal) Score() float64 {
	return s.EdgePct * s.Confidence
}

// ————————————————————————————————————————————————————————————————————————
// KV state keys
// ————————————————————————————————————————————————————————————————————————

const (
	KVPnLDay             = "pnl_day"
	KVRealizedPnLDayStart = "realized_pnl_day_start"
	KVCashStartUSD        = "cash_start_usd"
	KVRealizedPnL         = "realized_pnl"
	KVLastDailyResetDate  = "last_daily_reset_date"
)

// ————————————————————————————————————————————————————————————————————————
// Orders (on-chain / CLOB wire shapes)
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the high-level order representation produced by the risk and
// auto-order layers. The exchange client converts it to a SignedOrder for
// the CLOB API.
type UserOrder struct {
	TokenID    string      // which token to trade (YES or NO asset ID)
	Price      float64     // limit price (0.0 to 1.0 for binary markets)
	Size       float64     // quantity in tokens
	Side       OrderSide   // BUY or SELL
	TIF        TimeInForce // GTC
	TickSize   TickSize    // market's price granularity (for amount rounding)
	Expiration int64       // unix timestamp, 0 = no expiry
	FeeRateBps int         // fee rate in basis points
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          OrderSide     `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"` // API key of the order owner
	OrderType TimeInForce `json:"orderType"`
}

// OrderResponse is the REST API response for POST /order.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB, as returned by GET /orders.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"` // "live", "matched", etc.
	Market       string `json:"market"` // condition ID
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"` // "BUY" or "SELL"
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// GetOrderTrade is one fill entry in GET /order's associate_trades array.
type GetOrderTrade struct {
	Size  string `json:"size"`
	Price string `json:"price"`
}

// GetOrderResponse is the REST response from GET /order for a single order.
type GetOrderResponse struct {
	Status          string          `json:"status"`
	SizeMatched     string          `json:"size_matched"`
	Price           string          `json:"price"`
	OriginalSize    string          `json:"original_size"`
	AssociateTrades []GetOrderTrade `json:"associate_trades"`
}

// CancelResponse is returned by DELETE /order, /cancel-all, /cancel-market-orders.
type CancelResponse struct {
	Canceled []string `json:"canceled"` // IDs of successfully cancelled orders
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"` // sorted descending by price (best bid first)
	Asks         []PriceLevel `json:"asks"` // sorted ascending by price (best ask first)
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// BestBidAsk returns the top-of-book bid and ask prices, or false if either
// side of the book is empty.
func (b BookResponse) BestBidAsk() (bid, ask float64, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return parsePrice(b.Bids[0].Price), parsePrice(b.Asks[0].Price), true
}

func parsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
