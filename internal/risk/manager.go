// Package risk enforces the safety envelope around every order submission:
//
//   - Bet sizing:       bankroll-aware position sizing with a reserve floor
//   - Spread guard:     skips entries on wide or broken books
//   - Kill switch:      process-wide flag that halts new BUYs (exits still flow)
//   - Circuit breakers: daily realized-loss and equity drawdown, backed by
//     gobreaker so a trip latches open for the process lifetime
//   - Idempotency:      deterministic order-intent fingerprints persisted in
//     the store; a duplicate within the TTL refuses the submission
//
// Breakers never unset themselves. An operator restarts the process with a
// fresh bankroll baseline to resume trading.
package risk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"polytrader/internal/config"
	"polytrader/internal/store"
	"polytrader/pkg/types"
)

// minBetUSD is the floor below which an entry is not worth its fees.
const minBetUSD = 5.0

var (
	// ErrKillSwitch reports that new entries are halted.
	ErrKillSwitch = errors.New("kill switch active")
	// ErrBetTooSmall reports that available bankroll sizes the bet under the floor.
	ErrBetTooSmall = errors.New("bet size below minimum")
	// ErrTooManyPositions reports the open-positions cap is reached.
	ErrTooManyPositions = errors.New("max open positions reached")
	// ErrNoBook reports a missing or one-sided order book.
	ErrNoBook = errors.New("order book unavailable")
	// ErrSpreadTooWide reports the spread guard rejected the token.
	ErrSpreadTooWide = errors.New("spread exceeds maximum")
	// ErrDuplicateIntent reports an identical submission within the intent TTL.
	ErrDuplicateIntent = errors.New("duplicate order intent")
)

// Store is the persistence surface the risk manager needs: intent records
// and the KV scalars backing the circuit breakers.
type Store interface {
	CreateIntentIfAbsent(types.OrderIntent) error
	PruneIntentsOlderThan(ttl time.Duration) (int64, error)
	GetState(key string) (string, bool, error)
	SetState(key, value string) error
	GetStateFloat(key string, def float64) float64
}

// CancelGateway is the slice of the exchange client startup actions need.
type CancelGateway interface {
	CancelAll(ctx context.Context) (*types.CancelResponse, error)
}

// Manager evaluates every guard. Safe for concurrent use; the scan loop and
// the dashboard snapshot both consult it.
type Manager struct {
	cfg    config.RiskConfig
	store  Store
	logger *slog.Logger

	mu         sync.Mutex
	killSwitch bool
	killReason string

	dailyLoss *gobreaker.CircuitBreaker
	drawdown  *gobreaker.CircuitBreaker
}

// NewManager builds the manager. The kill switch seeds from configuration;
// circuit breakers start closed.
func NewManager(cfg config.RiskConfig, st Store, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  st,
		logger: logger.With("component", "risk"),
	}
	if cfg.KillSwitch {
		m.killSwitch = true
		m.killReason = "configured at startup"
	}

	m.dailyLoss = m.newBreaker("daily-loss")
	m.drawdown = m.newBreaker("drawdown")
	return m
}

// newBreaker builds a latch-open breaker: one breach trips it, and the
// timeout is far past any process lifetime so it never half-opens.
func (m *Manager) newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 365 * 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(breaker string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				m.trip(breaker)
			}
		},
	})
}

func (m *Manager) trip(breaker string) {
	m.mu.Lock()
	m.killSwitch = true
	m.killReason = "circuit breaker: " + breaker
	m.mu.Unlock()

	m.logger.Error("CIRCUIT BREAKER TRIPPED — new entries halted", "breaker", breaker)
}

// Startup runs the configured boot actions: best-effort cancel-all, pruning
// of expired intents, and seeding of the bankroll baseline KV scalars.
func (m *Manager) Startup(ctx context.Context, gw CancelGateway) {
	if m.cfg.CancelAllOnStart && gw != nil {
		if resp, err := gw.CancelAll(ctx); err != nil || resp == nil {
			m.logger.Warn("startup cancel-all failed", "error", err)
		} else {
			m.logger.Info("startup cancel-all", "canceled", len(resp.Canceled))
		}
	}

	if n, err := m.store.PruneIntentsOlderThan(m.cfg.IntentTTL()); err != nil {
		m.logger.Warn("prune intents failed", "error", err)
	} else if n > 0 {
		m.logger.Info("pruned expired intents", "count", n)
	}

	if _, ok, _ := m.store.GetState(types.KVCashStartUSD); !ok {
		if err := m.store.SetState(types.KVCashStartUSD, fmt.Sprintf("%g", m.cfg.Bankroll)); err != nil {
			m.logger.Warn("seed cash_start failed", "error", err)
		}
	}
	if _, ok, _ := m.store.GetState(types.KVPnLDay); !ok {
		if err := m.store.SetState(types.KVPnLDay, "0"); err != nil {
			m.logger.Warn("seed pnl_day failed", "error", err)
		}
	}
}

// KillSwitchActive reports whether new BUY submissions are halted. SELLs and
// auto-order exits are never gated on this.
func (m *Manager) KillSwitchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch
}

// KillReason returns why the switch is set, if it is.
func (m *Manager) KillReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killReason
}

// SetKillSwitch engages the switch manually.
func (m *Manager) SetKillSwitch(reason string) {
	m.mu.Lock()
	m.killSwitch = true
	m.killReason = reason
	m.mu.Unlock()
	m.logger.Warn("kill switch set", "reason", reason)
}

// BetSize computes the next entry's notional from the bankroll, the reserve,
// and current open exposure. Returns a refusal error when the sized bet
// falls under the floor or the position cap is reached.
func (m *Manager) BetSize(openValueUSD float64, openPositions int) (float64, error) {
	if m.cfg.MaxOpenPositions > 0 && openPositions >= m.cfg.MaxOpenPositions {
		return 0, fmt.Errorf("%w: %d open", ErrTooManyPositions, openPositions)
	}

	reserve := m.cfg.Bankroll * m.cfg.ReservePct
	available := m.cfg.Bankroll - reserve - openValueUSD
	bet := 0.25 * available
	if m.cfg.MaxBetSize > 0 && bet > m.cfg.MaxBetSize {
		bet = m.cfg.MaxBetSize
	}
	if bet < minBetUSD {
		return 0, fmt.Errorf("%w: %.2f available", ErrBetTooSmall, available)
	}
	return bet, nil
}

// CheckSpread validates the live book for the side being bought. Missing,
// one-sided, or inverted books are refused, as is any spread over the
// configured basis-point ceiling.
func (m *Manager) CheckSpread(book *types.BookResponse) error {
	if book == nil {
		return ErrNoBook
	}
	bid, ask, ok := book.BestBidAsk()
	if !ok || bid <= 0 || ask <= 0 || ask <= bid {
		return ErrNoBook
	}

	mid := (bid + ask) / 2
	spreadBps := (ask - bid) / mid * 10000
	if spreadBps > m.cfg.MaxSpreadBps {
		return fmt.Errorf("%w: %.0f bps > %.0f bps", ErrSpreadTooWide, spreadBps, m.cfg.MaxSpreadBps)
	}
	return nil
}

// EvaluateBreakers runs the daily-loss and drawdown checks once per scan
// cycle. A breach trips the matching breaker, which latches the kill switch.
func (m *Manager) EvaluateBreakers(realizedPnL, unrealizedPnL float64) {
	m.rollDailyBaseline(realizedPnL)

	dayStart := m.store.GetStateFloat(types.KVRealizedPnLDayStart, realizedPnL)
	_, _ = m.dailyLoss.Execute(func() (any, error) {
		dayPnL := realizedPnL - dayStart
		if err := m.store.SetState(types.KVPnLDay, fmt.Sprintf("%g", dayPnL)); err != nil {
			m.logger.Warn("persist pnl_day failed", "error", err)
		}
		if m.cfg.MaxDailyLossUSD > 0 && dayPnL <= -m.cfg.MaxDailyLossUSD {
			return nil, fmt.Errorf("daily realized loss %.2f breaches limit %.2f", dayPnL, m.cfg.MaxDailyLossUSD)
		}
		return nil, nil
	})

	cashStart := m.store.GetStateFloat(types.KVCashStartUSD, m.cfg.Bankroll)
	_, _ = m.drawdown.Execute(func() (any, error) {
		if cashStart <= 0 || m.cfg.MaxDrawdownPct <= 0 {
			return nil, nil
		}
		equity := cashStart + realizedPnL + unrealizedPnL
		drawdownPct := (cashStart - equity) / cashStart * 100
		if drawdownPct >= m.cfg.MaxDrawdownPct {
			return nil, fmt.Errorf("drawdown %.1f%% breaches limit %.1f%%", drawdownPct, m.cfg.MaxDrawdownPct)
		}
		return nil, nil
	})
}

// rollDailyBaseline snapshots the realized P&L at the first evaluation of
// each calendar day, so the daily-loss breaker measures today only.
func (m *Manager) rollDailyBaseline(realizedPnL float64) {
	today := time.Now().Format("2006-01-02")
	last, _, _ := m.store.GetState(types.KVLastDailyResetDate)
	if last == today {
		return
	}
	if err := m.store.SetState(types.KVLastDailyResetDate, today); err != nil {
		m.logger.Warn("persist daily reset date failed", "error", err)
		return
	}
	if err := m.store.SetState(types.KVRealizedPnLDayStart, fmt.Sprintf("%g", realizedPnL)); err != nil {
		m.logger.Warn("persist day-start pnl failed", "error", err)
	}
	m.logger.Info("daily loss baseline rolled", "date", today, "realized_pnl", realizedPnL)
}

// RegisterIntent persists an idempotency record for a submission. An
// identical fingerprint within the TTL refuses with ErrDuplicateIntent.
func (m *Manager) RegisterIntent(tokenID string, side types.Side, orderSide types.OrderSide, limitPrice, size float64, strategy string) error {
	intent := types.OrderIntent{
		IntentID:   IntentFingerprint(tokenID, side, orderSide, limitPrice, size, strategy, time.Now(), m.cfg.IntentTTL()),
		TokenID:    tokenID,
		Side:       side,
		OrderSide:  orderSide,
		LimitPrice: limitPrice,
		Size:       size,
		Strategy:   strategy,
		CreatedAt:  time.Now(),
	}

	if err := m.store.CreateIntentIfAbsent(intent); err != nil {
		if errors.Is(err, store.ErrDuplicateIntent) {
			return fmt.Errorf("%w: %s", ErrDuplicateIntent, intent.IntentID[:12])
		}
		return err
	}
	return nil
}

// IntentFingerprint derives the deterministic intent ID: token, side, order
// side, price rounded to 4 decimals, size rounded to 2, strategy, and a
// coarse time bucket one TTL wide.
func IntentFingerprint(tokenID string, side types.Side, orderSide types.OrderSide, limitPrice, size float64, strategy string, at time.Time, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	bucket := at.Unix() / int64(ttl.Seconds())
	raw := fmt.Sprintf("%s|%s|%s|%.4f|%.2f|%s|%d", tokenID, side, orderSide, limitPrice, size, strategy, bucket)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Snapshot summarizes risk state for the status report and dashboard.
type Snapshot struct {
	KillSwitchActive bool
	KillReason       string
	DailyLossState   string
	DrawdownState    string
	Bankroll         float64
	MaxBetSize       float64
	MaxOpenPositions int
	MaxSpreadBps     float64
	MaxDailyLossUSD  float64
	MaxDrawdownPct   float64
	DayPnL           float64
}

// GetSnapshot returns the current risk posture.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	active, reason := m.killSwitch, m.killReason
	m.mu.Unlock()

	return Snapshot{
		KillSwitchActive: active,
		KillReason:       reason,
		DailyLossState:   m.dailyLoss.State().String(),
		DrawdownState:    m.drawdown.State().String(),
		Bankroll:         m.cfg.Bankroll,
		MaxBetSize:       m.cfg.MaxBetSize,
		MaxOpenPositions: m.cfg.MaxOpenPositions,
		MaxSpreadBps:     m.cfg.MaxSpreadBps,
		MaxDailyLossUSD:  m.cfg.MaxDailyLossUSD,
		MaxDrawdownPct:   m.cfg.MaxDrawdownPct,
		DayPnL:           m.store.GetStateFloat(types.KVPnLDay, 0),
	}
}
