// Package market discovers and ranks tradeable prediction markets.
//
// Scanner polls the exchange gateway's Gamma-backed market listing for each
// configured category, filters out markets that are unsuitable to trade
// (too close to resolution, too far out, too thin), and ranks survivors by
// a composite opportunity score so the AutoTrader's strategy pass only sees
// a small, high-quality candidate set.
package market

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// Gateway is the subset of the exchange client Scanner depends on.
type Gateway interface {
	ListMarkets(ctx context.Context, category string) ([]types.Market, error)
}

// ScanResult contains markets ranked by opportunity quality as of one poll.
type ScanResult struct {
	Markets   []types.RankedMarket
	ScannedAt time.Time
}

// Scanner periodically polls the exchange gateway for tradeable markets
// across the configured categories.
type Scanner struct {
	gateway  Gateway
	cfg      config.ScannerConfig
	logger   *slog.Logger
	resultCh chan ScanResult
}

// NewScanner creates a market scanner backed by the given gateway.
func NewScanner(gateway Gateway, cfg config.ScannerConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger.With("component", "scanner"),
		resultCh: make(chan ScanResult, 1),
	}
}

// Results returns the channel Run publishes each scan result to.
func (s *Scanner) Results() <-chan ScanResult {
	return s.resultCh
}

// Run starts the polling loop. Blocks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	s.scan(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	result, err := s.Scan(ctx)
	if err != nil {
		s.logger.Error("scan failed", "error", err)
		return
	}

	select {
	case s.resultCh <- result:
	default:
		select {
		case <-s.resultCh:
		default:
		}
		s.resultCh <- result
	}
}

// Scan performs one fetch-filter-rank pass across all configured categories
// and returns the ranked result directly, independent of the poll loop. The
// Operator CLI's "scan" mode calls this for a one-shot listing.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	categories := s.cfg.Categories
	if len(categories) == 0 {
		categories = []string{"crypto", "sports"}
	}

	var all []types.Market
	for _, cat := range categories {
		markets, err := s.gateway.ListMarkets(ctx, cat)
		if err != nil {
			return ScanResult{}, err
		}
		all = append(all, markets...)
	}

	filtered := s.filterMarkets(all)
	ranked := s.rankMarkets(filtered)

	s.logger.Info("scan complete", "total", len(all), "filtered", len(filtered), "selected", len(ranked))

	return ScanResult{Markets: ranked, ScannedAt: time.Now()}, nil
}

// filterMarkets drops markets outside the resolution window, below the
// volume/liquidity floor, missing outcome tokens, or explicitly excluded.
func (s *Scanner) filterMarkets(markets []types.Market) []types.Market {
	excluded := make(map[string]bool, len(s.cfg.ExcludeSlugs))
	for _, slug := range s.cfg.ExcludeSlugs {
		slug = strings.ToLower(strings.TrimSpace(slug))
		if slug != "" {
			excluded[slug] = true
		}
	}

	now := time.Now()
	minResolve := now.Add(time.Duration(s.cfg.MinHoursToResolve * float64(time.Hour)))
	maxResolve := now.AddDate(0, 0, s.cfg.MaxDaysToResolve)

	var result []types.Market
	for _, m := range markets {
		if !m.HasTokens() {
			continue
		}
		if excluded[strings.ToLower(m.Slug)] {
			continue
		}
		if m.Liquidity < s.cfg.MinLiquidity {
			continue
		}
		if m.Volume < s.cfg.MinVolume {
			continue
		}
		if m.EndDate.IsZero() {
			continue
		}
		if s.cfg.MaxDaysToResolve > 0 && m.EndDate.After(maxResolve) {
			continue
		}
		if s.cfg.MinHoursToResolve > 0 && m.EndDate.Before(minResolve) {
			continue
		}
		result = append(result, m)
	}

	return result
}

// rankMarkets scores survivors by liquidity-weighted volume and sorts
// descending. score = sqrt(volume) × min(liquidity/10000, 1); this favors
// deep, actively-traded markets without letting liquidity alone dominate.
func (s *Scanner) rankMarkets(markets []types.Market) []types.RankedMarket {
	ranked := make([]types.RankedMarket, len(markets))
	for i, m := range markets {
		liquidityFactor := math.Min(m.Liquidity/10000.0, 1.0)
		score := math.Sqrt(math.Max(m.Volume, 0)) * liquidityFactor
		ranked[i] = types.RankedMarket{Market: m, Score: score}
	}

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked
}
