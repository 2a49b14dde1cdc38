// Package oddsapi is a thin client for an external sports-odds provider
// (the Odds API's /v4 sports-odds surface). It backs the value_sports
// strategy with bookmaker consensus probabilities.
//
// Failures never propagate: a transport error or non-200 response returns
// (nil, nil) so the calling strategy treats it exactly like "no data this
// cycle" per the gateway's own failure contract.
package oddsapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/internal/config"
)

// Outcome is one priced side of a bookmaker's h2h market.
type Outcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"` // decimal odds
}

// H2HMarket is a single bookmaker's head-to-head market for one event.
type H2HMarket struct {
	Key      string    `json:"key"` // "h2h"
	Outcomes []Outcome `json:"outcomes"`
}

// Bookmaker is one odds provider's quoted markets for an event.
type Bookmaker struct {
	Key     string      `json:"key"`
	Title   string      `json:"title"`
	Markets []H2HMarket `json:"markets"`
}

// Event is a single scheduled match with all bookmakers' quotes attached.
type Event struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	CommenceTime time.Time   `json:"commence_time"`
	Bookmakers   []Bookmaker `json:"bookmakers"`
}

type cacheEntry struct {
	events    []Event
	fetchedAt time.Time
}

// Client fetches and short-TTL-caches h2h odds per sport key.
type Client struct {
	http    *resty.Client
	logger  *slog.Logger
	regions string
	sports  []string
	ttl     time.Duration

	mu       sync.Mutex
	apiKey   string // cleared (disabling the strategy) on a 401/403
	cache    map[string]cacheEntry
	lastHit  map[string]time.Time // politeness spacing between sport-key fetches
}

// NewClient builds a client from OddsConfig. If cfg.ApiKey is empty the
// client is still constructed but HasKey reports false and H2HOdds always
// returns (nil, nil) without making a request.
func NewClient(cfg config.OddsConfig, logger *slog.Logger) *Client {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	base := cfg.BaseURL
	if base == "" {
		base = "https://api.the-odds-api.com"
	}

	return &Client{
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		logger:  logger.With("component", "oddsapi"),
		regions: cfg.Regions,
		sports:  cfg.SportKeys,
		ttl:     ttl,
		apiKey:  cfg.ApiKey,
		cache:   make(map[string]cacheEntry),
		lastHit: make(map[string]time.Time),
	}
}

// HasKey reports whether the value_sports strategy should run at all.
func (c *Client) HasKey() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey != ""
}

// SportKeys returns the configured set of sport keys to poll.
func (c *Client) SportKeys() []string {
	return c.sports
}

// H2HOdds fetches h2h odds for one sport key, serving from the short-TTL
// cache when fresh. A 401/403 disables the key for the process lifetime
// (per §7.2: upstream 4xx disables the capability, not just this call).
func (c *Client) H2HOdds(ctx context.Context, sportKey string) ([]Event, error) {
	c.mu.Lock()
	key := c.apiKey
	if entry, ok := c.cache[sportKey]; ok && time.Since(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.events, nil
	}
	c.mu.Unlock()

	if key == "" {
		return nil, nil
	}

	// Politeness delay between sport-key fetches: wait until 200ms after the
	// most recent fetch of any key; never blocks the very first fetch.
	c.mu.Lock()
	var last time.Time
	for _, t := range c.lastHit {
		if t.After(last) {
			last = t
		}
	}
	if !last.IsZero() {
		if wait := 200*time.Millisecond - time.Since(last); wait > 0 {
			c.mu.Unlock()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			c.mu.Lock()
		}
	}
	c.lastHit[sportKey] = time.Now()
	c.mu.Unlock()

	var events []Event
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"apiKey":     key,
			"regions":    c.regions,
			"markets":    "h2h",
			"oddsFormat": "decimal",
		}).
		SetResult(&events).
		Get("/v4/sports/" + sportKey + "/odds")

	if err != nil {
		c.logger.Warn("odds fetch transport error", "sport", sportKey, "error", err)
		return nil, nil
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		c.logger.Error("odds api key rejected, disabling value_sports", "sport", sportKey, "status", resp.StatusCode())
		c.mu.Lock()
		c.apiKey = ""
		c.mu.Unlock()
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("odds fetch non-200", "sport", sportKey, "status", resp.StatusCode())
		return nil, nil
	}

	c.mu.Lock()
	c.cache[sportKey] = cacheEntry{events: events, fetchedAt: time.Now()}
	c.mu.Unlock()

	return events, nil
}
