// Package exchange implements the Polymarket CLOB and Gamma REST clients.
//
// Client talks to the CLOB API for order management:
//   - GetOrderBook: GET  /book               — fetch L2 book for a token
//   - GetMidpoint:  GET  /midpoint            — best-bid/ask midpoint for a token
//   - PostOrder:    POST /order               — place a single signed order
//   - GetOrder:     GET  /order               — poll status + fills for an order
//   - Cancel:       DELETE /order             — cancel one order by ID
//   - CancelAll:    DELETE /cancel-all        — emergency cancel everything
//   - DeriveAPIKey: GET  /auth/derive-api-key — bootstrap L2 creds from L1 wallet
//
// ListMarkets/SearchMarkets hit the Gamma API for market discovery.
//
// Book, midpoint, order-placement and cancel requests are rate-limited via
// per-category TokenBuckets; GetOrder, DeriveAPIKey and the Gamma calls are
// not rate-limited. Requests are automatically retried on 5xx errors and
// authenticated with L2 HMAC headers where required.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

// Client is the Polymarket CLOB + Gamma REST client.
// It wraps two resty HTTP clients (CLOB for trading, Gamma for market
// listings) with rate limiting, retry, and auth.
type Client struct {
	clob   *resty.Client
	gamma  *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates REST clients with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	retryable := func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500
	}

	clob := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryable).
		SetHeader("Content-Type", "application/json")

	gamma := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(retryable)

	rate := cfg.API.RateLimitRPS
	if rate <= 0 {
		rate = 10
	}

	return &Client{
		clob:   clob,
		gamma:  gamma,
		auth:   auth,
		rl:     NewRateLimiterAt(rate),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// HasAuth reports whether L2 trading credentials are configured. Read
// operations (book, midpoint, market listings) remain available even when
// this is false.
func (c *Client) HasAuth() bool {
	return c.auth != nil && c.auth.HasL2Credentials()
}

// GetOrderBook fetches the order book for a single token. Returns nil on any
// transport or upstream failure — callers treat nil as "retry next cycle".
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		c.logger.Warn("get book transport error", "token", tokenID, "error", err)
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("get book non-200", "token", tokenID, "status", resp.StatusCode())
		return nil, nil
	}
	return &result, nil
}

// GetMidpoint fetches the midpoint price for a token. Returns (0, false) on failure.
func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (float64, bool) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, false
	}

	var result struct {
		Mid string `json:"mid"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/midpoint")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return 0, false
	}
	mid, err := strconv.ParseFloat(result.Mid, 64)
	if err != nil {
		return 0, false
	}
	return mid, true
}

// buildOrderPayload converts a high-level UserOrder into the on-chain
// SignedOrder + metadata the REST API expects, signing it with a fresh salt.
func (c *Client) buildOrderPayload(order types.UserOrder) (types.OrderPayload, error) {
	if _, ok := new(big.Int).SetString(order.TokenID, 10); !ok {
		return types.OrderPayload{}, fmt.Errorf("invalid token id: %q", order.TokenID)
	}

	tickSize := order.TickSize
	if tickSize == "" {
		tickSize = types.Tick001
	}
	makerAmt, takerAmt := PriceToAmounts(order.Price, order.Size, order.Side, tickSize)

	so := types.SignedOrder{
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          order.Side,
		Expiration:    fmt.Sprintf("%d", order.Expiration),
		Nonce:         "0",
		FeeRateBps:    fmt.Sprintf("%d", order.FeeRateBps),
		SignatureType: c.auth.sigType,
	}

	salt, signature, err := c.auth.SignOrder(so)
	if err != nil {
		return types.OrderPayload{}, fmt.Errorf("sign order: %w", err)
	}
	so.Salt = salt
	so.Signature = signature

	return types.OrderPayload{
		Order:     so,
		Owner:     c.auth.creds.ApiKey,
		OrderType: order.TIF,
	}, nil
}

// PostOrder places a single signed order. On dry-run it returns a synthetic
// success without touching the network.
func (c *Client) PostOrder(ctx context.Context, order types.UserOrder) (*types.OrderResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would post order", "token", order.TokenID, "side", order.Side, "size", order.Size, "price", order.Price)
		return &types.OrderResponse{Success: true, OrderID: fmt.Sprintf("dry-run-%d", time.Now().UnixNano()), Status: "live"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := c.buildOrderPayload(order)
	if err != nil {
		return nil, fmt.Errorf("build order payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/order")
	if err != nil {
		c.logger.Warn("post order transport error", "error", err)
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("post order non-200", "status", resp.StatusCode(), "body", resp.String())
		return &types.OrderResponse{Success: false, ErrorMsg: resp.String()}, nil
	}

	return &result, nil
}

// GetOrder polls status and fill progress for a single order. Returns nil on
// any transport or upstream failure.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OrderStatusResponse, error) {
	headers, err := c.auth.L2Headers("GET", "/order", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var raw types.GetOrderResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("order_id", orderID).
		SetResult(&raw).
		Get("/order")
	if err != nil {
		c.logger.Warn("get order transport error", "order_id", orderID, "error", err)
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("get order non-200", "order_id", orderID, "status", resp.StatusCode())
		return nil, nil
	}

	sizeMatched, _ := strconv.ParseFloat(raw.SizeMatched, 64)
	price, _ := strconv.ParseFloat(raw.Price, 64)
	origSize, _ := strconv.ParseFloat(raw.OriginalSize, 64)

	trades := make([]types.AssociateTrade, 0, len(raw.AssociateTrades))
	for _, t := range raw.AssociateTrades {
		size, _ := strconv.ParseFloat(t.Size, 64)
		p, _ := strconv.ParseFloat(t.Price, 64)
		trades = append(trades, types.AssociateTrade{Size: size, Price: p})
	}

	return &types.OrderStatusResponse{
		Status:          raw.Status,
		SizeMatched:     sizeMatched,
		Price:           price,
		OriginalSize:    origSize,
		AssociateTrades: trades,
	}, nil
}

// Cancel cancels a single order by ID.
func (c *Client) Cancel(ctx context.Context, orderID string) (*types.CancelResponse, error) {
	if c.dryRun {
		return &types.CancelResponse{Canceled: []string{orderID}}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"orderID":"%s"}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/order")
	if err != nil {
		c.logger.Warn("cancel order transport error", "order_id", orderID, "error", err)
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("cancel order non-200", "order_id", orderID, "status", resp.StatusCode())
		return nil, nil
	}
	return &result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &types.CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		c.logger.Warn("cancel all transport error", "error", err)
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		c.logger.Warn("cancel all non-200", "status", resp.StatusCode())
		return nil, nil
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication. Failure is
// recorded but non-fatal: read operations remain available without it.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// gammaMarket is the JSON shape returned by the Gamma API.
type gammaMarket struct {
	ID                    string  `json:"id"`
	Question              string  `json:"question"`
	ConditionID           string  `json:"conditionId"`
	Slug                  string  `json:"slug"`
	Active                bool    `json:"active"`
	Closed                bool    `json:"closed"`
	AcceptingOrders       bool    `json:"acceptingOrders"`
	EnableOrderBook       bool    `json:"enableOrderBook"`
	EndDate               string  `json:"endDate"`
	Liquidity             string  `json:"liquidity"`
	Volume                string  `json:"volume"`
	Category              string  `json:"category"`
	ClobTokenIds          string  `json:"clobTokenIds"`
	OutcomePrices         string  `json:"outcomePrices"`
	NegRisk               bool    `json:"negRisk"`
	OrderPriceMinTickSize float64 `json:"orderPriceMinTickSize"`
	OrderMinSize          float64 `json:"orderMinSize"`
}

// ListMarkets fetches every active market for a category from the Gamma
// API, paging internally (100 per page) until exhausted.
func (c *Client) ListMarkets(ctx context.Context, category string) ([]types.Market, error) {
	var all []gammaMarket
	offset := 0
	limit := 100

	for {
		var page []gammaMarket
		params := map[string]string{
			"limit":  strconv.Itoa(limit),
			"offset": strconv.Itoa(offset),
			"active": "true",
			"closed": "false",
		}
		if category != "" {
			params["tag"] = category
		}

		resp, err := c.gamma.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			c.logger.Warn("list markets transport error", "category", category, "error", err)
			return all2Markets(all), nil
		}
		if resp.StatusCode() != http.StatusOK {
			c.logger.Warn("list markets non-200", "category", category, "status", resp.StatusCode())
			return all2Markets(all), nil
		}

		all = append(all, page...)
		if len(page) < limit {
			break
		}
		offset += limit
	}

	return all2Markets(all), nil
}

// SearchMarkets searches the Gamma API by free-text query.
func (c *Client) SearchMarkets(ctx context.Context, query string) ([]types.Market, error) {
	var page []gammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"_q": query, "active": "true", "closed": "false"}).
		SetResult(&page).
		Get("/markets")
	if err != nil {
		c.logger.Warn("search markets transport error", "query", query, "error", err)
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil
	}
	return all2Markets(page), nil
}

func all2Markets(gms []gammaMarket) []types.Market {
	out := make([]types.Market, 0, len(gms))
	for _, gm := range gms {
		out = append(out, convertGammaMarket(gm))
	}
	return out
}

func convertGammaMarket(gm gammaMarket) types.Market {
	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)
	volume, _ := strconv.ParseFloat(gm.Volume, 64)

	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		_ = json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs)
	}
	var yesToken, noToken string
	if len(tokenIDs) >= 2 {
		yesToken = tokenIDs[0]
		noToken = tokenIDs[1]
	}

	var priceYes, priceNo float64
	var prices []string
	if gm.OutcomePrices != "" {
		_ = json.Unmarshal([]byte(gm.OutcomePrices), &prices)
	}
	if len(prices) >= 2 {
		priceYes, _ = strconv.ParseFloat(prices[0], 64)
		priceNo, _ = strconv.ParseFloat(prices[1], 64)
	}

	var tickSize types.TickSize
	switch gm.OrderPriceMinTickSize {
	case 0.1:
		tickSize = types.Tick01
	case 0.001:
		tickSize = types.Tick0001
	case 0.0001:
		tickSize = types.Tick00001
	default:
		tickSize = types.Tick001
	}

	endDate, _ := time.Parse(time.RFC3339, gm.EndDate)

	return types.Market{
		ID:           gm.ID,
		ConditionID:  gm.ConditionID,
		Slug:         gm.Slug,
		Question:     gm.Question,
		YesTokenID:   yesToken,
		NoTokenID:    noToken,
		PriceYes:     priceYes,
		PriceNo:      priceNo,
		TickSize:     tickSize,
		MinOrderSize: gm.OrderMinSize,
		NegRisk:      gm.NegRisk,
		Category:     gm.Category,
		Volume:       volume,
		Liquidity:    liquidity,
		EndDate:      endDate,
	}
}
