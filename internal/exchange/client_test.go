package exchange

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"polytrader/internal/config"
	"polytrader/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

func TestDryRunPostOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	order := types.UserOrder{TokenID: "tok1", Price: 0.50, Size: 10, Side: types.BUY, TIF: types.GTC, TickSize: types.Tick001}

	result, err := c.PostOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PostOrder: %v", err)
	}
	if !result.Success {
		t.Error("result.Success = false, want true")
	}
	if result.OrderID == "" {
		t.Error("result.OrderID is empty")
	}
	if result.Status != "live" {
		t.Errorf("result.Status = %q, want \"live\"", result.Status)
	}
}

func TestDryRunCancel(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.Cancel(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(resp.Canceled) != 1 || resp.Canceled[0] != "order-1" {
		t.Errorf("expected [order-1] canceled, got %v", resp.Canceled)
	}
}

func TestDryRunCancelAll(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelAll(context.Background())
	if err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if resp == nil {
		t.Fatal("expected non-nil response")
	}
}

func TestNewClientDryRunFromConfig(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Config{DryRun: true, API: config.APIConfig{CLOBBaseURL: "http://localhost"}}
	auth := &Auth{}
	c := NewClient(cfg, auth, logger)

	if !c.dryRun {
		t.Error("client.dryRun should be true when config.DryRun is true")
	}
	if c.HasAuth() {
		t.Error("HasAuth should be false without L2 credentials")
	}
}

func TestBuildOrderPayloadSignsOrder(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Config{
		Wallet: config.WalletConfig{
			PrivateKey:    "0x1111111111111111111111111111111111111111111111111111111111111111",
			ChainID:       137,
			SignatureType: 0,
		},
		API: config.APIConfig{
			CLOBBaseURL: "http://localhost",
			ApiKey:      "test-key",
			Secret:      "test-secret",
			Passphrase:  "test-pass",
		},
	}

	auth, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	c := NewClient(cfg, auth, logger)
	payload, err := c.buildOrderPayload(types.UserOrder{
		TokenID:  "12345678901234567890",
		Price:    0.55,
		Size:     10,
		Side:     types.BUY,
		TIF:      types.GTC,
		TickSize: types.Tick001,
	})
	if err != nil {
		t.Fatalf("buildOrderPayload: %v", err)
	}

	if payload.Order.Signature == "" || !strings.HasPrefix(payload.Order.Signature, "0x") {
		t.Fatalf("signature = %q, want non-empty 0x-prefixed signature", payload.Order.Signature)
	}
	if payload.Order.Salt == "" || payload.Order.Salt == "0" {
		t.Fatalf("salt = %q, want non-zero", payload.Order.Salt)
	}
	if payload.Order.Nonce != "0" {
		t.Fatalf("nonce = %q, want 0", payload.Order.Nonce)
	}
	if payload.Owner != "test-key" {
		t.Fatalf("owner = %q, want test-key", payload.Owner)
	}
}

func TestBuildOrderPayloadRejectsInvalidTokenID(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Config{
		Wallet: config.WalletConfig{
			PrivateKey:    "0x1111111111111111111111111111111111111111111111111111111111111111",
			ChainID:       137,
			SignatureType: 0,
		},
		API: config.APIConfig{CLOBBaseURL: "http://localhost", ApiKey: "k", Secret: "s", Passphrase: "p"},
	}
	auth, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	c := NewClient(cfg, auth, logger)

	_, err = c.buildOrderPayload(types.UserOrder{
		TokenID:  "not-a-number",
		Price:    0.50,
		Size:     1,
		Side:     types.BUY,
		TIF:      types.GTC,
		TickSize: types.Tick001,
	})
	if err == nil {
		t.Fatal("expected error for invalid token ID")
	}
}

func TestConvertGammaMarketParsesTokenIDsAndPrices(t *testing.T) {
	t.Parallel()

	gm := gammaMarket{
		ID:                    "1",
		Question:              "Will it rain?",
		ConditionID:           "0xabc",
		Slug:                  "will-it-rain",
		ClobTokenIds:          `["111","222"]`,
		OutcomePrices:         `["0.65","0.35"]`,
		Liquidity:             "5000",
		Volume:                "12000",
		OrderPriceMinTickSize: 0.01,
	}

	m := convertGammaMarket(gm)
	if m.YesTokenID != "111" || m.NoTokenID != "222" {
		t.Errorf("token ids = (%q, %q), want (111, 222)", m.YesTokenID, m.NoTokenID)
	}
	if m.PriceYes != 0.65 || m.PriceNo != 0.35 {
		t.Errorf("prices = (%v, %v), want (0.65, 0.35)", m.PriceYes, m.PriceNo)
	}
	if m.TickSize != types.Tick001 {
		t.Errorf("tick size = %v, want %v", m.TickSize, types.Tick001)
	}
	if m.Liquidity != 5000 || m.Volume != 12000 {
		t.Errorf("liquidity/volume = (%v, %v), want (5000, 12000)", m.Liquidity, m.Volume)
	}
}
