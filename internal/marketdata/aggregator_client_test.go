package marketdata

import (
	"context"
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"funding-arb/pkg/retry"
)

func newTestServer(t *testing.T, records []rawRecord) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = stdjson.NewEncoder(w).Encode(records)
	}))
}

func testConfig(url string) AggregatorClientConfig {
	cfg := DefaultAggregatorClientConfig(url)
	cfg.RetryCfg = retry.Config{MaxRetries: 1}
	return cfg
}

func TestFetchAllNormalizesRate(t *testing.T) {
	srv := newTestServer(t, []rawRecord{
		{Exchange: "Bybit", Symbol: "BTC", FundingRate: 25, IntervalHours: 8},
	})
	defer srv.Close()

	c := NewAggregatorClient(testConfig(srv.URL))
	snaps, err := c.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].Venue != "bybit" {
		t.Errorf("venue not lowercased: %s", snaps[0].Venue)
	}
	if snaps[0].Symbol != "BTC/USDT:USDT" {
		t.Errorf("symbol not canonicalized: %s", snaps[0].Symbol)
	}
	if got, want := snaps[0].FundingRate, 0.0025; got != want {
		t.Errorf("rate = %v, want %v", got, want)
	}
}

func TestFetchAllNormalizesHourlyInterval(t *testing.T) {
	srv := newTestServer(t, []rawRecord{
		{Exchange: "hyperliquid", Symbol: "ETH", FundingRate: 80, IntervalHours: 1},
	})
	defer srv.Close()

	c := NewAggregatorClient(testConfig(srv.URL))
	snaps, err := c.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	// raw rate 80/10000 = 0.008, hourly → *1/8 = 0.001
	if got, want := snaps[0].FundingRate, 0.001; got != want {
		t.Errorf("rate = %v, want %v", got, want)
	}
}

func TestFetchAllUsesCacheWithinTTL(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_ = stdjson.NewEncoder(w).Encode([]rawRecord{{Exchange: "okx", Symbol: "SOL", FundingRate: 10, IntervalHours: 8}})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CacheTTL = time.Minute
	c := NewAggregatorClient(cfg)

	if _, err := c.FetchAll(context.Background()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.FetchAll(context.Background()); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if hits != 1 {
		t.Errorf("expected 1 network hit within cache TTL, got %d", hits)
	}

	c.InvalidateCache()
	if _, err := c.FetchAll(context.Background()); err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if hits != 2 {
		t.Errorf("expected cache invalidation to force a refetch, got %d hits", hits)
	}
}

func TestGetRateNotFound(t *testing.T) {
	srv := newTestServer(t, []rawRecord{{Exchange: "bybit", Symbol: "BTC", FundingRate: 1, IntervalHours: 8}})
	defer srv.Close()

	c := NewAggregatorClient(testConfig(srv.URL))
	_, err := c.GetRate(context.Background(), "okx", "ETH")
	if err == nil {
		t.Fatal("expected ErrRateNotFound")
	}
}

func TestGetRatesBySymbolsGroupsByVenue(t *testing.T) {
	srv := newTestServer(t, []rawRecord{
		{Exchange: "bybit", Symbol: "BTC", FundingRate: 20, IntervalHours: 8},
		{Exchange: "okx", Symbol: "BTC", FundingRate: -15, IntervalHours: 8},
		{Exchange: "bybit", Symbol: "ETH", FundingRate: 5, IntervalHours: 8},
	})
	defer srv.Close()

	c := NewAggregatorClient(testConfig(srv.URL))
	grouped, err := c.GetRatesBySymbols(context.Background(), []string{"BTC"})
	if err != nil {
		t.Fatalf("GetRatesBySymbols: %v", err)
	}
	byVenue, ok := grouped["BTC/USDT:USDT"]
	if !ok {
		t.Fatal("missing BTC/USDT:USDT group")
	}
	if len(byVenue) != 2 {
		t.Errorf("expected 2 venues for BTC, got %d", len(byVenue))
	}
}

func TestCanonicalSymbolPassesThroughAlreadyCanonical(t *testing.T) {
	if got := canonicalSymbol("ETH/USDT:USDT"); got != "ETH/USDT:USDT" {
		t.Errorf("canonicalSymbol altered an already-canonical symbol: %s", got)
	}
}
