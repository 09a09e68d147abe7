// Package marketdata fetches and merges funding-rate and market data used
// to drive universe selection and signal generation.
package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"funding-arb/internal/exchange"
	"funding-arb/internal/types"
	"funding-arb/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rateDivisor is the funding-rate divisor: an integer value of 25
// decodes to a rate of 25/10000 = 0.0025 (0.25%).
const rateDivisor = 10_000.0

// rawRecord is one entry in the aggregator's /funding response.
type rawRecord struct {
	Exchange        string  `json:"exchange"`
	Symbol          string  `json:"symbol"`
	FundingRate     int64   `json:"funding_rate"`
	IntervalHours   float64 `json:"interval_hours"`
	OpenInterestUSD float64 `json:"open_interest_usd"`
}

// AggregatorClientConfig tunes the funding-rate aggregator client.
type AggregatorClientConfig struct {
	URL       string
	CacheTTL  time.Duration
	RetryCfg  retry.Config
	DefaultOI float64
}

// DefaultAggregatorClientConfig mirrors the aggregator's documented defaults.
func DefaultAggregatorClientConfig(url string) AggregatorClientConfig {
	return AggregatorClientConfig{
		URL:      url,
		CacheTTL: 60 * time.Second,
		RetryCfg: retry.Config{
			MaxRetries:   4, // first attempt plus 3 retries, 0.5s/1s/2s apart
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		DefaultOI: 5_000_000,
	}
}

// AggregatorClient is the funding-rate aggregator client (C1). It fetches
// one JSON array of per-venue rates, normalizes every rate to an 8h
// settlement window, and memoizes the parsed response for CacheTTL.
type AggregatorClient struct {
	cfg    AggregatorClientConfig
	client *http.Client

	mu         sync.Mutex
	cache      []types.FundingSnapshot
	cachedAt   time.Time
}

// NewAggregatorClient builds a client against the global connection-pooled
// HTTP client shared with the venue adapters.
func NewAggregatorClient(cfg AggregatorClientConfig) *AggregatorClient {
	return &AggregatorClient{
		cfg:    cfg,
		client: exchange.GetGlobalHTTPClient().GetClient(),
	}
}

// FetchAll returns every venue's snapshot for every symbol the aggregator
// reports, using the 60s cache unless it has expired.
func (c *AggregatorClient) FetchAll(ctx context.Context) ([]types.FundingSnapshot, error) {
	c.mu.Lock()
	if c.cache != nil && time.Since(c.cachedAt) < c.cfg.CacheTTL {
		cached := c.cache
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	snapshots, err := retry.DoWithResult(ctx, func() ([]types.FundingSnapshot, error) {
		return c.fetch(ctx)
	}, c.cfg.RetryCfg)
	if err != nil {
		c.mu.Lock()
		stale := c.cache
		c.mu.Unlock()
		if stale != nil {
			return nil, fmt.Errorf("marketdata: fetch failed, cache expired: %w", err)
		}
		return nil, fmt.Errorf("marketdata: fetch failed, no cache: %w", err)
	}

	c.mu.Lock()
	c.cache = snapshots
	c.cachedAt = time.Now()
	c.mu.Unlock()
	return snapshots, nil
}

func (c *AggregatorClient) fetch(ctx context.Context) ([]types.FundingSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err // network error: retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("aggregator returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, retry.Permanent(fmt.Errorf("aggregator returned %d", resp.StatusCode))
	}

	var raw []rawRecord
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decoding aggregator response: %w", err))
	}

	now := time.Now().UTC()
	out := make([]types.FundingSnapshot, 0, len(raw))
	for _, r := range raw {
		interval := r.IntervalHours
		if interval <= 0 {
			interval = 8
		}
		rate := float64(r.FundingRate) / rateDivisor
		if interval < 8 {
			rate = rate * (interval / 8)
		}
		oi := r.OpenInterestUSD
		if oi <= 0 {
			oi = c.cfg.DefaultOI
		}
		out = append(out, types.FundingSnapshot{
			Venue:           strings.ToLower(r.Exchange),
			Symbol:          canonicalSymbol(r.Symbol),
			Timestamp:       now,
			FundingRate:     rate,
			IntervalHours:   interval,
			OpenInterestUSD: oi,
		})
	}
	return out, nil
}

// canonicalSymbol converts an aggregator ticker ("BTC") or an already
// canonical symbol ("BTC/USDT:USDT") into the canonical BASE/QUOTE:QUOTE
// form used throughout the pipeline.
func canonicalSymbol(raw string) string {
	s := strings.ToUpper(raw)
	if strings.Contains(s, "/") {
		return s
	}
	return s + "/USDT:USDT"
}

// GetRate returns the snapshot for one (venue, symbol) pair.
func (c *AggregatorClient) GetRate(ctx context.Context, venue, symbol string) (types.FundingSnapshot, error) {
	all, err := c.FetchAll(ctx)
	if err != nil {
		return types.FundingSnapshot{}, err
	}
	venue = strings.ToLower(venue)
	symbol = canonicalSymbol(symbol)
	for _, s := range all {
		if s.Venue == venue && s.Symbol == symbol {
			return s, nil
		}
	}
	return types.FundingSnapshot{}, fmt.Errorf("%w: %s/%s", ErrRateNotFound, venue, symbol)
}

// GetRatesBySymbols groups every venue's rate for each requested symbol.
func (c *AggregatorClient) GetRatesBySymbols(ctx context.Context, symbols []string) (map[string]map[string]types.FundingSnapshot, error) {
	all, err := c.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[canonicalSymbol(s)] = struct{}{}
	}
	out := make(map[string]map[string]types.FundingSnapshot)
	for _, s := range all {
		if _, ok := want[s.Symbol]; !ok {
			continue
		}
		if out[s.Symbol] == nil {
			out[s.Symbol] = make(map[string]types.FundingSnapshot)
		}
		out[s.Symbol][s.Venue] = s
	}
	return out, nil
}

// InvalidateCache clears the memoized response, forcing the next FetchAll
// to hit the network.
func (c *AggregatorClient) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = nil
}
