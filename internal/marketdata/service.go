package marketdata

import (
	"context"
	"sync"

	"funding-arb/internal/exchange"
	"funding-arb/internal/types"
	"funding-arb/pkg/utils"
)

// Service merges funding, open-interest, and top-of-book data into one
// per-symbol quote. Three variants ship: AggregatorOnlyService,
// HybridService, and VenueOnlyService.
type Service interface {
	// Snapshot returns the merged per-symbol view for the given symbols.
	Snapshot(ctx context.Context, symbols []string) (map[string]types.SymbolQuote, error)

	// SupportedSymbols returns every symbol the underlying sources cover.
	SupportedSymbols(ctx context.Context) (map[string]struct{}, error)
}

func buildQuotes(snapshots []types.FundingSnapshot, want map[string]struct{}) map[string]types.SymbolQuote {
	bySymbol := make(map[string]map[string]types.FundingSnapshot)
	for _, s := range snapshots {
		if len(want) > 0 {
			if _, ok := want[s.Symbol]; !ok {
				continue
			}
		}
		if bySymbol[s.Symbol] == nil {
			bySymbol[s.Symbol] = make(map[string]types.FundingSnapshot)
		}
		bySymbol[s.Symbol][s.Venue] = s
	}

	out := make(map[string]types.SymbolQuote, len(bySymbol))
	for symbol, venues := range bySymbol {
		min, max := venueRateBounds(venues)
		out[symbol] = types.SymbolQuote{
			Symbol:    symbol,
			ByVenue:   venues,
			MaxSpread: max - min,
			Coverage:  len(venues),
		}
	}
	return out
}

func venueRateBounds(venues map[string]types.FundingSnapshot) (min, max float64) {
	first := true
	for _, v := range venues {
		if first {
			min, max = v.FundingRate, v.FundingRate
			first = false
			continue
		}
		if v.FundingRate < min {
			min = v.FundingRate
		}
		if v.FundingRate > max {
			max = v.FundingRate
		}
	}
	return min, max
}

// AggregatorOnlyService sources funding rate from the aggregator only;
// open interest falls back to the aggregator's own value (or its
// configured default) and bid/ask are never populated.
type AggregatorOnlyService struct {
	agg *AggregatorClient
}

func NewAggregatorOnlyService(agg *AggregatorClient) *AggregatorOnlyService {
	return &AggregatorOnlyService{agg: agg}
}

func (s *AggregatorOnlyService) Snapshot(ctx context.Context, symbols []string) (map[string]types.SymbolQuote, error) {
	all, err := s.agg.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	want := symbolSet(symbols)
	return buildQuotes(all, want), nil
}

func (s *AggregatorOnlyService) SupportedSymbols(ctx context.Context) (map[string]struct{}, error) {
	all, err := s.agg.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, snap := range all {
		out[snap.Symbol] = struct{}{}
	}
	return out, nil
}

// HybridService sources funding from the aggregator and open-interest +
// top-of-book from per-venue adapters, fanning out concurrently across
// venues the way the teacher's engine fans out per-exchange work.
type HybridService struct {
	agg    *AggregatorClient
	router *exchange.Router
}

func NewHybridService(agg *AggregatorClient, router *exchange.Router) *HybridService {
	return &HybridService{agg: agg, router: router}
}

func (s *HybridService) Snapshot(ctx context.Context, symbols []string) (map[string]types.SymbolQuote, error) {
	want := symbolSet(symbols)
	all, err := s.agg.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]types.FundingSnapshot, 0, len(all))
	for _, s := range all {
		if _, ok := want[s.Symbol]; ok || len(want) == 0 {
			filtered = append(filtered, s)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := range filtered {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			snap := filtered[idx]
			ticker, err := s.enrichFromVenue(ctx, snap)
			if err != nil {
				utils.L().Debug("hybrid market data: venue enrichment degraded",
					utils.Exchange(snap.Venue), utils.Symbol(snap.Symbol), utils.Err(err))
				return
			}
			mu.Lock()
			filtered[idx] = ticker
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	return buildQuotes(filtered, want), nil
}

func (s *HybridService) enrichFromVenue(ctx context.Context, snap types.FundingSnapshot) (types.FundingSnapshot, error) {
	ticker, err := s.router.Ticker(ctx, snap.Venue, snap.Symbol)
	if err != nil {
		return snap, err
	}
	snap.MarkPrice = ticker.MarkPrice
	bid, ask := ticker.BidPrice, ticker.AskPrice
	snap.Bid = &bid
	snap.Ask = &ask
	return snap, nil
}

func (s *HybridService) SupportedSymbols(ctx context.Context) (map[string]struct{}, error) {
	all, err := s.agg.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, snap := range all {
		out[snap.Symbol] = struct{}{}
	}
	return out, nil
}

// VenueOnlyService sources everything directly from venue adapters,
// bypassing the aggregator entirely (used when no aggregator is
// configured, or for a venue's own view during reconciliation).
type VenueOnlyService struct {
	router *exchange.Router
}

func NewVenueOnlyService(router *exchange.Router) *VenueOnlyService {
	return &VenueOnlyService{router: router}
}

func (s *VenueOnlyService) Snapshot(ctx context.Context, symbols []string) (map[string]types.SymbolQuote, error) {
	var snapshots []types.FundingSnapshot
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, venue := range s.router.Venues() {
		for _, symbol := range symbols {
			wg.Add(1)
			go func(venue, symbol string) {
				defer wg.Done()
				rate, interval, err := s.router.FundingRate(ctx, venue, symbol)
				if err != nil {
					return
				}
				if interval > 0 && interval < 8 {
					rate = rate * (interval / 8) // same 8h normalization as the aggregator client
				}
				ticker, err := s.router.Ticker(ctx, venue, symbol)
				snap := types.FundingSnapshot{
					Venue: venue, Symbol: symbol, FundingRate: rate, IntervalHours: interval,
				}
				if err == nil && ticker != nil {
					snap.MarkPrice = ticker.MarkPrice
					bid, ask := ticker.BidPrice, ticker.AskPrice
					snap.Bid = &bid
					snap.Ask = &ask
					snap.Timestamp = ticker.Timestamp
				}
				mu.Lock()
				snapshots = append(snapshots, snap)
				mu.Unlock()
			}(venue, symbol)
		}
	}
	wg.Wait()
	return buildQuotes(snapshots, symbolSet(symbols)), nil
}

func (s *VenueOnlyService) SupportedSymbols(ctx context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil // venues expose no enumerate-all-symbols call
}

func symbolSet(symbols []string) map[string]struct{} {
	out := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		out[canonicalSymbol(s)] = struct{}{}
	}
	return out
}
