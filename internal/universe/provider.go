// Package universe selects the top-K symbols each cycle trades against,
// either from a static configured list or dynamically from the funding
// rate matrix.
package universe

import (
	"context"
	"math"
	"sort"

	"funding-arb/internal/types"
)

// Config tunes dynamic universe selection.
type Config struct {
	UniverseSize             int
	StaticSymbols            []string
	FRDiffMin                float64
	WeightSpread             float64
	WeightCoverage           float64
	WeightRate               float64
	AllowSingleExchangePairs bool
}

// symbolScore is one symbol's raw and normalized ranking inputs.
type symbolScore struct {
	symbol      string
	maxSpread   float64
	coverage    int
	avgAbsRate  float64
	composite   float64
}

// Provider selects the cycle's trading universe.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Select returns the list of symbols the rest of the cycle operates on.
// The static list, if non-empty, is honored verbatim; otherwise the top-K
// symbols by composite score are returned.
func (p *Provider) Select(ctx context.Context, quotes map[string]types.SymbolQuote) []string {
	if len(p.cfg.StaticSymbols) > 0 {
		return append([]string(nil), p.cfg.StaticSymbols...)
	}
	return p.selectDynamic(quotes)
}

func (p *Provider) selectDynamic(quotes map[string]types.SymbolQuote) []string {
	minCoverage := 2
	if p.cfg.AllowSingleExchangePairs {
		minCoverage = 1
	}

	var candidates []symbolScore
	for symbol, q := range quotes {
		if q.Coverage < minCoverage {
			continue
		}
		if q.MaxSpread < p.cfg.FRDiffMin {
			continue
		}
		candidates = append(candidates, symbolScore{
			symbol:     symbol,
			maxSpread:  q.MaxSpread,
			coverage:   q.Coverage,
			avgAbsRate: avgAbsRate(q),
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	maxSpread, maxCoverage, maxRate := bounds(candidates)
	w1, w2, w3 := p.weights()
	for i := range candidates {
		c := &candidates[i]
		c.composite = w1*normalize(c.maxSpread, maxSpread) +
			w2*normalize(float64(c.coverage), maxCoverage) +
			w3*normalize(c.avgAbsRate, maxRate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].composite != candidates[j].composite {
			return candidates[i].composite > candidates[j].composite
		}
		return candidates[i].symbol < candidates[j].symbol // deterministic tie-break
	})

	n := p.cfg.UniverseSize
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = candidates[i].symbol
	}
	return out
}

func (p *Provider) weights() (w1, w2, w3 float64) {
	w1, w2, w3 = p.cfg.WeightSpread, p.cfg.WeightCoverage, p.cfg.WeightRate
	sum := w1 + w2 + w3
	if sum <= 0 {
		return 0.6, 0.25, 0.15
	}
	return w1 / sum, w2 / sum, w3 / sum
}

func avgAbsRate(q types.SymbolQuote) float64 {
	if len(q.ByVenue) == 0 {
		return 0
	}
	var sum float64
	for _, snap := range q.ByVenue {
		sum += math.Abs(snap.FundingRate)
	}
	return sum / float64(len(q.ByVenue))
}

func bounds(scores []symbolScore) (maxSpread, maxCoverage, maxRate float64) {
	for _, s := range scores {
		if s.maxSpread > maxSpread {
			maxSpread = s.maxSpread
		}
		if float64(s.coverage) > maxCoverage {
			maxCoverage = float64(s.coverage)
		}
		if s.avgAbsRate > maxRate {
			maxRate = s.avgAbsRate
		}
	}
	return
}

func normalize(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return value / max
}
