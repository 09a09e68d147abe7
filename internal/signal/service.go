// Package signal builds and scores pair candidates from a cycle's funding
// snapshots, gates them on persistence, and sizes the ones selected for
// entry into trade intents.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"funding-arb/internal/types"
)

// Config tunes candidate construction and entry selection.
type Config struct {
	FRDiffMin               float64
	MinPersistenceWindows   int
	MinPairScore            float64
	ExpectedEdgeMinBps      float64
	MinOpenInterestUSD      float64
	MinLiquidityScore       float64
	FeeBpsPerLeg            float64
	MaxNewPositionsPerCycle int
	MaxNotionalPerPairUSD   float64
	CapitalFraction         float64
	MinOrderUSD             float64
	NormalLeverageCap       float64
	ReduceLeverageCap       float64
	MaxLeverage             float64
}

// Service builds pair candidates and selects entries each cycle. The
// persistence map is the one piece of state that must survive restart;
// callers persist PersistenceSnapshot()'s output alongside PortfolioState.
type Service struct {
	cfg       Config
	features  *FeaturesEstimator
	mu        sync.Mutex
	persist   map[string]int
}

func NewService(cfg Config) *Service {
	return &Service{
		cfg:      cfg,
		features: NewFeaturesEstimator(),
		persist:  make(map[string]int),
	}
}

// LoadPersistence seeds the persistence counters from a restored snapshot.
func (s *Service) LoadPersistence(counters map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = make(map[string]int, len(counters))
	for k, v := range counters {
		s.persist[k] = v
	}
}

// PersistenceSnapshot returns a copy of the current counters for the
// orchestrator to persist; other components never see the live map.
func (s *Service) PersistenceSnapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.persist))
	for k, v := range s.persist {
		out[k] = v
	}
	return out
}

func pairKey(a, b types.FundingSnapshot) string {
	left := a.Venue + ":" + a.Symbol
	right := b.Venue + ":" + b.Symbol
	if right < left {
		left, right = right, left
	}
	return left + "|" + right
}

func featureKey(symbolA, symbolB string) [2]string {
	if symbolB < symbolA {
		symbolA, symbolB = symbolB, symbolA
	}
	return [2]string{symbolA, symbolB}
}

func (s *Service) liquidityScore(a, b types.FundingSnapshot) float64 {
	floor := s.cfg.MinOpenInterestUSD
	if floor <= 0 {
		return 1.0
	}
	scoreA := math.Min(1.0, a.OpenInterestUSD/floor)
	scoreB := math.Min(1.0, b.OpenInterestUSD/floor)
	return math.Min(scoreA, scoreB)
}

func pairScore(f types.PairFeatures, liquidity float64) float64 {
	clamp := func(v float64) float64 { return math.Max(0, math.Min(1, v)) }
	return 0.30*clamp(f.Correlation) +
		0.25*clamp(f.BetaStability) +
		0.20*clamp(liquidity) +
		0.15*clamp(f.ATRRatioStability) +
		0.10*clamp(f.MeanReversionScore)
}

// BuildPairCandidates enumerates opposite-sign venue-symbol pairs, scores
// them, and advances/decays the persistence counter for each.
func (s *Service) BuildPairCandidates(snapshots []types.FundingSnapshot, allowSingleExchangePairs bool) []types.PairCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []types.PairCandidate
	seen := make(map[string]struct{})

	for i := 0; i < len(snapshots); i++ {
		for j := i + 1; j < len(snapshots); j++ {
			a, b := snapshots[i], snapshots[j]
			if a.Symbol == b.Symbol && a.Venue == b.Venue {
				continue
			}
			if !allowSingleExchangePairs && a.Venue == b.Venue {
				continue
			}
			if a.FundingRate == 0 || b.FundingRate == 0 {
				continue
			}
			if a.FundingRate*b.FundingRate >= 0 {
				continue // same sign: no opposite-side arb opportunity
			}

			key := pairKey(a, b)
			seen[key] = struct{}{}
			s.persist[key]++
			persistence := s.persist[key]

			liq := s.liquidityScore(a, b)
			if liq < s.cfg.MinLiquidityScore {
				continue
			}

			fk := featureKey(a.Symbol, b.Symbol)
			feats := s.features.Estimate(fk[0], fk[1])
			score := pairScore(feats, liq)

			frDiff := math.Abs(a.FundingRate - b.FundingRate)
			feeBpsTotal := 2 * s.cfg.FeeBpsPerLeg
			edgeBps := frDiff*10_000 - feeBpsTotal

			short, long := a, b
			if short.FundingRate < long.FundingRate {
				short, long = long, short
			}

			candidates = append(candidates, types.PairCandidate{
				PairID:           key,
				SymbolShort:      short.Symbol,
				VenueShort:       short.Venue,
				SymbolLong:       long.Symbol,
				VenueLong:        long.Venue,
				FundingRateShort: short.FundingRate,
				FundingRateLong:  long.FundingRate,
				FRDiff:           frDiff,
				ExpectedEdgeBps:  edgeBps,
				Beta:             feats.Beta,
				LiquidityScore:   liq,
				PairScore:        score,
				Persistence:      persistence,
				ReasonCodes: []string{
					"FR_OPPOSITE_SIGN",
					fmt.Sprintf("PERSIST_%d", persistence),
					fmt.Sprintf("SCORE_%.3f", score),
				},
			})
		}
	}

	// Decay counters for pairs that no longer qualify this cycle, so a
	// sign flip resets persistence rather than carrying it over stale.
	for k := range s.persist {
		if _, ok := seen[k]; !ok {
			s.persist[k] = 0
		}
	}

	return candidates
}

// SelectEntries filters qualifying candidates, ranks them, sizes the
// admitted ones, and emits trade intents. riskState.HALT_NEW yields none.
func (s *Service) SelectEntries(candidates []types.PairCandidate, cycleID int64, capitalUSD float64, riskStatus types.RiskStatus) []types.TradeIntent {
	if riskStatus == types.RiskHaltNew {
		return nil
	}

	leverageCap := s.cfg.MaxLeverage
	if riskStatus == types.RiskReduce {
		leverageCap = s.cfg.NormalLeverageCap
	}

	filtered := make([]types.PairCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.FRDiff < s.cfg.FRDiffMin {
			continue
		}
		if c.Persistence < s.cfg.MinPersistenceWindows {
			continue
		}
		if c.PairScore < s.cfg.MinPairScore {
			continue
		}
		if c.ExpectedEdgeBps < s.cfg.ExpectedEdgeMinBps {
			continue
		}
		filtered = append(filtered, c)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].ExpectedEdgeBps != filtered[j].ExpectedEdgeBps {
			return filtered[i].ExpectedEdgeBps > filtered[j].ExpectedEdgeBps
		}
		return filtered[i].PairScore > filtered[j].PairScore
	})

	limit := s.cfg.MaxNewPositionsPerCycle
	if limit <= 0 || limit > len(filtered) {
		limit = len(filtered)
	}

	intents := make([]types.TradeIntent, 0, limit)
	for _, c := range filtered[:limit] {
		intents = append(intents, s.buildIntent(c, cycleID, capitalUSD, leverageCap))
	}
	return intents
}

func (s *Service) buildIntent(c types.PairCandidate, cycleID int64, capitalUSD, leverageCap float64) types.TradeIntent {
	notionalShort := math.Max(s.cfg.MinOrderUSD, math.Min(s.cfg.MaxNotionalPerPairUSD, capitalUSD*s.cfg.CapitalFraction))
	betaClamped := math.Max(0.1, math.Min(10.0, c.Beta))
	notionalLong := notionalShort * betaClamped

	if min := math.Min(notionalShort, notionalLong); min < s.cfg.MinOrderUSD {
		scale := (s.cfg.MinOrderUSD * 1.1) / min
		notionalShort *= scale
		notionalLong *= scale
	}

	legShort := types.TradeLeg{
		Venue: c.VenueShort, Symbol: c.SymbolShort,
		Side: fundingReceiverSide(c.FundingRateShort), NotionalUSD: notionalShort, OrderType: types.OrderMarket,
	}
	legLong := types.TradeLeg{
		Venue: c.VenueLong, Symbol: c.SymbolLong,
		Side: fundingReceiverSide(c.FundingRateLong), NotionalUSD: notionalLong, OrderType: types.OrderMarket,
	}

	return types.TradeIntent{
		PairID:         c.PairID,
		CycleID:        cycleID,
		LegShort:       legShort,
		LegLong:        legLong,
		ExpectedEdge:   c.ExpectedEdgeBps,
		Leverage:       leverageCap,
		IdempotencyKey: idempotencyKey(cycleID, c.PairID),
		ReasonCodes:    append(append([]string{}, c.ReasonCodes...), fmt.Sprintf("EDGE_%.1fbps", c.ExpectedEdgeBps)),
	}
}

// fundingReceiverSide returns the side that receives funding: a positive
// rate means longs pay shorts, so the venue leg goes short (sell) to
// collect it; negative rate is the mirror image.
func fundingReceiverSide(rate float64) types.OrderSide {
	if rate > 0 {
		return types.SideSell
	}
	return types.SideBuy
}

// idempotencyKey is deterministic in (cycle_id, pair_id) so a crash-retry
// of the same cycle reproduces the same client order id.
func idempotencyKey(cycleID int64, pairID string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", cycleID, strings.ToLower(pairID))))
	return hex.EncodeToString(h[:])[:24]
}
