// Package risk evaluates portfolio drawdown, admits or rejects candidate
// trade intents against notional/leverage caps, and flags open pairs that
// have drifted far enough from target to need rebalancing.
package risk

import (
	"context"
	"fmt"
	"math"

	"funding-arb/internal/exchange"
	"funding-arb/internal/types"
)

// Config mirrors the risk-relevant subset of strategy configuration.
type Config struct {
	MaxTotalNotionalUSD     float64
	MaxNotionalPerSymbolUSD float64
	MaxNotionalPerVenueUSD  float64
	NormalLeverageCap       float64
	ReduceLeverageCap       float64
	RebalanceThresholdPct   float64
	MarginBuffer            float64 // safety multiplier applied to required margin, e.g. 1.1
}

// Decision is the admission-control result for one candidate intent.
type Decision struct {
	Intent  types.TradeIntent
	Allowed bool
	Reason  string
}

// RebalanceDirective asks the execution service to shrink or resize a
// live pair whose notional has drifted from its entry target.
type RebalanceDirective struct {
	PairID      string
	TargetScale float64 // e.g. 0.5 to halve both legs' notional
	Reason      string
}

// Service holds no state between calls: AdmitIntents is a pure function
// of its arguments, so admission order matches signal-service ordering
// with no hidden cross-call state. The margin checks read live balances
// through the router.
type Service struct {
	cfg    Config
	router *exchange.Router
}

func NewService(cfg Config, router *exchange.Router) *Service {
	return &Service{cfg: cfg, router: router}
}

// Evaluate recomputes drawdown/leverage/delta and advances the risk
// state machine from the portfolio's current status.
func Evaluate(p types.PortfolioState) types.RiskState {
	var ddPct float64
	if p.PeakEquity > 0 {
		ddPct = math.Max(0, (p.PeakEquity-p.Equity)/p.PeakEquity)
	}

	var grossLeverage, netDelta float64
	if p.Equity > 0 {
		grossLeverage = p.GrossNotionalUSD / p.Equity
		netDelta = p.NetDeltaUSD / p.Equity
	}

	status := NextStatus(p.Status, ddPct)

	return types.RiskState{
		Equity:        p.Equity,
		DrawdownPct:   ddPct,
		GrossLeverage: grossLeverage,
		NetDelta:      netDelta,
		Status:        status,
	}
}

// AdmitIntents enforces the ordered cap sequence from §4.5 over a batch
// of candidate intents, in the order they were handed in (signal-service
// ranking order), mutating running totals as each is admitted.
func (s *Service) AdmitIntents(intents []types.TradeIntent, riskState types.RiskState, portfolio types.PortfolioState) []Decision {
	decisions := make([]Decision, 0, len(intents))

	if riskState.Status == types.RiskHaltNew {
		for _, intent := range intents {
			decisions = append(decisions, Decision{Intent: intent, Allowed: false, Reason: "halt_new"})
		}
		return decisions
	}
	if riskState.Status == types.RiskReduce {
		for _, intent := range intents {
			decisions = append(decisions, Decision{Intent: intent, Allowed: false, Reason: "reduce_mode_no_new_positions"})
		}
		return decisions
	}

	leverageCap := s.cfg.NormalLeverageCap
	totalNotional := portfolio.GrossNotionalUSD
	perVenue := cloneFloatMap(portfolio.ExchangeNotionals)
	symbolTotals := make(map[string]float64)

	for _, intent := range intents {
		pairNotional := intent.LegShort.NotionalUSD + intent.LegLong.NotionalUSD

		if totalNotional+pairNotional > s.cfg.MaxTotalNotionalUSD {
			decisions = append(decisions, Decision{Intent: intent, Allowed: false, Reason: "total_notional_limit"})
			continue
		}

		if v := symbolTotals[intent.LegShort.Symbol] + intent.LegShort.NotionalUSD; v > s.cfg.MaxNotionalPerSymbolUSD {
			decisions = append(decisions, Decision{Intent: intent, Allowed: false, Reason: fmt.Sprintf("per_symbol_limit:%s", intent.LegShort.Symbol)})
			continue
		}
		if v := symbolTotals[intent.LegLong.Symbol] + intent.LegLong.NotionalUSD; v > s.cfg.MaxNotionalPerSymbolUSD {
			decisions = append(decisions, Decision{Intent: intent, Allowed: false, Reason: fmt.Sprintf("per_symbol_limit:%s", intent.LegLong.Symbol)})
			continue
		}

		if v := perVenue[intent.LegShort.Venue] + intent.LegShort.NotionalUSD; v > s.cfg.MaxNotionalPerVenueUSD {
			decisions = append(decisions, Decision{Intent: intent, Allowed: false, Reason: fmt.Sprintf("per_venue_limit:%s", intent.LegShort.Venue)})
			continue
		}
		if v := perVenue[intent.LegLong.Venue] + intent.LegLong.NotionalUSD; v > s.cfg.MaxNotionalPerVenueUSD {
			decisions = append(decisions, Decision{Intent: intent, Allowed: false, Reason: fmt.Sprintf("per_venue_limit:%s", intent.LegLong.Venue)})
			continue
		}

		projectedLeverage := 0.0
		if portfolio.Equity > 0 {
			projectedLeverage = (totalNotional + pairNotional) / portfolio.Equity
		}
		if projectedLeverage > leverageCap {
			decisions = append(decisions, Decision{Intent: intent, Allowed: false, Reason: "leverage_limit"})
			continue
		}

		totalNotional += pairNotional
		symbolTotals[intent.LegShort.Symbol] += intent.LegShort.NotionalUSD
		symbolTotals[intent.LegLong.Symbol] += intent.LegLong.NotionalUSD
		perVenue[intent.LegShort.Venue] += intent.LegShort.NotionalUSD
		perVenue[intent.LegLong.Venue] += intent.LegLong.NotionalUSD

		decisions = append(decisions, Decision{Intent: intent, Allowed: true})
	}

	return decisions
}

// RebalanceDirectives flags open pairs whose current notional has
// drifted past the configured threshold from their entry notional.
func RebalanceDirectives(pairs map[string]types.PositionPair, thresholdPct float64) []RebalanceDirective {
	var out []RebalanceDirective
	for id, pair := range pairs {
		if pair.Status != types.PairOpen {
			continue
		}
		current := pair.LegShort.NotionalUSD + pair.LegLong.NotionalUSD
		target := pair.EntryNotionalUSD
		if target <= 0 {
			continue
		}
		drift := math.Abs(current-target) / target
		if drift > thresholdPct {
			out = append(out, RebalanceDirective{
				PairID:      id,
				TargetScale: target / current,
				Reason:      fmt.Sprintf("notional_drift_%.1fpct", drift*100),
			})
		}
	}
	return out
}

// MarginCheck is the pre-flight balance check ahead of leg submission.
type MarginCheck struct {
	Venue           string
	Sufficient      bool
	RequiredMargin  float64
	AvailableMargin float64
	Deficit         float64
}

// CheckMargin verifies the venue balance covers the leveraged notional
// with a configured safety buffer.
func (s *Service) CheckMargin(ctx context.Context, venue string, notionalUSD, leverage float64) (*MarginCheck, error) {
	if leverage <= 0 {
		leverage = 1
	}
	balance, err := s.router.Balance(ctx, venue)
	if err != nil {
		return nil, fmt.Errorf("checking margin on %s: %w", venue, err)
	}

	buffer := s.cfg.MarginBuffer
	if buffer <= 0 {
		buffer = 1.1
	}
	required := (notionalUSD / leverage) * buffer

	check := &MarginCheck{Venue: venue, RequiredMargin: required, AvailableMargin: balance.FreeUSD}
	if balance.FreeUSD >= required {
		check.Sufficient = true
	} else {
		check.Deficit = required - balance.FreeUSD
	}
	return check, nil
}

// CheckBothLegsMargin runs the margin pre-flight on both legs concurrently.
func (s *Service) CheckBothLegsMargin(ctx context.Context, intent types.TradeIntent) (shortCheck, longCheck *MarginCheck, err error) {
	type result struct {
		check *MarginCheck
		err   error
	}
	shortCh := make(chan result, 1)
	longCh := make(chan result, 1)

	go func() {
		c, e := s.CheckMargin(ctx, intent.LegShort.Venue, intent.LegShort.NotionalUSD, intent.Leverage)
		shortCh <- result{c, e}
	}()
	go func() {
		c, e := s.CheckMargin(ctx, intent.LegLong.Venue, intent.LegLong.NotionalUSD, intent.Leverage)
		longCh <- result{c, e}
	}()

	shortRes := <-shortCh
	longRes := <-longCh
	if shortRes.err != nil {
		return nil, nil, fmt.Errorf("short leg margin check: %w", shortRes.err)
	}
	if longRes.err != nil {
		return nil, nil, fmt.Errorf("long leg margin check: %w", longRes.err)
	}
	return shortRes.check, longRes.check, nil
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
