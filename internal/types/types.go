// Package types holds the data model shared across the funding-arbitrage
// pipeline: funding observations, derived pair candidates, trade intents,
// live positions and the portfolio/risk singletons the orchestrator owns.
package types

import "time"

// RiskStatus is the admission-control state of the portfolio.
type RiskStatus string

const (
	RiskNormal   RiskStatus = "NORMAL"
	RiskReduce   RiskStatus = "REDUCE"
	RiskHaltNew  RiskStatus = "HALT_NEW"
)

// OrderSide is the canonical buy/sell direction of a leg.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Opposite returns the closing direction for a leg.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes market vs marketable-limit submission.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// PositionPairStatus is the lifecycle state of a live pair.
type PositionPairStatus string

const (
	// PairPending marks an intent whose legs are being submitted but
	// have not yet both resolved; persisted before submission so a
	// crash mid-intent still leaves a record for restart reconciliation.
	PairPending PositionPairStatus = "PENDING"
	PairOpen    PositionPairStatus = "OPEN"
	PairClosing PositionPairStatus = "CLOSING"
	PairClosed  PositionPairStatus = "CLOSED"
	PairZombie  PositionPairStatus = "ZOMBIE"
)

// FundingSnapshot is one observation per (venue, symbol, timestamp).
// Rate is always normalized to an 8h settlement window regardless of the
// venue's native funding cadence.
type FundingSnapshot struct {
	Venue            string
	Symbol           string // canonical BASE/QUOTE:QUOTE form
	Timestamp        time.Time
	FundingRate      float64 // dimensionless, per-8h
	IntervalHours    float64 // native venue interval, pre-normalization
	NextFundingTime  *time.Time
	OpenInterestUSD  float64
	Bid              *float64
	Ask              *float64
	MarkPrice        float64
}

// SymbolQuote aggregates every venue's snapshot for one symbol in a cycle.
type SymbolQuote struct {
	Symbol       string
	ByVenue      map[string]FundingSnapshot
	MaxSpread    float64 // max(rate) - min(rate) across venues
	Coverage     int     // number of venues reporting this symbol
}

// PairFeatures are heuristic, derived-not-persisted estimates used for
// sizing and scoring. Beta has no fixed range; the others are in [0,1].
type PairFeatures struct {
	Correlation        float64
	Beta               float64
	BetaStability      float64
	ATRRatioStability  float64
	MeanReversionScore float64
}

// PairCandidate is a scored, not-yet-admitted opposite-sign pair.
type PairCandidate struct {
	PairID           string
	SymbolShort      string // leg with rate >= 0 (receives funding by paying; see OrderSide mapping)
	VenueShort       string
	SymbolLong       string // leg with rate <= 0
	VenueLong        string
	FundingRateShort float64
	FundingRateLong  float64
	FRDiff           float64 // rate(short) - rate(long), always >= 0 post-filter
	ExpectedEdgeBps  float64
	Beta             float64
	LiquidityScore   float64
	PairScore        float64
	Persistence      int
	ReasonCodes      []string
}

// TradeLeg is one side of a pair order.
type TradeLeg struct {
	Venue      string
	Symbol     string
	Side       OrderSide
	NotionalUSD float64
	OrderType  OrderType
	ReduceOnly bool
}

// TradeIntent directs the execution service to open one pair.
type TradeIntent struct {
	PairID         string
	CycleID        int64
	LegShort       TradeLeg
	LegLong        TradeLeg
	ExpectedEdge   float64
	Leverage       float64
	IdempotencyKey string
	ReasonCodes    []string
}

// OrderResult is the outcome of submitting a single leg.
type OrderResult struct {
	Success   bool
	OrderID   string
	Venue     string
	Symbol    string
	Side      OrderSide
	NotionalUSD float64
	AvgPrice  float64
	Err       string
}

// ExecutionResult is the outcome of attempting to open one pair.
type ExecutionResult struct {
	Success        bool
	PairID         string
	LegResults     []OrderResult
	Err            string
	RecoveryAction string
}

// FlattenResult summarizes an emergency-close sweep.
type FlattenResult struct {
	Success     bool
	ClosedPairs []string
	Failures    map[string]string
}

// PositionPair is a live, jointly-owned two-leg position.
type PositionPair struct {
	PairID           string
	Status           PositionPairStatus
	LegShort         TradeLeg
	LegLong          TradeLeg
	EntryRateShort   float64
	EntryRateLong    float64
	EntryNotionalUSD float64
	FundingReceived  float64
	RealizedPnL      float64
	UnrealizedPnL    float64
	OpenedAt         time.Time
	UpdatedAt        time.Time
}

// MarkToMarket is the pair's current contribution to equity.
func (p PositionPair) MarkToMarket() float64 {
	return p.RealizedPnL + p.UnrealizedPnL
}

// PortfolioState is the orchestrator-owned singleton mutated once per cycle.
type PortfolioState struct {
	CycleID           int64
	CapitalUSD        float64
	Equity            float64
	PeakEquity        float64
	GrossNotionalUSD  float64
	NetDeltaUSD       float64
	ExchangeNotionals map[string]float64
	OpenPairs         map[string]PositionPair
	Status            RiskStatus
	LastCycleAt       time.Time
}

// RiskState is the pure-function output of evaluating a PortfolioState.
type RiskState struct {
	Equity        float64
	DrawdownPct   float64
	GrossLeverage float64
	NetDelta      float64
	Status        RiskStatus
}

// CycleResult summarizes one orchestrator pass for logging/monitoring.
type CycleResult struct {
	CycleID      int64
	Timestamp    time.Time
	Candidates   int
	Intents      int
	Executed     int
	Blocked      int
	Rebalanced   int
	StatusBefore RiskStatus
	StatusAfter  RiskStatus
}
