package risk

import (
	"testing"

	"funding-arb/internal/types"
)

func testConfig() Config {
	return Config{
		MaxTotalNotionalUSD:     1000,
		MaxNotionalPerSymbolUSD: 200,
		MaxNotionalPerVenueUSD:  500,
		NormalLeverageCap:       3.0,
		ReduceLeverageCap:       1.0,
		RebalanceThresholdPct:   0.10,
		MarginBuffer:            1.1,
	}
}

func intent(pairID, symbolShort, symbolLong, venueShort, venueLong string, notional float64) types.TradeIntent {
	return types.TradeIntent{
		PairID: pairID,
		LegShort: types.TradeLeg{Venue: venueShort, Symbol: symbolShort, Side: types.SideSell, NotionalUSD: notional / 2},
		LegLong:  types.TradeLeg{Venue: venueLong, Symbol: symbolLong, Side: types.SideBuy, NotionalUSD: notional / 2},
	}
}

func TestNextStatusEntersHaltNewDirectlyFromNormal(t *testing.T) {
	got := NextStatus(types.RiskNormal, 0.20)
	if got != types.RiskHaltNew {
		t.Fatalf("expected NORMAL at 20%% drawdown to jump straight to HALT_NEW, got %s", got)
	}
}

func TestNextStatusEntersReduceFromNormal(t *testing.T) {
	got := NextStatus(types.RiskNormal, 0.11)
	if got != types.RiskReduce {
		t.Fatalf("expected REDUCE at 11%% drawdown, got %s", got)
	}
}

func TestNextStatusHysteresisKeepsReduceNearLowerBand(t *testing.T) {
	got := NextStatus(types.RiskReduce, 0.09)
	if got != types.RiskReduce {
		t.Fatalf("expected REDUCE to hold above its 8%% exit band, got %s", got)
	}
}

func TestNextStatusExitsReduceBelowLowerBand(t *testing.T) {
	got := NextStatus(types.RiskReduce, 0.05)
	if got != types.RiskNormal {
		t.Fatalf("expected REDUCE to exit to NORMAL below 8%% drawdown, got %s", got)
	}
}

func TestNextStatusHaltNewRequiresDropBelow13PctToRelax(t *testing.T) {
	got := NextStatus(types.RiskHaltNew, 0.14)
	if got != types.RiskHaltNew {
		t.Fatalf("expected HALT_NEW to hold at 14%% drawdown, got %s", got)
	}
	got = NextStatus(types.RiskHaltNew, 0.12)
	if got != types.RiskReduce {
		t.Fatalf("expected HALT_NEW to relax to REDUCE below 13%% drawdown, got %s", got)
	}
}

func TestEvaluateComputesDrawdownAndLeverage(t *testing.T) {
	p := types.PortfolioState{
		Equity:           900,
		PeakEquity:       1000,
		GrossNotionalUSD: 1800,
		NetDeltaUSD:      90,
		Status:           types.RiskNormal,
	}
	state := Evaluate(p)
	if state.DrawdownPct != 0.10 {
		t.Errorf("expected drawdown 0.10, got %v", state.DrawdownPct)
	}
	if state.GrossLeverage != 2.0 {
		t.Errorf("expected gross leverage 2.0, got %v", state.GrossLeverage)
	}
	if state.Status != types.RiskReduce {
		t.Errorf("expected REDUCE at 10%% drawdown, got %s", state.Status)
	}
}

func TestAdmitIntentsHaltNewRejectsAll(t *testing.T) {
	s := NewService(testConfig(), nil)
	intents := []types.TradeIntent{intent("p1", "BTC", "ETH", "bybit", "okx", 100)}
	got := s.AdmitIntents(intents, types.RiskState{Status: types.RiskHaltNew}, types.PortfolioState{Equity: 1000})
	if got[0].Allowed {
		t.Fatal("expected HALT_NEW to reject all intents")
	}
}

func TestAdmitIntentsReduceRejectsNewPositions(t *testing.T) {
	s := NewService(testConfig(), nil)
	intents := []types.TradeIntent{intent("p1", "BTC", "ETH", "bybit", "okx", 100)}
	got := s.AdmitIntents(intents, types.RiskState{Status: types.RiskReduce}, types.PortfolioState{Equity: 1000})
	if got[0].Allowed {
		t.Fatal("expected REDUCE to reject new positions")
	}
}

func TestAdmitIntentsEnforcesTotalNotionalCap(t *testing.T) {
	s := NewService(testConfig(), nil)
	portfolio := types.PortfolioState{Equity: 1000, GrossNotionalUSD: 950}
	intents := []types.TradeIntent{intent("p1", "BTC", "ETH", "bybit", "okx", 100)}
	got := s.AdmitIntents(intents, types.RiskState{Status: types.RiskNormal}, portfolio)
	if got[0].Allowed {
		t.Fatalf("expected total notional cap to reject intent, got reason %s", got[0].Reason)
	}
}

func TestAdmitIntentsEnforcesPerVenueCap(t *testing.T) {
	s := NewService(testConfig(), nil)
	portfolio := types.PortfolioState{Equity: 1000, ExchangeNotionals: map[string]float64{"bybit": 480}}
	intents := []types.TradeIntent{intent("p1", "BTC", "ETH", "bybit", "okx", 100)}
	got := s.AdmitIntents(intents, types.RiskState{Status: types.RiskNormal}, portfolio)
	if got[0].Allowed {
		t.Fatalf("expected per-venue cap to reject intent, got reason %s", got[0].Reason)
	}
}

func TestAdmitIntentsAllowsWithinCaps(t *testing.T) {
	s := NewService(testConfig(), nil)
	portfolio := types.PortfolioState{Equity: 1000}
	intents := []types.TradeIntent{intent("p1", "BTC", "ETH", "bybit", "okx", 100)}
	got := s.AdmitIntents(intents, types.RiskState{Status: types.RiskNormal}, portfolio)
	if !got[0].Allowed {
		t.Fatalf("expected intent within caps to be allowed, got reason %s", got[0].Reason)
	}
}

func TestRebalanceDirectivesFlagsDrift(t *testing.T) {
	pairs := map[string]types.PositionPair{
		"p1": {
			Status:           types.PairOpen,
			EntryNotionalUSD: 100,
			LegShort:         types.TradeLeg{NotionalUSD: 70},
			LegLong:          types.TradeLeg{NotionalUSD: 70},
		},
	}
	got := RebalanceDirectives(pairs, 0.10)
	if len(got) != 1 {
		t.Fatalf("expected one rebalance directive, got %d", len(got))
	}
}

func TestRebalanceDirectivesIgnoresClosedPairs(t *testing.T) {
	pairs := map[string]types.PositionPair{
		"p1": {
			Status:           types.PairClosed,
			EntryNotionalUSD: 100,
			LegShort:         types.TradeLeg{NotionalUSD: 70},
			LegLong:          types.TradeLeg{NotionalUSD: 70},
		},
	}
	got := RebalanceDirectives(pairs, 0.10)
	if len(got) != 0 {
		t.Fatalf("expected closed pairs ignored, got %d directives", len(got))
	}
}
