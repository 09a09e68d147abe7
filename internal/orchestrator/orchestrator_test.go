package orchestrator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"funding-arb/internal/config"
	"funding-arb/internal/exchange"
	"funding-arb/internal/execution"
	"funding-arb/internal/monitoring"
	"funding-arb/internal/repository"
	"funding-arb/internal/risk"
	"funding-arb/internal/signal"
	"funding-arb/internal/types"
	"funding-arb/internal/universe"
)

// fakeMarket returns a fixed set of quotes regardless of the requested
// symbol filter, for deterministic single-cycle tests.
type fakeMarket struct {
	quotes map[string]types.SymbolQuote
	err    error
}

func (m *fakeMarket) Snapshot(context.Context, []string) (map[string]types.SymbolQuote, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.quotes, nil
}
func (m *fakeMarket) SupportedSymbols(context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(m.quotes))
	for s := range m.quotes {
		out[s] = struct{}{}
	}
	return out, nil
}

// fakeVenue is a minimal scriptable Exchange stub for orchestrator tests.
type fakeVenue struct {
	name string
}

func (f *fakeVenue) Connect(string, string, string) error { return nil }
func (f *fakeVenue) Name() string                          { return f.name }
func (f *fakeVenue) Balance(context.Context) (exchange.Balance, error) {
	return exchange.Balance{Venue: f.name, EquityUSD: 10000, FreeUSD: 10000}, nil
}
func (f *fakeVenue) Ticker(context.Context, string) (*exchange.Ticker, error) {
	return &exchange.Ticker{MarkPrice: 100}, nil
}
func (f *fakeVenue) FundingRate(context.Context, string) (float64, float64, error) { return 0, 8, nil }
func (f *fakeVenue) PlaceOrder(ctx context.Context, symbol string, side exchange.OrderSide, notionalUSD float64, clientOrderID string, reduceOnly bool) (*exchange.OrderAck, error) {
	return &exchange.OrderAck{
		ClientOrderID: clientOrderID,
		VenueOrderID:  "v-" + clientOrderID,
		Venue:         f.name,
		Symbol:        symbol,
		Side:          side,
		State:         exchange.OrderStateFilled,
		FilledQty:     notionalUSD / 100,
		AvgFillPrice:  100,
		NotionalUSD:   notionalUSD,
		SubmittedAt:   time.Now().UTC(),
	}, nil
}
func (f *fakeVenue) Cancel(context.Context, string) error { return nil }
func (f *fakeVenue) OrderStatus(context.Context, string) (*exchange.OrderStatus, error) {
	return &exchange.OrderStatus{State: exchange.OrderStateFilled}, nil
}
func (f *fakeVenue) Positions(context.Context) ([]exchange.Position, error) { return nil, nil }
func (f *fakeVenue) ClosePosition(context.Context, string, exchange.PositionSide, float64) error {
	return nil
}
func (f *fakeVenue) Limits(context.Context, string) (*exchange.Limits, error) { return &exchange.Limits{}, nil }
func (f *fakeVenue) TradingFee(context.Context, string) (float64, error)      { return 0.0004, nil }
func (f *fakeVenue) Close() error                                            { return nil }

func strategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		UniverseSize:             10,
		FRDiffMin:                0.001,
		MinPersistenceWindows:    1,
		MinPairScore:             0,
		ExpectedEdgeMinBps:       0,
		MinOpenInterestUSD:       0,
		AllowSingleExchangePairs: true,
		MaxNewPositionsPerCycle:  1,
		MaxNotionalPerPairUSD:    40,
		InitialCapitalUSD:        1000,
		CapitalFraction:          0.40,
		MinOrderUSD:              10,
		MaxTotalNotionalUSD:      50,
		MaxNotionalPerSymbolUSD:  50,
		MaxNotionalPerVenueUSD:   50,
		MaxLeverage:              5,
		NormalLeverageCap:        2,
		ReduceLeverageCap:        1,
		RebalanceThresholdPct:    0.20,
		FeeBpsPerLeg:             4,
		PartialFillTolerance:     0.10,
		LegFillTimeout:           2 * time.Second,
		PerIntentDeadline:        5 * time.Second,
		MaxRetries:               1,
		CyclePeriod:              50 * time.Millisecond,
		CycleDeadline:            2 * time.Second,
		InstanceLockLeaseMultiplier: 3,
	}
}

func newTestOrchestrator(t *testing.T, quotes map[string]types.SymbolQuote) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cfg := strategyConfig()
	venue := &fakeVenue{name: "bybit"}
	router := exchange.NewRouter(map[string]exchange.Exchange{"bybit": venue})

	return New(
		cfg,
		config.MonitoringConfig{AnomalyEquityDropPct: 0.05, AnomalyFailRatio: 0.20},
		"test-instance",
		&fakeMarket{quotes: quotes},
		universe.NewProvider(universe.Config{StaticSymbols: symbolsFrom(quotes)}),
		signal.NewService(signal.Config{
			FRDiffMin: cfg.FRDiffMin, MinPersistenceWindows: cfg.MinPersistenceWindows,
			MinPairScore: cfg.MinPairScore, ExpectedEdgeMinBps: cfg.ExpectedEdgeMinBps,
			FeeBpsPerLeg: cfg.FeeBpsPerLeg, MaxNewPositionsPerCycle: cfg.MaxNewPositionsPerCycle,
			MaxNotionalPerPairUSD: cfg.MaxNotionalPerPairUSD, CapitalFraction: cfg.CapitalFraction,
			MinOrderUSD: cfg.MinOrderUSD, NormalLeverageCap: cfg.NormalLeverageCap,
			ReduceLeverageCap: cfg.ReduceLeverageCap, MaxLeverage: cfg.MaxLeverage,
		}),
		risk.NewService(risk.Config{
			MaxTotalNotionalUSD: cfg.MaxTotalNotionalUSD, MaxNotionalPerSymbolUSD: cfg.MaxNotionalPerSymbolUSD,
			MaxNotionalPerVenueUSD: cfg.MaxNotionalPerVenueUSD, NormalLeverageCap: cfg.NormalLeverageCap,
			ReduceLeverageCap: cfg.ReduceLeverageCap, RebalanceThresholdPct: cfg.RebalanceThresholdPct,
			MarginBuffer: 1.1,
		}, router),
		execution.NewService(execution.Config{
			LegFillTimeout: cfg.LegFillTimeout, PartialFillTol: cfg.PartialFillTolerance,
			MaxRetries: cfg.MaxRetries, IntentDeadline: cfg.PerIntentDeadline,
		}, router, nil),
		repository.NewStateRepository(db),
		monitoring.NewNotifier("", nil, nil),
		nil,
	), mock
}

func symbolsFrom(quotes map[string]types.SymbolQuote) []string {
	out := make([]string, 0, len(quotes))
	for s := range quotes {
		out = append(out, s)
	}
	return out
}

func twoSymbolQuotes() map[string]types.SymbolQuote {
	return map[string]types.SymbolQuote{
		"X/USDT:USDT": {
			Symbol: "X/USDT:USDT",
			ByVenue: map[string]types.FundingSnapshot{
				"bybit": {Venue: "bybit", Symbol: "X/USDT:USDT", FundingRate: 0.003},
			},
			MaxSpread: 0.003, Coverage: 1,
		},
		"Y/USDT:USDT": {
			Symbol: "Y/USDT:USDT",
			ByVenue: map[string]types.FundingSnapshot{
				"bybit": {Venue: "bybit", Symbol: "Y/USDT:USDT", FundingRate: -0.002},
			},
			MaxSpread: 0.002, Coverage: 1,
		},
	}
}

func TestRunCycleHappyPathOpensOnePair(t *testing.T) {
	o, mock := newTestOrchestrator(t, twoSymbolQuotes())

	mock.ExpectQuery(`SELECT cycle_id, capital_usd`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT pair_id, payload FROM position_pairs`).
		WillReturnRows(sqlmock.NewRows([]string{"pair_id", "payload"}))
	mock.ExpectQuery(`SELECT counters FROM persistence_counters`).WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO portfolio_state`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO position_pairs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO persistence_counters`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO cycle_summaries`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	if err := o.restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	o.runCycle(ctx)

	open := o.exec.OpenPairs()
	if len(open) != 1 {
		t.Fatalf("expected exactly one open pair, got %d", len(open))
	}
	if o.portfolio.CycleID != 1 {
		t.Errorf("expected cycle_id advanced to 1, got %d", o.portfolio.CycleID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunCycleSkipsOnMarketDataFailure(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	cfg := strategyConfig()
	router := exchange.NewRouter(map[string]exchange.Exchange{})
	o := New(
		cfg, config.MonitoringConfig{}, "test-instance",
		&fakeMarket{err: errFixture("aggregator unreachable")},
		universe.NewProvider(universe.Config{}),
		signal.NewService(signal.Config{}),
		risk.NewService(risk.Config{}, router),
		execution.NewService(execution.DefaultConfig(), router, nil),
		repository.NewStateRepository(db),
		monitoring.NewNotifier("", nil, nil),
		nil,
	)

	o.portfolio = types.PortfolioState{Status: types.RiskNormal, ExchangeNotionals: map[string]float64{}}
	o.runCycle(context.Background())

	if o.consecutiveSkips != 1 {
		t.Fatalf("expected one consecutive skip recorded, got %d", o.consecutiveSkips)
	}
	if o.portfolio.CycleID != 0 {
		t.Errorf("expected cycle_id unchanged on skip, got %d", o.portfolio.CycleID)
	}
}

type errFixture string

func (e errFixture) Error() string { return string(e) }
