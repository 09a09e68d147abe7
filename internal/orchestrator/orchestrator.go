// Package orchestrator runs the single cooperative cycle loop that
// sequences market data, universe selection, signal generation, risk
// admission, execution and persistence. Cycles are strictly serialized;
// the only parallelism lives inside the stages it calls into.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"funding-arb/internal/config"
	"funding-arb/internal/execution"
	"funding-arb/internal/marketdata"
	"funding-arb/internal/monitoring"
	"funding-arb/internal/repository"
	"funding-arb/internal/risk"
	"funding-arb/internal/signal"
	"funding-arb/internal/types"
	"funding-arb/internal/universe"
	"funding-arb/internal/websocket"
	"funding-arb/pkg/utils"
)

// Orchestrator owns the process-scoped PortfolioState singleton and
// mutates it only inside runCycle's step 8 persist, per the single-writer
// design.
type Orchestrator struct {
	cfg        config.StrategyConfig
	monCfg     config.MonitoringConfig
	instanceID string

	market   marketdata.Service
	universe *universe.Provider
	signals  *signal.Service
	riskSvc  *risk.Service
	exec     *execution.Service
	repo     *repository.StateRepository
	notifier *monitoring.Notifier
	hub      *websocket.Hub

	mu               sync.RWMutex
	portfolio        types.PortfolioState
	consecutiveSkips int
	lastCycle        types.CycleResult
	startedAt        time.Time
}

func New(
	cfg config.StrategyConfig,
	monCfg config.MonitoringConfig,
	instanceID string,
	market marketdata.Service,
	uni *universe.Provider,
	signals *signal.Service,
	riskSvc *risk.Service,
	exec *execution.Service,
	repo *repository.StateRepository,
	notifier *monitoring.Notifier,
	hub *websocket.Hub,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		monCfg:     monCfg,
		instanceID: instanceID,
		market:     market,
		universe:   uni,
		signals:    signals,
		riskSvc:    riskSvc,
		exec:       exec,
		repo:       repo,
		notifier:   notifier,
		hub:        hub,
	}
}

// Run acquires the cross-process instance lock, restores state from the
// last committed cycle, then drives the cycle loop until ctx is
// cancelled. The lock is released on any return path.
func (o *Orchestrator) Run(ctx context.Context) error {
	lease := o.cfg.CyclePeriod * time.Duration(maxInt(o.cfg.InstanceLockLeaseMultiplier, 1))
	if err := o.repo.AcquireInstanceLock(ctx, o.instanceID, lease); err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.repo.ReleaseInstanceLock(releaseCtx, o.instanceID); err != nil {
			utils.Errorf("orchestrator: releasing instance lock: %v", err)
		}
	}()

	if err := o.restore(ctx); err != nil {
		return fmt.Errorf("restoring state: %w", err)
	}

	o.runCycle(ctx)

	ticker := time.NewTicker(o.cfg.CyclePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := o.repo.RenewInstanceLock(ctx, o.instanceID, lease); err != nil {
			return fmt.Errorf("instance lock lost: %w", err)
		}
		o.runCycle(ctx)
	}
}

// restore loads the last committed PortfolioState and persistence
// counters and seeds the signal/execution services with them, and
// reconciles any pair left open without both legs confirmed on the
// venues (crash recovery, flatten_or_adopt with default flatten).
func (o *Orchestrator) restore(ctx context.Context) error {
	state, err := o.repo.LoadPortfolioState(ctx)
	if err != nil {
		return fmt.Errorf("loading portfolio state: %w", err)
	}
	counters, err := o.repo.LoadPersistenceCounters(ctx)
	if err != nil {
		return fmt.Errorf("loading persistence counters: %w", err)
	}

	if state.CycleID == 0 && state.CapitalUSD == 0 {
		state.CapitalUSD = o.cfg.InitialCapitalUSD
		state.Equity = o.cfg.InitialCapitalUSD
		state.PeakEquity = o.cfg.InitialCapitalUSD
	}

	o.exec.LoadOpenPairs(state.OpenPairs)
	o.signals.LoadPersistence(counters)

	o.mu.Lock()
	o.portfolio = state
	o.startedAt = time.Now().UTC()
	o.mu.Unlock()

	o.reconcileOnRestart(ctx)
	return nil
}

// reconcileOnRestart applies flatten_or_adopt: a pair whose venue
// positions don't show both legs open is flattened rather than adopted,
// since a partially-filled crash can't be trusted to still be
// delta-neutral. A leg counts as open when the venue reports any
// non-zero size for its symbol; that size is not compared with the
// pair's recorded notional. It also walks pairs left PENDING by a
// crash between leg submissions, which never reached open-pair or
// zombie bookkeeping in the first place, and resolves each leg against
// whatever the venue actually shows.
func (o *Orchestrator) reconcileOnRestart(ctx context.Context) {
	for pairID, pair := range o.exec.OpenPairs() {
		shortOK, errShort := o.exec.HasOpenPosition(ctx, pair.LegShort.Venue, pair.LegShort.Symbol)
		longOK, errLong := o.exec.HasOpenPosition(ctx, pair.LegLong.Venue, pair.LegLong.Symbol)
		if errShort != nil || errLong != nil {
			utils.Errorf("orchestrator: restart reconciliation for pair %s degraded (short_err=%v long_err=%v); flattening to be safe", pairID, errShort, errLong)
		}
		if shortOK && longOK && errShort == nil && errLong == nil {
			continue
		}
		utils.Errorf("orchestrator: reconciling pair %s on restart (short_ok=%v long_ok=%v), flattening", pairID, shortOK, longOK)
		o.exec.ClosePair(ctx, pairID, time.Now().Unix())
	}

	for pairID, pair := range o.exec.PendingPairs() {
		shortOK, errShort := o.exec.HasOpenPosition(ctx, pair.LegShort.Venue, pair.LegShort.Symbol)
		longOK, errLong := o.exec.HasOpenPosition(ctx, pair.LegLong.Venue, pair.LegLong.Symbol)
		if errShort != nil || errLong != nil {
			utils.Errorf("orchestrator: restart reconciliation for pending pair %s degraded (short_err=%v long_err=%v); flattening any leg found", pairID, errShort, errLong)
		}

		switch {
		case shortOK && longOK:
			utils.Infof("orchestrator: pending pair %s had both legs fill before the crash, adopting as open", pairID)
			o.exec.AdoptPendingAsOpen(pairID)
		case shortOK && !longOK:
			utils.Errorf("orchestrator: pending pair %s only filled its short leg before the crash, flattening it", pairID)
			if err := o.exec.FlattenLivePosition(ctx, pair.LegShort.Venue, pair.LegShort.Symbol); err != nil {
				utils.Errorf("orchestrator: flattening orphaned short leg for pending pair %s: %v", pairID, err)
			}
			o.exec.DiscardPending(pairID)
		case longOK && !shortOK:
			utils.Errorf("orchestrator: pending pair %s only filled its long leg before the crash, flattening it", pairID)
			if err := o.exec.FlattenLivePosition(ctx, pair.LegLong.Venue, pair.LegLong.Symbol); err != nil {
				utils.Errorf("orchestrator: flattening orphaned long leg for pending pair %s: %v", pairID, err)
			}
			o.exec.DiscardPending(pairID)
		default:
			utils.Infof("orchestrator: pending pair %s never filled either leg before the crash, discarding", pairID)
			o.exec.DiscardPending(pairID)
		}

		if err := o.repo.ClearPendingPair(ctx, pairID); err != nil {
			utils.Errorf("orchestrator: clearing pending pair %s after restart reconciliation: %v", pairID, err)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// runCycle executes the ten-step cycle. Any transient data failure at
// step 2 skips the remainder; persistent data (risk/execution state)
// is never mutated on a skip.
func (o *Orchestrator) runCycle(ctx context.Context) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CycleDeadline)
	defer cancel()

	cycleID := o.portfolio.CycleID + 1
	statusBefore := o.portfolio.Status

	symbols, snapshots, err := o.fetchUniverse(ctx)
	if err != nil {
		o.skipCycle(ctx, err)
		return
	}
	o.consecutiveSkips = 0
	utils.Infof("orchestrator: cycle %d universe=%d symbols", cycleID, len(symbols))

	candidates := o.signals.BuildPairCandidates(snapshots, o.cfg.AllowSingleExchangePairs)

	riskState := risk.Evaluate(o.portfolio)
	intents := o.signals.SelectEntries(candidates, cycleID, o.portfolio.Equity, riskState.Status)
	decisions := o.riskSvc.AdmitIntents(intents, riskState, o.portfolio)
	directives := risk.RebalanceDirectives(o.portfolio.OpenPairs, o.cfg.RebalanceThresholdPct)
	if riskState.Status == types.RiskReduce {
		// REDUCE admits no new intents and halves every open pair instead.
		flagged := make(map[string]bool, len(directives))
		for _, d := range directives {
			flagged[d.PairID] = true
		}
		for id, pair := range o.portfolio.OpenPairs {
			if pair.Status == types.PairOpen && !flagged[id] {
				directives = append(directives, risk.RebalanceDirective{PairID: id, TargetScale: 0.5, Reason: "reduce_mode_shrink"})
			}
		}
	}

	rebalanced := o.runRebalances(ctx, directives)
	executed, attempted := o.runIntents(ctx, decisions)

	prevEquity := o.portfolio.Equity
	o.recomputePortfolio(cycleID)
	riskAfter := risk.Evaluate(o.portfolio)
	o.mu.Lock()
	o.portfolio.Status = riskAfter.Status
	o.mu.Unlock()

	summary := types.CycleResult{
		CycleID:      cycleID,
		Timestamp:    start,
		Candidates:   len(candidates),
		Intents:      len(intents),
		Executed:     executed,
		Blocked:      len(intents) - executed,
		Rebalanced:   rebalanced,
		StatusBefore: statusBefore,
		StatusAfter:  riskAfter.Status,
	}

	o.persist(ctx, summary)
	o.emit(ctx, statusBefore, riskAfter, prevEquity, executed, attempted)

	o.mu.Lock()
	o.lastCycle = summary
	o.mu.Unlock()

	if o.hub != nil {
		o.hub.BroadcastNotification(websocket.NewCycleSummaryMessage(summary))
		o.hub.BroadcastNotification(websocket.NewPortfolioMessage(o.Portfolio()))
	}

	monitoring.RecordCycle(summary, riskAfter, len(o.exec.OpenPairs()), len(o.exec.ZombiePairs()), time.Since(start).Seconds())
}

func (o *Orchestrator) fetchUniverse(ctx context.Context) ([]string, []types.FundingSnapshot, error) {
	quotes, err := o.market.Snapshot(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching market snapshot: %w", err)
	}
	symbols := o.universe.Select(ctx, quotes)

	var snapshots []types.FundingSnapshot
	for _, symbol := range symbols {
		q, ok := quotes[symbol]
		if !ok {
			continue
		}
		for _, snap := range q.ByVenue {
			snapshots = append(snapshots, snap)
		}
	}
	return symbols, snapshots, nil
}

// skipCycle surfaces CycleSkipped without advancing cycle_id or touching
// persisted state; repeated consecutive skips (>3) alert the operator.
func (o *Orchestrator) skipCycle(ctx context.Context, err error) {
	o.mu.Lock()
	o.consecutiveSkips++
	skips := o.consecutiveSkips
	o.mu.Unlock()
	utils.Errorf("orchestrator: cycle skipped: %v", err)
	monitoring.RecordCycleSkipped()
	if skips > 3 {
		o.notifier.Send(ctx, monitoring.CycleSkippedEvent(skips))
	}
}

// runRebalances trims every flagged pair toward its target scale before
// any new intent is admitted, per the execution-ordering guarantee.
func (o *Orchestrator) runRebalances(ctx context.Context, directives []risk.RebalanceDirective) int {
	sort.Slice(directives, func(i, j int) bool { return directives[i].PairID < directives[j].PairID })

	rebalanced := 0
	for _, d := range directives {
		res := o.exec.Rebalance(ctx, d.PairID, d.TargetScale)
		if res.Success {
			rebalanced++
		} else {
			utils.Errorf("orchestrator: rebalance of pair %s failed: %s", d.PairID, res.Err)
		}
	}
	return rebalanced
}

// runIntents executes every admitted decision in ranking order (already
// sorted by the signal service), after a pre-flight margin check on both
// legs, and reports exec successes plus the total attempted, for the
// anomaly failure-ratio check.
func (o *Orchestrator) runIntents(ctx context.Context, decisions []risk.Decision) (executed, attempted int) {
	for _, d := range decisions {
		if !d.Allowed {
			utils.Infof("orchestrator: intent for pair %s blocked: %s", d.Intent.PairID, d.Reason)
			continue
		}
		attempted++
		shortMargin, longMargin, err := o.riskSvc.CheckBothLegsMargin(ctx, d.Intent)
		if err != nil || !shortMargin.Sufficient || !longMargin.Sufficient {
			utils.Errorf("orchestrator: intent for pair %s failed pre-flight: InsufficientMargin (err=%v)", d.Intent.PairID, err)
			continue
		}
		res := o.exec.ExecutePair(ctx, d.Intent)
		if res.Success {
			executed++
			continue
		}
		utils.Errorf("orchestrator: intent for pair %s failed: %s", d.Intent.PairID, res.Err)
		if res.RecoveryAction == "MarkedZombie" {
			o.notifier.Send(ctx, monitoring.ZombiePairEvent(d.Intent.PairID))
		}
	}
	return executed, attempted
}

// recomputePortfolio rebuilds gross notional, per-venue notional, net
// delta and equity from the execution service's live pairs, then
// advances peak_equity, satisfying the equity/peak invariants.
func (o *Orchestrator) recomputePortfolio(cycleID int64) {
	openPairs := o.exec.OpenPairs()

	var gross, netDelta, markToMarket float64
	perVenue := make(map[string]float64)

	for _, pair := range openPairs {
		gross += pair.LegShort.NotionalUSD + pair.LegLong.NotionalUSD
		perVenue[pair.LegShort.Venue] += pair.LegShort.NotionalUSD
		perVenue[pair.LegLong.Venue] += pair.LegLong.NotionalUSD
		netDelta += signedNotional(pair.LegLong) + signedNotional(pair.LegShort)
		markToMarket += pair.MarkToMarket()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.portfolio.CycleID = cycleID
	o.portfolio.GrossNotionalUSD = gross
	o.portfolio.NetDeltaUSD = netDelta
	o.portfolio.ExchangeNotionals = perVenue
	o.portfolio.OpenPairs = openPairs
	o.portfolio.Equity = o.portfolio.CapitalUSD + markToMarket
	if o.portfolio.Equity > o.portfolio.PeakEquity {
		o.portfolio.PeakEquity = o.portfolio.Equity
	}
	o.portfolio.LastCycleAt = time.Now().UTC()
}

func signedNotional(leg types.TradeLeg) float64 {
	if leg.Side == types.SideBuy {
		return leg.NotionalUSD
	}
	return -leg.NotionalUSD
}

// persist writes the full cycle atomically; a failure here is logged
// but does not roll back in-memory state, since the next cycle's write
// will retry with fresher numbers anyway.
func (o *Orchestrator) persist(ctx context.Context, summary types.CycleResult) {
	// ZOMBIE pairs are stored alongside the open ones so an operator and
	// the next restart can still see them.
	portfolio := o.portfolio
	pairs := make(map[string]types.PositionPair, len(portfolio.OpenPairs))
	for id, p := range portfolio.OpenPairs {
		pairs[id] = p
	}
	for id, p := range o.exec.ZombiePairs() {
		pairs[id] = p
	}
	portfolio.OpenPairs = pairs
	write := repository.CycleWrite{
		Portfolio: portfolio,
		Persist:   o.signals.PersistenceSnapshot(),
		Summary:   summary,
	}
	if err := o.repo.SaveCycle(ctx, write); err != nil {
		utils.Errorf("orchestrator: persisting cycle %d: %v", summary.CycleID, err)
	}
}

// emit surfaces state transitions and anomalies: webhook + WebSocket,
// best-effort, never blocking the next cycle.
func (o *Orchestrator) emit(ctx context.Context, statusBefore types.RiskStatus, riskAfter types.RiskState, prevEquity float64, executed, attempted int) {
	if statusBefore != riskAfter.Status {
		o.notifier.Send(ctx, monitoring.StateTransitionEvent(statusBefore, riskAfter.Status, riskAfter.DrawdownPct))
	}

	if monitoring.DetectEquityDrop(prevEquity, o.portfolio.Equity, o.monCfg.AnomalyEquityDropPct) {
		o.notifier.Send(ctx, monitoring.EquityDropEvent(prevEquity, o.portfolio.Equity, o.monCfg.AnomalyEquityDropPct))
	}

	if ratio, anomalous := monitoring.DetectFailureRatio(attempted-executed, attempted, o.monCfg.AnomalyFailRatio); anomalous {
		o.notifier.Send(ctx, monitoring.ExecutionFailureRatioEvent(attempted-executed, attempted, ratio, o.monCfg.AnomalyFailRatio))
	}
}

// EmergencyFlatten force-unwinds every open pair and alerts the
// operator, for use from an admin endpoint or a fatal-error handler.
func (o *Orchestrator) EmergencyFlatten(ctx context.Context) types.FlattenResult {
	result := o.exec.EmergencyFlatten(ctx)
	o.notifier.Send(ctx, monitoring.EmergencyFlattenEvent(result))
	return result
}

// Portfolio returns a copy of the current in-memory portfolio state,
// for the API's read-only status endpoint.
func (o *Orchestrator) Portfolio() types.PortfolioState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.portfolio
}

// CycleStatus is the read-only liveness/health snapshot served by the
// control API's /status endpoint.
type CycleStatus struct {
	InstanceID       string           `json:"instance_id"`
	StartedAt        time.Time        `json:"started_at"`
	LastCycle        types.CycleResult `json:"last_cycle"`
	ConsecutiveSkips int              `json:"consecutive_skips"`
	RiskStatus       types.RiskStatus `json:"risk_status"`
	OpenPairs        int              `json:"open_pairs"`
	ZombiePairs      int              `json:"zombie_pairs"`
}

// Status returns a snapshot of cycle health for the control API.
func (o *Orchestrator) Status() CycleStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return CycleStatus{
		InstanceID:       o.instanceID,
		StartedAt:        o.startedAt,
		LastCycle:        o.lastCycle,
		ConsecutiveSkips: o.consecutiveSkips,
		RiskStatus:       o.portfolio.Status,
		OpenPairs:        len(o.exec.OpenPairs()),
		ZombiePairs:      len(o.exec.ZombiePairs()),
	}
}
