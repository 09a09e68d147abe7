// Package execution submits pair trade intents to their venues in
// parallel, reconciles fills within a deadline, and fail-safe flattens
// any leg left without its partner.
package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"funding-arb/internal/exchange"
	"funding-arb/internal/types"
	"funding-arb/pkg/retry"
	"funding-arb/pkg/utils"
)

// Config tunes fill reconciliation and retry behavior.
type Config struct {
	LegFillTimeout     time.Duration
	PartialFillTol     float64 // fraction of target notional, default 0.10
	MaxRetries         int
	IntentDeadline     time.Duration
}

func DefaultConfig() Config {
	return Config{
		LegFillTimeout: 10 * time.Second,
		PartialFillTol: 0.10,
		MaxRetries:     2,
		IntentDeadline: 30 * time.Second,
	}
}

// legResult pairs an order acknowledgement with the leg it came from.
type legResult struct {
	leg types.TradeLeg
	ack *exchange.OrderAck
	err error
}

// PendingStore durably records an intent before its legs are submitted
// and clears the record once the intent resolves. Without this, a crash
// between the two legs' submissions leaves no trace anywhere for restart
// reconciliation to check against live venue positions.
type PendingStore interface {
	SavePendingPair(ctx context.Context, pair types.PositionPair) error
	ClearPendingPair(ctx context.Context, pairID string) error
}

// Service executes and unwinds two-leg positions against a Router. It
// remembers every idempotency key it has submitted, so the same intent
// handed in twice within one process is rejected as a duplicate. That
// set lives in memory only and venue order history is not consulted, so
// it does not carry across a restart.
type Service struct {
	cfg          Config
	router       *exchange.Router
	pendingStore PendingStore

	mu        sync.Mutex
	submitted map[string]struct{} // client order ids already accepted by a venue
	openPairs map[string]types.PositionPair
	zombies   map[string]types.PositionPair
	pending   map[string]types.PositionPair
}

// NewService builds an execution service. pendingStore may be nil, in
// which case in-flight intents are tracked in memory only (no crash
// protection against a process kill between leg submissions).
func NewService(cfg Config, router *exchange.Router, pendingStore PendingStore) *Service {
	return &Service{
		cfg:          cfg,
		router:       router,
		pendingStore: pendingStore,
		submitted:    make(map[string]struct{}),
		openPairs:    make(map[string]types.PositionPair),
		pending:      make(map[string]types.PositionPair),
		zombies:      make(map[string]types.PositionPair),
	}
}

// LoadOpenPairs seeds in-memory state from a restored PortfolioState. A
// pair still PENDING (crashed before either leg resolved) is routed to
// the pending set, not openPairs, so restart reconciliation checks its
// legs individually instead of assuming both filled.
func (s *Service) LoadOpenPairs(pairs map[string]types.PositionPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openPairs = make(map[string]types.PositionPair, len(pairs))
	for id, p := range pairs {
		if p.Status == types.PairZombie {
			s.zombies[id] = p
			continue
		}
		if p.Status == types.PairPending {
			s.pending[id] = p
			continue
		}
		s.openPairs[id] = p
	}
}

// OpenPairs returns a copy of the live pairs for the orchestrator to persist.
func (s *Service) OpenPairs() map[string]types.PositionPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.PositionPair, len(s.openPairs))
	for k, v := range s.openPairs {
		out[k] = v
	}
	return out
}

// ZombiePairs returns pairs that failed double-leg recovery and need
// operator intervention.
func (s *Service) ZombiePairs() map[string]types.PositionPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.PositionPair, len(s.zombies))
	for k, v := range s.zombies {
		out[k] = v
	}
	return out
}

// PendingPairs returns intents whose legs were still in flight (or
// whose outcome was never locally recorded) when the process last
// stopped, for restart reconciliation to check against live positions.
func (s *Service) PendingPairs() map[string]types.PositionPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.PositionPair, len(s.pending))
	for k, v := range s.pending {
		out[k] = v
	}
	return out
}

// AdoptPendingAsOpen promotes a pending pair to open once restart
// reconciliation confirms both legs actually filled before the crash.
func (s *Service) AdoptPendingAsOpen(pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair, ok := s.pending[pairID]
	if !ok {
		return
	}
	pair.Status = types.PairOpen
	s.openPairs[pairID] = pair
	delete(s.pending, pairID)
}

// DiscardPending drops a pending record once restart reconciliation has
// resolved it (flattened whatever leg existed, or found neither leg
// ever filled).
func (s *Service) DiscardPending(pairID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pairID)
}

// FlattenLivePosition closes whatever live position restart
// reconciliation finds on a single leg, sized from the venue's own
// reported position rather than the (possibly never-filled) intent -
// used when a pending pair's crash left only one leg actually open.
func (s *Service) FlattenLivePosition(ctx context.Context, venue, symbol string) error {
	positions, err := s.router.Positions(ctx, venue)
	if err != nil {
		return fmt.Errorf("checking live position on %s: %w", venue, err)
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Size != 0 {
			return s.router.ClosePosition(ctx, venue, symbol, p.Side, p.Size)
		}
	}
	return nil
}

// ExecutePair opens one pair from an intent: persist a pending record,
// submit both legs in parallel, reconcile fills, fail-safe flatten on a
// one-sided result.
func (s *Service) ExecutePair(ctx context.Context, intent types.TradeIntent) types.ExecutionResult {
	s.mu.Lock()
	if _, ok := s.submitted[intent.IdempotencyKey]; ok {
		s.mu.Unlock()
		return types.ExecutionResult{Success: false, PairID: intent.PairID, Err: "DUPLICATE_INTENT"}
	}
	s.submitted[intent.IdempotencyKey] = struct{}{}
	pendingPair := types.PositionPair{
		PairID:    intent.PairID,
		Status:    types.PairPending,
		LegShort:  intent.LegShort,
		LegLong:   intent.LegLong,
		OpenedAt:  time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.pending[intent.PairID] = pendingPair
	s.mu.Unlock()

	if s.pendingStore != nil {
		if err := s.pendingStore.SavePendingPair(ctx, pendingPair); err != nil {
			// Best-effort: losing this write only narrows the crash
			// window restart reconciliation can see into, it does not
			// change trading behavior, so the intent still proceeds.
			utils.Errorf("execution: persisting pending pair %s: %v", intent.PairID, err)
		}
	}
	defer func() {
		s.mu.Lock()
		delete(s.pending, intent.PairID)
		s.mu.Unlock()
		if s.pendingStore != nil {
			_ = s.pendingStore.ClearPendingPair(context.Background(), intent.PairID)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.IntentDeadline)
	defer cancel()

	shortCh := make(chan legResult, 1)
	longCh := make(chan legResult, 1)

	go func() {
		ack, err := s.submitLeg(ctx, intent.LegShort, intent.IdempotencyKey+"-short")
		shortCh <- legResult{leg: intent.LegShort, ack: ack, err: err}
	}()
	go func() {
		ack, err := s.submitLeg(ctx, intent.LegLong, intent.IdempotencyKey+"-long")
		longCh <- legResult{leg: intent.LegLong, ack: ack, err: err}
	}()

	var shortRes, longRes legResult
	var shortDone, longDone bool
	timeout := time.After(s.cfg.LegFillTimeout)

	for !shortDone || !longDone {
		select {
		case shortRes = <-shortCh:
			shortDone = true
		case longRes = <-longCh:
			longDone = true
		case <-timeout:
			return s.handleTimeout(ctx, intent, shortRes, longRes, shortDone, longDone)
		case <-ctx.Done():
			return types.ExecutionResult{Success: false, PairID: intent.PairID, Err: "INTENT_DEADLINE_EXCEEDED"}
		}
	}

	return s.reconcile(ctx, intent, shortRes, longRes)
}

func (s *Service) handleTimeout(ctx context.Context, intent types.TradeIntent, shortRes, longRes legResult, shortDone, longDone bool) types.ExecutionResult {
	results := []types.OrderResult{}
	if shortDone && shortRes.err == nil {
		s.flattenLeg(ctx, intent.LegShort, shortRes.ack, intent.IdempotencyKey+"-flatten-short")
	}
	if longDone && longRes.err == nil {
		s.flattenLeg(ctx, intent.LegLong, longRes.ack, intent.IdempotencyKey+"-flatten-long")
	}
	return types.ExecutionResult{
		Success:        false,
		PairID:         intent.PairID,
		LegResults:     results,
		Err:            "LEG_FILL_TIMEOUT",
		RecoveryAction: "PartialFillFlattened",
	}
}

func (s *Service) reconcile(ctx context.Context, intent types.TradeIntent, shortRes, longRes legResult) types.ExecutionResult {
	shortOK := shortRes.err == nil && shortRes.ack != nil
	longOK := longRes.err == nil && longRes.ack != nil

	if shortOK && longOK {
		shortFilled := shortRes.ack.FilledQty > 0
		longFilled := longRes.ack.FilledQty > 0

		if shortFilled && longFilled {
			if !s.withinTolerance(shortRes.ack.NotionalUSD, longRes.ack.NotionalUSD) {
				s.trimLarger(ctx, intent, shortRes.ack, longRes.ack)
			}
			return s.recordOpen(intent, shortRes.ack, longRes.ack)
		}
		if shortFilled && !longFilled {
			s.flattenLeg(ctx, intent.LegShort, shortRes.ack, intent.IdempotencyKey+"-flatten-short")
			return types.ExecutionResult{Success: false, PairID: intent.PairID, Err: "LEG_LONG_UNFILLED", RecoveryAction: "PartialFillFlattened"}
		}
		if longFilled && !shortFilled {
			s.flattenLeg(ctx, intent.LegLong, longRes.ack, intent.IdempotencyKey+"-flatten-long")
			return types.ExecutionResult{Success: false, PairID: intent.PairID, Err: "LEG_SHORT_UNFILLED", RecoveryAction: "PartialFillFlattened"}
		}
		return types.ExecutionResult{Success: false, PairID: intent.PairID, Err: "BOTH_LEGS_UNFILLED"}
	}

	if shortOK && !longOK {
		s.flattenLeg(ctx, intent.LegShort, shortRes.ack, intent.IdempotencyKey+"-flatten-short")
		return types.ExecutionResult{Success: false, PairID: intent.PairID, Err: "LEG_LONG_FAILED", RecoveryAction: "PartialFillFlattened"}
	}
	if longOK && !shortOK {
		s.flattenLeg(ctx, intent.LegLong, longRes.ack, intent.IdempotencyKey+"-flatten-long")
		return types.ExecutionResult{Success: false, PairID: intent.PairID, Err: "LEG_SHORT_FAILED", RecoveryAction: "PartialFillFlattened"}
	}

	s.markZombie(intent)
	return types.ExecutionResult{Success: false, PairID: intent.PairID, Err: "BOTH_LEGS_FAILED", RecoveryAction: "MarkedZombie"}
}

func (s *Service) withinTolerance(shortNotional, longNotional float64) bool {
	target := math.Max(shortNotional, longNotional)
	if target == 0 {
		return true
	}
	return math.Abs(shortNotional-longNotional)/target <= s.cfg.PartialFillTol
}

// trimLarger closes down the larger filled leg to match the smaller,
// keeping the pair delta-neutral when fills diverge by more than the
// partial-fill tolerance.
func (s *Service) trimLarger(ctx context.Context, intent types.TradeIntent, shortAck, longAck *exchange.OrderAck) {
	if shortAck.NotionalUSD > longAck.NotionalUSD {
		excess := shortAck.NotionalUSD - longAck.NotionalUSD
		_ = s.router.ClosePosition(ctx, intent.LegShort.Venue, intent.LegShort.Symbol, positionSideOf(intent.LegShort.Side), excess/shortAck.AvgFillPrice)
		return
	}
	if longAck.NotionalUSD > shortAck.NotionalUSD {
		excess := longAck.NotionalUSD - shortAck.NotionalUSD
		_ = s.router.ClosePosition(ctx, intent.LegLong.Venue, intent.LegLong.Symbol, positionSideOf(intent.LegLong.Side), excess/longAck.AvgFillPrice)
	}
}

// submitLeg submits one leg with retry on venue errors. An error wrapped in
// retry.Permanent fails fast; the venue adapters return plain errors, so a
// rejected order or a bad symbol is retried like any other failure.
func (s *Service) submitLeg(ctx context.Context, leg types.TradeLeg, clientOrderID string) (*exchange.OrderAck, error) {
	cfg := retry.Config{
		MaxRetries:   s.cfg.MaxRetries + 1,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
	attempt := 0
	return retry.DoWithResult(ctx, func() (*exchange.OrderAck, error) {
		clientOrderIDAttempt := fmt.Sprintf("%s-%d", clientOrderID, attempt)
		attempt++
		return s.router.PlaceOrder(ctx, leg.Venue, leg.Symbol, sideOf(leg.Side), leg.NotionalUSD, clientOrderIDAttempt, leg.ReduceOnly)
	}, cfg)
}

func (s *Service) flattenLeg(ctx context.Context, leg types.TradeLeg, ack *exchange.OrderAck, clientOrderID string) {
	if ack == nil || ack.FilledQty == 0 {
		return
	}
	closeSide := sideOf(leg.Side.Opposite())
	_, _ = s.router.PlaceOrder(ctx, leg.Venue, leg.Symbol, closeSide, ack.NotionalUSD, clientOrderID, true)
}

func (s *Service) recordOpen(intent types.TradeIntent, shortAck, longAck *exchange.OrderAck) types.ExecutionResult {
	s.mu.Lock()
	s.openPairs[intent.PairID] = types.PositionPair{
		PairID:           intent.PairID,
		Status:           types.PairOpen,
		LegShort:         intent.LegShort,
		LegLong:          intent.LegLong,
		EntryNotionalUSD: shortAck.NotionalUSD + longAck.NotionalUSD,
		OpenedAt:         shortAck.SubmittedAt,
		UpdatedAt:        shortAck.SubmittedAt,
	}
	s.mu.Unlock()

	return types.ExecutionResult{
		Success: true,
		PairID:  intent.PairID,
		LegResults: []types.OrderResult{
			ackToResult(shortAck), ackToResult(longAck),
		},
	}
}

func (s *Service) markZombie(intent types.TradeIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zombies[intent.PairID] = types.PositionPair{
		PairID:   intent.PairID,
		Status:   types.PairZombie,
		LegShort: intent.LegShort,
		LegLong:  intent.LegLong,
	}
}

// HasOpenPosition reports whether the venue currently shows a non-zero
// position for symbol, used by restart reconciliation to decide
// between adopting and flattening a pair left mid-open by a crash.
func (s *Service) HasOpenPosition(ctx context.Context, venue, symbol string) (bool, error) {
	positions, err := s.router.Positions(ctx, venue)
	if err != nil {
		return false, fmt.Errorf("checking open position on %s: %w", venue, err)
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Size != 0 {
			return true, nil
		}
	}
	return false, nil
}

// ClosePair unwinds a live pair: submit opposite-direction orders on
// both legs in parallel under a new idempotency key.
func (s *Service) ClosePair(ctx context.Context, pairID string, exitEpoch int64) types.ExecutionResult {
	s.mu.Lock()
	pair, ok := s.openPairs[pairID]
	s.mu.Unlock()
	if !ok {
		return types.ExecutionResult{Success: false, PairID: pairID, Err: "PAIR_NOT_OPEN"}
	}

	shortCloseID := fmt.Sprintf("%s-close-%d-short", pairID, exitEpoch)
	longCloseID := fmt.Sprintf("%s-close-%d-long", pairID, exitEpoch)

	shortCh := make(chan legResult, 1)
	longCh := make(chan legResult, 1)

	go func() {
		leg := pair.LegShort
		leg.Side = leg.Side.Opposite()
		leg.ReduceOnly = true
		ack, err := s.submitLeg(ctx, leg, shortCloseID)
		shortCh <- legResult{leg: leg, ack: ack, err: err}
	}()
	go func() {
		leg := pair.LegLong
		leg.Side = leg.Side.Opposite()
		leg.ReduceOnly = true
		ack, err := s.submitLeg(ctx, leg, longCloseID)
		longCh <- legResult{leg: leg, ack: ack, err: err}
	}()

	shortRes := <-shortCh
	longRes := <-longCh

	if shortRes.err != nil || longRes.err != nil {
		return types.ExecutionResult{
			Success: false,
			PairID:  pairID,
			Err:     fmt.Sprintf("close failed: short=%v long=%v", shortRes.err, longRes.err),
		}
	}

	s.mu.Lock()
	delete(s.openPairs, pairID)
	s.mu.Unlock()

	return types.ExecutionResult{
		Success: true,
		PairID:  pairID,
		LegResults: []types.OrderResult{
			ackToResult(shortRes.ack), ackToResult(longRes.ack),
		},
	}
}

// Rebalance trims both legs of an open pair toward targetScale (e.g.
// 0.5 halves notional on each leg) via reduce-only close orders, then
// updates the pair's recorded leg notionals and entry notional.
func (s *Service) Rebalance(ctx context.Context, pairID string, targetScale float64) types.ExecutionResult {
	s.mu.Lock()
	pair, ok := s.openPairs[pairID]
	s.mu.Unlock()
	if !ok {
		return types.ExecutionResult{Success: false, PairID: pairID, Err: "PAIR_NOT_OPEN"}
	}
	if targetScale <= 0 || targetScale >= 1 {
		return types.ExecutionResult{Success: false, PairID: pairID, Err: "INVALID_TARGET_SCALE"}
	}

	newShort := pair.LegShort.NotionalUSD * targetScale
	newLong := pair.LegLong.NotionalUSD * targetScale

	if err := s.trimLeg(ctx, pair.LegShort, pair.LegShort.NotionalUSD-newShort); err != nil {
		return types.ExecutionResult{Success: false, PairID: pairID, Err: fmt.Sprintf("trimming short leg: %v", err)}
	}
	if err := s.trimLeg(ctx, pair.LegLong, pair.LegLong.NotionalUSD-newLong); err != nil {
		return types.ExecutionResult{Success: false, PairID: pairID, Err: fmt.Sprintf("trimming long leg: %v", err)}
	}

	s.mu.Lock()
	pair.LegShort.NotionalUSD = newShort
	pair.LegLong.NotionalUSD = newLong
	pair.EntryNotionalUSD = newShort + newLong
	pair.UpdatedAt = time.Now().UTC()
	s.openPairs[pairID] = pair
	s.mu.Unlock()

	return types.ExecutionResult{Success: true, PairID: pairID}
}

func (s *Service) trimLeg(ctx context.Context, leg types.TradeLeg, excessNotional float64) error {
	if excessNotional <= 0 {
		return nil
	}
	ticker, err := s.router.Ticker(ctx, leg.Venue, leg.Symbol)
	if err != nil {
		return err
	}
	if ticker.MarkPrice <= 0 {
		return fmt.Errorf("venue %s returned non-positive mark price for %s", leg.Venue, leg.Symbol)
	}
	return s.router.ClosePosition(ctx, leg.Venue, leg.Symbol, positionSideOf(leg.Side), excessNotional/ticker.MarkPrice)
}

// EmergencyFlatten force-closes every open pair; a pair where either
// leg fails to close stays open and is reported as a failure for the
// operator to resolve manually.
func (s *Service) EmergencyFlatten(ctx context.Context) types.FlattenResult {
	s.mu.Lock()
	ids := make([]string, 0, len(s.openPairs))
	for id := range s.openPairs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var closed []string
	failures := make(map[string]string)

	for _, id := range ids {
		res := s.ClosePair(ctx, id, emergencyEpoch)
		if res.Success {
			closed = append(closed, id)
		} else {
			failures[id] = res.Err
		}
	}

	return types.FlattenResult{Success: len(failures) == 0, ClosedPairs: closed, Failures: failures}
}

// emergencyEpoch tags every emergency-flatten close with the same
// constant epoch so idempotency keys within one flatten sweep never
// collide with a normal cycle's exit keys.
const emergencyEpoch = -1

func sideOf(s types.OrderSide) exchange.OrderSide {
	if s == types.SideBuy {
		return exchange.SideBuy
	}
	return exchange.SideSell
}

// positionSideOf maps a leg's order side to the position direction it
// opened, for ClosePosition calls that reduce an existing position
// rather than submit a fresh opposite-side order.
func positionSideOf(s types.OrderSide) exchange.PositionSide {
	if s == types.SideBuy {
		return exchange.SideLong
	}
	return exchange.SideShort
}

func ackToResult(ack *exchange.OrderAck) types.OrderResult {
	return types.OrderResult{
		Success:     true,
		OrderID:     ack.VenueOrderID,
		Venue:       ack.Venue,
		Symbol:      ack.Symbol,
		Side:        types.OrderSide(ack.Side),
		NotionalUSD: ack.NotionalUSD,
		AvgPrice:    ack.AvgFillPrice,
	}
}
