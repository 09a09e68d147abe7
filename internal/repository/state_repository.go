package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"funding-arb/internal/types"

	_ "github.com/lib/pq"
)

// ErrLockHeld is returned when the instance lock is held by another
// process whose lease has not yet expired.
var ErrLockHeld = errors.New("instance lock held by another process")

// StateRepository persists the orchestrator's cycle-owned state:
// portfolio, persistence counters, live position pairs, cycle summaries
// and the cross-process instance lock. Every per-cycle write goes
// through SaveCycle in a single transaction.
type StateRepository struct {
	db *sql.DB
}

func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// LoadPortfolioState returns the single authoritative row, or a
// zero-value state with CycleID 0 if this is a first run.
func (r *StateRepository) LoadPortfolioState(ctx context.Context) (types.PortfolioState, error) {
	var state types.PortfolioState
	var exchangeNotionalsJSON []byte
	var lastCycleAt sql.NullTime

	row := r.db.QueryRowContext(ctx, `
		SELECT cycle_id, capital_usd, equity, peak_equity, gross_notional_usd,
		       net_delta_usd, exchange_notionals, status, last_cycle_at
		FROM portfolio_state WHERE id = 1`)

	err := row.Scan(&state.CycleID, &state.CapitalUSD, &state.Equity, &state.PeakEquity,
		&state.GrossNotionalUSD, &state.NetDeltaUSD, &exchangeNotionalsJSON,
		&state.Status, &lastCycleAt)
	if errors.Is(err, sql.ErrNoRows) {
		state = types.PortfolioState{
			Status:            types.RiskNormal,
			ExchangeNotionals: make(map[string]float64),
		}
	} else if err != nil {
		return types.PortfolioState{}, fmt.Errorf("loading portfolio state: %w", err)
	} else {
		if err := json.Unmarshal(exchangeNotionalsJSON, &state.ExchangeNotionals); err != nil {
			return types.PortfolioState{}, fmt.Errorf("decoding exchange notionals: %w", err)
		}
		if lastCycleAt.Valid {
			state.LastCycleAt = lastCycleAt.Time
		}
	}

	pairs, err := r.LoadOpenPairs(ctx)
	if err != nil {
		return types.PortfolioState{}, err
	}
	state.OpenPairs = pairs
	return state, nil
}

// LoadOpenPairs returns every non-CLOSED pair row.
func (r *StateRepository) LoadOpenPairs(ctx context.Context) (map[string]types.PositionPair, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT pair_id, payload FROM position_pairs WHERE status != $1`, types.PairClosed)
	if err != nil {
		return nil, fmt.Errorf("loading open pairs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.PositionPair)
	for rows.Next() {
		var pairID string
		var payload []byte
		if err := rows.Scan(&pairID, &payload); err != nil {
			return nil, fmt.Errorf("scanning position pair: %w", err)
		}
		var pair types.PositionPair
		if err := json.Unmarshal(payload, &pair); err != nil {
			return nil, fmt.Errorf("decoding position pair %s: %w", pairID, err)
		}
		out[pairID] = pair
	}
	return out, rows.Err()
}

// LoadPersistenceCounters returns the pair-persistence map, empty if unset.
func (r *StateRepository) LoadPersistenceCounters(ctx context.Context) (map[string]int, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT counters FROM persistence_counters WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return make(map[string]int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading persistence counters: %w", err)
	}
	counters := make(map[string]int)
	if err := json.Unmarshal(raw, &counters); err != nil {
		return nil, fmt.Errorf("decoding persistence counters: %w", err)
	}
	return counters, nil
}

// CycleWrite bundles everything step 8 of a cycle persists atomically.
type CycleWrite struct {
	Portfolio  types.PortfolioState
	Persist    map[string]int
	Summary    types.CycleResult
}

// SaveCycle writes the portfolio state, persistence counters and cycle
// summary in one transaction so a crash mid-write never leaves the
// store in a state where counters and portfolio disagree.
func (r *StateRepository) SaveCycle(ctx context.Context, w CycleWrite) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cycle transaction: %w", err)
	}
	defer tx.Rollback()

	exchangeNotionalsJSON, err := json.Marshal(w.Portfolio.ExchangeNotionals)
	if err != nil {
		return fmt.Errorf("encoding exchange notionals: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO portfolio_state (id, cycle_id, capital_usd, equity, peak_equity, gross_notional_usd, net_delta_usd, exchange_notionals, status, last_cycle_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			cycle_id = EXCLUDED.cycle_id, capital_usd = EXCLUDED.capital_usd, equity = EXCLUDED.equity,
			peak_equity = EXCLUDED.peak_equity, gross_notional_usd = EXCLUDED.gross_notional_usd,
			net_delta_usd = EXCLUDED.net_delta_usd, exchange_notionals = EXCLUDED.exchange_notionals,
			status = EXCLUDED.status, last_cycle_at = EXCLUDED.last_cycle_at`,
		w.Portfolio.CycleID, w.Portfolio.CapitalUSD, w.Portfolio.Equity, w.Portfolio.PeakEquity,
		w.Portfolio.GrossNotionalUSD, w.Portfolio.NetDeltaUSD, exchangeNotionalsJSON,
		w.Portfolio.Status, w.Portfolio.LastCycleAt)
	if err != nil {
		return fmt.Errorf("writing portfolio state: %w", err)
	}

	for pairID, pair := range w.Portfolio.OpenPairs {
		payload, err := json.Marshal(pair)
		if err != nil {
			return fmt.Errorf("encoding position pair %s: %w", pairID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO position_pairs (pair_id, status, payload, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (pair_id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload, updated_at = now()`,
			pairID, pair.Status, payload)
		if err != nil {
			return fmt.Errorf("writing position pair %s: %w", pairID, err)
		}
	}

	countersJSON, err := json.Marshal(w.Persist)
	if err != nil {
		return fmt.Errorf("encoding persistence counters: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO persistence_counters (id, counters) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET counters = EXCLUDED.counters`, countersJSON)
	if err != nil {
		return fmt.Errorf("writing persistence counters: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycle_summaries (cycle_id, timestamp, candidates, intents, executed, blocked, rebalanced, status_before, status_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.Summary.CycleID, w.Summary.Timestamp, w.Summary.Candidates, w.Summary.Intents,
		w.Summary.Executed, w.Summary.Blocked, w.Summary.Rebalanced, w.Summary.StatusBefore, w.Summary.StatusAfter)
	if err != nil {
		return fmt.Errorf("writing cycle summary: %w", err)
	}

	return tx.Commit()
}

// SavePendingPair records an intent as PENDING before its legs are
// submitted, outside the per-cycle transaction, so the write lands
// durably even if the process is killed mid-intent. Implements
// execution.PendingStore.
func (r *StateRepository) SavePendingPair(ctx context.Context, pair types.PositionPair) error {
	payload, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encoding pending pair %s: %w", pair.PairID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO position_pairs (pair_id, status, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (pair_id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload, updated_at = now()`,
		pair.PairID, pair.Status, payload)
	if err != nil {
		return fmt.Errorf("writing pending pair %s: %w", pair.PairID, err)
	}
	return nil
}

// ClearPendingPair removes a pair's row while it still reads PENDING,
// once its intent has resolved one way or another. The row still reads
// PENDING at that point whatever the outcome, so it is deleted for every
// resolved intent; OPEN and ZOMBIE pairs are written again by the next
// SaveCycle. Implements execution.PendingStore.
func (r *StateRepository) ClearPendingPair(ctx context.Context, pairID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM position_pairs WHERE pair_id = $1 AND status = $2`, pairID, types.PairPending)
	if err != nil {
		return fmt.Errorf("clearing pending pair %s: %w", pairID, err)
	}
	return nil
}

// VenuePositions is the (venue, symbol) => position size the crash-recovery
// reconciliation pass compares against expected pair sizes.
type VenuePositions map[string]float64

// AcquireInstanceLock takes the single-row instance lock with a lease,
// using SELECT ... FOR UPDATE so concurrent startups race safely; it
// succeeds if the row is unheld or its lease has expired.
func (r *StateRepository) AcquireInstanceLock(ctx context.Context, instanceID string, lease time.Duration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning lock transaction: %w", err)
	}
	defer tx.Rollback()

	var heldBy string
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT held_by, expires_at FROM instance_lock WHERE id = 1 FOR UPDATE`).Scan(&heldBy, &expiresAt)

	now := time.Now().UTC()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO instance_lock (id, held_by, expires_at) VALUES (1, $1, $2)`,
			instanceID, now.Add(lease))
	case err != nil:
		return fmt.Errorf("reading instance lock: %w", err)
	case heldBy == instanceID || now.After(expiresAt):
		_, err = tx.ExecContext(ctx, `UPDATE instance_lock SET held_by = $1, expires_at = $2 WHERE id = 1`,
			instanceID, now.Add(lease))
	default:
		return ErrLockHeld
	}
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	return tx.Commit()
}

// RenewInstanceLock extends the lease; the orchestrator calls this once
// per cycle so a crashed process's lock expires within one lease window.
func (r *StateRepository) RenewInstanceLock(ctx context.Context, instanceID string, lease time.Duration) error {
	return r.AcquireInstanceLock(ctx, instanceID, lease)
}

// ReleaseInstanceLock clears the row on clean shutdown.
func (r *StateRepository) ReleaseInstanceLock(ctx context.Context, instanceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM instance_lock WHERE id = 1 AND held_by = $1`, instanceID)
	if err != nil {
		return fmt.Errorf("releasing instance lock: %w", err)
	}
	return nil
}
