package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the orchestrator's state tables if absent. Called
// once at startup; safe to run on every boot.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS portfolio_state (
			id                  INT PRIMARY KEY DEFAULT 1,
			cycle_id            BIGINT NOT NULL DEFAULT 0,
			capital_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
			equity              DOUBLE PRECISION NOT NULL DEFAULT 0,
			peak_equity         DOUBLE PRECISION NOT NULL DEFAULT 0,
			gross_notional_usd  DOUBLE PRECISION NOT NULL DEFAULT 0,
			net_delta_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
			exchange_notionals  JSONB NOT NULL DEFAULT '{}',
			status              TEXT NOT NULL DEFAULT 'NORMAL',
			last_cycle_at       TIMESTAMPTZ,
			CONSTRAINT single_row CHECK (id = 1)
		)`,
		`CREATE TABLE IF NOT EXISTS persistence_counters (
			id       INT PRIMARY KEY DEFAULT 1,
			counters JSONB NOT NULL DEFAULT '{}',
			CONSTRAINT single_row CHECK (id = 1)
		)`,
		`CREATE TABLE IF NOT EXISTS position_pairs (
			pair_id    TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS cycle_summaries (
			cycle_id      BIGINT PRIMARY KEY,
			timestamp     TIMESTAMPTZ NOT NULL,
			candidates    INT NOT NULL,
			intents       INT NOT NULL,
			executed      INT NOT NULL,
			blocked       INT NOT NULL,
			rebalanced    INT NOT NULL,
			status_before TEXT NOT NULL,
			status_after  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS instance_lock (
			id         INT PRIMARY KEY DEFAULT 1,
			held_by    TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT single_row CHECK (id = 1)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}
