package budget

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/store"
)

var migrations = []store.Migration{
	{Name: "001_budget_schema", SQL: `
		CREATE TABLE agent_balances (
			agent_id TEXT PRIMARY KEY,
			balance  REAL NOT NULL
		);
		CREATE TABLE balance_ledger (
			entry_id   TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			delta      REAL NOT NULL,
			reason     TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX idx_balance_ledger_agent ON balance_ledger(agent_id);
	`},
}

// Ledger tracks per-agent escrow balances with a full credit/debit trail,
// backing the delegation orchestrator's escrow deduct/refund steps.
type Ledger struct {
	db          *sqlx.DB
	clock       func() time.Time
	seedBalance float64
}

// OpenLedger opens the budget ledger at path. New agents are seeded with
// seedBalance on first access (Balance, Deduct or Refund).
func OpenLedger(path string, seedBalance float64) (*Ledger, error) {
	db, err := store.Open(path, "delegation_budget", migrations)
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db, clock: time.Now, seedBalance: seedBalance}, nil
}

// Close closes the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// Balance returns an agent's current balance, seeding it if unseen.
func (l *Ledger) Balance(ctx context.Context, agentID string) (float64, error) {
	bal, _, err := l.ensureSeeded(ctx, l.db, agentID)
	return bal, err
}

func (l *Ledger) ensureSeeded(ctx context.Context, q sqlx.ExtContext, agentID string) (float64, bool, error) {
	var bal float64
	err := sqlx.GetContext(ctx, q, &bal, `SELECT balance FROM agent_balances WHERE agent_id = ?`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO agent_balances (agent_id, balance) VALUES (?, ?)`, agentID, l.seedBalance); err != nil {
			return 0, false, apierrors.Wrap(apierrors.Internal, "seed agent balance", err)
		}
		return l.seedBalance, true, nil
	}
	if err != nil {
		return 0, false, apierrors.Wrap(apierrors.Internal, "read agent balance", err)
	}
	return bal, false, nil
}

// Deduct atomically deducts amount from agentID's balance (seeding if
// unseen) within a single transaction, failing with INVALID_ARGUMENT on
// insufficient balance.
func (l *Ledger) Deduct(ctx context.Context, agentID string, amount float64, reason string) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "begin deduct", err)
	}
	defer tx.Rollback()

	bal, _, err := l.ensureSeeded(ctx, tx, agentID)
	if err != nil {
		return err
	}
	if bal < amount {
		return apierrors.Newf(apierrors.InvalidArgument, "insufficient balance for agent %s", agentID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE agent_balances SET balance = balance - ? WHERE agent_id = ? AND balance >= ?`,
		amount, agentID, amount); err != nil {
		return apierrors.Wrap(apierrors.Internal, "deduct balance", err)
	}
	if err := l.appendEntry(ctx, tx, agentID, -amount, reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierrors.Wrap(apierrors.Internal, "commit deduct", err)
	}
	return nil
}

// Refund atomically credits amount back to agentID's balance.
func (l *Ledger) Refund(ctx context.Context, agentID string, amount float64, reason string) error {
	if amount <= 0 {
		return nil
	}
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "begin refund", err)
	}
	defer tx.Rollback()

	if _, _, err := l.ensureSeeded(ctx, tx, agentID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE agent_balances SET balance = balance + ? WHERE agent_id = ?`, amount, agentID); err != nil {
		return apierrors.Wrap(apierrors.Internal, "refund balance", err)
	}
	if err := l.appendEntry(ctx, tx, agentID, amount, reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierrors.Wrap(apierrors.Internal, "commit refund", err)
	}
	return nil
}

func (l *Ledger) appendEntry(ctx context.Context, tx *sqlx.Tx, agentID string, delta float64, reason string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balance_ledger (entry_id, agent_id, delta, reason, created_at) VALUES (?, ?, ?, ?, ?)
	`, "ldg-"+uuid.NewString(), agentID, delta, reason, l.clock().UTC())
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "append ledger entry", err)
	}
	return nil
}

// SumLedger returns the sum of all ledger deltas for agentID, for balance
// conservation assertions in tests.
func (l *Ledger) SumLedger(ctx context.Context, agentID string) (float64, error) {
	var sum sql.NullFloat64
	err := l.db.GetContext(ctx, &sum,
		`SELECT SUM(delta) FROM balance_ledger WHERE agent_id = ?`, agentID)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.Internal, "sum ledger", err)
	}
	return sum.Float64, nil
}
