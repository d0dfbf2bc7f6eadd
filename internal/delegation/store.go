package delegation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/store"
)

var migrations = []store.Migration{
	{Name: "001_delegation_schema", SQL: `
		CREATE TABLE delegations (
			delegation_id       TEXT PRIMARY KEY,
			requester_agent_id  TEXT NOT NULL,
			delegate_agent_id   TEXT NOT NULL,
			estimated_cost      REAL NOT NULL,
			actual_cost         REAL NOT NULL,
			status              TEXT NOT NULL,
			budget_state        TEXT NOT NULL,
			ratio               REAL NOT NULL,
			stages              TEXT NOT NULL,
			refund_amount       REAL NOT NULL,
			delivery_latency_ms INTEGER NOT NULL,
			created_at          TEXT NOT NULL
		);
		CREATE INDEX idx_delegations_requester ON delegations(requester_agent_id);
	`},
}

// RecordStore persists delegation lifecycle records.
type RecordStore struct {
	db    *sqlx.DB
	clock func() time.Time
}

// OpenRecordStore opens the delegation-record database at path.
func OpenRecordStore(path string) (*RecordStore, error) {
	db, err := store.Open(path, "delegation", migrations)
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db, clock: time.Now}, nil
}

// Close closes the underlying database handle.
func (s *RecordStore) Close() error { return s.db.Close() }

// Insert persists a completed delegation record.
func (s *RecordStore) Insert(ctx context.Context, rec Record) (*Record, error) {
	if rec.DelegationID == "" {
		rec.DelegationID = "del-" + uuid.NewString()
	}
	rec.CreatedAt = s.clock().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO delegations
			(delegation_id, requester_agent_id, delegate_agent_id, estimated_cost, actual_cost,
			 status, budget_state, ratio, stages, refund_amount, delivery_latency_ms, created_at)
		VALUES
			(:delegation_id, :requester_agent_id, :delegate_agent_id, :estimated_cost, :actual_cost,
			 :status, :budget_state, :ratio, :stages, :refund_amount, :delivery_latency_ms, :created_at)
	`, rec)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "insert delegation record", err)
	}
	return &rec, nil
}

// Recent returns up to n most recent delegation records, newest last, for
// the SLO dashboard's rolling window.
func (s *RecordStore) Recent(ctx context.Context, n int) ([]Record, error) {
	var recs []Record
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM delegations ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "list recent delegations", err)
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}
