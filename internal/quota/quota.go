// Package quota implements per-agent capability quotas, IP allow/deny
// rules, scope-narrowed token issuance, and JIT credentials, per spec §4.8.
package quota

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/store"
)

var migrations = []store.Migration{
	{Name: "001_quota_schema", SQL: `
		CREATE TABLE quotas (
			agent_id     TEXT NOT NULL,
			resource     TEXT NOT NULL,
			max_value    INTEGER NOT NULL,
			consumed     INTEGER NOT NULL DEFAULT 0,
			period_seconds INTEGER NOT NULL,
			window_start TEXT NOT NULL,
			PRIMARY KEY (agent_id, resource)
		);
		CREATE TABLE ip_rules (
			rule_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			action   TEXT NOT NULL,
			cidr     TEXT NOT NULL
		);
		CREATE TABLE ip_access_log (
			entry_id   TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			ip         TEXT NOT NULL,
			allowed    INTEGER NOT NULL,
			checked_at TEXT NOT NULL
		);
		CREATE INDEX idx_ip_access_log_agent ON ip_access_log(agent_id);
	`},
}

// Store manages quota counters and IP rules.
type Store struct {
	db    *sqlx.DB
	clock func() time.Time
}

// Open opens the quota database at path.
func Open(path string) (*Store, error) {
	db, err := store.Open(path, "quota", migrations)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetQuota creates or replaces the quota record for (agent, resource).
func (s *Store) SetQuota(ctx context.Context, agentID, resource string, maxValue int, periodSeconds int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotas (agent_id, resource, max_value, consumed, period_seconds, window_start)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(agent_id, resource) DO UPDATE SET max_value = excluded.max_value, period_seconds = excluded.period_seconds
	`, agentID, resource, maxValue, periodSeconds, s.clock().UTC())
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "set quota", err)
	}
	return nil
}

type quotaRow struct {
	AgentID       string    `db:"agent_id"`
	Resource      string    `db:"resource"`
	MaxValue      int       `db:"max_value"`
	Consumed      int       `db:"consumed"`
	PeriodSeconds int       `db:"period_seconds"`
	WindowStart   time.Time `db:"window_start"`
}

// Check atomically consumes amount against the (agent, resource) quota,
// resetting the rolling window if it has elapsed. It never consumes more
// than it grants: a failing check rolls back with no effect.
func (s *Store) Check(ctx context.Context, agentID, resource string, amount int) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, apierrors.Wrap(apierrors.Internal, "begin quota check", err)
	}
	defer tx.Rollback()

	var q quotaRow
	err = tx.GetContext(ctx, &q, `SELECT * FROM quotas WHERE agent_id = ? AND resource = ?`, agentID, resource)
	if err != nil {
		// No configured quota means unrestricted.
		if err := tx.Commit(); err != nil {
			return false, apierrors.Wrap(apierrors.Internal, "commit quota check", err)
		}
		return true, nil
	}

	now := s.clock().UTC()
	if now.Sub(q.WindowStart) > time.Duration(q.PeriodSeconds)*time.Second {
		q.Consumed = 0
		q.WindowStart = now
	}

	if q.Consumed+amount > q.MaxValue {
		if err := tx.Commit(); err != nil {
			return false, apierrors.Wrap(apierrors.Internal, "commit quota check", err)
		}
		return false, nil
	}

	q.Consumed += amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE quotas SET consumed = ?, window_start = ? WHERE agent_id = ? AND resource = ?
	`, q.Consumed, q.WindowStart, agentID, resource); err != nil {
		return false, apierrors.Wrap(apierrors.Internal, "update quota", err)
	}
	if err := tx.Commit(); err != nil {
		return false, apierrors.Wrap(apierrors.Internal, "commit quota check", err)
	}
	return true, nil
}

// AddIPRule registers an allow or deny CIDR rule for an agent.
func (s *Store) AddIPRule(ctx context.Context, ruleID, agentID, action, cidr string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ip_rules (rule_id, agent_id, action, cidr) VALUES (?, ?, ?, ?)`,
		ruleID, agentID, action, cidr)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "add ip rule", err)
	}
	return nil
}

// ipRule is one configured allow/deny CIDR rule, shared between the query
// destination and evaluateIPRules so both sides agree on a single type.
type ipRule struct {
	Action string `db:"action"`
	CIDR   string `db:"cidr"`
}

// CheckIP evaluates an IP against an agent's rules: deny takes precedence;
// if any allow rules exist the IP must match one; otherwise allow. Every
// check appends an access-log entry regardless of outcome.
func (s *Store) CheckIP(ctx context.Context, agentID string, ip net.IP) (bool, error) {
	var rules []ipRule
	if err := s.db.SelectContext(ctx, &rules, `SELECT action, cidr FROM ip_rules WHERE agent_id = ?`, agentID); err != nil {
		return false, apierrors.Wrap(apierrors.Internal, "list ip rules", err)
	}

	allowed := s.evaluateIPRules(rules, ip)

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_access_log (entry_id, agent_id, ip, allowed, checked_at) VALUES (?, ?, ?, ?, ?)
	`, "ial-"+uuid.NewString(), agentID, ip.String(), allowed, s.clock().UTC()); err != nil {
		return false, apierrors.Wrap(apierrors.Internal, "append ip access log", err)
	}

	return allowed, nil
}

func (s *Store) evaluateIPRules(rules []ipRule, ip net.IP) bool {
	var allowRules int
	hasAnyAllowConfigured := false
	for _, r := range rules {
		if r.Action == "allow" {
			hasAnyAllowConfigured = true
		}
		_, network, err := net.ParseCIDR(r.CIDR)
		if err != nil || !network.Contains(ip) {
			continue
		}
		if r.Action == "deny" {
			return false
		}
		allowRules++
	}
	if allowRules > 0 {
		return true
	}
	return !hasAnyAllowConfigured
}
