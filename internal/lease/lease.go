// Package lease implements the two-phase lease→install promotion flow
// with attestation-hash binding described in spec §4.7.
package lease

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/store"
)

// Status is a lease's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusPromoted  Status = "promoted"
)

var migrations = []store.Migration{
	{Name: "001_lease_schema", SQL: `
		CREATE TABLE leases (
			lease_id         TEXT PRIMARY KEY,
			owner            TEXT NOT NULL,
			requester        TEXT NOT NULL,
			capability       TEXT NOT NULL,
			attestation_hash TEXT NOT NULL,
			status           TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			expires_at       TEXT NOT NULL
		);
		CREATE TABLE installs (
			install_id TEXT PRIMARY KEY,
			lease_id   TEXT NOT NULL,
			owner      TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE install_rollbacks (
			install_id TEXT PRIMARY KEY,
			reason     TEXT NOT NULL,
			rolled_back_at TEXT NOT NULL
		);
	`},
}

// Lease is a claim on a capability pending promotion to an Install.
type Lease struct {
	LeaseID         string    `db:"lease_id"`
	Owner           string    `db:"owner"`
	Requester       string    `db:"requester"`
	Capability      string    `db:"capability"`
	AttestationHash string    `db:"attestation_hash"`
	Status          Status    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	ExpiresAt       time.Time `db:"expires_at"`
}

// Install is created on successful promotion.
type Install struct {
	InstallID string    `db:"install_id"`
	LeaseID   string    `db:"lease_id"`
	Owner     string    `db:"owner"`
	CreatedAt time.Time `db:"created_at"`
}

// Store manages lease and install records.
type Store struct {
	db    *sqlx.DB
	clock func() time.Time
}

// Open opens the lease database at path.
func Open(path string) (*Store, error) {
	db, err := store.Open(path, "lease", migrations)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// AttestationHash computes SHA-256(requester|capability|now) hex-encoded.
func AttestationHash(requester, capability string, now time.Time) string {
	h := sha256.Sum256([]byte(requester + "|" + capability + "|" + now.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])
}

// CreateLease is phase 1: it returns a lease bound to an attestation hash.
func (s *Store) CreateLease(ctx context.Context, owner, requester, capability string, ttl time.Duration) (*Lease, error) {
	now := s.clock().UTC()
	lease := Lease{
		LeaseID:         "lease-" + uuid.NewString(),
		Owner:           owner,
		Requester:       requester,
		Capability:      capability,
		AttestationHash: AttestationHash(requester, capability, now),
		Status:          StatusActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO leases (lease_id, owner, requester, capability, attestation_hash, status, created_at, expires_at)
		VALUES (:lease_id, :owner, :requester, :capability, :attestation_hash, :status, :created_at, :expires_at)
	`, lease)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "create lease", err)
	}
	return &lease, nil
}

func (s *Store) getLease(ctx context.Context, leaseID string) (*Lease, error) {
	var l Lease
	err := s.db.GetContext(ctx, &l, `SELECT * FROM leases WHERE lease_id = ?`, leaseID)
	if err != nil {
		return nil, apierrors.Newf(apierrors.NotFound, "lease %s not found", leaseID)
	}
	return &l, nil
}

// expireIfDue auto-transitions an active lease to expired when past TTL.
func (s *Store) expireIfDue(ctx context.Context, l *Lease) error {
	if l.Status != StatusActive || !s.clock().UTC().After(l.ExpiresAt) {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE leases SET status = ? WHERE lease_id = ? AND status = 'active'`,
		StatusExpired, l.LeaseID); err != nil {
		return apierrors.Wrap(apierrors.Internal, "expire lease", err)
	}
	l.Status = StatusExpired
	return nil
}

// PromoteRequest carries phase-2 inputs.
type PromoteRequest struct {
	LeaseID               string
	CallerOwner           string
	PolicyApproved        bool
	ApprovalTicket        string
	CompatibilityVerified bool
	AttestationHash       string
	Signature             string
}

// ExpectedSignature is the deterministic binding used in tests; a real
// deployment substitutes a cryptographic signature over the same inputs.
func ExpectedSignature(attestationHash, owner string) string {
	return "sig:" + attestationHash + ":" + owner
}

// PromoteLease is phase 2: it validates approval/compatibility/attestation
// and creates an Install. A second identical promote is a no-op replay.
func (s *Store) PromoteLease(ctx context.Context, req PromoteRequest) (*Install, error) {
	l, err := s.getLease(ctx, req.LeaseID)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfDue(ctx, l); err != nil {
		return nil, err
	}

	if l.Status == StatusPromoted {
		var existing Install
		if err := s.db.GetContext(ctx, &existing, `SELECT * FROM installs WHERE lease_id = ?`, l.LeaseID); err == nil {
			return &existing, nil
		}
	}

	if l.Owner != req.CallerOwner {
		return nil, apierrors.New(apierrors.PermissionDenied, "caller does not own this lease")
	}
	if l.Status != StatusActive {
		return nil, apierrors.Newf(apierrors.InvalidArgument, "lease %s is not active", l.LeaseID)
	}
	if !req.PolicyApproved || !strings.HasPrefix(req.ApprovalTicket, "APR-") {
		return nil, apierrors.New(apierrors.PermissionDenied, "policy approval required")
	}
	if !req.CompatibilityVerified {
		return nil, apierrors.New(apierrors.InvalidArgument, "compatibility not verified")
	}
	if req.AttestationHash != l.AttestationHash {
		return nil, apierrors.New(apierrors.InvalidArgument, "attestation hash mismatch")
	}
	if req.Signature != ExpectedSignature(l.AttestationHash, l.Owner) {
		return nil, apierrors.New(apierrors.AuthInvalid, "invalid promotion signature")
	}

	install := Install{InstallID: "inst-" + uuid.NewString(), LeaseID: l.LeaseID, Owner: l.Owner, CreatedAt: s.clock().UTC()}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "begin promote", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO installs (install_id, lease_id, owner, created_at) VALUES (:install_id, :lease_id, :owner, :created_at)
	`, install); err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "insert install", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE leases SET status = ? WHERE lease_id = ?`, StatusPromoted, l.LeaseID); err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "mark lease promoted", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "commit promote", err)
	}
	return &install, nil
}

// RollbackInstall idempotently records a rollback reason and timestamp.
func (s *Store) RollbackInstall(ctx context.Context, installID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO install_rollbacks (install_id, reason, rolled_back_at) VALUES (?, ?, ?)
		ON CONFLICT(install_id) DO UPDATE SET reason = excluded.reason, rolled_back_at = excluded.rolled_back_at
	`, installID, reason, s.clock().UTC())
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "rollback install", err)
	}
	return nil
}

// RevokeLeasesForAgent implements revocation.LeaseRevoker, expiring every
// active lease where requester = agentID.
func (s *Store) RevokeLeasesForAgent(ctx context.Context, agentID, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leases SET status = 'expired' WHERE requester = ? AND status = 'active'
	`, agentID)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.Internal, "revoke leases for agent", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
