package identity

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/store"
)

var migrations = []store.Migration{
	{Name: "001_identity_schema", SQL: `
		CREATE TABLE agent_identities (
			agent_id               TEXT PRIMARY KEY,
			owner                  TEXT NOT NULL,
			credential_type        TEXT NOT NULL,
			status                 TEXT NOT NULL,
			human_principal_id     TEXT,
			configuration_checksum TEXT,
			public_key_pem         TEXT,
			metadata               TEXT NOT NULL DEFAULT '{}',
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL
		);
		CREATE TABLE agent_credentials (
			credential_id      TEXT PRIMARY KEY,
			agent_id           TEXT NOT NULL,
			credential_hash    TEXT NOT NULL,
			scopes             TEXT NOT NULL,
			issued_at          TEXT NOT NULL,
			expires_at         TEXT NOT NULL,
			rotation_parent_id TEXT,
			status             TEXT NOT NULL,
			revoked_at         TEXT,
			revocation_reason  TEXT
		);
		CREATE INDEX idx_agent_credentials_agent_id ON agent_credentials(agent_id);
		CREATE INDEX idx_agent_credentials_hash ON agent_credentials(credential_hash);
		CREATE TABLE delegation_tokens (
			token_id         TEXT PRIMARY KEY,
			issuer_agent_id  TEXT NOT NULL,
			subject_agent_id TEXT NOT NULL,
			delegated_scopes TEXT NOT NULL,
			issued_at        TEXT NOT NULL,
			expires_at       TEXT NOT NULL,
			parent_token_id  TEXT,
			chain_depth      INTEGER NOT NULL DEFAULT 0,
			revoked          INTEGER NOT NULL DEFAULT 0,
			revoked_at       TEXT
		);
		CREATE INDEX idx_delegation_tokens_parent ON delegation_tokens(parent_token_id);
		CREATE INDEX idx_delegation_tokens_issuer ON delegation_tokens(issuer_agent_id);
		CREATE INDEX idx_delegation_tokens_subject ON delegation_tokens(subject_agent_id);
		CREATE TABLE trusted_domains (
			domain     TEXT PRIMARY KEY,
			revoked    INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE TABLE agent_attestations (
			attestation_id TEXT PRIMARY KEY,
			agent_id       TEXT NOT NULL,
			domain         TEXT NOT NULL,
			signature      TEXT NOT NULL,
			issued_at      TEXT NOT NULL,
			expires_at     TEXT NOT NULL
		);
		CREATE INDEX idx_agent_attestations_agent_id ON agent_attestations(agent_id);
		CREATE TABLE revocation_events (
			event_id      TEXT PRIMARY KEY,
			revoked_type  TEXT NOT NULL,
			revoked_id    TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			reason        TEXT NOT NULL,
			actor         TEXT NOT NULL,
			cascade_count INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);
	`},
}

// Store is the single-writer Identity Store handle.
type Store struct {
	db    *sqlx.DB
	clock func() time.Time
}

// Open opens the identity database at path, applying migrations.
func Open(path string) (*Store, error) {
	db, err := store.Open(path, "identity", migrations)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// RegisterIdentity inserts a new AgentIdentity with status=active.
func (s *Store) RegisterIdentity(ctx context.Context, in AgentIdentity) (*AgentIdentity, error) {
	now := s.clock().UTC()
	in.Status = IdentityActive
	in.CreatedAt = now
	in.UpdatedAt = now
	if in.Metadata == "" {
		in.Metadata = "{}"
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO agent_identities
			(agent_id, owner, credential_type, status, human_principal_id,
			 configuration_checksum, public_key_pem, metadata, created_at, updated_at)
		VALUES
			(:agent_id, :owner, :credential_type, :status, :human_principal_id,
			 :configuration_checksum, :public_key_pem, :metadata, :created_at, :updated_at)
	`, in)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierrors.Newf(apierrors.AlreadyExists, "agent %s already registered", in.AgentID)
		}
		return nil, apierrors.Wrap(apierrors.Internal, "register identity", err)
	}
	return &in, nil
}

// GetIdentity fetches an AgentIdentity by id.
func (s *Store) GetIdentity(ctx context.Context, agentID string) (*AgentIdentity, error) {
	var out AgentIdentity
	err := s.db.GetContext(ctx, &out, `SELECT * FROM agent_identities WHERE agent_id = ?`, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierrors.Newf(apierrors.NotFound, "agent %s not found", agentID)
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "get identity", err)
	}
	return &out, nil
}

var validIdentityStatus = map[IdentityStatus]bool{
	IdentityActive:    true,
	IdentitySuspended: true,
	IdentityRevoked:   true,
}

// UpdateStatus transitions an identity's status.
func (s *Store) UpdateStatus(ctx context.Context, agentID string, newStatus IdentityStatus) error {
	if !validIdentityStatus[newStatus] {
		return apierrors.Newf(apierrors.InvalidArgument, "invalid identity status %q", newStatus)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_identities SET status = ?, updated_at = ? WHERE agent_id = ?`,
		newStatus, s.clock().UTC(), agentID)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "update identity status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierrors.Newf(apierrors.NotFound, "agent %s not found", agentID)
	}
	return nil
}

// InsertCredential stores a new active credential. Plaintext secrets are
// never accepted here — hash must already be computed by the caller.
func (s *Store) InsertCredential(ctx context.Context, in AgentCredential) (*AgentCredential, error) {
	if in.CredentialID == "" {
		in.CredentialID = "cred-" + uuid.NewString()
	}
	in.IssuedAt = s.clock().UTC()
	in.Status = CredentialActive

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO agent_credentials
			(credential_id, agent_id, credential_hash, scopes, issued_at, expires_at,
			 rotation_parent_id, status, revoked_at, revocation_reason)
		VALUES
			(:credential_id, :agent_id, :credential_hash, :scopes, :issued_at, :expires_at,
			 :rotation_parent_id, :status, :revoked_at, :revocation_reason)
	`, in)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "insert credential", err)
	}
	return &in, nil
}

// FindCredentialByHash returns the active credential matching hash, or
// nil if none exists. The final match is a constant-time comparison over
// every active candidate so the lookup cannot leak timing information
// about how much of a presented secret's hash is correct.
func (s *Store) FindCredentialByHash(ctx context.Context, hash string) (*AgentCredential, error) {
	var candidates []AgentCredential
	if err := s.db.SelectContext(ctx, &candidates,
		`SELECT * FROM agent_credentials WHERE status = 'active'`); err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "find credential by hash", err)
	}

	want := []byte(hash)
	for i := range candidates {
		got := []byte(candidates[i].CredentialHash)
		if len(got) == len(want) && subtle.ConstantTimeCompare(got, want) == 1 {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// UpdateCredentialStatusIfActive applies the optimistic WHERE status='active'
// guard that prevents racing rotate/revoke calls from both succeeding.
func (s *Store) UpdateCredentialStatusIfActive(ctx context.Context, credentialID string, newStatus CredentialStatus, reason string) error {
	now := s.clock().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_credentials
		SET status = ?, revoked_at = ?, revocation_reason = ?
		WHERE credential_id = ? AND status = 'active'
	`, newStatus, now, reason, credentialID)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "update credential status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierrors.Newf(apierrors.Conflict, "credential %s is not active", credentialID)
	}
	return nil
}

// ActiveCredentialScopeUnion returns the deduplicated union of scopes
// across all of an agent's active credentials, used as the root
// attenuation ceiling when a delegation token has no parent.
func (s *Store) ActiveCredentialScopeUnion(ctx context.Context, agentID string) ([]string, error) {
	var scopeStrings []string
	err := s.db.SelectContext(ctx, &scopeStrings,
		`SELECT scopes FROM agent_credentials WHERE agent_id = ? AND status = 'active'`, agentID)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "list active credential scopes", err)
	}

	seen := map[string]bool{}
	var union []string
	for _, s := range scopeStrings {
		for _, scope := range strings.Split(s, ",") {
			if scope == "" || seen[scope] {
				continue
			}
			seen[scope] = true
			union = append(union, scope)
		}
	}
	return union, nil
}

// RevokeAllCredentials revokes every active credential for an agent in a
// single UPDATE, returning the count of rows changed.
func (s *Store) RevokeAllCredentials(ctx context.Context, agentID, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_credentials
		SET status = 'revoked', revoked_at = ?, revocation_reason = ?
		WHERE agent_id = ? AND status = 'active'
	`, s.clock().UTC(), reason, agentID)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.Internal, "revoke all credentials", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
