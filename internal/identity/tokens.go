package identity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/agenthub/aicp/internal/apierrors"
)

// InsertDelegationToken persists a newly issued delegation token.
func (s *Store) InsertDelegationToken(ctx context.Context, in DelegationToken) (*DelegationToken, error) {
	if in.TokenID == "" {
		in.TokenID = "dtk-" + uuid.NewString()
	}
	in.IssuedAt = s.clock().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO delegation_tokens
			(token_id, issuer_agent_id, subject_agent_id, delegated_scopes, issued_at,
			 expires_at, parent_token_id, chain_depth, revoked, revoked_at)
		VALUES
			(:token_id, :issuer_agent_id, :subject_agent_id, :delegated_scopes, :issued_at,
			 :expires_at, :parent_token_id, :chain_depth, :revoked, :revoked_at)
	`, in)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "insert delegation token", err)
	}
	return &in, nil
}

// GetDelegationToken fetches a token by id.
func (s *Store) GetDelegationToken(ctx context.Context, tokenID string) (*DelegationToken, error) {
	var out DelegationToken
	err := s.db.GetContext(ctx, &out, `SELECT * FROM delegation_tokens WHERE token_id = ?`, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierrors.Newf(apierrors.NotFound, "delegation token %s not found", tokenID)
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "get delegation token", err)
	}
	return &out, nil
}

// ChildTokenIDs returns the direct children of a token (parent_token_id = tokenID).
func (s *Store) ChildTokenIDs(ctx context.Context, tokenID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT token_id FROM delegation_tokens WHERE parent_token_id = ?`, tokenID)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "list child tokens", err)
	}
	return ids, nil
}

// RevokeTokenCascade marks tokenID and every descendant (transitively, via
// parent_token_id) as revoked within a single transaction.
func (s *Store) RevokeTokenCascade(ctx context.Context, tokenID string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.Internal, "begin revoke cascade", err)
	}
	defer tx.Rollback()

	now := s.clock().UTC()
	count := 0
	frontier := []string{tokenID}
	seen := map[string]bool{}

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		res, err := tx.ExecContext(ctx, `
			UPDATE delegation_tokens SET revoked = 1, revoked_at = ?
			WHERE token_id = ? AND revoked = 0
		`, now, id)
		if err != nil {
			return 0, apierrors.Wrap(apierrors.Internal, "revoke token", err)
		}
		n, _ := res.RowsAffected()
		count += int(n)

		var children []string
		if err := tx.SelectContext(ctx, &children,
			`SELECT token_id FROM delegation_tokens WHERE parent_token_id = ?`, id); err != nil {
			return 0, apierrors.Wrap(apierrors.Internal, "list children for cascade", err)
		}
		frontier = append(frontier, children...)
	}

	if err := tx.Commit(); err != nil {
		return 0, apierrors.Wrap(apierrors.Internal, "commit revoke cascade", err)
	}
	return count, nil
}

// RevokeTokensForAgent revokes (cascading) every root-reachable token where
// agentID is issuer or subject.
func (s *Store) RevokeTokensForAgent(ctx context.Context, agentID string) (int, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT token_id FROM delegation_tokens WHERE (issuer_agent_id = ? OR subject_agent_id = ?) AND revoked = 0`,
		agentID, agentID)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.Internal, "list agent tokens", err)
	}

	total := 0
	for _, id := range ids {
		n, err := s.RevokeTokenCascade(ctx, id)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// InsertAttestation persists a new agent-to-domain attestation.
func (s *Store) InsertAttestation(ctx context.Context, in AgentAttestation) (*AgentAttestation, error) {
	if in.AttestationID == "" {
		in.AttestationID = "att-" + uuid.NewString()
	}
	in.IssuedAt = s.clock().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO agent_attestations (attestation_id, agent_id, domain, signature, issued_at, expires_at)
		VALUES (:attestation_id, :agent_id, :domain, :signature, :issued_at, :expires_at)
	`, in)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "insert attestation", err)
	}
	return &in, nil
}

// GetTrustedDomain fetches a trusted-domain record, or nil if unregistered.
func (s *Store) GetTrustedDomain(ctx context.Context, domain string) (*TrustedDomain, error) {
	var out TrustedDomain
	err := s.db.GetContext(ctx, &out, `SELECT * FROM trusted_domains WHERE domain = ?`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "get trusted domain", err)
	}
	return &out, nil
}

// RegisterTrustedDomain upserts a trusted-domain entry as non-revoked.
func (s *Store) RegisterTrustedDomain(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trusted_domains (domain, revoked, created_at) VALUES (?, 0, ?)
		ON CONFLICT(domain) DO UPDATE SET revoked = 0
	`, domain, s.clock().UTC())
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "register trusted domain", err)
	}
	return nil
}

// RevokeTrustedDomain marks a domain revoked, invalidating outstanding
// attestations on next verification.
func (s *Store) RevokeTrustedDomain(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trusted_domains SET revoked = 1 WHERE domain = ?`, domain)
	if err != nil {
		return apierrors.Wrap(apierrors.Internal, "revoke trusted domain", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierrors.Newf(apierrors.NotFound, "domain %s not found", domain)
	}
	return nil
}

// AppendRevocationEvent records an immutable audit entry.
func (s *Store) AppendRevocationEvent(ctx context.Context, in RevocationEvent) (*RevocationEvent, error) {
	if in.EventID == "" {
		in.EventID = "rev-" + uuid.NewString()
	}
	in.CreatedAt = s.clock().UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO revocation_events
			(event_id, revoked_type, revoked_id, agent_id, reason, actor, cascade_count, created_at)
		VALUES
			(:event_id, :revoked_type, :revoked_id, :agent_id, :reason, :actor, :cascade_count, :created_at)
	`, in)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "append revocation event", err)
	}
	return &in, nil
}
