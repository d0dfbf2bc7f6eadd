package quota

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/credential"
	internalstore "github.com/agenthub/aicp/internal/store"
)

func init() {
	migrations = append(migrations, internalstore.Migration{Name: "002_narrowing_schema", SQL: `
		CREATE TABLE narrowed_tokens (
			token_id      TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			scopes        TEXT NOT NULL,
			issued_at     TEXT NOT NULL,
			expires_at    TEXT NOT NULL,
			revoked       INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE jit_credentials (
			credential_id TEXT PRIMARY KEY,
			sandbox_id    TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			issued_at     TEXT NOT NULL,
			revoked       INTEGER NOT NULL DEFAULT 0
		);
	`})
}

// IssueNarrowedToken issues a time-boxed token whose scopes are attenuated
// against parentScopes (wildcard parent permits any subset).
func (s *Store) IssueNarrowedToken(ctx context.Context, agentID string, parentScopes, requestedScopes []string, ttl time.Duration) (string, error) {
	attenuated, err := credential.Attenuate(parentScopes, requestedScopes)
	if err != nil {
		return "", err
	}

	tokenID := "nrw-" + uuid.NewString()
	now := s.clock().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO narrowed_tokens (token_id, agent_id, scopes, issued_at, expires_at) VALUES (?, ?, ?, ?, ?)
	`, tokenID, agentID, credential.JoinScopes(attenuated), now, now.Add(ttl))
	if err != nil {
		return "", apierrors.Wrap(apierrors.Internal, "issue narrowed token", err)
	}
	return tokenID, nil
}

// NarrowedTokenValidation is the result of ValidateNarrowedToken.
type NarrowedTokenValidation struct {
	Valid     bool
	Reason    string
	ExpiresIn time.Duration
}

// ValidateNarrowedToken reports whether a narrowed token is still usable.
func (s *Store) ValidateNarrowedToken(ctx context.Context, tokenID string) (*NarrowedTokenValidation, error) {
	var row struct {
		Revoked   bool      `db:"revoked"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT revoked, expires_at FROM narrowed_tokens WHERE token_id = ?`, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return &NarrowedTokenValidation{Valid: false, Reason: "not_found"}, nil
	}
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "validate narrowed token", err)
	}
	if row.Revoked {
		return &NarrowedTokenValidation{Valid: false, Reason: "revoked"}, nil
	}
	now := s.clock().UTC()
	if now.After(row.ExpiresAt) {
		return &NarrowedTokenValidation{Valid: false, Reason: "expired"}, nil
	}
	return &NarrowedTokenValidation{Valid: true, ExpiresIn: row.ExpiresAt.Sub(now)}, nil
}

// IssueJITCredential issues a credential bound to a sandbox lifecycle.
func (s *Store) IssueJITCredential(ctx context.Context, sandboxID, agentID string) (string, error) {
	nonce := uuid.NewString()[:8]
	credentialID := "jit-" + sandboxID + "-" + nonce
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jit_credentials (credential_id, sandbox_id, agent_id, issued_at) VALUES (?, ?, ?, ?)
	`, credentialID, sandboxID, agentID, s.clock().UTC())
	if err != nil {
		return "", apierrors.Wrap(apierrors.Internal, "issue jit credential", err)
	}
	return credentialID, nil
}

// RevokeJITCredentialsForSandbox revokes every JIT credential issued for a
// terminated sandbox, matching rows whose sandbox_id column equals sandboxID.
func (s *Store) RevokeJITCredentialsForSandbox(ctx context.Context, sandboxID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jit_credentials SET revoked = 1 WHERE sandbox_id = ? AND revoked = 0`, sandboxID)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.Internal, "revoke jit credentials", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
