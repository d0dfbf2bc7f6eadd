package credential

import (
	"context"
	"time"

	"github.com/agenthub/aicp/internal/apierrors"
	"github.com/agenthub/aicp/internal/identity"
	"github.com/agenthub/aicp/internal/secrets"
)

const (
	minTTL = 5 * time.Minute
	maxTTL = 30 * 24 * time.Hour
)

// ClampTTL bounds a requested TTL to [5 minutes, 30 days].
func ClampTTL(requested time.Duration) time.Duration {
	if requested < minTTL {
		return minTTL
	}
	if requested > maxTTL {
		return maxTTL
	}
	return requested
}

// Service issues, rotates, and revokes agent credentials.
type Service struct {
	store    *identity.Store
	secrets  secrets.Provider
	clock    func() time.Time
}

// NewService builds a credential Service backed by store, resolving its
// signing key from provider.
func NewService(store *identity.Store, provider secrets.Provider) *Service {
	return &Service{store: store, secrets: provider, clock: time.Now}
}

// IssueResult carries the plaintext secret, returned to the caller exactly
// once; it is never persisted.
type IssueResult struct {
	Credential *identity.AgentCredential
	Secret     string
}

// Issue creates a new active credential for agentID with the requested
// scopes and TTL.
func (s *Service) Issue(ctx context.Context, agentID string, scopes []string, ttl time.Duration) (*IssueResult, error) {
	return s.issue(ctx, agentID, scopes, ttl, nil)
}

func (s *Service) issue(ctx context.Context, agentID string, scopes []string, ttl time.Duration, rotationParentID *string) (*IssueResult, error) {
	signingKey, err := s.secrets.Get(secrets.IdentitySigning)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "resolve identity signing secret", err)
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "generate credential secret", err)
	}

	clamped := ClampTTL(ttl)
	cred, err := s.store.InsertCredential(ctx, identity.AgentCredential{
		AgentID:          agentID,
		CredentialHash:   HashSecret(signingKey, secret),
		Scopes:           JoinScopes(scopes),
		ExpiresAt:        s.clock().UTC().Add(clamped),
		RotationParentID: rotationParentID,
	})
	if err != nil {
		return nil, err
	}
	return &IssueResult{Credential: cred, Secret: secret}, nil
}

// Rotate issues a replacement credential whose rotation_parent_id points at
// previousID, and marks previousID rotated under the optimistic
// active-only guard.
func (s *Service) Rotate(ctx context.Context, agentID, previousID string, scopes []string, ttl time.Duration) (*IssueResult, error) {
	issued, err := s.issue(ctx, agentID, scopes, ttl, &previousID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateCredentialStatusIfActive(ctx, previousID, identity.CredentialRotated, "rotated"); err != nil {
		return nil, err
	}
	return issued, nil
}

// Revoke revokes a credential; already-revoked credentials are a no-op
// success, matching the idempotent revocation contract.
func (s *Service) Revoke(ctx context.Context, credentialID, reason string) error {
	err := s.store.UpdateCredentialStatusIfActive(ctx, credentialID, identity.CredentialRevoked, reason)
	if apiErr, ok := apierrors.As(err); ok && apiErr.Code == apierrors.Conflict {
		return nil
	}
	return err
}

// Verify resolves the secret's hash to its owning active credential and
// checks the required scope.
func (s *Service) Verify(ctx context.Context, secret, requiredScope string) (*identity.AgentCredential, error) {
	signingKey, err := s.secrets.Get(secrets.IdentitySigning)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Internal, "resolve identity signing secret", err)
	}

	cred, err := s.store.FindCredentialByHash(ctx, HashSecret(signingKey, secret))
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apierrors.New(apierrors.AuthInvalid, "credential not recognized")
	}
	if s.clock().UTC().After(cred.ExpiresAt) {
		return nil, apierrors.New(apierrors.AuthInvalid, "credential expired")
	}
	if requiredScope != "" && !Has(SplitScopes(cred.Scopes), requiredScope) {
		return nil, apierrors.New(apierrors.PermissionDenied, "credential lacks required scope")
	}
	return cred, nil
}
